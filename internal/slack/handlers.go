package slack

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"

	perrors "github.com/p-blackswan/credvault/internal/errors"
	"github.com/p-blackswan/credvault/internal/requestid"
	"github.com/p-blackswan/credvault/internal/retry"
)

// CredentialManager is the credential store surface the handler needs.
type CredentialManager interface {
	Store(ctx context.Context, userID, teamID, token string) error
	Get(ctx context.Context, userID, teamID string) (string, error)
	Delete(ctx context.Context, userID, teamID string) error
}

// Responder produces the assistant reply for an authenticated prompt.
// The generation backend lives outside this service.
type Responder interface {
	Respond(ctx context.Context, token, prompt string) (string, error)
}

// Handler processes Slack slash commands: credential subcommands are
// handled inline, anything else is relayed to the Responder once the
// caller's credential checks out.
type Handler struct {
	api       BotAPI
	socket    *socketmode.Client
	creds     CredentialManager
	responder Responder
	command   string
	logger    zerolog.Logger
}

// NewHandler creates a new event handler. responder may be nil when no
// generation backend is wired.
func NewHandler(creds CredentialManager, responder Responder, command string, logger zerolog.Logger) *Handler {
	return &Handler{
		creds:     creds,
		responder: responder,
		command:   command,
		logger:    logger.With().Str("component", "slack.handler").Logger(),
	}
}

// HandleEvent routes Socket Mode events to the appropriate handler.
func (h *Handler) HandleEvent(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeSlashCommand:
		h.handleSlashCommand(ctx, evt)
	default:
		h.logger.Debug().Str("type", string(evt.Type)).Msg("unhandled event type")
	}
}

func (h *Handler) handleSlashCommand(ctx context.Context, evt socketmode.Event) {
	cmd, ok := evt.Data.(slack.SlashCommand)
	if !ok {
		return
	}

	// Acknowledge first — Slack requires this within 3 seconds, and the
	// credential store's bounded waits may exceed that.
	if h.socket != nil && evt.Request != nil {
		h.socket.Ack(*evt.Request)
	}

	go func() {
		cmdCtx, reqID := requestid.New(ctx)
		h.logger.Debug().Str("request_id", reqID).Str("team", cmd.TeamID).Msg("slash command dispatched")
		reply := h.dispatch(cmdCtx, cmd)
		h.postEphemeral(cmdCtx, cmd.ChannelID, cmd.UserID, reply)
	}()
}

// dispatch executes one slash command and returns the user-facing reply.
func (h *Handler) dispatch(ctx context.Context, cmd slack.SlashCommand) string {
	text := strings.TrimSpace(cmd.Text)
	sub, rest, _ := strings.Cut(text, " ")

	switch sub {
	case "auth":
		return h.handleAuth(ctx, cmd.UserID, cmd.TeamID, strings.TrimSpace(rest))
	case "logout":
		return h.handleLogout(ctx, cmd.UserID, cmd.TeamID)
	case "status":
		return h.handleStatus(ctx, cmd.UserID, cmd.TeamID)
	case "":
		return h.usage()
	default:
		return h.handlePrompt(ctx, cmd.UserID, cmd.TeamID, text)
	}
}

func (h *Handler) handleAuth(ctx context.Context, userID, teamID, token string) string {
	if token == "" {
		return fmt.Sprintf("Usage: `%s auth <token>`", h.command)
	}

	err := h.creds.Store(ctx, userID, teamID, token)
	switch {
	case err == nil:
		h.logger.Info().Str("team", teamID).Msg("user authenticated")
		return ":white_check_mark: You're authenticated. Your token is stored encrypted."
	case errors.Is(err, perrors.ErrDenied):
		return ":no_entry: This workspace is not permitted to store credentials."
	case errors.Is(err, perrors.ErrInvalidInput):
		return fmt.Sprintf("Usage: `%s auth <token>`", h.command)
	case errors.Is(err, perrors.ErrUnavailable), errors.Is(err, perrors.ErrInitFailed):
		return ":hourglass: The credential store is temporarily unavailable. Please try again in a moment."
	default:
		h.logger.Error().Err(err).Msg("storing credential failed")
		return ":x: Something went wrong storing your token. Please try again."
	}
}

func (h *Handler) handleLogout(ctx context.Context, userID, teamID string) string {
	if err := h.creds.Delete(ctx, userID, teamID); err != nil {
		h.logger.Error().Err(err).Msg("deleting credential failed")
		return ":x: Something went wrong. Please try again."
	}
	return ":wave: Signed out. Your stored token has been removed."
}

func (h *Handler) handleStatus(ctx context.Context, userID, teamID string) string {
	_, err := h.creds.Get(ctx, userID, teamID)
	switch {
	case err == nil:
		return ":white_check_mark: You're authenticated."
	case errors.Is(err, perrors.ErrUnavailable), errors.Is(err, perrors.ErrInitFailed):
		return ":hourglass: The credential store is temporarily unavailable, so your status can't be checked right now."
	default:
		return fmt.Sprintf("You're not authenticated. Run `%s auth <token>` to get started.", h.command)
	}
}

func (h *Handler) handlePrompt(ctx context.Context, userID, teamID, prompt string) string {
	token, err := h.creds.Get(ctx, userID, teamID)
	switch {
	case errors.Is(err, perrors.ErrUnavailable), errors.Is(err, perrors.ErrInitFailed):
		return ":hourglass: The credential store is temporarily unavailable. Please try again in a moment."
	case err != nil:
		// Fail closed: missing, expired or unreadable credentials all
		// require re-authentication.
		return fmt.Sprintf("You're not authenticated. Run `%s auth <token>` to get started.", h.command)
	}

	if h.responder == nil {
		return ":construction: No generation backend is configured."
	}

	reply, err := h.responder.Respond(ctx, token, prompt)
	if err != nil {
		h.logger.Error().Err(err).Msg("responder failed")
		return ":x: The assistant couldn't process that request. Please try again."
	}
	return reply
}

func (h *Handler) usage() string {
	return fmt.Sprintf(
		"Commands:\n• `%[1]s auth <token>` — store your API token\n• `%[1]s logout` — remove your token\n• `%[1]s status` — check authentication\n• `%[1]s <prompt>` — ask the assistant",
		h.command)
}

// postEphemeral delivers the reply, retrying transient Slack failures.
func (h *Handler) postEphemeral(ctx context.Context, channelID, userID, text string) {
	if h.api == nil {
		return
	}
	err := retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context) error {
		_, err := h.api.PostEphemeral(channelID, userID, slack.MsgOptionText(text, false))
		var rateLimited *slack.RateLimitedError
		if errors.As(err, &rateLimited) {
			return fmt.Errorf("%w: retry after %s", perrors.ErrRateLimit, rateLimited.RetryAfter)
		}
		return err
	})
	if err != nil {
		h.logger.Warn().Err(err).Str("channel", channelID).Msg("posting reply failed")
	}
}
