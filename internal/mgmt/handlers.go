package mgmt

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/credvault/internal/credential"
	"github.com/p-blackswan/credvault/internal/health"
)

// CredentialDiagnostics is the credential store surface the handlers need.
type CredentialDiagnostics interface {
	Health(ctx context.Context) credential.Health
	CacheStats() credential.CacheStats
	Delete(ctx context.Context, userID, teamID string) error
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	creds     CredentialDiagnostics
	checker   *health.Checker
	logger    zerolog.Logger
	startTime time.Time
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(creds CredentialDiagnostics, checker *health.Checker, logger zerolog.Logger) *Handlers {
	return &Handlers{
		creds:     creds,
		checker:   checker,
		logger:    logger.With().Str("component", "mgmt.handlers").Logger(),
		startTime: time.Now(),
	}
}

// Liveness handles GET /healthz.
func (h *Handlers) Liveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status": "ok",
		"uptime": time.Since(h.startTime).Round(time.Second).String(),
	})
}

// Readiness handles GET /readyz.
func (h *Handlers) Readiness(c *fiber.Ctx) error {
	results := h.checker.RunAll(c.Context())

	allOK := true
	for _, s := range results {
		if s == health.StatusDown {
			allOK = false
			break
		}
	}

	resp := fiber.Map{"checks": results}
	if allOK {
		resp["status"] = "ready"
		return c.JSON(resp)
	}
	resp["status"] = "not_ready"
	return c.Status(fiber.StatusServiceUnavailable).JSON(resp)
}

// CredentialHealth handles GET /v1/credentials/health.
func (h *Handlers) CredentialHealth(c *fiber.Ctx) error {
	return c.JSON(h.creds.Health(c.Context()))
}

// CacheStats handles GET /v1/credentials/cache.
func (h *Handlers) CacheStats(c *fiber.Ctx) error {
	return c.JSON(h.creds.CacheStats())
}

// RevokeCredential handles DELETE /v1/credentials/:team/:user — operator
// revocation of a stored credential.
func (h *Handlers) RevokeCredential(c *fiber.Ctx) error {
	teamID := c.Params("team")
	userID := c.Params("user")

	if err := h.creds.Delete(c.Context(), userID, teamID); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_request", "Bad Request", err.Error())
	}

	h.logger.Info().Str("team", teamID).Msg("credential revoked via mgmt API")
	return c.SendStatus(fiber.StatusNoContent)
}
