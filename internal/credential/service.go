// Package credential implements the resilient encrypted credential store:
// an in-memory cache of decrypted tokens layered over an encrypted durable
// document store, gated by the initialization supervisor.
package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/credvault/internal/crypto"
	"github.com/p-blackswan/credvault/internal/docstore"
	perrors "github.com/p-blackswan/credvault/internal/errors"
	"github.com/p-blackswan/credvault/internal/metrics"
	"github.com/p-blackswan/credvault/internal/policy"
	"github.com/p-blackswan/credvault/internal/supervisor"
)

// Health is the diagnostic snapshot exposed by the service.
type Health struct {
	Initialized    bool   `json:"initialized"`
	StoreConnected bool   `json:"store_connected"`
	CacheSize      int    `json:"cache_size"`
	LastError      string `json:"last_error,omitempty"`
	Attempts       int    `json:"attempts"`
}

// Config holds the facade's tunables.
type Config struct {
	// Namespace scopes lookup keys so several deployments can share one store.
	Namespace string

	// TTL is the default credential lifetime from write time.
	TTL time.Duration

	// ReadyTimeout bounds the readiness wait on the durable path.
	ReadyTimeout time.Duration
}

// Service is the credential store facade. All methods are safe for
// concurrent use; every blocking path is bounded by a timeout.
type Service struct {
	store   docstore.Store
	sup     *supervisor.Supervisor
	codec   *crypto.Codec
	cache   *Cache
	pol     *policy.Policy
	cfg     Config
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

// NewService wires the facade. pol may be nil, which admits every workspace.
func NewService(
	store docstore.Store,
	sup *supervisor.Supervisor,
	codec *crypto.Codec,
	cache *Cache,
	pol *policy.Policy,
	cfg Config,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Service {
	if pol == nil {
		pol = policy.Default()
	}
	return &Service{
		store:   store,
		sup:     sup,
		codec:   codec,
		cache:   cache,
		pol:     pol,
		cfg:     cfg,
		metrics: m,
		logger:  logger.With().Str("component", "credential").Logger(),
		now:     time.Now,
	}
}

// Store encrypts and durably writes the token for (userID, teamID), then
// fills the cache. The cache is never updated ahead of a successful durable
// write.
func (s *Service) Store(ctx context.Context, userID, teamID, token string) error {
	if err := validateIDs(userID, teamID); err != nil {
		s.metrics.RecordOp("store", "invalid")
		return err
	}
	if token == "" {
		s.metrics.RecordOp("store", "invalid")
		return fmt.Errorf("%w: token is required", perrors.ErrInvalidInput)
	}
	if !s.pol.TeamAllowed(teamID) {
		s.metrics.RecordOp("store", "denied")
		return fmt.Errorf("%w: workspace %s not permitted", perrors.ErrDenied, teamID)
	}
	if err := s.gate(ctx); err != nil {
		s.metrics.RecordOp("store", "unavailable")
		return err
	}

	blob, err := s.codec.Encrypt(token)
	if err != nil {
		s.metrics.RecordOp("store", "error")
		return fmt.Errorf("encrypting credential: %w", err)
	}

	now := s.now().UTC()
	expiresAt := now.Add(s.pol.TTLFor(teamID, s.cfg.TTL))
	doc := &docstore.Document{
		Payload:       blob,
		CreatedAt:     now,
		UpdatedAt:     now,
		ExpiresAt:     expiresAt,
		SchemaVersion: docstore.SchemaVersion,
	}

	key := LookupKey(s.cfg.Namespace, teamID, userID)
	start := s.now()
	if err := s.store.Set(ctx, key, doc); err != nil {
		s.metrics.RecordOp("store", "unavailable")
		s.metrics.RecordError("credential", "store_write")
		return fmt.Errorf("%w: writing credential: %v", perrors.ErrUnavailable, err)
	}
	s.metrics.ObserveDuration("set", s.now().Sub(start).Seconds())

	s.cache.Put(key, token, expiresAt)
	s.metrics.CacheEntries.Set(float64(s.cache.Len()))
	s.metrics.RecordOp("store", "ok")
	s.logger.Info().Str("key", key).Time("expires_at", expiresAt).Msg("credential stored")
	return nil
}

// Get returns the decrypted token for (userID, teamID). The cache is
// consulted first and never waits on readiness; on a miss the durable path
// waits at most ReadyTimeout. Absence, unavailability and unreadable
// payloads are distinct errors.
func (s *Service) Get(ctx context.Context, userID, teamID string) (string, error) {
	if err := validateIDs(userID, teamID); err != nil {
		s.metrics.RecordOp("get", "invalid")
		return "", err
	}

	key := LookupKey(s.cfg.Namespace, teamID, userID)
	if token, ok := s.cache.Get(key); ok {
		s.metrics.CacheHitsTotal.Inc()
		s.metrics.RecordOp("get", "hit")
		return token, nil
	}
	s.metrics.CacheMissesTotal.Inc()

	if err := s.gate(ctx); err != nil {
		s.metrics.RecordOp("get", "unavailable")
		return "", err
	}

	start := s.now()
	doc, err := s.store.Get(ctx, key)
	if errors.Is(err, docstore.ErrNotFound) {
		s.metrics.RecordOp("get", "miss")
		return "", perrors.ErrNotFound
	}
	if err != nil {
		s.metrics.RecordOp("get", "unavailable")
		s.metrics.RecordError("credential", "store_read")
		return "", fmt.Errorf("%w: reading credential: %v", perrors.ErrUnavailable, err)
	}
	s.metrics.ObserveDuration("get", s.now().Sub(start).Seconds())

	if !doc.ExpiresAt.After(s.now()) {
		// Expired records are logically absent; reclaim the row best-effort.
		if err := s.store.Delete(ctx, key); err != nil {
			s.logger.Debug().Err(err).Str("key", key).Msg("expired record cleanup failed")
		}
		s.metrics.RecordOp("get", "expired")
		return "", perrors.ErrNotFound
	}

	token, err := s.codec.Decrypt(doc.Payload)
	if err != nil {
		s.metrics.RecordOp("get", "unreadable")
		s.metrics.RecordError("credential", "decrypt")
		s.logger.Warn().Str("key", key).Msg("stored credential unreadable; re-authentication required")
		return "", err
	}

	s.cache.Put(key, token, doc.ExpiresAt)
	s.metrics.CacheEntries.Set(float64(s.cache.Len()))
	s.metrics.RecordOp("get", "ok")
	return token, nil
}

// IsAuthenticated reports whether a valid credential exists. Any lookup
// error counts as unauthenticated (fail closed).
func (s *Service) IsAuthenticated(ctx context.Context, userID, teamID string) bool {
	token, err := s.Get(ctx, userID, teamID)
	return err == nil && token != ""
}

// Delete removes the credential from the cache first, so reads in this
// process immediately observe absence, then best-effort deletes the durable
// record. A durable-side failure is logged, not returned.
func (s *Service) Delete(ctx context.Context, userID, teamID string) error {
	if err := validateIDs(userID, teamID); err != nil {
		s.metrics.RecordOp("delete", "invalid")
		return err
	}

	key := LookupKey(s.cfg.Namespace, teamID, userID)
	s.cache.Remove(key)
	s.metrics.CacheEntries.Set(float64(s.cache.Len()))

	if !s.sup.WaitUntilReady(ctx, s.cfg.ReadyTimeout) {
		s.logger.Warn().Str("key", key).Msg("store not ready; durable delete skipped")
		s.metrics.RecordOp("delete", "cache_only")
		return nil
	}
	if err := s.store.Delete(ctx, key); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("durable delete failed")
		s.metrics.RecordError("credential", "store_delete")
		s.metrics.RecordOp("delete", "cache_only")
		return nil
	}
	s.metrics.RecordOp("delete", "ok")
	return nil
}

// Health returns the initialization and connectivity snapshot. Read-only.
func (s *Service) Health(ctx context.Context) Health {
	snap := s.sup.Snapshot()
	h := Health{
		Initialized: snap.State == supervisor.StateReady,
		CacheSize:   s.cache.Len(),
		Attempts:    snap.Attempts,
	}
	if snap.LastErr != nil {
		h.LastError = snap.LastErr.Error()
	}
	if h.Initialized {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		h.StoreConnected = s.store.Ping(pingCtx) == nil
	}
	return h
}

// CacheStats returns the cache diagnostic snapshot. Read-only.
func (s *Service) CacheStats() CacheStats {
	return s.cache.Stats()
}

// gate waits for store readiness, mapping a terminal initialization
// failure and a bounded-wait timeout to their respective errors.
func (s *Service) gate(ctx context.Context) error {
	if s.sup.WaitUntilReady(ctx, s.cfg.ReadyTimeout) {
		return nil
	}
	if s.sup.Failed() {
		return perrors.ErrInitFailed
	}
	return fmt.Errorf("%w: store not ready within %s", perrors.ErrUnavailable, s.cfg.ReadyTimeout)
}

func validateIDs(userID, teamID string) error {
	if userID == "" {
		return fmt.Errorf("%w: user id is required", perrors.ErrInvalidInput)
	}
	if teamID == "" {
		return fmt.Errorf("%w: team id is required", perrors.ErrInvalidInput)
	}
	return nil
}
