package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/adimov-eth/vibecheck-sub001/internal/realtime/domain"
	"github.com/adimov-eth/vibecheck-sub001/internal/realtime/store"
	"github.com/adimov-eth/vibecheck-sub001/pkg/jwtx"
	"golang.org/x/time/rate"
)

const (
	// DefaultExpiryLookahead refreshes tokens that expire within this window
	// rather than handing out a credential about to die mid-handshake.
	DefaultExpiryLookahead = 5 * time.Minute

	// DefaultMinRefreshInterval is the minimum spacing between refresh
	// attempts against the identity provider.
	DefaultMinRefreshInterval = 2 * time.Second
)

// TokenProvider is the upstream identity provider seam. Implementations may
// return *ProviderError to classify failures; any other error is treated as
// a network failure.
type TokenProvider interface {
	FetchToken(ctx context.Context) (string, error)
}

// refreshCall is one in-flight refresh shared by every concurrent caller.
type refreshCall struct {
	done chan struct{}
	cred domain.Credential
	err  error
}

// CredentialService owns the cached bearer credential: fast-path reads,
// single-flight refresh, rate limiting, durable persistence, and session-end
// notification when the provider rejects the session outright.
type CredentialService struct {
	provider  TokenProvider
	creds     store.Credentials
	logger    *slog.Logger
	lookahead time.Duration
	limiter   *rate.Limiter

	mu        sync.Mutex
	cached    domain.Credential
	loaded    bool // durable snapshot read once, on first use
	inflight  *refreshCall
	lastErr   error
	listeners []func()
}

type CredentialConfig struct {
	ExpiryLookahead    time.Duration
	MinRefreshInterval time.Duration
}

func NewCredentialService(
	provider TokenProvider,
	creds store.Credentials,
	cfg CredentialConfig,
	logger *slog.Logger,
) *CredentialService {
	if logger == nil {
		logger = slog.Default()
	}
	lookahead := cfg.ExpiryLookahead
	if lookahead <= 0 {
		lookahead = DefaultExpiryLookahead
	}
	minInterval := cfg.MinRefreshInterval
	if minInterval <= 0 {
		minInterval = DefaultMinRefreshInterval
	}

	return &CredentialService{
		provider:  provider,
		creds:     creds,
		logger:    logger,
		lookahead: lookahead,
		limiter:   rate.NewLimiter(rate.Every(minInterval), 1),
	}
}

// OnSessionEnded registers a callback fired when a refresh failure
// terminates the session (invalid or auth-required classification). The UI
// layer uses this to prompt re-authentication.
func (s *CredentialService) OnSessionEnded(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// LastError returns the most recent refresh failure, held for inspection
// rather than thrown at consumers mid-render.
func (s *CredentialService) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Token returns a valid credential, refreshing from the provider when the
// cache is empty, stale, or force is set.
//
// Concurrency contract: at most one refresh is in flight process-wide.
// Callers arriving while one runs wait for that same result instead of
// issuing duplicate provider calls.
func (s *CredentialService) Token(ctx context.Context, force bool) (domain.Credential, error) {
	s.mu.Lock()
	s.loadLocked(ctx)

	now := time.Now()
	if !force && s.cached.FresherThan(now, s.lookahead) {
		cred := s.cached
		s.mu.Unlock()
		return cred, nil
	}

	// Join an in-flight refresh rather than starting a second one.
	if s.inflight != nil {
		call := s.inflight
		s.mu.Unlock()
		return awaitRefresh(ctx, call)
	}

	// Rate limit fresh attempts. A stale cached credential is better than
	// hammering the provider; with no cache at all the caller has to back off.
	if !s.limiter.Allow() {
		if !s.cached.IsZero() {
			cred := s.cached
			s.mu.Unlock()
			s.logger.Debug("refresh rate limited, returning cached credential")
			return cred, nil
		}
		s.mu.Unlock()
		return domain.Credential{}, ErrRateLimited
	}

	call := &refreshCall{done: make(chan struct{})}
	s.inflight = call
	s.mu.Unlock()

	go s.refresh(call)

	return awaitRefresh(ctx, call)
}

// Clear wipes the cached and persisted credential unconditionally. Used on
// explicit sign-out.
func (s *CredentialService) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.cached = domain.Credential{}
	s.loaded = true
	s.lastErr = nil
	s.mu.Unlock()

	if err := s.creds.Delete(ctx); err != nil {
		return err
	}
	return nil
}

// Invalidate drops the cached credential so the next Token call refreshes,
// without ending the session. The connection calls this when the server
// rejects an authenticate frame: the token may simply be stale.
func (s *CredentialService) Invalidate(ctx context.Context) {
	s.mu.Lock()
	s.cached = domain.Credential{}
	s.loaded = true
	s.mu.Unlock()

	if err := s.creds.Delete(ctx); err != nil {
		s.logger.Warn("failed to delete persisted credential", "error", err)
	}
}

// Validate reports whether a usable credential is available. The local
// expiry check answers when it can; only a credential inside the lookahead
// window (or absent entirely) costs a provider round trip.
func (s *CredentialService) Validate(ctx context.Context) bool {
	s.mu.Lock()
	s.loadLocked(ctx)
	if s.cached.FresherThan(time.Now(), s.lookahead) {
		s.mu.Unlock()
		return true
	}
	s.mu.Unlock()

	_, err := s.Token(ctx, true)
	return err == nil
}

// loadLocked reads the persisted credential once per process. Callers hold mu.
func (s *CredentialService) loadLocked(ctx context.Context) {
	if s.loaded {
		return
	}
	s.loaded = true

	cred, err := s.creds.Get(ctx)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("failed to load persisted credential", "error", err)
		}
		return
	}

	s.cached = cred
	s.logger.Debug("loaded persisted credential", "expires_at", cred.ExpiresAt)
}

// refresh performs the provider fetch for one refreshCall and publishes the
// outcome to everyone waiting on it.
func (s *CredentialService) refresh(call *refreshCall) {
	ctx := context.Background()

	raw, err := s.provider.FetchToken(ctx)
	if err != nil {
		s.finishRefresh(ctx, call, domain.Credential{}, classifyProviderError(err))
		return
	}

	now := time.Now().UTC()
	cred := domain.Credential{Raw: raw, IssuedAt: now}
	if iat := jwtx.IssuedAt(raw); !iat.IsZero() {
		cred.IssuedAt = iat
	}
	if exp, err := jwtx.Expiry(raw); err == nil {
		cred.ExpiresAt = exp
	} else {
		s.logger.Debug("credential carries no parseable expiry", "reason", err)
	}

	s.finishRefresh(ctx, call, cred, nil)
}

func (s *CredentialService) finishRefresh(ctx context.Context, call *refreshCall, cred domain.Credential, err error) {
	var notify []func()

	s.mu.Lock()
	s.inflight = nil

	if err == nil {
		s.cached = cred
		s.lastErr = nil
	} else {
		s.lastErr = err
		if SessionEnded(err) {
			s.cached = domain.Credential{}
			notify = append(notify, s.listeners...)
		}
	}
	s.mu.Unlock()

	if err == nil {
		if perr := s.creds.Put(ctx, cred); perr != nil {
			s.logger.Warn("failed to persist credential", "error", perr)
		}
	} else if SessionEnded(err) {
		if derr := s.creds.Delete(ctx); derr != nil {
			s.logger.Warn("failed to delete persisted credential", "error", derr)
		}
		s.logger.Info("session ended by provider", "error", err)
	} else {
		s.logger.Warn("credential refresh failed", "error", err)
	}

	// Listeners run before waiters are released so a caller observing the
	// failure also observes the session-ended side effects.
	for _, fn := range notify {
		fn()
	}

	call.cred = cred
	call.err = err
	close(call.done)
}

func awaitRefresh(ctx context.Context, call *refreshCall) (domain.Credential, error) {
	select {
	case <-call.done:
		return call.cred, call.err
	case <-ctx.Done():
		return domain.Credential{}, ctx.Err()
	}
}
