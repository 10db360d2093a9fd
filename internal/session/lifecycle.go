package session

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/benmeehan/xsense-agent/internal/identity"
)

type authenticateFunc func(ctx context.Context) (*identity.Tokens, error)

type refreshFunc func(ctx context.Context, current *Session) (*identity.Tokens, error)

// lifecycle owns the single live Session and the state machine shared by both protocol
// strategies. Tokens are only ever replaced by swapping the whole Session.
type lifecycle struct {
	logger zerolog.Logger
	now    func() time.Time

	// dedupe makes concurrent refreshes share one exchange instead of each running its own.
	dedupe bool
	group  singleflight.Group

	// refreshMu serializes refresh exchanges so two never mutate the session at once.
	refreshMu sync.Mutex

	mu      sync.RWMutex
	state   State
	session *Session
}

func newLifecycle(logger zerolog.Logger, dedupe bool) *lifecycle {
	return &lifecycle{
		logger: logger,
		now:    time.Now,
		dedupe: dedupe,
		state:  StateUninitialized,
	}
}

// Current returns a copy of the live session, or nil when there is none.
func (l *lifecycle) Current() *Session {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.session.clone()
}

// State returns the current lifecycle state.
func (l *lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Clear discards the live session.
func (l *lifecycle) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.session = nil
	l.state = StateExpired
}

func (l *lifecycle) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

func (l *lifecycle) authenticate(ctx context.Context, fn authenticateFunc) (*Session, error) {
	l.setState(StateAuthenticating)

	tokens, err := fn(ctx)
	if err != nil {
		l.Clear()
		l.logger.Error().Err(err).Msg("Authentication failed")
		return nil, &AuthenticationFailed{Reason: err.Error(), Err: err}
	}

	s := newSession(tokens, tokens.RefreshToken, l.now())
	l.mu.Lock()
	l.session = s
	l.state = StateAuthenticated
	l.mu.Unlock()

	l.logger.Debug().Str("subject", s.SubjectID).Time("expires_at", s.ExpiresAt).Msg("Authentication successful")
	return s.clone(), nil
}

func (l *lifecycle) refresh(ctx context.Context, fn refreshFunc) (*Session, error) {
	if !l.dedupe {
		return l.refreshOnce(ctx, fn)
	}
	v, err, shared := l.group.Do("refresh", func() (any, error) {
		return l.refreshOnce(ctx, fn)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		l.logger.Debug().Msg("Joined an in-flight session refresh")
	}
	return v.(*Session).clone(), nil
}

func (l *lifecycle) refreshOnce(ctx context.Context, fn refreshFunc) (*Session, error) {
	l.refreshMu.Lock()
	defer l.refreshMu.Unlock()

	l.mu.Lock()
	current := l.session
	if current == nil || current.RefreshToken == "" {
		l.mu.Unlock()
		return nil, &RefreshFailed{Cause: ErrNoSession}
	}
	l.state = StateRefreshing
	l.mu.Unlock()

	tokens, err := fn(ctx, current.clone())
	if err != nil {
		l.mu.Lock()
		if l.session == current {
			l.session = nil
			l.state = StateExpired
		}
		l.mu.Unlock()
		return nil, &RefreshFailed{Cause: err}
	}

	refreshToken := tokens.RefreshToken
	if refreshToken == "" {
		refreshToken = current.RefreshToken
	}
	s := newSession(tokens, refreshToken, l.now())

	l.mu.Lock()
	l.session = s
	l.state = StateAuthenticated
	l.mu.Unlock()

	return s.clone(), nil
}
