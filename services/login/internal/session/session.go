// Package session tracks the login state of a relay client and caches the
// resolved identity.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/carlossalguero/oauthrelay/services/relay/client"
	"github.com/carlossalguero/oauthrelay/services/shared/logger"
)

// State is the client login state.
type State int

const (
	LoggedOut State = iota
	LoggingIn
	LoggedIn
)

func (s State) String() string {
	switch s {
	case LoggedOut:
		return "logged_out"
	case LoggingIn:
		return "logging_in"
	case LoggedIn:
		return "logged_in"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ErrLoginInProgress is returned when a login starts while another is running.
var ErrLoginInProgress = errors.New("session: login already in progress")

// Exchanger resolves an authorization code through the relay.
// *client.Client satisfies it.
type Exchanger interface {
	Exchange(ctx context.Context, code string) (*client.Identity, error)
}

// Session is the client-side login state machine.
type Session struct {
	mu        sync.Mutex
	store     Store
	exchanger Exchanger
	log       *logger.Logger

	state    State
	identity *client.Identity
	// restore is the state a failed login falls back to.
	restore State
}

// New creates a logged-out session.
func New(store Store, exchanger Exchanger, log *logger.Logger) *Session {
	if log == nil {
		log = logger.Default()
	}
	return &Session{
		store:     store,
		exchanger: exchanger,
		log:       log.WithComponent("session"),
		state:     LoggedOut,
	}
}

// Init loads the cached identity, then completes a pending login when
// callbackCode is non-empty. A corrupt cached record is removed.
func (s *Session) Init(ctx context.Context, callbackCode string) error {
	if err := s.load(ctx); err != nil {
		return err
	}
	if callbackCode == "" {
		return nil
	}
	_, err := s.Complete(ctx, callbackCode)
	return err
}

func (s *Session) load(ctx context.Context) error {
	data, err := s.store.Get(ctx, IdentityKey)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading cached identity: %w", err)
	}

	var identity client.Identity
	if err := json.Unmarshal(data, &identity); err != nil || identity.Login == "" {
		s.log.Warn("discarding corrupt cached identity")
		if rmErr := s.store.Remove(ctx, IdentityKey); rmErr != nil {
			return fmt.Errorf("removing corrupt identity: %w", rmErr)
		}
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = &identity
	s.state = LoggedIn
	return nil
}

// BeginLogin moves the session to LoggingIn. It is allowed from both
// LoggedOut and LoggedIn.
func (s *Session) BeginLogin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.beginLocked()
}

func (s *Session) beginLocked() error {
	if s.state == LoggingIn {
		return ErrLoginInProgress
	}
	s.restore = s.state
	s.state = LoggingIn
	return nil
}

// Complete exchanges code through the relay. On success the identity is
// cached and the session is LoggedIn. On failure the session returns to
// the state it had before the login began and any cached identity is left
// untouched.
func (s *Session) Complete(ctx context.Context, code string) (*client.Identity, error) {
	s.mu.Lock()
	if s.state != LoggingIn {
		if err := s.beginLocked(); err != nil {
			s.mu.Unlock()
			return nil, err
		}
	}
	s.mu.Unlock()

	identity, err := s.exchanger.Exchange(ctx, code)
	if err != nil {
		s.mu.Lock()
		s.state = s.restore
		s.mu.Unlock()
		s.log.Warn("login failed", "error", err)
		return nil, err
	}

	data, err := json.Marshal(identity)
	if err != nil {
		s.abort()
		return nil, fmt.Errorf("encoding identity: %w", err)
	}
	if err := s.store.Set(ctx, IdentityKey, data); err != nil {
		s.abort()
		return nil, fmt.Errorf("caching identity: %w", err)
	}

	s.mu.Lock()
	s.identity = identity
	s.state = LoggedIn
	s.mu.Unlock()

	s.log.Info("logged in", "login", identity.Login)
	return identity, nil
}

func (s *Session) abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = s.restore
}

// Logout clears the cached identity.
func (s *Session) Logout(ctx context.Context) error {
	if err := s.store.Remove(ctx, IdentityKey); err != nil {
		return fmt.Errorf("removing cached identity: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = nil
	s.state = LoggedOut
	s.restore = LoggedOut
	return nil
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Identity returns the cached identity, or nil when logged out.
func (s *Session) Identity() *client.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return nil
	}
	identity := *s.identity
	return &identity
}
