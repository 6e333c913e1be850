// Package service provides the business logic for the relay service.
package service

import (
	"context"
	"strings"
	"time"

	"github.com/carlossalguero/oauthrelay/services/relay/internal/oauth"
	"github.com/carlossalguero/oauthrelay/services/shared/errors"
	"github.com/carlossalguero/oauthrelay/services/shared/logger"
)

// EventClient defines the interface for event publishing.
type EventClient interface {
	PublishIdentityResolved(ctx context.Context, id int64, login string) error
	IsConnected() bool
}

// Recorder defines the exchange outcome metrics sink.
type Recorder interface {
	RecordExchange(outcome string)
}

// Exchange outcomes.
const (
	OutcomeSuccess = "success"
)

const publishTimeout = 5 * time.Second

// Config holds the relay service dependencies.
type Config struct {
	Provider oauth.Provider
	Events   EventClient
	Metrics  Recorder
	Logger   *logger.Logger
}

// Service relays authorization codes to the identity provider. It holds no
// per-request state.
type Service struct {
	provider oauth.Provider
	events   EventClient
	metrics  Recorder
	log      *logger.Logger
}

// New creates a new relay service.
func New(cfg Config) *Service {
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	return &Service{
		provider: cfg.Provider,
		events:   cfg.Events,
		metrics:  cfg.Metrics,
		log:      log.WithComponent("service"),
	}
}

// Exchange turns an authorization code into a normalized identity.
func (s *Service) Exchange(ctx context.Context, code string) (*oauth.Identity, error) {
	log := s.log.With("provider", s.provider.Name())
	if code != "" {
		log.InfoContext(ctx, "authorization code received", "code_prefix", codePrefix(code))
	}

	identity, err := s.provider.Exchange(ctx, code)
	if err != nil {
		s.record(outcome(err))
		if errors.IsCode(err, errors.CodeMissingCode) {
			log.WarnContext(ctx, "exchange rejected", "error_code", errors.GetCode(err))
		} else {
			log.ErrorContext(ctx, "exchange failed", "error_code", errors.GetCode(err), "error", err)
		}
		return nil, err
	}

	s.record(OutcomeSuccess)
	log.InfoContext(ctx, "identity resolved", "login", identity.Login, "user_id", identity.ID)
	s.publishResolved(identity)

	return identity, nil
}

// AuthorizeURL returns the provider consent URL carrying state.
func (s *Service) AuthorizeURL(state string) string {
	return s.provider.AuthCodeURL(state)
}

func (s *Service) record(outcome string) {
	if s.metrics != nil {
		s.metrics.RecordExchange(outcome)
	}
}

func (s *Service) publishResolved(identity *oauth.Identity) {
	if s.events == nil || !s.events.IsConnected() {
		return
	}
	id, login := identity.ID, identity.Login
	// Fire and forget; the response never waits on the broker.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := s.events.PublishIdentityResolved(ctx, id, login); err != nil {
			s.log.Warn("failed to publish identity event", "error", err)
		}
	}()
}

// outcome maps an exchange error to its metric label.
func outcome(err error) string {
	return strings.ToLower(string(errors.GetCode(err)))
}

// codePrefix returns enough of a code to correlate logs without exposing it.
func codePrefix(code string) string {
	if len(code) <= 4 {
		return "****"
	}
	return code[:4] + "****"
}
