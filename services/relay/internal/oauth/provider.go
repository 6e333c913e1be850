// Package oauth implements the authorization-code exchange against the
// identity provider.
package oauth

import (
	"context"
	"time"
)

// EmailNotProvided is returned in Identity.Email when no address could be
// resolved.
const EmailNotProvided = "not provided"

// Provider exchanges authorization codes for user identities.
type Provider interface {
	// Name returns the provider name.
	Name() string

	// AuthCodeURL returns the URL users are redirected to for consent.
	AuthCodeURL(state string) string

	// Exchange turns a one-time authorization code into an Identity.
	Exchange(ctx context.Context, code string) (*Identity, error)
}

// Identity is the normalized user record returned to clients.
type Identity struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
	HTMLURL   string `json:"html_url"`
}

// Recorder receives per-call upstream measurements. *metrics.Metrics
// satisfies it.
type Recorder interface {
	RecordUpstreamRequest(upstream, step string, status int, duration time.Duration)
	RecordEmailSource(source string)
}

type nopRecorder struct{}

func (nopRecorder) RecordUpstreamRequest(string, string, int, time.Duration) {}
func (nopRecorder) RecordEmailSource(string)                                 {}

// Email sources reported to the Recorder.
const (
	EmailSourceProfile  = "profile"
	EmailSourcePrimary  = "primary"
	EmailSourceFirst    = "first"
	EmailSourceSentinel = "sentinel"
)

// Exchange steps reported to the Recorder.
const (
	StepToken  = "token"
	StepUser   = "user"
	StepEmails = "emails"
)
