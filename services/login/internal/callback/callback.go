// Package callback receives the provider's redirect back to the login CLI.
package callback

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
)

// Errors returned by Receiver.Wait.
var (
	ErrStateMismatch = errors.New("callback: state mismatch")
	ErrDenied        = errors.New("callback: authorization denied")
)

type result struct {
	code string
	err  error
}

// Receiver accepts exactly one redirect carrying code and state.
type Receiver struct {
	path   string
	state  string
	once   sync.Once
	result chan result
}

// NewReceiver creates a Receiver for redirectURI expecting state.
func NewReceiver(redirectURI, state string) (*Receiver, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return nil, fmt.Errorf("parsing redirect URI: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("redirect URI %q has no host", redirectURI)
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	return &Receiver{
		path:   path,
		state:  state,
		result: make(chan result, 1),
	}, nil
}

// ListenAddr returns the host:port the redirect URI points at.
func ListenAddr(redirectURI string) (string, error) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return "", fmt.Errorf("parsing redirect URI: %w", err)
	}
	if u.Port() == "" {
		if u.Scheme == "https" {
			return u.Hostname() + ":443", nil
		}
		return u.Hostname() + ":80", nil
	}
	return u.Host, nil
}

// Handler serves the redirect path.
func (r *Receiver) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != r.path {
			http.NotFound(w, req)
			return
		}

		q := req.URL.Query()
		var res result
		switch {
		case q.Get("error") != "":
			res.err = fmt.Errorf("%w: %s", ErrDenied, q.Get("error"))
		case q.Get("state") != r.state:
			res.err = ErrStateMismatch
		default:
			res.code = q.Get("code")
		}

		r.once.Do(func() { r.result <- res })

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if res.err != nil {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintln(w, "Login failed. You can close this window.")
			return
		}
		fmt.Fprintln(w, "Login received. You can close this window.")
	})
}

// Wait blocks until the redirect arrives or ctx is done.
func (r *Receiver) Wait(ctx context.Context) (string, error) {
	select {
	case res := <-r.result:
		return res.code, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
