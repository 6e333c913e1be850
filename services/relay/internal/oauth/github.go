package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"

	"github.com/carlossalguero/oauthrelay/services/shared/errors"
	"github.com/carlossalguero/oauthrelay/services/shared/logger"
	"github.com/carlossalguero/oauthrelay/services/shared/tracing"
)

const (
	githubAPIBaseURL = "https://api.github.com"
	defaultTimeout   = 10 * time.Second
	maxBodyBytes     = 1 << 20
)

// GitHubConfig holds GitHub OAuth configuration.
type GitHubConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// AuthURL, TokenURL and APIBaseURL default to github.com and
	// api.github.com.
	AuthURL    string
	TokenURL   string
	APIBaseURL string

	// Timeout bounds each outbound call (default 10s).
	Timeout time.Duration

	// Transport is the base round tripper for every outbound call. It
	// defaults to http.DefaultTransport.
	Transport http.RoundTripper
}

// GitHubProvider implements the exchange for GitHub.
type GitHubProvider struct {
	config     *oauth2.Config
	apiBaseURL string
	timeout    time.Duration
	transport  http.RoundTripper
	recorder   Recorder
	log        *logger.Logger
}

// Option configures a GitHubProvider.
type Option func(*GitHubProvider)

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(p *GitHubProvider) {
		if r != nil {
			p.recorder = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(p *GitHubProvider) {
		if l != nil {
			p.log = l
		}
	}
}

// githubToken is the token endpoint response. GitHub answers 200 with an
// error object for bad codes, so a missing access_token is the failure
// signal.
type githubToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Scope       string `json:"scope"`
}

// githubUser represents the GitHub user response.
type githubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
	HTMLURL   string `json:"html_url"`
}

// githubEmail represents a GitHub email response.
type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// NewGitHubProvider creates a new GitHub OAuth provider.
func NewGitHubProvider(cfg GitHubConfig, opts ...Option) *GitHubProvider {
	endpoint := github.Endpoint
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}

	apiBaseURL := cfg.APIBaseURL
	if apiBaseURL == "" {
		apiBaseURL = githubAPIBaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	p := &GitHubProvider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"user:email"},
			Endpoint:     endpoint,
		},
		apiBaseURL: strings.TrimRight(apiBaseURL, "/"),
		timeout:    timeout,
		transport:  transport,
		recorder:   nopRecorder{},
		log:        logger.Default(),
	}

	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.WithComponent("oauth.github")

	return p
}

// Name returns the provider name.
func (p *GitHubProvider) Name() string {
	return "github"
}

// AuthCodeURL returns the GitHub authorization URL for state.
func (p *GitHubProvider) AuthCodeURL(state string) string {
	return p.config.AuthCodeURL(state)
}

// Exchange runs token exchange, profile fetch and, when the profile has no
// email, email resolution. Calls are strictly sequential and never retried.
func (p *GitHubProvider) Exchange(ctx context.Context, code string) (*Identity, error) {
	if code == "" {
		return nil, errors.MissingCode()
	}

	token, err := p.exchangeToken(ctx, code)
	if err != nil {
		return nil, err
	}

	client := p.apiClient(token)

	user, err := p.fetchUser(ctx, client)
	if err != nil {
		return nil, err
	}

	email, source := user.Email, EmailSourceProfile
	if email == "" {
		email, source = p.resolveEmail(ctx, client)
	}
	p.recorder.RecordEmailSource(source)

	name := user.Name
	if name == "" {
		name = user.Login
	}

	return &Identity{
		ID:        user.ID,
		Login:     user.Login,
		Name:      name,
		Email:     email,
		AvatarURL: user.AvatarURL,
		HTMLURL:   user.HTMLURL,
	}, nil
}

func (p *GitHubProvider) exchangeToken(ctx context.Context, code string) (*oauth2.Token, error) {
	payload, err := json.Marshal(map[string]string{
		"client_id":     p.config.ClientID,
		"client_secret": p.config.ClientSecret,
		"code":          code,
		"redirect_uri":  p.config.RedirectURL,
	})
	if err != nil {
		return nil, errors.InternalWrap("encoding token request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Endpoint.TokenURL, bytes.NewReader(payload))
	if err != nil {
		return nil, errors.TokenExchangeFailed("token exchange failed").Wrap(err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: p.timeout, Transport: p.transport}

	status, body, err := p.do(ctx, client, StepToken, req)
	if err != nil {
		return nil, errors.TokenExchangeFailed("token exchange failed").Wrap(err)
	}
	if status < 200 || status >= 300 {
		p.log.Warn("token endpoint rejected code", "status", status)
		return nil, errors.TokenExchangeFailed("token exchange failed").WithDetails(errors.UpstreamDetails(body))
	}

	var tok githubToken
	if err := json.Unmarshal(body, &tok); err != nil || tok.AccessToken == "" {
		p.log.Warn("token response carried no access token", "status", status)
		return nil, errors.TokenExchangeFailed("no access token received").WithDetails(errors.UpstreamDetails(body))
	}

	return &oauth2.Token{AccessToken: tok.AccessToken, TokenType: tok.TokenType}, nil
}

// apiClient authorizes API calls with the bearer token. oauth2.NewClient is
// avoided because it drops the per-call timeout.
func (p *GitHubProvider) apiClient(token *oauth2.Token) *http.Client {
	return &http.Client{
		Timeout: p.timeout,
		Transport: &oauth2.Transport{
			Base:   p.transport,
			Source: oauth2.StaticTokenSource(token),
		},
	}
}

func (p *GitHubProvider) fetchUser(ctx context.Context, client *http.Client) (*githubUser, error) {
	req, err := p.newAPIRequest(ctx, "/user")
	if err != nil {
		return nil, errors.ProfileFetchFailed("profile fetch failed").Wrap(err)
	}

	status, body, err := p.do(ctx, client, StepUser, req)
	if err != nil {
		return nil, errors.ProfileFetchFailed("profile fetch failed").Wrap(err)
	}
	if status < 200 || status >= 300 {
		p.log.Warn("profile request rejected", "status", status)
		return nil, errors.ProfileFetchFailed("profile fetch failed").WithDetails(errors.UpstreamDetails(body))
	}

	var user githubUser
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, errors.ProfileFetchFailed("decoding profile").Wrap(err)
	}
	if user.ID == 0 || user.Login == "" {
		return nil, errors.ProfileFetchFailed("profile is missing id or login").WithDetails(errors.UpstreamDetails(body))
	}

	return &user, nil
}

// resolveEmail picks the primary address, then the first one, then the
// sentinel. It never fails.
func (p *GitHubProvider) resolveEmail(ctx context.Context, client *http.Client) (string, string) {
	emails, err := p.fetchEmails(ctx, client)
	if err != nil {
		p.log.WithError(err).Warn("email lookup failed, using sentinel", "timeout", isTimeout(err))
		return EmailNotProvided, EmailSourceSentinel
	}

	for _, e := range emails {
		if e.Primary && e.Email != "" {
			return e.Email, EmailSourcePrimary
		}
	}
	if len(emails) > 0 && emails[0].Email != "" {
		return emails[0].Email, EmailSourceFirst
	}

	return EmailNotProvided, EmailSourceSentinel
}

func (p *GitHubProvider) fetchEmails(ctx context.Context, client *http.Client) ([]githubEmail, error) {
	req, err := p.newAPIRequest(ctx, "/user/emails")
	if err != nil {
		return nil, errors.EmailFetchFailed("building request").Wrap(err)
	}

	status, body, err := p.do(ctx, client, StepEmails, req)
	if err != nil {
		return nil, errors.EmailFetchFailed("email fetch failed").Wrap(err)
	}
	if status < 200 || status >= 300 {
		return nil, errors.EmailFetchFailed(fmt.Sprintf("email endpoint returned %d", status))
	}

	var emails []githubEmail
	if err := json.Unmarshal(body, &emails); err != nil {
		return nil, errors.EmailFetchFailed("decoding emails").Wrap(err)
	}

	return emails, nil
}

func (p *GitHubProvider) newAPIRequest(ctx context.Context, path string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiBaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// do sends req inside a client span and returns the status and a bounded
// copy of the body. A transport failure reports status 0.
func (p *GitHubProvider) do(ctx context.Context, client *http.Client, step string, req *http.Request) (int, []byte, error) {
	ctx, span := tracing.StartClientSpan(ctx, "github."+step,
		trace.WithAttributes(attribute.String("oauth.step", step)))
	defer span.End()

	// Trace context stays internal; it is not propagated to the provider.
	req = req.WithContext(ctx)

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		p.recorder.RecordUpstreamRequest(p.Name(), step, 0, time.Since(start))
		tracing.WithError(span, err)
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	p.recorder.RecordUpstreamRequest(p.Name(), step, resp.StatusCode, time.Since(start))
	tracing.WithHTTPAttributes(span, req.Method, req.URL.Path, resp.StatusCode)
	if err != nil {
		tracing.WithError(span, err)
		return resp.StatusCode, nil, err
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		tracing.WithSuccess(span)
	} else {
		span.SetAttributes(attribute.Int("oauth.upstream_status", resp.StatusCode))
	}

	p.log.Debug("upstream call finished", "step", step, "status", resp.StatusCode, "duration", time.Since(start))
	return resp.StatusCode, body, nil
}

func isTimeout(err error) bool {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return stderrors.As(err, &netErr) && netErr.Timeout()
}
