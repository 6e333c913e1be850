// Package main is the oauthlogin CLI: it logs a user in through the relay and
// caches the resolved identity locally.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/carlossalguero/oauthrelay/services/login/internal/callback"
	"github.com/carlossalguero/oauthrelay/services/login/internal/session"
	"github.com/carlossalguero/oauthrelay/services/relay/client"
	"github.com/carlossalguero/oauthrelay/services/shared/cache"
	"github.com/carlossalguero/oauthrelay/services/shared/health"
	"github.com/carlossalguero/oauthrelay/services/shared/logger"
)

const usage = `usage: oauthlogin [flags] <login|whoami|logout|status>

flags:
`

func main() {
	flags := pflag.NewFlagSet("oauthlogin", pflag.ContinueOnError)
	flags.String("relay-url", "http://localhost:5000", "relay base URL")
	flags.String("redirect-uri", "http://localhost:3000/callback", "redirect URI registered with the provider")
	flags.Duration("timeout", client.DefaultTimeout, "relay request timeout")
	flags.Duration("wait", 5*time.Minute, "how long to wait for the browser redirect")
	flags.String("store", "file", "identity cache: file or redis")
	flags.String("cache-dir", "", "directory for the file cache (default: user config dir)")
	flags.String("redis-addr", "localhost:6379", "redis address for the redis cache")
	flags.Duration("redis-ttl", 0, "expiry of the cached identity in redis (0 keeps it)")
	flags.String("log-level", "warn", "log level")
	flags.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flags.PrintDefaults()
	}

	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	v := viper.New()
	v.SetEnvPrefix("OAUTHLOGIN")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		fmt.Fprintf(os.Stderr, "binding flags: %v\n", err)
		os.Exit(1)
	}

	logger.Init(logger.Config{
		Level:       v.GetString("log-level"),
		Format:      "text",
		ServiceName: "oauthlogin",
		Output:      os.Stderr,
	})

	if flags.NArg() != 1 {
		flags.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, v, flags.Arg(0)); err != nil {
		fmt.Fprintf(os.Stderr, "oauthlogin: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, v *viper.Viper, command string) error {
	handle, err := openStore(v)
	if err != nil {
		return err
	}
	defer handle.close()

	relay := client.New(client.Config{
		BaseURL: v.GetString("relay-url"),
		Timeout: v.GetDuration("timeout"),
	})
	sess := session.New(handle.store, relay, logger.Default())

	switch command {
	case "login":
		return login(ctx, v, sess)
	case "whoami":
		if err := sess.Init(ctx, ""); err != nil {
			return err
		}
		if sess.State() != session.LoggedIn {
			return errors.New("not logged in")
		}
		return printJSON(sess.Identity())
	case "logout":
		if err := sess.Init(ctx, ""); err != nil {
			return err
		}
		if err := sess.Logout(ctx); err != nil {
			return err
		}
		fmt.Println("logged out")
		return nil
	case "status":
		checker := statusChecker(v.GetDuration("timeout"), relay.Ready, handle.ping)
		response := checker.Check(ctx)
		if err := printJSON(response); err != nil {
			return err
		}
		if response.Status == health.StatusDown {
			return errors.New("one or more components are down")
		}
		return nil
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

// statusChecker reports relay readiness and, when the store is remote, its
// reachability.
func statusChecker(timeout time.Duration, relayReady, storePing func(context.Context) error) *health.Checker {
	checker := health.NewChecker(health.WithTimeout(timeout))
	checker.Register("relay", health.PingCheck("relay", relayReady))
	if storePing != nil {
		checker.Register("redis", health.PingCheck("redis", storePing))
	}
	return checker
}

func login(ctx context.Context, v *viper.Viper, sess *session.Session) error {
	if err := sess.Init(ctx, ""); err != nil {
		return err
	}

	redirectURI := v.GetString("redirect-uri")
	state := uuid.NewString()

	receiver, err := callback.NewReceiver(redirectURI, state)
	if err != nil {
		return err
	}
	addr, err := callback.ListenAddr(redirectURI)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           receiver.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	authorizeURL := strings.TrimRight(v.GetString("relay-url"), "/") + "/oauth/authorize?state=" + url.QueryEscape(state)
	fmt.Printf("Open this URL in your browser to log in:\n\n  %s\n\n", authorizeURL)

	waitCtx, cancel := context.WithTimeout(ctx, v.GetDuration("wait"))
	defer cancel()

	type waitResult struct {
		code string
		err  error
	}
	done := make(chan waitResult, 1)
	go func() {
		code, err := receiver.Wait(waitCtx)
		done <- waitResult{code: code, err: err}
	}()

	var code string
	select {
	case err := <-serveErr:
		return fmt.Errorf("listening on %s: %w", addr, err)
	case res := <-done:
		if res.err != nil {
			return fmt.Errorf("waiting for redirect: %w", res.err)
		}
		code = res.code
	}

	identity, err := sess.Complete(ctx, code)
	if err != nil {
		return err
	}
	return printJSON(identity)
}

type storeHandle struct {
	store session.Store
	ping  func(context.Context) error // nil for local stores
	close func()
}

func openStore(v *viper.Viper) (*storeHandle, error) {
	switch v.GetString("store") {
	case "file":
		dir := v.GetString("cache-dir")
		if dir == "" {
			var err error
			if dir, err = session.DefaultDir(); err != nil {
				return nil, err
			}
		}
		return &storeHandle{
			store: session.NewFileStore(afero.NewOsFs(), dir),
			close: func() {},
		}, nil
	case "redis":
		cfg := cache.DefaultConfig()
		cfg.Address = v.GetString("redis-addr")
		cfg.KeyPrefix = "oauthlogin:"
		rc, err := cache.New(cfg)
		if err != nil {
			return nil, err
		}
		return &storeHandle{
			store: session.NewRedisStore(rc, v.GetDuration("redis-ttl")),
			ping:  rc.Ping,
			close: func() { _ = rc.Close() },
		}, nil
	default:
		return nil, fmt.Errorf("unknown store %q", v.GetString("store"))
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
