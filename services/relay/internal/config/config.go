// Package config loads the relay configuration.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the relay service configuration.
type Config struct {
	Environment string `mapstructure:"environment"`

	Server struct {
		Host              string        `mapstructure:"host"`
		Port              int           `mapstructure:"port"`
		ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
		ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"server"`

	CORS struct {
		AllowedOrigin string `mapstructure:"allowed_origin"`
	} `mapstructure:"cors"`

	OAuth struct {
		ClientID     string        `mapstructure:"client_id"`
		ClientSecret string        `mapstructure:"client_secret"`
		RedirectURI  string        `mapstructure:"redirect_uri"`
		AuthURL      string        `mapstructure:"auth_url"`
		TokenURL     string        `mapstructure:"token_url"`
		APIBaseURL   string        `mapstructure:"api_base_url"`
		Timeout      time.Duration `mapstructure:"timeout"`
		CAFile       string        `mapstructure:"ca_file"`
	} `mapstructure:"oauth"`

	TLS struct {
		Enabled  bool   `mapstructure:"enabled"`
		CertFile string `mapstructure:"cert_file"`
		KeyFile  string `mapstructure:"key_file"`
	} `mapstructure:"tls"`

	NATS struct {
		URL           string        `mapstructure:"url"`
		Name          string        `mapstructure:"name"`
		MaxReconnects int           `mapstructure:"max_reconnects"`
		ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	} `mapstructure:"nats"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`

	Tracing struct {
		Enabled    bool    `mapstructure:"enabled"`
		Endpoint   string  `mapstructure:"endpoint"`
		SampleRate float64 `mapstructure:"sample_rate"`
		Insecure   bool    `mapstructure:"insecure"`
	} `mapstructure:"tracing"`

	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"metrics"`
}

// Address returns the listen address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// envAliases maps config keys to the plain environment variable names the
// relay has always accepted. The first set variable wins.
var envAliases = map[string][]string{
	"oauth.client_id":     {"CLIENT_ID", "GITHUB_CLIENT_ID", "RELAY_OAUTH_CLIENT_ID"},
	"oauth.client_secret": {"CLIENT_SECRET", "GITHUB_CLIENT_SECRET", "RELAY_OAUTH_CLIENT_SECRET"},
	"oauth.redirect_uri":  {"REDIRECT_URI", "GITHUB_REDIRECT_URI", "RELAY_OAUTH_REDIRECT_URI"},
	"server.port":         {"PORT", "RELAY_SERVER_PORT"},
	"cors.allowed_origin": {"ALLOWED_ORIGIN", "RELAY_CORS_ALLOWED_ORIGIN"},
	"environment":         {"ENVIRONMENT", "RELAY_ENVIRONMENT"},
}

// SetDefaults registers every key with its default value.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.read_header_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("cors.allowed_origin", "http://localhost:3000")

	v.SetDefault("oauth.client_id", "")
	v.SetDefault("oauth.client_secret", "")
	v.SetDefault("oauth.redirect_uri", "")
	v.SetDefault("oauth.auth_url", "")
	v.SetDefault("oauth.token_url", "")
	v.SetDefault("oauth.api_base_url", "")
	v.SetDefault("oauth.timeout", "10s")
	v.SetDefault("oauth.ca_file", "")

	v.SetDefault("tls.enabled", false)
	v.SetDefault("tls.cert_file", "")
	v.SetDefault("tls.key_file", "")

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.name", "oauthrelay")
	v.SetDefault("nats.max_reconnects", 10)
	v.SetDefault("nats.reconnect_wait", "2s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4317")
	v.SetDefault("tracing.sample_rate", 1.0)
	v.SetDefault("tracing.insecure", true)

	v.SetDefault("metrics.enabled", true)
}

// Load reads defaults, an optional relay.yaml and the environment into a
// Config. Pass a nil viper to use a fresh instance.
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.New()
	}

	// SetConfigName drops a file set with SetConfigFile, so search paths
	// only apply when the caller has not picked one.
	if v.ConfigFileUsed() == "" {
		v.SetConfigName("relay")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/oauthrelay")
	}

	SetDefaults(v)

	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, names := range envAliases {
		args := append([]string{key}, names...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("binding %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// Validate reports configuration the relay cannot start with.
func (c *Config) Validate() error {
	var errs []error

	if c.OAuth.ClientID == "" {
		errs = append(errs, errors.New("CLIENT_ID is required"))
	}
	if c.OAuth.ClientSecret == "" {
		errs = append(errs, errors.New("CLIENT_SECRET is required"))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d out of range", c.Server.Port))
	}
	if c.CORS.AllowedOrigin == "" || c.CORS.AllowedOrigin == "*" {
		errs = append(errs, errors.New("ALLOWED_ORIGIN must name a single origin"))
	}
	if c.OAuth.Timeout <= 0 {
		errs = append(errs, errors.New("oauth.timeout must be positive"))
	}
	if c.TLS.Enabled && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		errs = append(errs, errors.New("tls.cert_file and tls.key_file are required when TLS is enabled"))
	}

	return errors.Join(errs...)
}
