// Package tls provides TLS configuration for the relay listener and its
// outbound identity provider calls.
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// Config holds TLS configuration options.
type Config struct {
	// CertFile is the path to the TLS certificate file.
	CertFile string
	// KeyFile is the path to the TLS private key file.
	KeyFile string
	// CAFile is the path to an extra CA bundle. For servers it verifies
	// client certificates; for clients it is added to the system roots.
	CAFile string
	// MinVersion is the minimum TLS version (default: TLS 1.2).
	MinVersion uint16
}

// ServerTLSConfig creates a tls.Config for servers.
func ServerTLSConfig(cfg *Config) (*tls.Config, error) {
	if cfg.CertFile == "" || cfg.KeyFile == "" {
		return nil, fmt.Errorf("certificate and key files are required")
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("loading certificate: %w", err)
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   minVersion(cfg.MinVersion),
		CipherSuites: preferredCipherSuites(),
	}

	if cfg.CAFile != "" {
		pool, err := loadCertPool(cfg.CAFile, x509.NewCertPool())
		if err != nil {
			return nil, err
		}
		tlsConfig.ClientCAs = pool
		tlsConfig.ClientAuth = tls.VerifyClientCertIfGiven
	}

	return tlsConfig, nil
}

// ClientTLSConfig creates a tls.Config for outbound clients. Server
// certificates are always verified against the system roots plus the
// optional CA bundle.
func ClientTLSConfig(cfg *Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: minVersion(cfg.MinVersion),
	}

	if cfg.CAFile != "" {
		roots, err := x509.SystemCertPool()
		if err != nil || roots == nil {
			roots = x509.NewCertPool()
		}
		pool, err := loadCertPool(cfg.CAFile, roots)
		if err != nil {
			return nil, err
		}
		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}

func loadCertPool(path string, pool *x509.CertPool) (*x509.CertPool, error) {
	caCert, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading CA file: %w", err)
	}
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA certificate")
	}
	return pool, nil
}

func minVersion(v uint16) uint16 {
	if v < tls.VersionTLS12 {
		return tls.VersionTLS12
	}
	return v
}

// preferredCipherSuites returns a list of secure cipher suites.
func preferredCipherSuites() []uint16 {
	return []uint16{
		tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
		tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	}
}
