package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// BackendTLS builds the *tls.Config used for the REST API and the status
// channel. Returns nil, nil if nothing is configured (system defaults).
func (c *Config) BackendTLS() (*tls.Config, error) {
	if c.BackendTLSCACert == "" && c.BackendTLSCert == "" && c.BackendTLSServerName == "" {
		return nil, nil
	}

	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: c.BackendTLSServerName,
	}

	if c.BackendTLSCert != "" {
		cert, err := tls.LoadX509KeyPair(c.BackendTLSCert, c.BackendTLSKey)
		if err != nil {
			return nil, fmt.Errorf("load backend client cert: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	if c.BackendTLSCACert != "" {
		caPEM, err := os.ReadFile(c.BackendTLSCACert)
		if err != nil {
			return nil, fmt.Errorf("read backend CA cert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("failed to parse backend CA cert")
		}
		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}
