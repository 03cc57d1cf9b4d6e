// Package httpconfig builds the HTTP client used by all network data sources from the
// proxy and TLS settings in the configuration.
package httpconfig

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"

	"github.com/launchdarkly/go-server-sdk-core/config"
)

// HTTPConfig holds a validated HTTP setup: a transport reflecting the configured proxy and
// trusted CA certificates, and the base headers sent on every request.
type HTTPConfig struct {
	// DefaultHeaders are the headers every service request must carry.
	DefaultHeaders http.Header

	transport *http.Transport
}

// NewHTTPConfig validates the HTTP-related options and returns an HTTPConfig if successful.
func NewHTTPConfig(c config.Config, sdkKey config.SDKKey, loggers ldlog.Loggers) (HTTPConfig, error) {
	ret := HTTPConfig{
		DefaultHeaders: config.MakeDefaultHeaders(sdkKey, c),
	}

	var proxyURL *url.URL
	if c.Proxy.URL.IsDefined() {
		u := c.Proxy.URL.Get()
		proxyURL = u
		loggers.Infof("Using proxy server at %s", u.String())
	}

	caCerts, err := loadCACertPool(c.Proxy.CACertFiles)
	if err != nil {
		return ret, err
	}

	dialer := &net.Dialer{
		Timeout:   c.ConnectTimeout.GetOrElse(config.DefaultConnectTimeout),
		KeepAlive: time.Minute,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	if proxyURL != nil {
		transport.Proxy = http.ProxyURL(proxyURL)
	}
	if caCerts != nil {
		transport.TLSClientConfig = &tls.Config{RootCAs: caCerts, MinVersion: tls.VersionTLS12}
	}
	ret.transport = transport
	return ret, nil
}

// Client creates an HTTP client using this configuration. The client has no overall request
// timeout; callers that need one set it per request or per client copy.
func (c HTTPConfig) Client() *http.Client {
	return &http.Client{Transport: c.transport}
}

// loadCACertPool returns nil if no certificate files are configured, so the system roots
// stay in effect.
func loadCACertPool(commaSeparatedFiles string) (*x509.CertPool, error) {
	var pool *x509.CertPool
	for _, filePath := range strings.Split(strings.TrimSpace(commaSeparatedFiles), ",") {
		if filePath == "" {
			continue
		}
		if pool == nil {
			var err error
			pool, err = x509.SystemCertPool()
			if err != nil {
				pool = x509.NewCertPool()
			}
		}
		data, err := os.ReadFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("can't read CA certificate file: %w", err)
		}
		if !pool.AppendCertsFromPEM(data) {
			return nil, errors.New("invalid CA certificate data")
		}
	}
	return pool, nil
}
