package httpconfig

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	ct "github.com/launchdarkly/go-configtypes"
	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
	"github.com/launchdarkly/go-test-helpers/v3/httphelpers"

	"github.com/launchdarkly/go-server-sdk-core/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultHeadersIncludeAuthorization(t *testing.T) {
	hc, err := NewHTTPConfig(config.Config{}, config.SDKKey("sdk-key"), ldlog.NewDisabledLoggers())
	require.NoError(t, err)
	assert.Equal(t, "sdk-key", hc.DefaultHeaders.Get("Authorization"))
}

func TestClientUsesConfiguredProxy(t *testing.T) {
	handler, requestsCh := httphelpers.RecordingHandler(httphelpers.HandlerWithStatus(200))
	httphelpers.WithServer(handler, func(server *httptest.Server) {
		proxyURL, err := ct.NewOptURLAbsoluteFromString(server.URL)
		require.NoError(t, err)
		c := config.Config{Proxy: config.ProxyConfig{URL: proxyURL}}

		hc, err := NewHTTPConfig(c, config.SDKKey("sdk-key"), ldlog.NewDisabledLoggers())
		require.NoError(t, err)

		resp, err := hc.Client().Get("http://example.invalid/some/path")
		require.NoError(t, err)
		_ = resp.Body.Close()

		request := <-requestsCh
		assert.Equal(t, "/some/path", request.Request.URL.Path)
	})
}

func TestMissingCACertFileIsAnError(t *testing.T) {
	c := config.Config{Proxy: config.ProxyConfig{
		CACertFiles: filepath.Join(t.TempDir(), "no-such-cert.pem"),
	}}
	_, err := NewHTTPConfig(c, config.SDKKey("sdk-key"), ldlog.NewDisabledLoggers())
	require.Error(t, err)
}

func TestMalformedCACertFileIsAnError(t *testing.T) {
	certFile := filepath.Join(t.TempDir(), "bad-cert.pem")
	require.NoError(t, os.WriteFile(certFile, []byte("not a certificate"), 0600))

	c := config.Config{Proxy: config.ProxyConfig{CACertFiles: certFile}}
	_, err := NewHTTPConfig(c, config.SDKKey("sdk-key"), ldlog.NewDisabledLoggers())
	require.Error(t, err)
}
