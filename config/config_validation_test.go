package config

import (
	"strings"
	"testing"

	ct "github.com/launchdarkly/go-configtypes"
	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
	"github.com/launchdarkly/go-sdk-common/v3/ldlogtest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateConfigAcceptsEmptyConfig(t *testing.T) {
	var c Config
	assert.NoError(t, ValidateConfig(&c, ldlog.NewDisabledLoggers()))
}

func TestValidateConfigKeepsValidPayloadFilterKey(t *testing.T) {
	c := Config{PayloadFilterKey: "my-filter.1"}
	require.NoError(t, ValidateConfig(&c, ldlog.NewDisabledLoggers()))
	assert.Equal(t, "my-filter.1", c.PayloadFilterKey)
}

func TestValidateConfigDropsInvalidPayloadFilterKeyWithWarning(t *testing.T) {
	for _, key := range []string{"-starts-with-dash", "has spaces", ".leading-dot"} {
		t.Run(key, func(t *testing.T) {
			mockLog := ldlogtest.NewMockLog()
			c := Config{PayloadFilterKey: key}
			require.NoError(t, ValidateConfig(&c, mockLog.Loggers))
			assert.Equal(t, "", c.PayloadFilterKey)
			mockLog.AssertMessageMatch(t, true, ldlog.Warn, "payload filter key")
		})
	}
}

func TestValidateConfigDropsInvalidApplicationTags(t *testing.T) {
	mockLog := ldlogtest.NewMockLog()
	c := Config{ApplicationInfo: ApplicationInfo{
		ApplicationID:      "has spaces",
		ApplicationVersion: strings.Repeat("x", 65),
	}}
	require.NoError(t, ValidateConfig(&c, mockLog.Loggers))
	assert.Equal(t, "", c.ApplicationInfo.ApplicationID)
	assert.Equal(t, "", c.ApplicationInfo.ApplicationVersion)
	mockLog.AssertMessageMatch(t, true, ldlog.Warn, "application-id")
	mockLog.AssertMessageMatch(t, true, ldlog.Warn, "application-version")
}

func TestValidateConfigKeepsValidApplicationTags(t *testing.T) {
	c := Config{ApplicationInfo: ApplicationInfo{
		ApplicationID:      "my-app_1.0",
		ApplicationVersion: "2.0.0",
	}}
	require.NoError(t, ValidateConfig(&c, ldlog.NewDisabledLoggers()))
	assert.Equal(t, "my-app_1.0", c.ApplicationInfo.ApplicationID)
	assert.Equal(t, "2.0.0", c.ApplicationInfo.ApplicationVersion)
}

func TestValidateConfigRejectsWrapperVersionWithoutName(t *testing.T) {
	c := Config{WrapperVersion: "1.0.0"}
	assert.Error(t, ValidateConfig(&c, ldlog.NewDisabledLoggers()))
}

func TestEffectivePollIntervalEnforcesMinimum(t *testing.T) {
	var c Config
	assert.Equal(t, DefaultPollInterval, c.EffectivePollInterval())

	c.PollInterval = ct.NewOptDuration(DefaultPollInterval / 2)
	assert.Equal(t, DefaultPollInterval, c.EffectivePollInterval())

	c.PollInterval = ct.NewOptDuration(DefaultPollInterval * 2)
	assert.Equal(t, DefaultPollInterval*2, c.EffectivePollInterval())
}

func TestServiceEndpointDefaults(t *testing.T) {
	var c Config
	assert.Equal(t, DefaultStreamURI, c.StreamURI())
	assert.Equal(t, DefaultBaseURI, c.BaseURI())

	c.ServiceEndpoints.Streaming, _ = ct.NewOptURLAbsoluteFromString("http://localhost:8080")
	c.ServiceEndpoints.Polling, _ = ct.NewOptURLAbsoluteFromString("http://localhost:8081")
	assert.Equal(t, "http://localhost:8080", c.StreamURI())
	assert.Equal(t, "http://localhost:8081", c.BaseURI())
}
