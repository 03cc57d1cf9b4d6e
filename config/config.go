// Package config defines the configuration for the SDK core: service endpoints, transport
// tuning, application metadata, and big segment cache settings. All values are immutable
// once the data system has started.
package config

import (
	"time"

	ct "github.com/launchdarkly/go-configtypes"
)

const (
	// DefaultStreamURI is the default base URI of the streaming service.
	DefaultStreamURI = "https://stream.launchdarkly.com"

	// DefaultBaseURI is the default base URI of the polling service.
	DefaultBaseURI = "https://sdk.launchdarkly.com"

	// DefaultPollInterval is the default and minimum interval between polling requests.
	DefaultPollInterval = 30 * time.Second

	// DefaultInitialReconnectDelay is the default first backoff delay for stream reconnects.
	DefaultInitialReconnectDelay = time.Second

	// DefaultConnectTimeout is the default maximum time to wait for a TCP connection.
	DefaultConnectTimeout = 10 * time.Second

	// DefaultBigSegmentsContextCacheCapacity is the default number of contexts whose big
	// segment membership is cached.
	DefaultBigSegmentsContextCacheCapacity = 1000

	// DefaultBigSegmentsContextCacheTime is the default TTL of cached membership.
	DefaultBigSegmentsContextCacheTime = 5 * time.Second

	// DefaultBigSegmentsStatusPollInterval is the default interval at which the big segment
	// store's metadata is polled.
	DefaultBigSegmentsStatusPollInterval = 5 * time.Second

	// DefaultBigSegmentsStaleAfter is the default age of big segment data beyond which it is
	// reported as stale.
	DefaultBigSegmentsStaleAfter = 2 * time.Minute
)

// SDKKey is an SDK key for an environment.
type SDKKey string

// GetAuthorizationHeaderValue returns the value that should be passed in an HTTP
// Authorization header when authenticating with this key.
func (k SDKKey) GetAuthorizationHeaderValue() string {
	return string(k)
}

// Defined returns true if the key is non-empty.
func (k SDKKey) Defined() bool {
	return k != ""
}

// Config is the configuration for the SDK core.
type Config struct {
	// ServiceEndpoints are the base URIs of the LaunchDarkly services. Undefined fields use
	// the production defaults.
	ServiceEndpoints ServiceEndpoints

	// InitialReconnectDelay is the first backoff delay after a dropped stream connection.
	InitialReconnectDelay ct.OptDuration

	// PollInterval is the interval between polling requests. Values below DefaultPollInterval
	// are raised to it.
	PollInterval ct.OptDuration

	// PayloadFilterKey selects a filtered view of the environment's data. An invalid key is
	// dropped with a warning during validation rather than being a fatal error.
	PayloadFilterKey string

	// ApplicationInfo is optional metadata about the application, sent as header tags.
	ApplicationInfo ApplicationInfo

	// WrapperName identifies a wrapper SDK built on top of this core, if any.
	WrapperName string

	// WrapperVersion is the version of the wrapper SDK. It is ignored unless WrapperName is set.
	WrapperVersion string

	// InstanceID is an optional unique identifier for this SDK instance.
	InstanceID string

	// Proxy configures an outbound HTTP proxy for all service connections.
	Proxy ProxyConfig

	// ConnectTimeout is the maximum time to wait for a TCP connection.
	ConnectTimeout ct.OptDuration

	// BigSegments configures the big segment membership cache and status polling.
	BigSegments BigSegmentsConfig

	// Offline disables all network activity. The data system reports itself as the defaults-
	// only data availability level and evaluations use only whatever data was preloaded.
	Offline bool
}

// ServiceEndpoints are the base URIs of the LaunchDarkly services.
type ServiceEndpoints struct {
	Streaming ct.OptURLAbsolute
	Polling   ct.OptURLAbsolute
}

// ApplicationInfo is optional application metadata, sent to LaunchDarkly in the
// X-LaunchDarkly-Tags header. Values are limited to 64 characters from the set
// [a-zA-Z0-9._-]; invalid values are dropped with a warning during validation.
type ApplicationInfo struct {
	ApplicationID      string
	ApplicationVersion string
}

// ProxyConfig configures an outbound HTTP proxy. When URL is undefined, proxy settings are
// taken from the environment in the usual way.
type ProxyConfig struct {
	// URL is the proxy server URL.
	URL ct.OptURLAbsolute

	// CACertFiles is an optional comma-separated list of files containing additional CA
	// certificates, in PEM format, to trust for TLS connections.
	CACertFiles string
}

// BigSegmentsConfig configures the big segment membership manager.
type BigSegmentsConfig struct {
	// ContextCacheCapacity is the maximum number of contexts whose membership is cached at
	// one time.
	ContextCacheCapacity ct.OptIntGreaterThanZero

	// ContextCacheTime is the TTL of cached membership.
	ContextCacheTime ct.OptDuration

	// StatusPollInterval is how often the store's metadata is polled for staleness.
	StatusPollInterval ct.OptDuration

	// StaleAfter is the age of the store's last update beyond which its data counts as stale.
	StaleAfter ct.OptDuration
}

// StreamURI returns the configured streaming base URI, or the default.
func (c Config) StreamURI() string {
	if c.ServiceEndpoints.Streaming.IsDefined() {
		return c.ServiceEndpoints.Streaming.String()
	}
	return DefaultStreamURI
}

// BaseURI returns the configured polling base URI, or the default.
func (c Config) BaseURI() string {
	if c.ServiceEndpoints.Polling.IsDefined() {
		return c.ServiceEndpoints.Polling.String()
	}
	return DefaultBaseURI
}

// EffectivePollInterval returns the polling interval clamped to the minimum.
func (c Config) EffectivePollInterval() time.Duration {
	interval := c.PollInterval.GetOrElse(DefaultPollInterval)
	if interval < DefaultPollInterval {
		return DefaultPollInterval
	}
	return interval
}
