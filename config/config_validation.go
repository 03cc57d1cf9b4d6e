package config

import (
	"errors"
	"regexp"

	ct "github.com/launchdarkly/go-configtypes"
	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
)

var (
	payloadFilterKeyRegex = regexp.MustCompile(`^[a-zA-Z0-9][._\-a-zA-Z0-9]*$`) //nolint:gochecknoglobals
	tagValueRegex         = regexp.MustCompile(`^[a-zA-Z0-9._-]*$`)             //nolint:gochecknoglobals
)

const maxTagValueLength = 64

var errWrapperVersionWithoutName = errors.New("wrapper version was set without a wrapper name")

// ValidateConfig checks a Config for errors and normalizes some fields in place. Invalid
// optional metadata (payload filter key, application tags) is dropped with a warning rather
// than causing an error, so a misconfigured tag cannot keep the SDK from starting.
func ValidateConfig(c *Config, loggers ldlog.Loggers) error {
	var result ct.ValidationResult

	if c.PayloadFilterKey != "" && !payloadFilterKeyRegex.MatchString(c.PayloadFilterKey) {
		loggers.Warnf("Ignoring invalid payload filter key %q", c.PayloadFilterKey)
		c.PayloadFilterKey = ""
	}

	c.ApplicationInfo.ApplicationID = validateTagValue(
		"application-id", c.ApplicationInfo.ApplicationID, loggers)
	c.ApplicationInfo.ApplicationVersion = validateTagValue(
		"application-version", c.ApplicationInfo.ApplicationVersion, loggers)

	if c.WrapperVersion != "" && c.WrapperName == "" {
		result.AddError(nil, errWrapperVersionWithoutName)
	}

	if interval := c.PollInterval.GetOrElse(DefaultPollInterval); interval < DefaultPollInterval {
		loggers.Warnf("Poll interval %s is below the minimum of %s and will be raised to it",
			interval, DefaultPollInterval)
	}

	return result.GetError()
}

func validateTagValue(name, value string, loggers ldlog.Loggers) string {
	if value == "" {
		return ""
	}
	if len(value) > maxTagValueLength {
		loggers.Warnf("Value of %s was longer than %d characters and will be discarded",
			name, maxTagValueLength)
		return ""
	}
	if !tagValueRegex.MatchString(value) {
		loggers.Warnf("Value of %s contained invalid characters and will be discarded", name)
		return ""
	}
	return value
}
