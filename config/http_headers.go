package config

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// userAgentPrefix identifies this SDK core in the User-Agent header.
const userAgentPrefix = "GoServerSDKCore"

// Version is the version string of this package, reported in the User-Agent header.
const Version = "1.0.0"

// MakeDefaultHeaders builds the headers sent on every request to LaunchDarkly services:
// authorization, user agent, and the optional wrapper, tags, and instance ID headers.
func MakeDefaultHeaders(sdkKey SDKKey, c Config) http.Header {
	headers := make(http.Header)
	headers.Set("Authorization", sdkKey.GetAuthorizationHeaderValue())
	headers.Set("User-Agent", userAgentPrefix+"/"+Version)

	if c.WrapperName != "" {
		wrapper := c.WrapperName
		if c.WrapperVersion != "" {
			wrapper += "/" + c.WrapperVersion
		}
		headers.Set("X-LaunchDarkly-Wrapper", wrapper)
	}

	if tags := buildTagsHeaderValue(c.ApplicationInfo); tags != "" {
		headers.Set("X-LaunchDarkly-Tags", tags)
	}

	if c.InstanceID != "" {
		headers.Set("X-LaunchDarkly-Instance-Id", c.InstanceID)
	}

	return headers
}

// buildTagsHeaderValue formats application metadata as space-separated tag/value pairs in
// sorted tag order, e.g. "application-id/my-app application-version/1.0.0".
func buildTagsHeaderValue(info ApplicationInfo) string {
	tags := map[string]string{}
	if info.ApplicationID != "" {
		tags["application-id"] = info.ApplicationID
	}
	if info.ApplicationVersion != "" {
		tags["application-version"] = info.ApplicationVersion
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s/%s", k, tags[k]))
	}
	return strings.Join(pairs, " ")
}
