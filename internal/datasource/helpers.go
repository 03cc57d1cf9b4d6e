// Package datasource implements the v1 data transport: a polling requester and a polling
// synchronizer that serve both as the initial fetch mechanism and as the fallback transport
// when the service directs a client off the v2 protocol.
package datasource

import (
	"fmt"
	"net/http"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
)

// HTTPStatusError represents an HTTP error response from a LaunchDarkly service.
type HTTPStatusError struct {
	Message string
	Code    int
}

func (e HTTPStatusError) Error() string {
	return e.Message
}

type malformedJSONError struct {
	innerError error
}

func (e malformedJSONError) Error() string {
	return e.innerError.Error()
}

// IsHTTPErrorRecoverable tests whether an HTTP error status represents a condition that might
// resolve on its own if we retry, or at least should not make us permanently stop sending
// requests.
func IsHTTPErrorRecoverable(statusCode int) bool {
	if statusCode >= 400 && statusCode < 500 {
		switch statusCode {
		case 400: // bad request
			return true
		case 408: // request timeout
			return true
		case 429: // too many requests
			return true
		default:
			return false // all other 4xx errors are unrecoverable
		}
	}
	return true
}

// HTTPErrorDescription returns a human-readable description of an HTTP error status.
func HTTPErrorDescription(statusCode int) string {
	message := ""
	if statusCode == 401 || statusCode == 403 {
		message = " (invalid SDK key)"
	}
	return fmt.Sprintf("HTTP error %d%s", statusCode, message)
}

// CheckIfErrorIsRecoverableAndLog logs an HTTP or network error at the appropriate level and
// reports whether it is recoverable as defined by IsHTTPErrorRecoverable.
func CheckIfErrorIsRecoverableAndLog(
	loggers ldlog.Loggers,
	errorDesc, errorContext string,
	statusCode int,
	recoverableMessage string,
) bool {
	if statusCode > 0 && !IsHTTPErrorRecoverable(statusCode) {
		loggers.Errorf("Error %s (giving up permanently): %s", errorContext, errorDesc)
		return false
	}
	loggers.Warnf("Error %s (%s): %s", errorContext, recoverableMessage, errorDesc)
	return true
}

// CheckForHTTPError converts a non-2xx status into an HTTPStatusError.
func CheckForHTTPError(statusCode int, url string) error {
	if statusCode == http.StatusUnauthorized {
		return HTTPStatusError{
			Message: fmt.Sprintf("Invalid SDK key when accessing URL: %s. Verify that your SDK key is correct.", url),
			Code:    statusCode}
	}

	if statusCode == http.StatusNotFound {
		return HTTPStatusError{
			Message: fmt.Sprintf("Resource not found when accessing URL: %s. Verify that this resource exists.", url),
			Code:    statusCode}
	}

	if statusCode/100 != 2 {
		return HTTPStatusError{
			Message: fmt.Sprintf("Unexpected response code: %d when accessing URL: %s", statusCode, url),
			Code:    statusCode}
	}
	return nil
}
