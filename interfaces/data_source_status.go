// Package interfaces contains the types that describe the observable state of the SDK's data
// system: data source status, data store status, big segment store status, flag change events,
// and the overall data availability level.
package interfaces

import (
	"fmt"
	"time"
)

// DataSourceState is a basic state of the data source: initializing, valid, interrupted, or
// permanently off.
type DataSourceState string

const (
	// DataSourceStateInitializing means the data source is starting up and has not yet received
	// any valid data.
	DataSourceStateInitializing DataSourceState = "INITIALIZING"
	// DataSourceStateValid means the data source most recently received valid data.
	DataSourceStateValid DataSourceState = "VALID"
	// DataSourceStateInterrupted means the data source had valid data at some point but is
	// currently experiencing a problem it is trying to recover from.
	DataSourceStateInterrupted DataSourceState = "INTERRUPTED"
	// DataSourceStateOff means the data source has been permanently shut down, either because
	// the SDK was closed or because of an unrecoverable error such as an invalid SDK key.
	DataSourceStateOff DataSourceState = "OFF"
)

// DataSourceErrorKind classifies an error reported in DataSourceStatus.
type DataSourceErrorKind string

const (
	// DataSourceErrorKindUnknown is an error of unknown origin.
	DataSourceErrorKindUnknown DataSourceErrorKind = "UNKNOWN"
	// DataSourceErrorKindNetworkError is an I/O error such as a dropped connection or timeout.
	DataSourceErrorKindNetworkError DataSourceErrorKind = "NETWORK_ERROR"
	// DataSourceErrorKindErrorResponse means the service returned an HTTP error status.
	DataSourceErrorKindErrorResponse DataSourceErrorKind = "ERROR_RESPONSE"
	// DataSourceErrorKindInvalidData means the service returned malformed or out-of-order data.
	DataSourceErrorKindInvalidData DataSourceErrorKind = "INVALID_DATA"
	// DataSourceErrorKindStoreError means an update could not be written to the data store.
	DataSourceErrorKindStoreError DataSourceErrorKind = "STORE_ERROR"
)

// DataSourceErrorInfo describes the last error encountered by the data source.
type DataSourceErrorInfo struct {
	Kind DataSourceErrorKind
	// StatusCode is the HTTP status, if Kind is ErrorResponse.
	StatusCode int
	Message    string
	Time       time.Time
}

// String returns a compact description of the error.
func (e DataSourceErrorInfo) String() string {
	if e.StatusCode > 0 || e.Message != "" {
		var detail string
		if e.StatusCode > 0 {
			detail = fmt.Sprintf("%d", e.StatusCode)
		}
		if e.Message != "" {
			if detail != "" {
				detail += ","
			}
			detail += e.Message
		}
		return fmt.Sprintf("%s(%s)", string(e.Kind), detail)
	}
	return string(e.Kind)
}

// DataSourceStatus is the current status of the data source, available through the SDK's
// status listeners.
type DataSourceStatus struct {
	// State is the basic state.
	State DataSourceState
	// StateSince is when the state most recently changed.
	StateSince time.Time
	// LastError is the most recent error, regardless of the current state. Its zero value means
	// no error has occurred.
	LastError DataSourceErrorInfo
}

// String returns a compact description of the status.
func (s DataSourceStatus) String() string {
	return fmt.Sprintf("Status(%s,%s,%s)", string(s.State), s.StateSince.Format(time.RFC3339), s.LastError)
}
