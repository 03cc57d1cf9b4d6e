package interfaces

// DataAvailability describes what kind of data the SDK can currently serve, from worst to
// best: application defaults only, cached data of unknown freshness, or fresh data from an
// active connection.
type DataAvailability int

const (
	// DataAvailabilityDefaults means no flag data is available, so evaluations can only return
	// application-provided default values.
	DataAvailabilityDefaults DataAvailability = iota
	// DataAvailabilityCached means data from a persistent store is available, but it has not
	// been confirmed as current by a synchronizer.
	DataAvailabilityCached
	// DataAvailabilityRefreshed means a synchronizer has delivered current data.
	DataAvailabilityRefreshed
)

// AtLeast returns true if this availability level is equal to or better than the given level.
func (a DataAvailability) AtLeast(other DataAvailability) bool {
	return a >= other
}

// String returns the name of the availability level.
func (a DataAvailability) String() string {
	switch a {
	case DataAvailabilityDefaults:
		return "defaults"
	case DataAvailabilityCached:
		return "cached"
	case DataAvailabilityRefreshed:
		return "refreshed"
	default:
		return "unknown"
	}
}
