package fdv2proto

// HTTP response headers carrying out-of-band session information on v2 endpoints.
const (
	// EnvironmentIDHeader carries the environment identifier, echoed on every update the
	// session produces.
	EnvironmentIDHeader = "X-Ld-Envid"
	// FallbackHeader, when its value is exactly "true", instructs the client to permanently
	// revert to the v1 protocol.
	FallbackHeader = "X-Ld-Fd-Fallback"
)
