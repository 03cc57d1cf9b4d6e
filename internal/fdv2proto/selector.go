package fdv2proto

import "encoding/json"

// Selector is an opaque token identifying the last state the client received. It is presented
// on the next request or connection so the server can send only a delta, or nothing at all.
type Selector struct {
	state   string
	version int
}

// NoSelector returns an undefined Selector, meaning the client has no basis to resume from.
func NoSelector() Selector {
	return Selector{}
}

// NewSelector creates a Selector from a state token and version.
func NewSelector(state string, version int) Selector {
	return Selector{state: state, version: version}
}

// IsDefined returns true if this Selector represents an actual state.
func (s Selector) IsDefined() bool {
	return s != NoSelector()
}

// State returns the opaque state token.
func (s Selector) State() string {
	return s.state
}

// Version returns the version associated with the state token.
func (s Selector) Version() int {
	return s.version
}

// MarshalJSON serializes the selector in its wire form.
func (s Selector) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		State   string `json:"state"`
		Version int    `json:"version"`
	}{s.state, s.version})
}

// UnmarshalJSON parses the wire form of a selector.
func (s *Selector) UnmarshalJSON(data []byte) error {
	var fields struct {
		State   string `json:"state"`
		Version int    `json:"version"`
	}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	s.state, s.version = fields.State, fields.Version
	return nil
}
