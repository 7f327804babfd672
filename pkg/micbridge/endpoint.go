package micbridge

import "errors"

// ErrEndpointNotFound is returned when a configured device label doesn't match
// any active endpoint. Callers surface it to the user; nothing in micbridge
// ever silently substitutes another device.
var ErrEndpointNotFound = errors.New("no active endpoint matches the given name")

// DataFlow indicates an endpoint's direction.
type DataFlow int

const (
	FlowCapture DataFlow = iota // input (microphone)
	FlowRender                  // output (speaker)
)

func (f DataFlow) String() string {
	if f == FlowCapture {
		return "capture"
	}

	return "render"
}

// EndpointState mirrors the platform's device liveness states.
type EndpointState uint32

const (
	EndpointActive EndpointState = 1 << iota
	EndpointDisabled
	EndpointNotPresent
	EndpointUnplugged
)

func (s EndpointState) String() string {
	switch s {
	case EndpointActive:
		return "active"
	case EndpointDisabled:
		return "disabled"
	case EndpointNotPresent:
		return "not present"
	case EndpointUnplugged:
		return "unplugged"
	}

	return "unknown"
}

// Endpoint is a transient view of one audio device. The platform owns the
// device's lifetime; we hold only its identifier and re-resolve per operation,
// since endpoints can disappear between calls.
type Endpoint struct {
	ID    string
	Name  string
	Flow  DataFlow
	State EndpointState
}

// DeviceDirectory resolves audio endpoints by their exact friendly name.
// Implementations re-enumerate on every call - no caching - so two sequential
// calls may disagree if hardware changed in between; callers must tolerate that.
type DeviceDirectory interface {
	// Resolve returns the first currently-active endpoint whose friendly name
	// equals name (case-sensitive). Returns ErrEndpointNotFound if none match.
	Resolve(flow DataFlow, name string) (Endpoint, error)

	// ListAll returns every endpoint of the given direction regardless of
	// state. Used for diagnostics and the -list-devices flag, not core logic.
	ListAll(flow DataFlow) ([]Endpoint, error)
}
