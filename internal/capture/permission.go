package capture

import "sync"

// PermissionStatus is the OS-level microphone capability state.
type PermissionStatus string

const (
	PermissionUndetermined PermissionStatus = "undetermined"
	PermissionGranted      PermissionStatus = "granted"
	PermissionDenied       PermissionStatus = "denied"
)

// Permissions is how the orchestrator queries and requests microphone access.
type Permissions interface {
	Status() PermissionStatus
	// Request prompts for access and returns the resulting status. Calling
	// Request after a denial re-prompts; the platform may keep denying.
	Request() PermissionStatus
}

// Gate is the client-reported permission state. The transport layer reports
// grants and denials as the browser delivers them; until the first report a
// Request optimistically grants so local development works without a client.
type Gate struct {
	mu       sync.Mutex
	status   PermissionStatus
	reported bool
}

// NewGate starts undetermined.
func NewGate() *Gate { return &Gate{status: PermissionUndetermined} }

func (g *Gate) Status() PermissionStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}

func (g *Gate) Request() PermissionStatus {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.reported && g.status == PermissionUndetermined {
		g.status = PermissionGranted
	}
	return g.status
}

// Report records the client's actual permission outcome.
func (g *Gate) Report(status PermissionStatus) {
	g.mu.Lock()
	g.status = status
	g.reported = true
	g.mu.Unlock()
}
