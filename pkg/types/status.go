package types

// Status is the lifecycle state of a profile's browser session.
type Status string

const (
	StatusStopped  Status = "stopped"  // StatusStopped means no browser is running for the profile.
	StatusStarting Status = "starting" // StatusStarting means a launch is in flight.
	StatusRunning  Status = "running"  // StatusRunning means the browser is up and monitored.
	StatusStopping Status = "stopping" // StatusStopping is transitional and never persisted as terminal.
	StatusError    Status = "error"    // StatusError means the last launch failed.
)

// Terminal reports whether s is a resting state that may be persisted.
func (s Status) Terminal() bool {
	switch s {
	case StatusStopped, StatusRunning, StatusError:
		return true
	}
	return false
}

// Normalize maps states that must not survive a restart onto stopped.
// A stored "stopping" or "starting" means the process died mid-transition.
func (s Status) Normalize() Status {
	switch s {
	case StatusStopping, StatusStarting, "":
		return StatusStopped
	}
	return s
}
