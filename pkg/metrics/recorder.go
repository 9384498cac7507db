// Package metrics defines the observability hooks veil's components call
// and a Prometheus implementation of them.
package metrics

import "time"

// Result labels shared by the counters.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultSkipped = "skipped"
)

// Recorder receives lifecycle events from the session manager and the
// fingerprint store.
type Recorder interface {
	IncLaunch(result string)
	ObserveLaunchDuration(d time.Duration)
	SetRunningSessions(n int)
	IncStop()
	IncExternalClose()
	IncGeoLookup(result string)
	IncFingerprint(outcome string) // outcome: loaded|generated|regenerated
}

// NoopRecorder discards everything. It is the default when metrics are
// not configured.
type NoopRecorder struct{}

func (NoopRecorder) IncLaunch(string)                    {}
func (NoopRecorder) ObserveLaunchDuration(time.Duration) {}
func (NoopRecorder) SetRunningSessions(int)              {}
func (NoopRecorder) IncStop()                            {}
func (NoopRecorder) IncExternalClose()                   {}
func (NoopRecorder) IncGeoLookup(string)                 {}
func (NoopRecorder) IncFingerprint(string)               {}

// OrNoop returns r, or a NoopRecorder when r is nil.
func OrNoop(r Recorder) Recorder {
	if r == nil {
		return NoopRecorder{}
	}
	return r
}
