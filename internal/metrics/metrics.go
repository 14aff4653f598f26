// Package metrics records reconciliation outcomes. Components receive
// a Recorder through dependency injection; the default NoopRecorder
// keeps the hot path free of conditionals when metrics are disabled.
package metrics

// Recorder observes reconciliation runs.
type Recorder interface {
	RunStarted()
	RunFinished(outcome string, seconds float64)
	FilesRenamed(n int)
	FilesRestored(n int)
}

// Run outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// NoopRecorder is the default Recorder; every method does nothing.
type NoopRecorder struct{}

func (NoopRecorder) RunStarted() {}

func (NoopRecorder) RunFinished(outcome string, seconds float64) {}

func (NoopRecorder) FilesRenamed(n int) {}

func (NoopRecorder) FilesRestored(n int) {}
