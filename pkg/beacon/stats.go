// stats.go defines the self-instrumentation hook of the engine.

package beacon

// Stats receives counters about the engine's own behaviour.
// Implementations must be safe for concurrent use and must not block.
type Stats interface {
	// RecordFlush reports one batch delivery attempt.
	RecordFlush(platform string, records int, err error)

	// RecordDropped reports records discarded by the buffer cap.
	RecordDropped(platform string, count int)

	// SetBuffered reports the number of records buffered across all keys.
	SetBuffered(count int)

	// RecordEnvelope reports one envelope delivery attempt.
	RecordEnvelope(level Level, err error)

	// RecordCritical reports one critical-path send attempt.
	RecordCritical(err error)
}

type nopStats struct{}

func (nopStats) RecordFlush(string, int, error) {}
func (nopStats) RecordDropped(string, int)      {}
func (nopStats) SetBuffered(int)                {}
func (nopStats) RecordEnvelope(Level, error)    {}
func (nopStats) RecordCritical(error)           {}
