// Package metrics defines the narrow interface the Runtime reports
// counters through. A Prometheus exporter or other observability
// backend is out of scope per spec.md's Non-goals; this package only
// gives the core something concrete to call into.
package metrics

// Sink receives counter observations from the heartbeat loop. Every
// method must be safe to call from the tick goroutine without blocking
// it on I/O.
type Sink interface {
	ObserveHeartbeat(count int)
	ObserveTaskDispatch(component string)
	ObserveTaskResult(component string, success bool)
	ObserveCandidateResult(success bool)
}

// NoopSink discards every observation. It is the Runtime's default Sink
// until a caller wires a real backend.
type NoopSink struct{}

func (NoopSink) ObserveHeartbeat(int)          {}
func (NoopSink) ObserveTaskDispatch(string)    {}
func (NoopSink) ObserveTaskResult(string, bool) {}
func (NoopSink) ObserveCandidateResult(bool)   {}
