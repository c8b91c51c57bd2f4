package metrics

type CycleRecorder interface {
	ObserveCycle(unix int64, size int, truncated bool)
	IncCycleFailures()
}

type NoopCycleRecorder struct{}

func (NoopCycleRecorder) ObserveCycle(unix int64, size int, truncated bool) {}
func (NoopCycleRecorder) IncCycleFailures()                                 {}
