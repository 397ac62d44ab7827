package eventlog

import "QuantSim/internal/domain/repository"

// Shared wraps a long-lived sink so closing one run's log leaves it open for
// the next run. The owner closes the underlying sink.
func Shared(s repository.EventSink) repository.EventSink {
	if s == nil {
		return nil
	}
	return sharedSink{s}
}

type sharedSink struct {
	repository.EventSink
}

func (sharedSink) Close() error { return nil }
