package mocks

import (
	"time"
)

// StubToken is a pre-resolved mqtt.Token carrying a fixed error. It reports
// itself complete immediately, which matches how the adapters wait on
// publish and subscribe results in tests.
type StubToken struct {
	Err error
}

func (t *StubToken) Wait() bool {
	return true
}

func (t *StubToken) WaitTimeout(_ time.Duration) bool {
	return true
}

func (t *StubToken) Done() <-chan struct{} {
	done := make(chan struct{})
	close(done)
	return done
}

func (t *StubToken) Error() error {
	return t.Err
}
