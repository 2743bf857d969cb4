package expectation

import "github.com/0x1a0b/mockserver-sub001/pkg/model"

// Cause identifies what triggered a change to the store.
type Cause string

const (
	// CauseAPI marks changes made through the control plane.
	CauseAPI Cause = "API"
	// CauseFileInitializer marks changes made by loading initializer files.
	CauseFileInitializer Cause = "FILE_INITIALISER"
	// CauseInternal marks evictions of expired or exhausted expectations.
	CauseInternal Cause = "INTERNAL"
)

// Listener is notified after every mutation with the full set of stored
// expectations. The slice and its elements are copies owned by the listener.
type Listener interface {
	ExpectationsChanged(expectations []*model.Expectation, cause Cause)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(expectations []*model.Expectation, cause Cause)

// ExpectationsChanged calls f.
func (f ListenerFunc) ExpectationsChanged(expectations []*model.Expectation, cause Cause) {
	f(expectations, cause)
}
