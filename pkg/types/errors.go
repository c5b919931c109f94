package types

import (
	"fmt"

	"github.com/google/uuid"
)

// InfraError wraps an infrastructure failure (persistence, model registry
// backend) crossing a public operation boundary. Domain-rule failures such
// as a promotion criterion not being met are never errors; they are boolean
// results plus alerts.
type InfraError struct {
	Op            string
	CorrelationID string
	Err           error
}

func (e *InfraError) Error() string {
	return fmt.Sprintf("%s: %v (correlation_id=%s)", e.Op, e.Err, e.CorrelationID)
}

func (e *InfraError) Unwrap() error { return e.Err }

// WrapInfra tags err with the operation name and a fresh correlation id.
// Returns nil when err is nil.
func WrapInfra(op string, err error) error {
	if err == nil {
		return nil
	}
	return &InfraError{Op: op, CorrelationID: uuid.NewString(), Err: err}
}
