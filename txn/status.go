package txn

import "fmt"

// Status is the lifecycle state of a transaction context.
type Status string

const (
	// StatusPending is the state between begin and the first operation.
	StatusPending Status = "PENDING"
	// StatusActive is the state after the first operation.
	StatusActive Status = "ACTIVE"
	// StatusCommitted is terminal success.
	StatusCommitted Status = "COMMITTED"
	// StatusRolledBack is terminal after a clean rollback.
	StatusRolledBack Status = "ROLLED_BACK"
	// StatusFailed is terminal after a rollback that itself failed.
	StatusFailed Status = "FAILED"
)

// legalStatusTransitions is the full lifecycle. Terminal states have no
// outgoing edges.
var legalStatusTransitions = map[Status][]Status{
	StatusPending: {StatusActive, StatusCommitted, StatusRolledBack, StatusFailed},
	StatusActive:  {StatusCommitted, StatusRolledBack, StatusFailed},
}

// canTransition reports whether from -> to is a legal status change.
func canTransition(from, to Status) bool {
	for _, next := range legalStatusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status allows no further transitions.
func (s Status) IsTerminal() bool {
	return len(legalStatusTransitions[s]) == 0
}

// setStatus moves the transaction's status, refusing illegal changes.
// Caller must hold t.mu.
func (t *Tx) setStatus(to Status) error {
	if !canTransition(t.status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrTransactionState, t.status, to)
	}
	t.status = to
	return nil
}
