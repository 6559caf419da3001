package capability

import (
	"errors"
	"fmt"

	"github.com/loomlab/loom/pkg/bus"
	"github.com/loomlab/loom/pkg/escalation"
	"github.com/loomlab/loom/pkg/store"
)

// ErrCycle is returned when a delegation would re-enter a capability that
// is already on the call stack.
var ErrCycle = errors.New("delegation cycle")

// ExecutionContext is the per-call bundle handed through every invocation:
// shared handles, the calling agent's identity, the thread the call runs
// in, and the delegation call stack used for cycle detection.
type ExecutionContext struct {
	Store       *store.Store
	Bus         *bus.Bus
	Escalations *escalation.Queue

	// Caller is the capability on whose behalf the call runs
	Caller string

	// ThreadID is the thread the current call appends to
	ThreadID string

	// ParentMessageID is the sequence id of the message whose tool call
	// produced this invocation; delegation threads record it as lineage
	ParentMessageID int64

	// Interactive marks the host as suspension-capable; when false, human
	// escalation falls back to a synchronous prompt
	Interactive bool

	stack []string
}

// Push adds a capability to the delegation stack. It fails with ErrCycle
// when the name is already on the stack: self-delegation loops are rejected
// at push time, never silently entered.
func (ec *ExecutionContext) Push(name string) error {
	for _, existing := range ec.stack {
		if existing == name {
			return fmt.Errorf("%w: %s already on call stack %v", ErrCycle, name, ec.stack)
		}
	}

	ec.stack = append(ec.stack, name)
	return nil
}

// Pop removes the top entry from the delegation stack
func (ec *ExecutionContext) Pop() {
	if len(ec.stack) == 0 {
		return
	}
	ec.stack = ec.stack[:len(ec.stack)-1]
}

// Stack returns a copy of the delegation stack, outermost caller first
func (ec *ExecutionContext) Stack() []string {
	out := make([]string, len(ec.stack))
	copy(out, ec.stack)
	return out
}

// Depth returns the current delegation depth
func (ec *ExecutionContext) Depth() int {
	return len(ec.stack)
}

// Child returns an independent copy for one branch of a tool-call batch:
// same handles, own stack and thread. Branches must never share a mutable
// stack, or concurrent delegations would corrupt each other's cycle checks.
func (ec *ExecutionContext) Child(caller, threadID string) *ExecutionContext {
	child := &ExecutionContext{
		Store:           ec.Store,
		Bus:             ec.Bus,
		Escalations:     ec.Escalations,
		Caller:          caller,
		ThreadID:        threadID,
		ParentMessageID: ec.ParentMessageID,
		Interactive:     ec.Interactive,
		stack:           make([]string, len(ec.stack)),
	}
	copy(child.stack, ec.stack)
	return child
}
