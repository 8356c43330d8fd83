package agent

import (
	"sort"

	"github.com/ashureev/shsh-operator/internal/domain"
)

// ToolCallFragment is a partial tool call delivered by a streaming completion.
// Fragments are keyed by Index; ID is usually present only on the first one.
type ToolCallFragment struct {
	Index     int
	ID        string
	Name      string
	Arguments string
}

// Accumulator reassembles tool-call fragments of one step into invocations.
// The zero value is ready to use.
type Accumulator struct {
	slots map[int]*domain.ToolInvocation
}

// Add merges f into the slot for its index. ID overwrites; Name and Arguments
// are appended.
func (a *Accumulator) Add(f ToolCallFragment) {
	if a.slots == nil {
		a.slots = make(map[int]*domain.ToolInvocation)
	}
	slot, ok := a.slots[f.Index]
	if !ok {
		slot = &domain.ToolInvocation{}
		a.slots[f.Index] = slot
	}
	if f.ID != "" {
		slot.ID = f.ID
	}
	slot.Name += f.Name
	slot.Arguments += f.Arguments
}

// Len returns the number of slots seen so far.
func (a *Accumulator) Len() int {
	return len(a.slots)
}

// Finish returns the invocations ordered by index and resets the accumulator.
// Arguments are not validated.
func (a *Accumulator) Finish() []domain.ToolInvocation {
	if len(a.slots) == 0 {
		a.slots = nil
		return nil
	}
	indices := make([]int, 0, len(a.slots))
	for idx := range a.slots {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	calls := make([]domain.ToolInvocation, 0, len(indices))
	for _, idx := range indices {
		calls = append(calls, *a.slots[idx])
	}
	a.slots = nil
	return calls
}
