package agent

import (
	"math/rand"
	"testing"

	"github.com/ashureev/shsh-operator/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAccumulatorEmpty(t *testing.T) {
	t.Parallel()

	var acc Accumulator
	assert.Empty(t, acc.Finish())
	assert.Zero(t, acc.Len())
}

func TestAccumulatorConcatenatesPerIndex(t *testing.T) {
	t.Parallel()

	var acc Accumulator
	acc.Add(ToolCallFragment{Index: 1, ID: "call_b", Name: "execute_", Arguments: `{"comm`})
	acc.Add(ToolCallFragment{Index: 0, ID: "call_a", Name: "execute_ssh_command", Arguments: `{"command":"pwd"}`})
	acc.Add(ToolCallFragment{Index: 1, Name: "ssh_command", Arguments: `and":"ls"}`})

	calls := acc.Finish()
	require.Len(t, calls, 2)
	assert.Equal(t, domain.ToolInvocation{ID: "call_a", Name: "execute_ssh_command", Arguments: `{"command":"pwd"}`}, calls[0])
	assert.Equal(t, domain.ToolInvocation{ID: "call_b", Name: "execute_ssh_command", Arguments: `{"command":"ls"}`}, calls[1])
	assert.Empty(t, acc.Finish(), "Finish resets the accumulator")
}

func TestAccumulatorLateIDOverwrites(t *testing.T) {
	t.Parallel()

	var acc Accumulator
	acc.Add(ToolCallFragment{Index: 0, Arguments: "{}"})
	acc.Add(ToolCallFragment{Index: 0, ID: "first"})
	acc.Add(ToolCallFragment{Index: 0, ID: "second"})

	calls := acc.Finish()
	require.Len(t, calls, 1)
	assert.Equal(t, "second", calls[0].ID)
}

func TestAccumulatorKeepsInvalidArguments(t *testing.T) {
	t.Parallel()

	var acc Accumulator
	acc.Add(ToolCallFragment{Index: 3, ID: "x", Name: ToolName, Arguments: "{not json"})

	calls := acc.Finish()
	require.Len(t, calls, 1)
	assert.Equal(t, "{not json", calls[0].Arguments)
}

// Splitting the same payloads into fragments of any size and interleaving
// them across indices yields the same invocations.
func TestAccumulatorGranularityIndependent(t *testing.T) {
	t.Parallel()

	want := []domain.ToolInvocation{
		{ID: "call_0", Name: ToolName, Arguments: `{"command":"ls -la /root/data"}`},
		{ID: "call_1", Name: ToolName, Arguments: `{"command":"cat","input_data":"hello\nworld"}`},
		{ID: "call_2", Name: ToolName, Arguments: `{"command":"python3 script.py"}`},
	}

	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 50; trial++ {
		queues := make([][]ToolCallFragment, len(want))
		for i, inv := range want {
			queues[i] = fragment(rng, i, inv)
		}

		var acc Accumulator
		for remaining := len(want); remaining > 0; {
			i := rng.Intn(len(queues))
			if len(queues[i]) == 0 {
				continue
			}
			acc.Add(queues[i][0])
			queues[i] = queues[i][1:]
			if len(queues[i]) == 0 {
				remaining--
			}
		}

		require.Equal(t, want, acc.Finish(), "trial %d", trial)
	}
}

func fragment(rng *rand.Rand, index int, inv domain.ToolInvocation) []ToolCallFragment {
	frags := []ToolCallFragment{{Index: index, ID: inv.ID}}
	for _, part := range split(rng, inv.Name) {
		frags = append(frags, ToolCallFragment{Index: index, Name: part})
	}
	for _, part := range split(rng, inv.Arguments) {
		frags = append(frags, ToolCallFragment{Index: index, Arguments: part})
	}
	return frags
}

func split(rng *rand.Rand, s string) []string {
	var parts []string
	for len(s) > 0 {
		n := 1 + rng.Intn(len(s))
		parts = append(parts, s[:n])
		s = s[n:]
	}
	return parts
}
