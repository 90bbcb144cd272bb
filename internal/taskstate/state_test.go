package taskstate

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateString(t *testing.T) {
	assert.Equal(t, "pending", Pending.String())
	assert.Equal(t, "started", Started.String())
	assert.Equal(t, "completed", Completed.String())
}

func TestPredicates(t *testing.T) {
	tests := []struct {
		state    State
		terminal bool
		active   bool
	}{
		{Pending, false, false},
		{Started, false, true},
		{Completed, true, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.state.IsTerminal())
			assert.Equal(t, tt.active, tt.state.IsActive())
		})
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		valid    bool
	}{
		{Pending, Started, true},
		{Started, Completed, true},
		{Pending, Completed, false},
		{Started, Started, false},
		{Completed, Started, false},
		{Completed, Pending, false},
		{"bogus", Started, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.valid, CanTransition(tt.from, tt.to))
		})
	}
}

func TestTerminalStatesHaveNoTransitions(t *testing.T) {
	for _, s := range AllStates() {
		if s.IsTerminal() {
			assert.Empty(t, ValidTransitions[s], "terminal state %s should have no transitions", s)
		}
	}
}

func TestParse(t *testing.T) {
	for _, s := range AllStates() {
		parsed, ok := Parse(string(s))
		require.True(t, ok)
		assert.Equal(t, s, parsed)
	}

	_, ok := Parse("working")
	assert.False(t, ok)
}

func TestMachine(t *testing.T) {
	m := NewMachine()
	assert.Equal(t, Pending, m.State())

	err := m.Complete()
	var terr *TransitionError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, Pending, terr.From)
	assert.Equal(t, Completed, terr.To)

	require.NoError(t, m.Start())
	assert.Equal(t, Started, m.State())
	assert.Error(t, m.Start())

	require.NoError(t, m.Complete())
	assert.Equal(t, Completed, m.State())
	assert.EqualError(t, m.Complete(), "invalid transition completed -> completed")
}

func TestMachine_ConcurrentCompleteOnce(t *testing.T) {
	m := NewMachine()
	require.NoError(t, m.Start())

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.Complete() == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
}
