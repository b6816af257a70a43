package core

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_Transitions(t *testing.T) {
	allowed := map[State][]State{
		Uninitialized:          {CapabilitiesActivating},
		CapabilitiesActivating: {Ready, Failed},
		Ready:                  {Stopped},
		Failed:                 nil,
		Stopped:                nil,
	}
	all := []State{Uninitialized, CapabilitiesActivating, Ready, Failed, Stopped}

	for from, targets := range allowed {
		for _, to := range all {
			want := false
			for _, ok := range targets {
				if ok == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "CapabilitiesActivating", CapabilitiesActivating.String())
	assert.Equal(t, "State(42)", State(42).String())
	assert.True(t, Failed.Terminal())
	assert.True(t, Stopped.Terminal())
	assert.False(t, Ready.Terminal())
}

func TestStateMachine_HappyPath(t *testing.T) {
	var seen []string
	m := NewStateMachine(func(from, to State) {
		seen = append(seen, fmt.Sprintf("%s->%s", from, to))
	})

	assert.Equal(t, Uninitialized, m.Current())
	require.NoError(t, m.Transition(CapabilitiesActivating))
	require.NoError(t, m.Transition(Ready))
	require.NoError(t, m.Transition(Stopped))

	assert.Equal(t, []string{
		"Uninitialized->CapabilitiesActivating",
		"CapabilitiesActivating->Ready",
		"Ready->Stopped",
	}, seen)
}

func TestStateMachine_RejectsSkippingActivation(t *testing.T) {
	m := NewStateMachine(nil)

	err := m.Transition(Ready)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))
	assert.Equal(t, Uninitialized, m.Current())
}

func TestStateMachine_FailedIsTerminal(t *testing.T) {
	m := NewStateMachine(nil)
	require.NoError(t, m.Transition(CapabilitiesActivating))
	require.NoError(t, m.Transition(Failed))

	for _, next := range []State{Uninitialized, CapabilitiesActivating, Ready, Stopped} {
		assert.ErrorIs(t, m.Transition(next), ErrInvalidTransition)
	}
	assert.Equal(t, Failed, m.Current())
}

func TestStateMachine_ConcurrentTransitionsOnlyOneWins(t *testing.T) {
	m := NewStateMachine(nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	start := make(chan struct{})
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if m.Transition(CapabilitiesActivating) == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	close(start)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("transitions did not complete")
	}

	assert.Equal(t, 1, wins)
	assert.Equal(t, CapabilitiesActivating, m.Current())
}
