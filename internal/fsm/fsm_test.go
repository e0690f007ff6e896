package fsm

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type transition struct {
	state State
	data  Data
}

type recorder struct {
	mu    sync.Mutex
	calls []transition
}

func (r *recorder) observe(state State, data Data) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, transition{state: state, data: data})
	return nil
}

func (r *recorder) snapshot() []transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]transition, len(r.calls))
	copy(out, r.calls)
	return out
}

func waitForState(t *testing.T, m *Machine, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return m.Current() == want }, 2*time.Second, 5*time.Millisecond)
}

func TestMachineHappyPath(t *testing.T) {
	m := New(nil)
	rec := &recorder{}
	m.AddObserver(rec.observe)

	require.Equal(t, StateIdle, m.Current())
	require.NoError(t, m.SetState(StateRecording, Data{}))
	require.NoError(t, m.SetState(StateProcessing, Data{Refine: true}))
	require.NoError(t, m.SetState(StateSuccess, Data{}))
	require.NoError(t, m.SetState(StateIdle, Data{}))

	require.Equal(t, []transition{
		{state: StateRecording},
		{state: StateProcessing, data: Data{Refine: true}},
		{state: StateSuccess},
		{state: StateIdle},
	}, rec.snapshot())
}

func TestSetStateSameStateWithEmptyDataIsNoop(t *testing.T) {
	m := New(nil)
	rec := &recorder{}
	m.AddObserver(rec.observe)

	require.NoError(t, m.SetState(StateIdle, Data{}))
	require.Empty(t, rec.snapshot())

	require.NoError(t, m.SetState(StateError, Data{Error: "Mic Error"}))
	require.NoError(t, m.SetState(StateError, Data{Error: "Processing Failed"}))
	state, data := m.Snapshot()
	require.Equal(t, StateError, state)
	require.Equal(t, "Processing Failed", data.Error)
	require.Len(t, rec.snapshot(), 2)
}

func TestSetStateRejectsInvalidEdges(t *testing.T) {
	tests := []struct {
		name  string
		path  []State
		final State
	}{
		{name: "idle to processing", final: StateProcessing},
		{name: "idle to success", final: StateSuccess},
		{name: "recording to success", path: []State{StateRecording}, final: StateSuccess},
		{name: "recording to idle", path: []State{StateRecording}, final: StateIdle},
		{name: "processing to recording", path: []State{StateRecording, StateProcessing}, final: StateRecording},
		{name: "success to processing", path: []State{StateRecording, StateProcessing, StateSuccess}, final: StateProcessing},
		{name: "error to processing", path: []State{StateError}, final: StateProcessing},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := New(nil)
			for _, s := range tc.path {
				require.NoError(t, m.SetState(s, Data{Error: "x"}))
			}
			before := m.Current()

			rec := &recorder{}
			m.AddObserver(rec.observe)
			err := m.SetState(tc.final, Data{Error: "x"})
			require.Error(t, err)
			require.Contains(t, err.Error(), "invalid transition")
			require.Equal(t, before, m.Current())
			require.Empty(t, rec.snapshot())
		})
	}
}

func TestCompareAndSetOnlyAppliesFromExpectedState(t *testing.T) {
	m := New(nil)
	require.NoError(t, m.SetState(StateRecording, Data{}))

	ok, err := m.CompareAndSet(StateRecording, StateProcessing, Data{})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.CompareAndSet(StateRecording, StateProcessing, Data{})
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, StateProcessing, m.Current())
}

func TestCompareAndSetRaceHasSingleWinner(t *testing.T) {
	m := New(nil)
	var processing atomic.Int32
	m.AddObserver(func(state State, _ Data) error {
		if state == StateProcessing {
			processing.Add(1)
		}
		return nil
	})
	require.NoError(t, m.SetState(StateRecording, Data{}))

	var wg sync.WaitGroup
	var wins atomic.Int32
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := m.CompareAndSet(StateRecording, StateProcessing, Data{})
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), wins.Load())
	require.Equal(t, int32(1), processing.Load())
}

func TestObserverCanTriggerNextTransitionWithoutDeadlock(t *testing.T) {
	m := New(nil)
	m.AddObserver(func(state State, _ Data) error {
		if state == StateProcessing {
			return m.SetState(StateIdle, Data{})
		}
		return nil
	})

	require.NoError(t, m.SetState(StateRecording, Data{}))
	require.NoError(t, m.SetState(StateProcessing, Data{}))
	require.Equal(t, StateIdle, m.Current())
}

func TestObserverFailuresAreIsolated(t *testing.T) {
	m := New(nil)
	rec := &recorder{}
	m.AddObserver(func(State, Data) error { panic("observer bug") })
	m.AddObserver(func(State, Data) error { return errors.New("observer failed") })
	m.AddObserver(rec.observe)

	require.NoError(t, m.SetState(StateError, Data{Error: "Model Init Failed"}))
	require.Len(t, rec.snapshot(), 1)
	require.Equal(t, StateError, m.Current())
}

func TestObserverFailureOnRecordingEntrySchedulesError(t *testing.T) {
	m := New(nil, WithFailDelay(10*time.Millisecond))
	rec := &recorder{}
	m.AddObserver(func(state State, _ Data) error {
		if state == StateRecording {
			return errors.New("stream open failed")
		}
		return nil
	})
	m.AddObserver(rec.observe)

	require.NoError(t, m.SetState(StateRecording, Data{}))
	require.Equal(t, StateRecording, m.Current())

	waitForState(t, m, StateError)
	_, data := m.Snapshot()
	require.Equal(t, RecordingFailedMessage, data.Error)
	require.Equal(t, []transition{
		{state: StateRecording},
		{state: StateError, data: Data{Error: RecordingFailedMessage}},
	}, rec.snapshot())
}

func TestDeferredRecordingFailureSkipsNewerSession(t *testing.T) {
	m := New(nil, WithFailDelay(40*time.Millisecond))
	var fail atomic.Bool
	fail.Store(true)
	m.AddObserver(func(state State, _ Data) error {
		if state == StateRecording && fail.Load() {
			return errors.New("stream open failed")
		}
		return nil
	})

	require.NoError(t, m.SetState(StateRecording, Data{}))
	require.NoError(t, m.SetState(StateProcessing, Data{}))
	require.NoError(t, m.SetState(StateIdle, Data{}))
	fail.Store(false)
	require.NoError(t, m.SetState(StateRecording, Data{}))

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, StateRecording, m.Current())
}

func TestObserverErrorOutsideRecordingDoesNotScheduleError(t *testing.T) {
	m := New(nil, WithFailDelay(5*time.Millisecond))
	m.AddObserver(func(state State, _ Data) error {
		if state == StateProcessing {
			return errors.New("ignored")
		}
		return nil
	})

	require.NoError(t, m.SetState(StateRecording, Data{}))
	require.NoError(t, m.SetState(StateProcessing, Data{}))
	time.Sleep(30 * time.Millisecond)
	require.Equal(t, StateProcessing, m.Current())
}

func TestRemoveObserverDuringNotification(t *testing.T) {
	m := New(nil)
	rec := &recorder{}
	var selfID ObserverID
	selfID = m.AddObserver(func(State, Data) error {
		m.RemoveObserver(selfID)
		return nil
	})
	m.AddObserver(rec.observe)

	require.NoError(t, m.SetState(StateRecording, Data{}))
	require.NoError(t, m.SetState(StateProcessing, Data{}))
	require.Len(t, rec.snapshot(), 2)
}

func TestRefineLatchIsPerSession(t *testing.T) {
	m := New(nil)
	require.False(t, m.LatchRefine())

	require.NoError(t, m.SetState(StateRecording, Data{}))
	require.True(t, m.LatchRefine())
	require.False(t, m.LatchRefine())
	require.True(t, m.Refine())

	require.NoError(t, m.SetState(StateProcessing, Data{Refine: true}))
	require.True(t, m.Refine())
	require.NoError(t, m.SetState(StateSuccess, Data{}))
	require.NoError(t, m.SetState(StateRecording, Data{}))
	require.False(t, m.Refine())
}

func TestBroadcastAudioLevelClampsAndIsSeparate(t *testing.T) {
	m := New(nil)
	rec := &recorder{}
	m.AddObserver(rec.observe)

	var mu sync.Mutex
	var levels []float64
	id := m.AddLevelObserver(func(level float64) {
		mu.Lock()
		levels = append(levels, level)
		mu.Unlock()
	})
	m.AddLevelObserver(func(float64) { panic("meter bug") })

	m.BroadcastAudioLevel(-0.5)
	m.BroadcastAudioLevel(0.25)
	m.BroadcastAudioLevel(7)
	m.RemoveLevelObserver(id)
	m.BroadcastAudioLevel(0.5)

	mu.Lock()
	require.Equal(t, []float64{0, 0.25, 1}, levels)
	mu.Unlock()
	require.Empty(t, rec.snapshot())
}
