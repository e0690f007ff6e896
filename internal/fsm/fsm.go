// Package fsm holds the single source of truth for dictation session state.
package fsm

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rbright/murmur/internal/worker"
)

// State is one phase of the dictation lifecycle.
type State string

const (
	StateIdle       State = "idle"
	StateRecording  State = "recording"
	StateProcessing State = "processing"
	StateSuccess    State = "success"
	StateError      State = "error"
)

// RecordingFailedMessage is attached to the Error state when an observer
// fails while the machine enters Recording.
const RecordingFailedMessage = "Recording failed to start"

const defaultFailDelay = 100 * time.Millisecond

// Data is the payload attached to a transition.
type Data struct {
	Refine bool
	Error  string
}

// IsZero reports whether d carries no payload.
func (d Data) IsZero() bool {
	return !d.Refine && d.Error == ""
}

var edges = map[State][]State{
	StateIdle:       {StateRecording, StateError},
	StateRecording:  {StateProcessing, StateError},
	StateProcessing: {StateSuccess, StateError, StateIdle},
	StateSuccess:    {StateRecording, StateIdle},
	StateError:      {StateRecording, StateIdle},
}

// Allowed reports whether the machine may move from one state to another.
// Re-entering the current state is allowed; callers must attach data.
func Allowed(from State, to State) bool {
	if from == to {
		_, known := edges[from]
		return known
	}
	for _, next := range edges[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ObserverFunc receives every applied transition.
type ObserverFunc func(state State, data Data) error

// LevelFunc receives live input levels in [0, 1].
type LevelFunc func(level float64)

// ObserverID identifies a registration for later removal.
type ObserverID uint64

type observer struct {
	id ObserverID
	fn ObserverFunc
}

type levelObserver struct {
	id ObserverID
	fn LevelFunc
}

// Option customizes a Machine.
type Option func(*Machine)

// WithScheduler runs deferred transitions on s instead of a private scheduler.
func WithScheduler(s *worker.Scheduler) Option {
	return func(m *Machine) { m.scheduler = s }
}

// WithFailDelay overrides the delay before a failed Recording entry is
// converted to Error.
func WithFailDelay(d time.Duration) Option {
	return func(m *Machine) { m.failDelay = d }
}

// Machine is a thread-safe state holder that notifies observers outside its
// lock.
type Machine struct {
	logger    *slog.Logger
	scheduler *worker.Scheduler
	failDelay time.Duration

	mu          sync.Mutex
	state       State
	data        Data
	refine      bool
	epoch       uint64
	pendingFail worker.Token

	obsMu          sync.Mutex
	nextID         ObserverID
	observers      []observer
	levelObservers []levelObserver
}

// New returns a Machine in the Idle state.
func New(logger *slog.Logger, opts ...Option) *Machine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	m := &Machine{
		logger:    logger,
		failDelay: defaultFailDelay,
		state:     StateIdle,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.scheduler == nil {
		m.scheduler = worker.NewScheduler(nil)
	}
	return m
}

// Current returns the active state.
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Snapshot returns the active state and its data.
func (m *Machine) Snapshot() (State, Data) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.data
}

// Refine reports whether refine mode was latched for the current session.
func (m *Machine) Refine() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refine
}

// LatchRefine enables refine mode for the rest of the current recording.
// It reports true only for the call that set the latch.
func (m *Machine) LatchRefine() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateRecording || m.refine {
		return false
	}
	m.refine = true
	return true
}

// SetState moves the machine to next. Setting the current state with empty
// data does nothing.
func (m *Machine) SetState(next State, data Data) error {
	m.mu.Lock()
	prev := m.state
	if next == prev && data.IsZero() {
		m.mu.Unlock()
		return nil
	}
	if !Allowed(prev, next) {
		m.mu.Unlock()
		return invalidTransition(prev, next)
	}
	epoch := m.apply(prev, next, data)
	m.mu.Unlock()

	m.notify(prev, next, data, epoch)
	return nil
}

// CompareAndSet moves the machine to next only while it is still in
// expected. It reports whether the transition was applied.
func (m *Machine) CompareAndSet(expected State, next State, data Data) (bool, error) {
	return m.compareAndSet(expected, 0, next, data)
}

func (m *Machine) compareAndSet(expected State, epoch uint64, next State, data Data) (bool, error) {
	m.mu.Lock()
	prev := m.state
	if prev != expected || (epoch != 0 && epoch != m.epoch) {
		m.mu.Unlock()
		return false, nil
	}
	if next == prev && data.IsZero() {
		m.mu.Unlock()
		return false, nil
	}
	if !Allowed(prev, next) {
		m.mu.Unlock()
		return false, invalidTransition(prev, next)
	}
	applied := m.apply(prev, next, data)
	m.mu.Unlock()

	m.notify(prev, next, data, applied)
	return true, nil
}

// apply swaps state under m.mu and returns the recording epoch in effect.
func (m *Machine) apply(prev State, next State, data Data) uint64 {
	m.state = next
	m.data = data
	if next == StateRecording && prev != StateRecording {
		m.epoch++
		m.refine = false
		if m.pendingFail != 0 {
			m.scheduler.Cancel(m.pendingFail)
			m.pendingFail = 0
		}
	}
	return m.epoch
}

func (m *Machine) notify(prev State, next State, data Data, epoch uint64) {
	m.obsMu.Lock()
	snapshot := make([]observer, len(m.observers))
	copy(snapshot, m.observers)
	m.obsMu.Unlock()

	m.logger.Debug("state transition", "from", prev, "to", next, "refine", data.Refine, "error", data.Error)

	failed := false
	for _, obs := range snapshot {
		if err := m.call(obs, next, data); err != nil {
			m.logger.Error("state observer failed", "state", next, "observer", obs.id, "error", err)
			failed = true
		}
	}

	if failed && next == StateRecording && prev != StateRecording {
		m.scheduleRecordingFailure(epoch)
	}
}

func (m *Machine) call(obs observer, state State, data Data) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("observer panic: %v", r)
		}
	}()
	return obs.fn(state, data)
}

func (m *Machine) scheduleRecordingFailure(epoch uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.epoch != epoch || m.pendingFail != 0 {
		return
	}
	m.pendingFail = m.scheduler.After(m.failDelay, func() {
		m.mu.Lock()
		m.pendingFail = 0
		m.mu.Unlock()
		if _, err := m.compareAndSet(StateRecording, epoch, StateError, Data{Error: RecordingFailedMessage}); err != nil {
			m.logger.Error("deferred recording failure", "error", err)
		}
	})
}

// AddObserver registers fn for state transitions.
func (m *Machine) AddObserver(fn ObserverFunc) ObserverID {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	m.nextID++
	m.observers = append(m.observers, observer{id: m.nextID, fn: fn})
	return m.nextID
}

// RemoveObserver unregisters a transition observer.
func (m *Machine) RemoveObserver(id ObserverID) {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	for i, obs := range m.observers {
		if obs.id == id {
			m.observers = append(m.observers[:i:i], m.observers[i+1:]...)
			return
		}
	}
}

// AddLevelObserver registers fn for live audio levels.
func (m *Machine) AddLevelObserver(fn LevelFunc) ObserverID {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	m.nextID++
	m.levelObservers = append(m.levelObservers, levelObserver{id: m.nextID, fn: fn})
	return m.nextID
}

// RemoveLevelObserver unregisters a level observer.
func (m *Machine) RemoveLevelObserver(id ObserverID) {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	for i, obs := range m.levelObservers {
		if obs.id == id {
			m.levelObservers = append(m.levelObservers[:i:i], m.levelObservers[i+1:]...)
			return
		}
	}
}

// BroadcastAudioLevel forwards level, clamped to [0, 1], to level observers.
func (m *Machine) BroadcastAudioLevel(level float64) {
	switch {
	case level != level || level < 0:
		level = 0
	case level > 1:
		level = 1
	}

	m.obsMu.Lock()
	snapshot := make([]levelObserver, len(m.levelObservers))
	copy(snapshot, m.levelObservers)
	m.obsMu.Unlock()

	for _, obs := range snapshot {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("level observer panicked", "observer", obs.id, "panic", r)
				}
			}()
			obs.fn(level)
		}()
	}
}

func invalidTransition(from State, to State) error {
	return fmt.Errorf("invalid transition: %s --> %s", from, to)
}
