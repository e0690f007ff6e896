package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rbright/murmur/internal/audio"
	"github.com/rbright/murmur/internal/fsm"
	"github.com/rbright/murmur/internal/hotkey"
	"github.com/rbright/murmur/internal/ipc"
	"github.com/rbright/murmur/internal/transcribe"
	"github.com/rbright/murmur/internal/transcript"
	"github.com/rbright/murmur/internal/worker"
)

type fakeStream struct {
	closed atomic.Int32
}

func (s *fakeStream) Close() error {
	s.closed.Add(1)
	return nil
}

type fakeSource struct {
	mu      sync.Mutex
	openErr error
	cb      audio.Callback
	streams []*fakeStream
}

func (s *fakeSource) Open(_ context.Context, cb audio.Callback) (audio.Stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return nil, s.openErr
	}
	stream := &fakeStream{}
	s.cb = cb
	s.streams = append(s.streams, stream)
	return stream, nil
}

func (s *fakeSource) push(samples ...float32) {
	s.mu.Lock()
	cb := s.cb
	s.mu.Unlock()
	cb(samples)
}

func (s *fakeSource) streamCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams)
}

func (s *fakeSource) lastStream() *fakeStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streams[len(s.streams)-1]
}

type fakeEngine struct {
	mu        sync.Mutex
	text      string
	err       error
	ensureErr error
	calls     [][]float32
	loaded    bool
	unloads   int
}

func (e *fakeEngine) Ensure(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ensureErr != nil {
		return e.ensureErr
	}
	e.loaded = true
	return nil
}

func (e *fakeEngine) Transcribe(_ context.Context, samples []float32, sampleRate int) (string, error) {
	if sampleRate != audio.SampleRate {
		return "", fmt.Errorf("unexpected sample rate %d", sampleRate)
	}
	e.mu.Lock()
	e.calls = append(e.calls, samples)
	e.loaded = true
	text, err := e.text, e.err
	e.mu.Unlock()
	return text, err
}

func (e *fakeEngine) Unload() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.loaded {
		return false
	}
	e.loaded = false
	e.unloads++
	return true
}

func (e *fakeEngine) Loaded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loaded
}

func (e *fakeEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func (e *fakeEngine) samples() [][]float32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([][]float32(nil), e.calls...)
}

func (e *fakeEngine) unloadCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.unloads
}

type fakeInjector struct {
	mu    sync.Mutex
	err   error
	texts []string
	gate  chan struct{}
}

func (i *fakeInjector) Inject(_ context.Context, text string) error {
	i.mu.Lock()
	gate := i.gate
	i.mu.Unlock()
	if gate != nil {
		<-gate
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	i.texts = append(i.texts, text)
	return i.err
}

func (i *fakeInjector) injected() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]string(nil), i.texts...)
}

type prefixPolisher struct {
	calls  atomic.Int32
	prefix string
}

func (p *prefixPolisher) Polish(_ context.Context, text string) string {
	p.calls.Add(1)
	if p.prefix != "" {
		return p.prefix + text
	}
	return "polished " + text
}

type transition struct {
	state fsm.State
	data  fsm.Data
}

type recorder struct {
	mu      sync.Mutex
	entries []transition
}

func (r *recorder) observe(state fsm.State, data fsm.Data) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, transition{state: state, data: data})
	return nil
}

func (r *recorder) states() []fsm.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]fsm.State, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.state)
	}
	return out
}

func (r *recorder) count(state fsm.State) int {
	n := 0
	for _, s := range r.states() {
		if s == state {
			n++
		}
	}
	return n
}

func (r *recorder) last(state fsm.State) (fsm.Data, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.entries[i].state == state {
			return r.entries[i].data, true
		}
	}
	return fsm.Data{}, false
}

type harness struct {
	machine  *fsm.Machine
	source   *fakeSource
	engine   *fakeEngine
	injector *fakeInjector
	polisher *prefixPolisher
	ctrl     *Controller
	rec      *recorder
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SuccessReset = 40 * time.Millisecond
	cfg.ErrorReset = 40 * time.Millisecond
	cfg.IdleUnload = time.Hour
	cfg.Warmup = false
	return cfg
}

func newHarness(t *testing.T, cfg Config, setup func(*harness)) *harness {
	t.Helper()

	pool := worker.NewPool(nil, 4, 16)
	scheduler := worker.NewScheduler(pool)
	machine := fsm.New(nil, fsm.WithScheduler(scheduler))

	h := &harness{
		machine:  machine,
		source:   &fakeSource{},
		engine:   &fakeEngine{text: "hello world"},
		injector: &fakeInjector{},
		polisher: &prefixPolisher{},
		rec:      &recorder{},
	}
	if setup != nil {
		setup(h)
	}

	h.ctrl = NewController(nil, Deps{
		Machine:   machine,
		Source:    h.source,
		Engine:    h.engine,
		Polisher:  h.polisher,
		Injector:  h.injector,
		Pool:      pool,
		Scheduler: scheduler,
	}, cfg)
	h.ctrl.Start(context.Background())
	machine.AddObserver(h.rec.observe)

	t.Cleanup(func() {
		h.ctrl.Close()
		scheduler.Stop()
		pool.Close()
	})
	return h
}

func (h *harness) record(t *testing.T) {
	t.Helper()
	require.NoError(t, h.machine.SetState(fsm.StateRecording, fsm.Data{}))
}

func (h *harness) release(t *testing.T) {
	t.Helper()
	applied, err := h.machine.CompareAndSet(fsm.StateRecording, fsm.StateProcessing, fsm.Data{Refine: h.machine.Refine()})
	require.NoError(t, err)
	require.True(t, applied)
}

func waitState(t *testing.T, m *fsm.Machine, want fsm.State) {
	t.Helper()
	require.Eventually(t, func() bool { return m.Current() == want }, 2*time.Second, 2*time.Millisecond)
}

func TestSessionSuccessInjectsAndResetsToIdle(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	h.record(t)
	h.source.push(0.1, 0.2)
	h.source.push(0.3)
	h.release(t)

	require.Eventually(t, func() bool { return h.rec.count(fsm.StateSuccess) == 1 }, 2*time.Second, 2*time.Millisecond)
	waitState(t, h.machine, fsm.StateIdle)

	require.Equal(t, []string{"Hello world "}, h.injector.injected())
	require.Equal(t, [][]float32{{0.1, 0.2, 0.3}}, h.engine.samples())
	require.Eventually(t, func() bool { return h.source.lastStream().closed.Load() == 1 }, time.Second, 2*time.Millisecond)
	require.Equal(t, []fsm.State{fsm.StateRecording, fsm.StateProcessing, fsm.StateSuccess, fsm.StateIdle}, h.rec.states())
	require.Zero(t, h.polisher.calls.Load())

	data, ok := h.rec.last(fsm.StateSuccess)
	require.True(t, ok)
	require.True(t, data.IsZero())
}

func TestSessionBufferIsFreshPerRecording(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	h.record(t)
	h.source.push(0.1)
	h.release(t)
	require.Eventually(t, func() bool { return h.rec.count(fsm.StateSuccess) == 1 }, 2*time.Second, 2*time.Millisecond)

	h.record(t)
	h.source.push(0.5)
	h.source.push(0.6)
	h.release(t)
	require.Eventually(t, func() bool { return h.engine.callCount() == 2 }, 2*time.Second, 2*time.Millisecond)

	require.Equal(t, [][]float32{{0.1}, {0.5, 0.6}}, h.engine.samples())
	require.False(t, h.machine.Refine())
}

func TestSessionEmptyTranscriptGoesIdleWithoutInjection(t *testing.T) {
	h := newHarness(t, testConfig(), func(h *harness) { h.engine.text = "  [BLANK_AUDIO]  " })

	h.record(t)
	h.source.push(0.1)
	h.release(t)

	require.Eventually(t, func() bool { return h.engine.callCount() == 1 }, 2*time.Second, 2*time.Millisecond)
	waitState(t, h.machine, fsm.StateIdle)
	require.Empty(t, h.injector.injected())
	require.Zero(t, h.rec.count(fsm.StateSuccess))
	require.Zero(t, h.rec.count(fsm.StateError))
}

func TestSessionWithoutAudioSkipsEngine(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	h.record(t)
	h.release(t)

	waitState(t, h.machine, fsm.StateIdle)
	require.Zero(t, h.engine.callCount())
	require.Empty(t, h.injector.injected())
}

func TestSessionFailuresMapToReasons(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(*harness)
		reason string
	}{
		{
			name:   "engine error",
			setup:  func(h *harness) { h.engine.err = errors.New("decoder exploded") },
			reason: "Processing Failed",
		},
		{
			name:   "model init",
			setup:  func(h *harness) { h.engine.err = fmt.Errorf("%w: weights missing", transcribe.ErrModelInit) },
			reason: "Model Init Failed",
		},
		{
			name:   "injection",
			setup:  func(h *harness) { h.injector.err = fmt.Errorf("%w: clipboard write", ErrInjection) },
			reason: "Injection Failed",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, testConfig(), tc.setup)

			h.record(t)
			h.source.push(0.2)
			h.release(t)

			require.Eventually(t, func() bool { return h.rec.count(fsm.StateError) == 1 }, 2*time.Second, 2*time.Millisecond)
			data, ok := h.rec.last(fsm.StateError)
			require.True(t, ok)
			require.Equal(t, tc.reason, data.Error)
			require.Zero(t, h.rec.count(fsm.StateSuccess))

			waitState(t, h.machine, fsm.StateIdle)
			require.Equal(t, tc.reason, h.ctrl.Status().LastError)
		})
	}
}

func TestSessionMicFailureMovesToError(t *testing.T) {
	h := newHarness(t, testConfig(), func(h *harness) { h.source.openErr = errors.New("no such device") })

	h.record(t)

	require.Eventually(t, func() bool { return h.rec.count(fsm.StateError) == 1 }, 2*time.Second, 2*time.Millisecond)
	data, _ := h.rec.last(fsm.StateError)
	require.Equal(t, "Mic Error", data.Error)
	waitState(t, h.machine, fsm.StateIdle)

	// The next session starts cleanly once the device is back.
	h.source.mu.Lock()
	h.source.openErr = nil
	h.source.mu.Unlock()
	h.record(t)
	h.source.push(0.3)
	h.release(t)
	require.Eventually(t, func() bool { return h.rec.count(fsm.StateSuccess) == 1 }, 2*time.Second, 2*time.Millisecond)
}

func TestSessionRefinePolishesTranscript(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	h.record(t)
	require.True(t, h.machine.LatchRefine())
	h.source.push(0.2)
	h.release(t)

	require.Eventually(t, func() bool { return len(h.injector.injected()) == 1 }, 2*time.Second, 2*time.Millisecond)
	require.Equal(t, []string{"Polished hello world "}, h.injector.injected())
	require.Equal(t, int32(1), h.polisher.calls.Load())

	data, ok := h.rec.last(fsm.StateProcessing)
	require.True(t, ok)
	require.True(t, data.Refine)
}

func TestSessionRefineKeepsBracketedPolisherOutput(t *testing.T) {
	h := newHarness(t, testConfig(), func(h *harness) {
		h.engine.text = "[BLANK_AUDIO] hello"
		h.polisher.prefix = "see [note] "
	})

	h.record(t)
	require.True(t, h.machine.LatchRefine())
	h.source.push(0.2)
	h.release(t)

	require.Eventually(t, func() bool { return len(h.injector.injected()) == 1 }, 2*time.Second, 2*time.Millisecond)
	require.Equal(t, []string{"See [note] hello "}, h.injector.injected())
}

func TestSessionProcessingBeforeRecordingFinishesEmpty(t *testing.T) {
	var jump atomic.Bool
	jump.Store(true)

	h := newHarness(t, testConfig(), func(h *harness) {
		// Registered ahead of the controller, so Processing reaches the
		// controller before Recording does.
		h.machine.AddObserver(func(state fsm.State, _ fsm.Data) error {
			if state == fsm.StateRecording && jump.CompareAndSwap(true, false) {
				_, err := h.machine.CompareAndSet(fsm.StateRecording, fsm.StateProcessing, fsm.Data{})
				return err
			}
			return nil
		})
	})

	h.record(t)
	require.Eventually(t, func() bool { return h.rec.count(fsm.StateIdle) == 1 }, 2*time.Second, 2*time.Millisecond)
	require.Equal(t, fsm.StateIdle, h.machine.Current())
	require.Zero(t, h.engine.callCount())
	require.Empty(t, h.injector.injected())
	require.Zero(t, h.source.streamCount())
	require.NotEmpty(t, h.ctrl.Status().SessionID)

	h.record(t)
	h.source.push(0.4)
	h.release(t)
	require.Eventually(t, func() bool { return h.rec.count(fsm.StateSuccess) == 1 }, 2*time.Second, 2*time.Millisecond)
	require.Equal(t, []string{"Hello world "}, h.injector.injected())
}

func TestSessionDuplicateProcessingNotificationKeepsSession(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	release := make(chan struct{})
	h.injector.gate = release
	t.Cleanup(func() {
		select {
		case <-release:
		default:
			close(release)
		}
	})

	h.record(t)
	h.source.push(0.1)
	h.release(t)
	require.Eventually(t, func() bool { return h.engine.callCount() == 1 }, 2*time.Second, 2*time.Millisecond)

	require.NoError(t, h.machine.SetState(fsm.StateProcessing, fsm.Data{Refine: true}))
	close(release)

	require.Eventually(t, func() bool { return h.rec.count(fsm.StateSuccess) == 1 }, 2*time.Second, 2*time.Millisecond)
	require.Zero(t, h.rec.count(fsm.StateError))
	require.Equal(t, []string{"Hello world "}, h.injector.injected())
}

type heldKeys struct {
	mu   sync.Mutex
	down map[hotkey.Key]bool
}

func (k *heldKeys) set(key hotkey.Key, down bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.down == nil {
		k.down = make(map[hotkey.Key]bool)
	}
	k.down[key] = down
}

func (k *heldKeys) Down(key hotkey.Key) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.down[key]
}

func TestHotkeyHoldAndReleaseDictatesAndResets(t *testing.T) {
	cfg := testConfig()
	cfg.SuccessReset = DefaultConfig().SuccessReset
	h := newHarness(t, cfg, nil)

	keys := &heldKeys{}
	watcher := hotkey.NewWatcher(nil, keys, h.machine, hotkey.Config{Primary: "ctrl", Refine: "q"})
	start := time.Now()

	keys.set("ctrl", true)
	watcher.Step(start)
	require.Equal(t, fsm.StateRecording, h.machine.Current())

	h.source.push(0.1, 0.2)
	h.source.push(0.3)

	keys.set("ctrl", false)
	watcher.Step(start.Add(200 * time.Millisecond))

	require.Eventually(t, func() bool { return h.rec.count(fsm.StateSuccess) == 1 }, 2*time.Second, 2*time.Millisecond)
	succeededAt := time.Now()
	require.Equal(t, []string{"Hello world "}, h.injector.injected())
	require.Equal(t, fsm.StateSuccess, h.machine.Current())

	require.Eventually(t, func() bool { return h.machine.Current() == fsm.StateIdle }, 4*time.Second, 5*time.Millisecond)
	require.GreaterOrEqual(t, time.Since(succeededAt), 1500*time.Millisecond)
	require.Equal(t, []fsm.State{fsm.StateRecording, fsm.StateProcessing, fsm.StateSuccess, fsm.StateIdle}, h.rec.states())
	require.False(t, h.machine.Refine())
}

func TestSessionSilenceStopsOnce(t *testing.T) {
	cfg := testConfig()
	cfg.SilenceDuration = 5 * time.Second
	h := newHarness(t, cfg, nil)

	var clock atomic.Int64
	base := time.Unix(1_700_000_000, 0)
	h.ctrl.now = func() time.Time { return base.Add(time.Duration(clock.Load())) }

	h.record(t)
	h.source.push(0.5)
	h.source.push(0, 0)
	clock.Add(int64(4 * time.Second))
	h.source.push(0, 0)
	require.Equal(t, fsm.StateRecording, h.machine.Current())

	clock.Add(int64(time.Second))
	h.source.push(0, 0)
	h.source.push(0, 0)

	require.Eventually(t, func() bool { return h.rec.count(fsm.StateSuccess) == 1 }, 2*time.Second, 2*time.Millisecond)
	require.Equal(t, 1, h.rec.count(fsm.StateProcessing))
	require.Equal(t, 1, h.engine.callCount())
}

func TestSessionReleaseAndSilenceRaceYieldsOneProcessing(t *testing.T) {
	for range 20 {
		h := newHarness(t, testConfig(), nil)
		h.record(t)
		h.source.push(0.2)

		var wg sync.WaitGroup
		var wins atomic.Int32
		wg.Add(2)
		go func() {
			defer wg.Done()
			applied, err := h.machine.CompareAndSet(fsm.StateRecording, fsm.StateProcessing, fsm.Data{})
			if err == nil && applied {
				wins.Add(1)
			}
		}()
		go func() {
			defer wg.Done()
			h.ctrl.mu.Lock()
			session := h.ctrl.active
			h.ctrl.mu.Unlock()
			if session != nil {
				h.ctrl.stopForSilence(session)
			}
		}()
		wg.Wait()

		require.Eventually(t, func() bool { return h.engine.callCount() == 1 }, 2*time.Second, 2*time.Millisecond)
		require.LessOrEqual(t, wins.Load(), int32(1))
		require.Equal(t, 1, h.rec.count(fsm.StateProcessing))
	}
}

func TestSessionLevelsAreBroadcast(t *testing.T) {
	h := newHarness(t, testConfig(), nil)

	var mu sync.Mutex
	var levels []float64
	h.machine.AddLevelObserver(func(level float64) {
		mu.Lock()
		levels = append(levels, level)
		mu.Unlock()
	})

	h.record(t)
	h.source.push(0.05, -0.05)
	h.source.push(0.9)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, levels, 2)
	require.InDelta(t, 0.5, levels[0], 1e-6)
	require.InDelta(t, 1.0, levels[1], 1e-9)
}

func TestSessionIdleUnloadAfterCompletion(t *testing.T) {
	cfg := testConfig()
	cfg.IdleUnload = 60 * time.Millisecond
	h := newHarness(t, cfg, nil)

	h.record(t)
	h.source.push(0.2)
	h.release(t)

	require.Eventually(t, func() bool { return h.engine.unloadCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.False(t, h.ctrl.Status().ModelLoaded)
}

func TestSessionRecordingCancelsPendingUnload(t *testing.T) {
	cfg := testConfig()
	cfg.IdleUnload = 80 * time.Millisecond
	cfg.SuccessReset = time.Hour
	h := newHarness(t, cfg, nil)

	h.record(t)
	h.source.push(0.2)
	h.release(t)
	waitState(t, h.machine, fsm.StateSuccess)

	h.record(t)
	time.Sleep(150 * time.Millisecond)
	require.Zero(t, h.engine.unloadCount())
	require.Equal(t, fsm.StateRecording, h.machine.Current())
}

func TestSessionWarmupFailureMovesToError(t *testing.T) {
	cfg := testConfig()
	cfg.Warmup = true
	cfg.ErrorReset = 300 * time.Millisecond
	h := newHarness(t, cfg, func(h *harness) {
		h.engine.ensureErr = fmt.Errorf("%w: bad key", transcribe.ErrModelInit)
	})

	waitState(t, h.machine, fsm.StateError)
	state, data := h.machine.Snapshot()
	require.Equal(t, fsm.StateError, state)
	require.Equal(t, "Model Init Failed", data.Error)
	waitState(t, h.machine, fsm.StateIdle)
}

func TestSessionWarmupLoadsModel(t *testing.T) {
	cfg := testConfig()
	cfg.Warmup = true
	h := newHarness(t, cfg, nil)

	require.Eventually(t, h.engine.Loaded, 2*time.Second, 2*time.Millisecond)
	require.Equal(t, fsm.StateIdle, h.machine.Current())
}

func TestSessionDeferredRecordingFailureAbortsCapture(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.machine.AddObserver(func(state fsm.State, _ fsm.Data) error {
		if state == fsm.StateRecording {
			return errors.New("overlay crashed")
		}
		return nil
	})

	h.record(t)
	h.source.push(0.2)

	require.Eventually(t, func() bool { return h.rec.count(fsm.StateError) == 1 }, 2*time.Second, 2*time.Millisecond)
	data, _ := h.rec.last(fsm.StateError)
	require.Equal(t, fsm.RecordingFailedMessage, data.Error)
	require.Eventually(t, func() bool { return h.source.lastStream().closed.Load() == 1 }, time.Second, 2*time.Millisecond)
	require.Zero(t, h.engine.callCount())
}

func TestSessionAudioDump(t *testing.T) {
	cfg := testConfig()
	cfg.AudioDumpDir = filepath.Join(t.TempDir(), "dumps")
	h := newHarness(t, cfg, nil)

	h.record(t)
	h.source.push(0.1, 0.2, 0.3)
	h.release(t)
	require.Eventually(t, func() bool { return h.rec.count(fsm.StateSuccess) == 1 }, 2*time.Second, 2*time.Millisecond)

	path := filepath.Join(cfg.AudioDumpDir, h.ctrl.Status().SessionID+".wav")
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Positive(t, info.Size())
}

func TestHandleStatusStopUnloadAndUnknown(t *testing.T) {
	cfg := testConfig()
	cfg.Transcript = transcript.Options{}
	h := newHarness(t, cfg, nil)

	status := h.ctrl.Handle(context.Background(), ipc.Request{Command: ipc.CommandStatus})
	require.True(t, status.OK)
	require.Equal(t, string(fsm.StateIdle), status.State)
	require.False(t, status.ModelLoaded)

	stopIdle := h.ctrl.Handle(context.Background(), ipc.Request{Command: ipc.CommandStop})
	require.False(t, stopIdle.OK)
	require.Contains(t, stopIdle.Error, "cannot stop from state idle")

	h.record(t)
	unloadBusy := h.ctrl.Handle(context.Background(), ipc.Request{Command: ipc.CommandUnload})
	require.False(t, unloadBusy.OK)
	require.Contains(t, unloadBusy.Error, "cannot unload while recording")

	h.source.push(0.2)
	stop := h.ctrl.Handle(context.Background(), ipc.Request{Command: ipc.CommandStop})
	require.True(t, stop.OK)
	require.Equal(t, "stop requested", stop.Message)
	require.Eventually(t, func() bool { return len(h.injector.injected()) == 1 }, 2*time.Second, 2*time.Millisecond)
	require.Equal(t, []string{"hello world"}, h.injector.injected())
	waitState(t, h.machine, fsm.StateIdle)

	status = h.ctrl.Handle(context.Background(), ipc.Request{Command: ipc.CommandStatus})
	require.True(t, status.ModelLoaded)
	require.NotEmpty(t, status.SessionID)

	unload := h.ctrl.Handle(context.Background(), ipc.Request{Command: ipc.CommandUnload})
	require.True(t, unload.OK)
	require.Equal(t, "model unloaded", unload.Message)

	again := h.ctrl.Handle(context.Background(), ipc.Request{Command: ipc.CommandUnload})
	require.True(t, again.OK)
	require.Equal(t, "model not loaded", again.Message)

	unknown := h.ctrl.Handle(context.Background(), ipc.Request{Command: "definitely-unknown"})
	require.False(t, unknown.OK)
	require.Contains(t, unknown.Error, "unknown command")
}

func TestErrorMessageAndUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := &Error{Kind: ErrMicrophoneUnavailable, Err: cause}

	require.ErrorIs(t, err, ErrMicrophoneUnavailable)
	require.ErrorIs(t, err, cause)
	require.Equal(t, "microphone unavailable: boom", err.Error())
	require.Equal(t, "Mic Error", Message(err))
	require.Equal(t, "Processing Failed", Message(&Error{Kind: ErrTranscription}))
	require.Equal(t, "Injection Failed", Message(fmt.Errorf("wrap: %w", ErrInjection)))
}
