// Package session reacts to dictation state transitions: it captures audio
// while recording, runs transcription and injection while processing, and
// returns the machine to idle afterwards.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rbright/murmur/internal/audio"
	"github.com/rbright/murmur/internal/fsm"
	"github.com/rbright/murmur/internal/polish"
	"github.com/rbright/murmur/internal/transcribe"
	"github.com/rbright/murmur/internal/transcript"
	"github.com/rbright/murmur/internal/worker"
)

// Engine is the serialized transcription surface the controller drives.
type Engine interface {
	Ensure(ctx context.Context) error
	Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error)
	Unload() bool
	Loaded() bool
}

// Injector delivers final text to the focused application.
type Injector interface {
	Inject(ctx context.Context, text string) error
}

// Config tunes timing and post-processing.
type Config struct {
	SilenceThreshold float64
	SilenceDuration  time.Duration
	SuccessReset     time.Duration
	ErrorReset       time.Duration
	IdleUnload       time.Duration
	Warmup           bool
	Transcript       transcript.Options
	// AudioDumpDir receives one WAV per session when non-empty.
	AudioDumpDir string
}

// DefaultConfig returns the stock timings.
func DefaultConfig() Config {
	return Config{
		SilenceThreshold: 0.015,
		SilenceDuration:  5 * time.Second,
		SuccessReset:     2 * time.Second,
		ErrorReset:       3 * time.Second,
		IdleUnload:       5 * time.Minute,
		Warmup:           true,
		Transcript:       transcript.Options{TrailingSpace: true, Capitalize: true},
	}
}

// Deps are the collaborators a Controller needs.
type Deps struct {
	Machine   *fsm.Machine
	Source    audio.Source
	Engine    Engine
	Polisher  polish.Polisher
	Injector  Injector
	Pool      *worker.Pool
	Scheduler *worker.Scheduler
}

type capture struct {
	id        string
	startedAt time.Time
	stream    audio.Stream
	chunks    [][]float32
	silence   audio.SilenceDetector
}

// Controller owns the side effects of every state transition.
type Controller struct {
	logger    *slog.Logger
	machine   *fsm.Machine
	source    audio.Source
	engine    Engine
	polisher  polish.Polisher
	injector  Injector
	pool      *worker.Pool
	scheduler *worker.Scheduler
	cfg       Config
	now       func() time.Time

	mu          sync.Mutex
	ctx         context.Context
	recording   bool
	active      *capture
	inFlight    *capture
	resetToken  worker.Token
	unloadToken worker.Token
	lastID      string
	lastError   string
	lastElapsed time.Duration

	observer fsm.ObserverID
	started  bool
}

// NewController wires a controller. Call Start to attach it to the machine.
func NewController(logger *slog.Logger, deps Deps, cfg Config) *Controller {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if deps.Polisher == nil {
		deps.Polisher = polish.Noop{}
	}
	if deps.Scheduler == nil {
		deps.Scheduler = worker.NewScheduler(deps.Pool)
	}
	return &Controller{
		logger:    logger,
		machine:   deps.Machine,
		source:    deps.Source,
		engine:    deps.Engine,
		polisher:  deps.Polisher,
		injector:  deps.Injector,
		pool:      deps.Pool,
		scheduler: deps.Scheduler,
		cfg:       cfg,
		now:       time.Now,
		ctx:       context.Background(),
	}
}

// Start registers the controller as a state observer and warms the engine
// in the background. ctx bounds every engine, polisher, and injector call.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.ctx = ctx
	c.mu.Unlock()

	c.observer = c.machine.AddObserver(c.onTransition)

	if !c.cfg.Warmup {
		return
	}
	c.submit(func() {
		if err := c.engine.Ensure(ctx); err != nil {
			c.logger.Error("model warm-up failed", "error", err)
			c.recordError(err)
			if _, casErr := c.machine.CompareAndSet(fsm.StateIdle, fsm.StateError, fsm.Data{Error: Message(err)}); casErr != nil {
				c.logger.Error("warm-up failure transition", "error", casErr)
			}
			return
		}
		c.mu.Lock()
		c.armUnloadLocked()
		c.mu.Unlock()
	})
}

// Close detaches from the machine, stops capture, cancels timers, and
// releases the model.
func (c *Controller) Close() {
	c.machine.RemoveObserver(c.observer)

	c.mu.Lock()
	c.recording = false
	active := c.active
	c.active = nil
	c.scheduler.Cancel(c.resetToken)
	c.scheduler.Cancel(c.unloadToken)
	c.resetToken, c.unloadToken = 0, 0
	c.mu.Unlock()

	if active != nil && active.stream != nil {
		if err := active.stream.Close(); err != nil {
			c.logger.Warn("close capture stream", "session_id", active.id, "error", err)
		}
	}
	c.engine.Unload()
}

func (c *Controller) onTransition(state fsm.State, data fsm.Data) error {
	switch state {
	case fsm.StateRecording:
		return c.beginRecording()
	case fsm.StateProcessing:
		c.beginProcessing(data)
	case fsm.StateSuccess:
		c.scheduleReset(fsm.StateSuccess, c.cfg.SuccessReset)
	case fsm.StateError:
		c.abortCapture()
		if data.Error != "" {
			c.mu.Lock()
			c.lastError = data.Error
			c.mu.Unlock()
		}
		c.scheduleReset(fsm.StateError, c.cfg.ErrorReset)
	}
	return nil
}

// runCtx is the lifetime context passed to Start.
func (c *Controller) runCtx() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctx
}

// abortCapture drops a capture still open when Recording fails straight to
// Error.
func (c *Controller) abortCapture() {
	c.mu.Lock()
	session := c.active
	if !c.recording || session == nil {
		c.mu.Unlock()
		return
	}
	c.recording = false
	c.active = nil
	stream := session.stream
	session.stream, session.chunks = nil, nil
	c.mu.Unlock()

	logger := c.logger.With("session_id", session.id)
	logger.Warn("recording aborted")
	if stream != nil {
		c.submit(func() { c.closeStream(logger, stream) })
	}
}

func (c *Controller) beginRecording() error {
	c.mu.Lock()
	if c.recording || c.machine.Current() != fsm.StateRecording {
		c.mu.Unlock()
		return nil
	}
	c.scheduler.Cancel(c.resetToken)
	c.scheduler.Cancel(c.unloadToken)
	c.resetToken, c.unloadToken = 0, 0

	session := &capture{
		id:        uuid.NewString(),
		startedAt: c.now(),
		silence:   audio.SilenceDetector{Threshold: c.cfg.SilenceThreshold, Duration: c.cfg.SilenceDuration},
	}
	c.active = session
	c.recording = true
	c.lastID = session.id
	c.lastError = ""
	c.mu.Unlock()

	logger := c.logger.With("session_id", session.id)
	logger.Info("recording started")

	// Load the engine while the user is still talking.
	ctx := c.runCtx()
	c.submit(func() {
		if err := c.engine.Ensure(ctx); err != nil {
			logger.Warn("model preload failed", "error", err)
		}
	})

	stream, err := c.source.Open(ctx, func(samples []float32) {
		c.onChunk(session, samples)
	})
	if err != nil {
		logger.Error("open capture stream", "error", err)
		c.mu.Lock()
		if c.active == session {
			c.active = nil
			c.recording = false
		}
		c.mu.Unlock()
		micErr := &Error{Kind: ErrMicrophoneUnavailable, Err: err}
		c.submit(func() { c.fail(fsm.StateRecording, micErr) })
		return nil
	}

	c.mu.Lock()
	if c.active == session && c.recording {
		session.stream = stream
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	// Processing began while the stream was opening.
	c.closeStream(logger, stream)
	return nil
}

// onChunk runs on the capture goroutine and must not block.
func (c *Controller) onChunk(session *capture, samples []float32) {
	c.mu.Lock()
	if c.active != session || !c.recording {
		c.mu.Unlock()
		return
	}
	session.chunks = append(session.chunks, slices.Clone(samples))
	rms := audio.RMS(samples)
	silent := session.silence.Observe(rms, c.now())
	c.mu.Unlock()

	c.machine.BroadcastAudioLevel(audio.Level(rms))

	if silent {
		c.submit(func() { c.stopForSilence(session) })
	}
}

func (c *Controller) stopForSilence(session *capture) {
	c.mu.Lock()
	current := c.active == session && c.recording
	c.mu.Unlock()
	if !current {
		return
	}

	applied, err := c.machine.CompareAndSet(fsm.StateRecording, fsm.StateProcessing, fsm.Data{Refine: c.machine.Refine()})
	if err != nil {
		c.logger.Error("silence stop transition", "session_id", session.id, "error", err)
		return
	}
	if applied {
		c.logger.Info("recording stopped after silence", "session_id", session.id, "silence_s", c.cfg.SilenceDuration.Seconds())
	}
}

func (c *Controller) beginProcessing(data fsm.Data) {
	c.mu.Lock()
	session := c.active
	if !c.recording || session == nil {
		if c.inFlight != nil {
			c.mu.Unlock()
			return
		}
		// Processing overtook Recording: no capture was opened, so the
		// session finishes empty instead of stalling in Processing.
		session = &capture{id: uuid.NewString(), startedAt: c.now()}
		c.inFlight = session
		c.lastID = session.id
		c.mu.Unlock()

		logger := c.logger.With("session_id", session.id)
		logger.Warn("processing started without an active capture")
		c.submit(func() { c.process(logger, session, nil, data.Refine) })
		return
	}
	c.recording = false
	c.active = nil
	c.inFlight = session
	stream := session.stream
	chunks := session.chunks
	session.stream, session.chunks = nil, nil
	c.mu.Unlock()

	logger := c.logger.With("session_id", session.id)
	if stream != nil {
		c.submit(func() { c.closeStream(logger, stream) })
	}
	c.submit(func() { c.process(logger, session, chunks, data.Refine) })
}

func (c *Controller) closeStream(logger *slog.Logger, stream audio.Stream) {
	if err := stream.Close(); err != nil {
		logger.Warn("close capture stream", "error", err)
	}
}

func (c *Controller) process(logger *slog.Logger, session *capture, chunks [][]float32, refine bool) {
	defer func() {
		if r := recover(); r != nil {
			c.settle(session)
			c.fail(fsm.StateProcessing, &Error{Kind: ErrTranscription, Err: fmt.Errorf("panic: %v", r)})
		}
	}()

	samples := slices.Concat(chunks...)
	elapsed := c.now().Sub(session.startedAt)
	c.mu.Lock()
	c.lastElapsed = elapsed
	c.mu.Unlock()
	logger.Info("processing audio", "samples", len(samples), "elapsed_ms", elapsed.Milliseconds(), "refine", refine)

	if c.cfg.AudioDumpDir != "" && len(samples) > 0 {
		c.dumpAudio(logger, session.id, samples)
	}

	if len(samples) == 0 {
		logger.Info("no audio captured")
		c.settle(session)
		c.finishEmpty()
		return
	}

	ctx := c.runCtx()
	started := c.now()
	raw, err := c.engine.Transcribe(ctx, samples, audio.SampleRate)
	if err != nil {
		kind := ErrTranscription
		if errors.Is(err, ErrModelInit) {
			kind = ErrModelInit
		}
		c.settle(session)
		c.fail(fsm.StateProcessing, &Error{Kind: kind, Err: err})
		return
	}
	logger.Info("transcription complete", "chars", len(raw), "engine_ms", c.now().Sub(started).Milliseconds())

	text := transcript.Clean(raw)
	if refine && text != "" {
		text = c.polisher.Polish(ctx, text)
	}
	text = transcript.Format(text, c.cfg.Transcript)
	if text == "" {
		logger.Info("empty transcript")
		c.settle(session)
		c.finishEmpty()
		return
	}

	if err := c.injector.Inject(ctx, text); err != nil {
		c.settle(session)
		c.fail(fsm.StateProcessing, &Error{Kind: ErrInjection, Err: err})
		return
	}

	c.settle(session)
	if _, err := c.machine.CompareAndSet(fsm.StateProcessing, fsm.StateSuccess, fsm.Data{}); err != nil {
		logger.Error("success transition", "error", err)
	}
}

// settle releases the in-flight marker held by session. It runs just
// before the terminal transition so a following session is never skipped.
func (c *Controller) settle(session *capture) {
	c.mu.Lock()
	if c.inFlight == session {
		c.inFlight = nil
	}
	c.mu.Unlock()
}

func (c *Controller) finishEmpty() {
	if _, err := c.machine.CompareAndSet(fsm.StateProcessing, fsm.StateIdle, fsm.Data{}); err != nil {
		c.logger.Error("idle transition", "error", err)
	}
	c.mu.Lock()
	c.armUnloadLocked()
	c.mu.Unlock()
}

// fail moves the machine from expected to Error with the user-facing
// reason for err.
func (c *Controller) fail(expected fsm.State, err error) {
	c.logger.Error("session failed", "state", expected, "error", err)
	c.recordError(err)
	if _, casErr := c.machine.CompareAndSet(expected, fsm.StateError, fsm.Data{Error: Message(err)}); casErr != nil {
		c.logger.Error("error transition", "error", casErr)
	}
}

func (c *Controller) recordError(err error) {
	c.mu.Lock()
	c.lastError = Message(err)
	c.mu.Unlock()
}

func (c *Controller) scheduleReset(from fsm.State, delay time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.scheduler.Cancel(c.resetToken)
	c.resetToken = c.scheduler.After(delay, func() {
		if _, err := c.machine.CompareAndSet(from, fsm.StateIdle, fsm.Data{}); err != nil {
			c.logger.Error("auto-reset transition", "from", from, "error", err)
		}
	})
	c.armUnloadLocked()
}

// armUnloadLocked restarts the idle-unload timer. c.mu must be held.
func (c *Controller) armUnloadLocked() {
	if c.cfg.IdleUnload <= 0 {
		return
	}
	c.scheduler.Cancel(c.unloadToken)
	c.unloadToken = c.scheduler.After(c.cfg.IdleUnload, func() {
		if c.engine.Unload() {
			c.logger.Info("model unloaded after idle window", "idle_s", c.cfg.IdleUnload.Seconds())
		}
	})
}

func (c *Controller) dumpAudio(logger *slog.Logger, id string, samples []float32) {
	if err := os.MkdirAll(c.cfg.AudioDumpDir, 0o700); err != nil {
		logger.Warn("create audio dump dir", "error", err)
		return
	}
	path := filepath.Join(c.cfg.AudioDumpDir, id+".wav")
	if err := transcribe.WriteWAVFile(path, samples, audio.SampleRate); err != nil {
		logger.Warn("write audio dump", "error", err)
		return
	}
	logger.Debug("audio dump written", "path", path)
}

// submit runs task on the pool, or on its own goroutine when no pool
// accepts it.
func (c *Controller) submit(task func()) {
	if c.pool != nil {
		if err := c.pool.Submit(task); err == nil {
			return
		} else if !errors.Is(err, worker.ErrClosed) {
			c.logger.Warn("worker submit failed", "error", err)
		}
	}
	go task()
}
