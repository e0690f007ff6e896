// Package app dispatches CLI commands and supervises the dictation daemon.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rbright/murmur/internal/audio"
	"github.com/rbright/murmur/internal/cli"
	"github.com/rbright/murmur/internal/config"
	"github.com/rbright/murmur/internal/doctor"
	"github.com/rbright/murmur/internal/fsm"
	"github.com/rbright/murmur/internal/hotkey"
	"github.com/rbright/murmur/internal/indicator"
	"github.com/rbright/murmur/internal/ipc"
	"github.com/rbright/murmur/internal/logging"
	"github.com/rbright/murmur/internal/pipeline"
	"github.com/rbright/murmur/internal/session"
	"github.com/rbright/murmur/internal/version"
	"github.com/rbright/murmur/internal/worker"
)

const (
	forwardTimeout = 220 * time.Millisecond
	workerCount    = 4
	workerQueue    = 64
)

type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText("murmur"))
		return 2
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText("murmur"))
		return 0
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	}

	logOpts := logging.Options{Debug: parsed.Debug}
	if parsed.Verbose {
		logOpts.Console = r.Stderr
	}
	logRuntime, err := logging.New(logOpts)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
		return 1
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	cfgLoaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("load config failed", "error", err.Error())
		return 1
	}
	for _, w := range cfgLoaded.Warnings {
		msg := w.Message
		if w.Line > 0 {
			msg = fmt.Sprintf("line %d: %s", w.Line, w.Message)
		}
		fmt.Fprintf(r.Stderr, "warning: %s\n", msg)
		logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}

	logger.Info("command start",
		"command", parsed.Command,
		"config", cfgLoaded.Path,
		"log", logRuntime.Path,
	)

	switch parsed.Command {
	case cli.CommandDoctor:
		report := doctor.Run(ctx, cfgLoaded)
		fmt.Fprintln(r.Stdout, report.String())
		if report.OK() {
			return 0
		}
		return 1
	case cli.CommandDevices:
		return r.commandDevices(ctx)
	case cli.CommandStatus:
		return r.commandStatus(ctx)
	case cli.CommandStop:
		return r.forwardOrFail(ctx, ipc.CommandStop)
	case cli.CommandUnload:
		return r.forwardOrFail(ctx, ipc.CommandUnload)
	case cli.CommandRun:
		return r.commandRun(ctx, cfgLoaded.Config, logger)
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return 2
	}
}

func (r Runner) commandDevices(ctx context.Context) int {
	devices, err := audio.ListDevices(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Fprintln(r.Stdout, "no audio devices found")
		return 1
	}

	for _, device := range devices {
		defaultMark := " "
		if device.Default {
			defaultMark = "*"
		}
		availability := "yes"
		if !device.Available {
			availability = "no"
		}
		muted := "no"
		if device.Muted {
			muted = "yes"
		}
		fmt.Fprintf(
			r.Stdout,
			"%s id=%s | description=%q | state=%s | available=%s | muted=%s\n",
			defaultMark,
			device.ID,
			device.Description,
			device.State,
			availability,
			muted,
		)
	}

	return 0
}

func (r Runner) commandStatus(ctx context.Context) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintln(r.Stdout, "not running")
		return 1
	}

	resp, handled, err := tryForward(ctx, socketPath, ipc.CommandStatus)
	if !handled {
		fmt.Fprintln(r.Stdout, "not running")
		return 1
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	if resp.State == "" {
		resp.State = string(fsm.StateIdle)
	}
	fmt.Fprintln(r.Stdout, resp.State)
	model := "unloaded"
	if resp.ModelLoaded {
		model = "loaded"
	}
	fmt.Fprintf(r.Stdout, "model: %s\n", model)
	if resp.Refine {
		fmt.Fprintln(r.Stdout, "refine: on")
	}
	if resp.SessionID != "" {
		fmt.Fprintf(r.Stdout, "last session: %s\n", resp.SessionID)
	}
	if resp.LastError != "" {
		fmt.Fprintf(r.Stdout, "last error: %s\n", resp.LastError)
	}
	return 0
}

func (r Runner) forwardOrFail(ctx context.Context, command string) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	resp, handled, err := tryForward(ctx, socketPath, command)
	if !handled {
		fmt.Fprintf(r.Stderr, "error: no active murmur daemon\n")
		return 1
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return 0
}

// commandRun owns the socket and supervises the IPC server, the keyboard
// hook, the hotkey watcher, and the prompt watcher until ctx ends or one of
// them fails.
func (r Runner) commandRun(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	listener, err := ipc.Acquire(ctx, socketPath, 180*time.Millisecond, 8, nil)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	pool := worker.NewPool(logger.With("component", "worker"), workerCount, workerQueue)
	defer pool.Close()
	scheduler := worker.NewScheduler(pool)
	defer scheduler.Stop()

	machine := fsm.New(logger.With("component", "fsm"), fsm.WithScheduler(scheduler))

	components, err := pipeline.Build(ctx, logger, cfg, scheduler)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("build pipeline failed", "error", err)
		return 1
	}
	defer func() {
		if err := components.Close(); err != nil {
			logger.Warn("close pipeline", "error", err)
		}
	}()

	keys, err := hotkey.NewHookSource(hotkey.Key(cfg.Hotkey.Primary), hotkey.Key(cfg.Hotkey.Refine))
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	ind := newIndicator(logger, cfg.Indicator)
	indicatorID := machine.AddObserver(ind.Observe)
	defer func() {
		machine.RemoveObserver(indicatorID)
		ind.Wait()
	}()

	group, groupCtx := errgroup.WithContext(ctx)

	controller := session.NewController(logger.With("component", "session"), session.Deps{
		Machine:   machine,
		Source:    components.Source,
		Engine:    components.Engine,
		Polisher:  components.Polisher,
		Injector:  components.Injector,
		Pool:      pool,
		Scheduler: scheduler,
	}, components.Session)
	controller.Start(groupCtx)
	defer controller.Close()

	watcher := hotkey.NewWatcher(logger.With("component", "hotkey"), keys, machine, hotkey.Config{
		Primary:      hotkey.Key(cfg.Hotkey.Primary),
		Refine:       hotkey.Key(cfg.Hotkey.Refine),
		PollInterval: time.Duration(cfg.Hotkey.PollMS) * time.Millisecond,
		MaxRecording: time.Duration(cfg.Hotkey.MaxRecordingSec) * time.Second,
	})

	group.Go(func() error {
		return ipc.Serve(groupCtx, logger.With("component", "ipc"), listener, controller)
	})
	group.Go(func() error {
		return keys.Run(groupCtx)
	})
	group.Go(func() error {
		return watcher.Run(groupCtx)
	})
	if components.Prompt != nil {
		group.Go(func() error {
			return components.Prompt.Watch(groupCtx)
		})
	}

	logger.Info("daemon ready",
		"socket", socketPath,
		"hotkey", cfg.Hotkey.Primary,
		"refine_key", cfg.Hotkey.Refine,
		"engine", cfg.Engine.Backend,
		"polish", cfg.Polish.Backend,
	)

	if err := group.Wait(); err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("daemon stopped", "error", err)
		return 1
	}
	logger.Info("daemon stopped")
	return 0
}

func newIndicator(logger *slog.Logger, cfg config.IndicatorConfig) *indicator.Indicator {
	var player indicator.Player
	if cfg.SoundEnable {
		player = indicator.PulsePlayer{}
	}
	var notifier indicator.Notifier
	if cfg.NotifyEnable {
		notifier = indicator.NewDesktopNotifier(cfg.AppName)
	}
	return indicator.New(logger.With("component", "indicator"), indicator.Options{
		Sound:   cfg.SoundEnable,
		Notify:  cfg.NotifyEnable,
		AppName: cfg.AppName,
	}, player, notifier)
}

func tryForward(ctx context.Context, socketPath string, command string) (ipc.Response, bool, error) {
	resp, err := ipc.Send(ctx, socketPath, ipc.Request{Command: command}, forwardTimeout)
	if err == nil {
		if resp.OK {
			return resp, true, nil
		}
		return resp, true, errors.New(resp.Error)
	}

	if isSocketMissing(err) {
		return ipc.Response{}, false, nil
	}
	if isConnectionRefused(err) {
		return ipc.Response{}, false, nil
	}

	return ipc.Response{}, true, fmt.Errorf("forward command %q: %w", command, err)
}

func isSocketMissing(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, os.ErrNotExist) ||
		strings.Contains(err.Error(), "no such file or directory")
}

func isConnectionRefused(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}
