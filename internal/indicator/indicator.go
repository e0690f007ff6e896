// Package indicator turns state transitions into audio cues and desktop
// notifications.
package indicator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rbright/murmur/internal/fsm"
)

const cueTimeout = 2 * time.Second

// Options selects which feedback channels are active.
type Options struct {
	Sound   bool
	Notify  bool
	AppName string
}

// Indicator is a state observer. It never blocks the caller: cues play on
// a background goroutine and are serialized.
type Indicator struct {
	logger   *slog.Logger
	opts     Options
	player   Player
	notifier Notifier

	soundMu sync.Mutex
	wg      sync.WaitGroup
}

// New builds an indicator. A nil player or notifier disables that channel.
func New(logger *slog.Logger, opts Options, player Player, notifier Notifier) *Indicator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if player == nil {
		opts.Sound = false
	}
	if notifier == nil {
		opts.Notify = false
	}
	return &Indicator{logger: logger, opts: opts, player: player, notifier: notifier}
}

// Observe maps a transition to feedback. It always returns nil so a broken
// speaker never aborts a session.
func (i *Indicator) Observe(state fsm.State, data fsm.Data) error {
	switch state {
	case fsm.StateRecording:
		i.playCue(cueStart)
	case fsm.StateProcessing:
		i.playCue(cueStop)
	case fsm.StateSuccess:
		i.playCue(cueComplete)
	case fsm.StateError:
		i.playCue(cueError)
		i.notify(data.Error)
	}
	return nil
}

// Wait blocks until queued cues and notifications have finished.
func (i *Indicator) Wait() {
	i.wg.Wait()
}

func (i *Indicator) playCue(kind cueKind) {
	if !i.opts.Sound {
		return
	}
	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		i.soundMu.Lock()
		defer i.soundMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), cueTimeout)
		defer cancel()
		if err := i.player.Play(ctx, cueSamples(kind)); err != nil {
			i.logger.Debug("audio cue failed", "cue", kind.String(), "error", err)
		}
	}()
}

func (i *Indicator) notify(reason string) {
	if !i.opts.Notify {
		return
	}
	if reason == "" {
		reason = "Dictation failed"
	}
	title := i.opts.AppName
	if title == "" {
		title = "murmur"
	}
	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		if err := i.notifier.Notify(title, reason); err != nil {
			i.logger.Debug("desktop notification failed", "error", err)
		}
	}()
}
