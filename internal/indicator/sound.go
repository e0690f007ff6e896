package indicator

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jfreymuth/pulse"
)

type cueKind int

const (
	cueStart cueKind = iota + 1
	cueStop
	cueComplete
	cueError
)

func (k cueKind) String() string {
	switch k {
	case cueStart:
		return "start"
	case cueStop:
		return "stop"
	case cueComplete:
		return "complete"
	case cueError:
		return "error"
	default:
		return "unknown"
	}
}

const (
	cueSampleRate = 16000
	cueRamp       = 5 * time.Millisecond
)

type tone struct {
	hz   float64
	dur  time.Duration
	gain float64
}

// cue is a short tone sequence separated by silence.
type cue struct {
	tones []tone
	gap   time.Duration
}

var cues = map[cueKind]cue{
	cueStart:    {gap: 22 * time.Millisecond, tones: []tone{{880, 70 * time.Millisecond, 0.18}, {1175, 70 * time.Millisecond, 0.18}}},
	cueStop:     {tones: []tone{{620, 120 * time.Millisecond, 0.18}}},
	cueComplete: {gap: 22 * time.Millisecond, tones: []tone{{740, 65 * time.Millisecond, 0.18}, {988, 90 * time.Millisecond, 0.18}}},
	cueError:    {gap: 30 * time.Millisecond, tones: []tone{{480, 80 * time.Millisecond, 0.2}, {400, 80 * time.Millisecond, 0.2}, {320, 140 * time.Millisecond, 0.2}}},
}

var renderedCues = func() map[cueKind][]int16 {
	out := make(map[cueKind][]int16, len(cues))
	for kind, c := range cues {
		out[kind] = c.render()
	}
	return out
}()

// Player renders 16 kHz mono PCM.
type Player interface {
	Play(ctx context.Context, samples []int16) error
}

// PulsePlayer plays cues through the PulseAudio/PipeWire server.
type PulsePlayer struct{}

// Play blocks until samples have drained. ctx is checked before the
// server connection is opened.
func (PulsePlayer) Play(ctx context.Context, samples []int16) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(samples) == 0 {
		return nil
	}

	client, err := pulse.NewClient(
		pulse.ClientApplicationName("murmur"),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
	if err != nil {
		return fmt.Errorf("connect pulse server: %w", err)
	}
	defer client.Close()

	remaining := samples
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		n := copy(buf, remaining)
		remaining = remaining[n:]
		if len(remaining) == 0 {
			return n, pulse.EndOfData
		}
		return n, nil
	})

	stream, err := client.NewPlayback(
		reader,
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(cueSampleRate),
		pulse.PlaybackLatency(0.02),
		pulse.PlaybackMediaName("murmur cue"),
	)
	if err != nil {
		return fmt.Errorf("create pulse playback stream: %w", err)
	}
	defer stream.Close()

	stream.Start()
	stream.Drain()
	if err := stream.Error(); err != nil {
		return fmt.Errorf("play cue stream: %w", err)
	}

	return nil
}

func cueSamples(kind cueKind) []int16 {
	return renderedCues[kind]
}

func (c cue) render() []int16 {
	if len(c.tones) == 0 {
		return nil
	}
	gap := sampleCount(c.gap)
	var pcm []int16
	for i, t := range c.tones {
		if i > 0 {
			pcm = append(pcm, make([]int16, gap)...)
		}
		pcm = append(pcm, t.render()...)
	}
	return pcm
}

// render synthesizes a sine with raised-cosine attack and release so the
// cue does not click.
func (t tone) render() []int16 {
	n := sampleCount(t.dur)
	if n <= 0 || t.hz <= 0 || t.gain <= 0 {
		return nil
	}
	ramp := min(sampleCount(cueRamp), n/2)

	pcm := make([]int16, n)
	step := 2 * math.Pi * t.hz / cueSampleRate
	for i := range pcm {
		edge := min(i, n-1-i)
		env := 1.0
		if edge < ramp {
			env = 0.5 - 0.5*math.Cos(math.Pi*float64(edge)/float64(ramp))
		}
		pcm[i] = int16(math.Round(math.Sin(step*float64(i)) * t.gain * env * math.MaxInt16))
	}
	return pcm
}

func sampleCount(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Round(d.Seconds() * cueSampleRate))
}
