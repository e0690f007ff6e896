package audio

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

// 20ms @ 16kHz mono f32
const pulseFragmentBytes = 1280

// PulseSource opens float32 record streams on the selected Pulse source.
type PulseSource struct {
	Logger   *slog.Logger
	Input    string
	Fallback string
}

// Open selects a device and starts a 16kHz mono float32 record stream.
func (s PulseSource) Open(ctx context.Context, onChunk Callback) (Stream, error) {
	selection, err := SelectDevice(ctx, s.Input, s.Fallback)
	if err != nil {
		return nil, err
	}
	if selection.Warning != "" && s.Logger != nil {
		s.Logger.Warn(selection.Warning)
	}

	client, err := newPulseClient()
	if err != nil {
		return nil, err
	}

	source, err := client.SourceByID(selection.Device.ID)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("resolve source %q: %w", selection.Device.ID, err)
	}

	stream := &pulseStream{client: client, onChunk: onChunk}
	record, err := client.NewRecord(
		pulse.NewWriter(writerFunc(stream.onPCM), pulseproto.FormatFloat32LE),
		pulse.RecordSource(source),
		pulse.RecordMono,
		pulse.RecordSampleRate(SampleRate),
		pulse.RecordBufferFragmentSize(pulseFragmentBytes),
		pulse.RecordMediaName("murmur dictation"),
	)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("create pulse record stream: %w", err)
	}

	stream.record = record
	record.Start()
	return stream, nil
}

type pulseStream struct {
	client  *pulse.Client
	record  *pulse.RecordStream
	onChunk Callback

	mu      sync.Mutex
	pending []byte
	closed  bool
}

// onPCM decodes little-endian float32 frames. Partial samples carry over to
// the next write.
func (s *pulseStream) onPCM(buffer []byte) (int, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, io.EOF
	}
	s.pending = append(s.pending, buffer...)
	n := len(s.pending) / 4
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(s.pending[i*4:]))
	}
	s.pending = append(s.pending[:0], s.pending[n*4:]...)
	s.mu.Unlock()

	if n > 0 {
		s.onChunk(samples)
	}
	return len(buffer), nil
}

func (s *pulseStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.record != nil {
		s.record.Stop()
		s.record.Close()
	}
	s.client.Close()
	return nil
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) {
	return f(b)
}
