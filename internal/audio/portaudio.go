//go:build portaudio

package audio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// 20ms @ 16kHz
const portaudioFrames = 320

// PortAudioSource captures from the PortAudio default input device.
type PortAudioSource struct{}

// NewPortAudioSource returns a PortAudio capture source.
func NewPortAudioSource() (Source, error) {
	return PortAudioSource{}, nil
}

// Open initializes PortAudio and starts a 16kHz mono float32 stream.
func (PortAudioSource) Open(_ context.Context, onChunk Callback) (Stream, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}

	stream, err := portaudio.OpenDefaultStream(1, 0, float64(SampleRate), portaudioFrames, func(in []float32) {
		chunk := make([]float32, len(in))
		copy(chunk, in)
		onChunk(chunk)
	})
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("open portaudio stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("start portaudio stream: %w", err)
	}
	return &portaudioStream{stream: stream}, nil
}

type portaudioStream struct {
	stream *portaudio.Stream
	once   sync.Once
	err    error
}

func (s *portaudioStream) Close() error {
	s.once.Do(func() {
		if err := s.stream.Stop(); err != nil {
			s.err = err
		}
		if err := s.stream.Close(); err != nil && s.err == nil {
			s.err = err
		}
		_ = portaudio.Terminate()
	})
	return s.err
}
