//go:build !portaudio

package audio

import "fmt"

// NewPortAudioSource reports that PortAudio support was not compiled in.
func NewPortAudioSource() (Source, error) {
	return nil, fmt.Errorf("portaudio: %w (rebuild with -tags portaudio)", ErrBackendUnavailable)
}
