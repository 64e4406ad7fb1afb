package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// wavSink writes 16-bit little-endian PCM into a WAV file.
type wavSink struct {
	file       *os.File
	enc        *wav.Encoder
	sampleRate int
	channels   int
}

func newWAVSink(path string, sampleRate, channels int) (*wavSink, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create wav file: %w", err)
	}
	return &wavSink{
		file:       file,
		enc:        wav.NewEncoder(file, sampleRate, 16, channels, 1),
		sampleRate: sampleRate,
		channels:   channels,
	}, nil
}

func (w *wavSink) Write(pcm []byte) error {
	if len(pcm)%2 != 0 {
		return errors.New("pcm payload not aligned")
	}
	buffer := &audio.IntBuffer{Format: &audio.Format{NumChannels: w.channels, SampleRate: w.sampleRate}}
	samples := make([]int, len(pcm)/2)
	for i := 0; i < len(samples); i++ {
		samples[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buffer.Data = samples
	if err := w.enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	return nil
}

func (w *wavSink) Close() error {
	if err := w.enc.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return w.file.Close()
}
