package media

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVHeaderSize is the size of a canonical PCM WAV header.
const WAVHeaderSize = 44

// WAV header validation errors.
var (
	ErrWAVTooSmall = errors.New("media: wav payload smaller than header")
	ErrWAVNotRIFF  = errors.New("media: missing RIFF marker")
	ErrWAVNotWAVE  = errors.New("media: missing WAVE marker")
)

// ValidateWAVHeader checks that b starts with a RIFF/WAVE header and is at
// least WAVHeaderSize bytes long.
func ValidateWAVHeader(b []byte) error {
	if len(b) < WAVHeaderSize {
		return fmt.Errorf("%w: %d bytes", ErrWAVTooSmall, len(b))
	}
	if !bytes.Equal(b[0:4], []byte("RIFF")) {
		return ErrWAVNotRIFF
	}
	if !bytes.Equal(b[8:12], []byte("WAVE")) {
		return ErrWAVNotWAVE
	}
	return nil
}

// ValidateWAVFile applies ValidateWAVHeader to the file at path.
func ValidateWAVFile(path string) error {
	f, err := os.Open(path) // #nosec G304 - paths come from the cache and the pipeline
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	header := make([]byte, WAVHeaderSize)
	n, err := io.ReadFull(f, header)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return err
	}
	return ValidateWAVHeader(header[:n])
}

// Format describes the stream parameters of a WAV file.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
	// PCM is true for integer PCM (format tag 1).
	PCM      bool
	Duration time.Duration
}

// Matches reports whether f is 16-bit PCM with the given rate and channel count.
func (f Format) Matches(sampleRate, channels int) bool {
	return f.PCM && f.BitDepth == 16 && f.SampleRate == sampleRate && f.Channels == channels
}

// InspectWAV decodes the header of the WAV file at path.
func InspectWAV(path string) (Format, error) {
	f, err := os.Open(path) // #nosec G304 - paths come from the cache and the pipeline
	if err != nil {
		return Format{}, err
	}
	defer func() { _ = f.Close() }()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return Format{}, fmt.Errorf("media: %s is not a valid wav file", path)
	}
	d.ReadInfo()
	if err := d.Err(); err != nil {
		return Format{}, fmt.Errorf("media: read wav info: %w", err)
	}

	dur, err := d.Duration()
	if err != nil {
		return Format{}, fmt.Errorf("media: wav duration: %w", err)
	}

	return Format{
		SampleRate: int(d.SampleRate),
		Channels:   int(d.NumChans),
		BitDepth:   int(d.BitDepth),
		PCM:        d.WavAudioFormat == 1,
		Duration:   dur,
	}, nil
}

// WritePCM16 encodes samples as a 16-bit PCM WAV stream into w.
// Samples are interleaved when channels > 1.
func WritePCM16(w io.WriteSeeker, sampleRate, channels int, samples []int) error {
	enc := wav.NewEncoder(w, sampleRate, 16, channels, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("media: encode wav: %w", err)
	}
	return enc.Close()
}

// WriteSilence writes a silent 16-bit PCM WAV file of the given duration.
func WriteSilence(path string, sampleRate, channels int, d time.Duration) error {
	f, err := os.Create(path) // #nosec G304 - caller-controlled output path
	if err != nil {
		return err
	}
	frames := int(d.Seconds() * float64(sampleRate))
	if err := WritePCM16(f, sampleRate, channels, make([]int, frames*channels)); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
