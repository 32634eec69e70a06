// Package wav reads the header of canonical PCM WAV files for the
// streaming clients.
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// HeaderSize is the size of a canonical PCM WAV header.
const HeaderSize = 44

var (
	ErrNotWAV      = errors.New("not a valid WAV file")
	ErrNotPCM      = errors.New("only PCM format supported")
	ErrUnsupported = errors.New("only 16-bit mono audio supported")
)

// Format describes the audio in a WAV file.
type Format struct {
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	BitsPerSample uint16
}

// BytesPerSecond returns the data rate of the audio.
func (f Format) BytesPerSecond() int {
	return int(f.SampleRate) * int(f.Channels) * int(f.BitsPerSample) / 8
}

// ReadHeader consumes and validates the header, leaving r at the start of
// the sample data.
func ReadHeader(r io.Reader) (Format, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return Format{}, fmt.Errorf("read WAV header: %w", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return Format{}, ErrNotWAV
	}

	f := Format{
		AudioFormat:   binary.LittleEndian.Uint16(header[20:22]),
		Channels:      binary.LittleEndian.Uint16(header[22:24]),
		SampleRate:    binary.LittleEndian.Uint32(header[24:28]),
		BitsPerSample: binary.LittleEndian.Uint16(header[34:36]),
	}
	if f.AudioFormat != 1 {
		return f, ErrNotPCM
	}
	if f.Channels != 1 || f.BitsPerSample != 16 {
		return f, ErrUnsupported
	}
	return f, nil
}
