package wav

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func header(format, channels uint16, rate uint32, bits uint16) []byte {
	h := make([]byte, HeaderSize)
	copy(h[0:4], "RIFF")
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint16(h[20:22], format)
	binary.LittleEndian.PutUint16(h[22:24], channels)
	binary.LittleEndian.PutUint32(h[24:28], rate)
	binary.LittleEndian.PutUint16(h[34:36], bits)
	copy(h[36:40], "data")
	return h
}

func TestReadHeader(t *testing.T) {
	data := append(header(1, 1, 16000, 16), 1, 2, 3, 4)
	r := bytes.NewReader(data)

	f, err := ReadHeader(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.SampleRate != 16000 || f.BytesPerSecond() != 32000 {
		t.Errorf("unexpected format %+v", f)
	}
	if r.Len() != 4 {
		t.Errorf("expected reader at sample data, %d bytes left", r.Len())
	}
}

func TestReadHeader_Errors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"not wav", make([]byte, HeaderSize), ErrNotWAV},
		{"not pcm", header(3, 1, 16000, 32), ErrNotPCM},
		{"stereo", header(1, 2, 16000, 16), ErrUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ReadHeader(bytes.NewReader(tt.data)); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if _, err := ReadHeader(bytes.NewReader([]byte("RIFF"))); err == nil {
		t.Error("expected error for short header")
	}
}
