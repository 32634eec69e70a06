// Package vad classifies audio frames as speech or silence and decides when
// a speaker starts and stops talking.
package vad

import (
	"encoding/binary"
	"math"
	"time"
)

const maxAmplitude = 32768.0

// RMS returns the root-mean-square amplitude of 16-bit little-endian PCM,
// normalized to [0,1]. A trailing odd byte is ignored.
func RMS(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < samples; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
		sum += s * s
	}
	rms := math.Sqrt(sum/float64(samples)) / maxAmplitude
	if rms > 1 {
		return 1
	}
	return rms
}

// FrameDuration returns how much audio a 16-bit mono PCM frame of n bytes
// holds at the given sample rate.
func FrameDuration(n int, sampleRateHz int) time.Duration {
	if sampleRateHz <= 0 || n <= 0 {
		return 0
	}
	samples := n / 2
	return time.Duration(samples) * time.Second / time.Duration(sampleRateHz)
}
