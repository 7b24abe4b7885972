package audio

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/go-audio/wav"
)

var ErrInvalidWAV = errors.New("not a valid wav file")

// Normalizer loads WAV files as mono float samples at a fixed rate, truncated
// (never padded) to a maximum duration and peak-normalized to [-1, 1].
type Normalizer struct {
	sampleRate int
}

func NewNormalizer(sampleRate int) *Normalizer {
	return &Normalizer{sampleRate: sampleRate}
}

func (n *Normalizer) SampleRate() int { return n.sampleRate }

func (n *Normalizer) Load(path string, maxDuration time.Duration) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	d := wav.NewDecoder(f)
	if !d.IsValidFile() {
		return nil, ErrInvalidWAV
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}

	channels := int(d.NumChans)
	if channels < 1 {
		channels = 1
	}
	scale := math.Pow(2, float64(d.BitDepth)-1)
	if scale <= 0 {
		scale = 1
	}

	mono := make([]float64, len(buf.Data)/channels)
	for i := range mono {
		sum := 0.0
		for c := 0; c < channels; c++ {
			sum += float64(buf.Data[i*channels+c])
		}
		mono[i] = sum / float64(channels) / scale
	}

	mono = resample(mono, int(d.SampleRate), n.sampleRate)

	maxLen := int(maxDuration.Seconds() * float64(n.sampleRate))
	if maxLen > 0 && len(mono) > maxLen {
		mono = mono[:maxLen]
	}
	return peakNormalize(mono), nil
}

// resample converts between rates with linear interpolation.
func resample(in []float64, from, to int) []float64 {
	if from <= 0 || to <= 0 || from == to || len(in) == 0 {
		return in
	}
	outLen := int(int64(len(in)) * int64(to) / int64(from))
	out := make([]float64, outLen)
	ratio := float64(from) / float64(to)
	for i := range out {
		pos := float64(i) * ratio
		j := int(pos)
		if j+1 >= len(in) {
			out[i] = in[len(in)-1]
			continue
		}
		frac := pos - float64(j)
		out[i] = in[j]*(1-frac) + in[j+1]*frac
	}
	return out
}

func peakNormalize(in []float64) []float32 {
	peak := 0.0
	for _, v := range in {
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	out := make([]float32, len(in))
	for i, v := range in {
		if peak > 0 {
			v /= peak
		}
		out[i] = float32(v)
	}
	return out
}
