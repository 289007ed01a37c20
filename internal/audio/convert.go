package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// OutputSampleRate is the fixed rate of all PCM leaving the capture pipeline.
const OutputSampleRate = 16000

// Format describes the sample layout of buffers entering the converter.
type Format struct {
	SampleRate int
	Channels   int
	// Float marks 32-bit little-endian float samples; otherwise samples are
	// signed 16-bit little-endian.
	Float bool
}

// Equal reports whether two format descriptors match.
func (f Format) Equal(other Format) bool {
	return f == other
}

func (f Format) String() string {
	encoding := "s16le"
	if f.Float {
		encoding = "f32le"
	}
	return fmt.Sprintf("%dHz/%dch/%s", f.SampleRate, f.Channels, encoding)
}

// bytesPerFrame returns the byte width of one frame across all channels.
func (f Format) bytesPerFrame() int {
	sampleBytes := 2
	if f.Float {
		sampleBytes = 4
	}
	return sampleBytes * f.Channels
}

// Converter turns native capture buffers into 16kHz mono s16le PCM. It keeps
// resampler state across calls, so one converter serves one continuous stream;
// a format change requires a new converter.
type Converter struct {
	in Format

	// Linear-interpolation resampler state: the last input sample of the
	// previous buffer and the read position carried into the next buffer,
	// which may be negative when the next output sample straddles the
	// buffer boundary.
	lastSample float64
	position   float64
}

// NewConverter validates the input format and builds a converter for it.
func NewConverter(in Format) (*Converter, error) {
	if in.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid input sample rate %d", in.SampleRate)
	}
	if in.Channels <= 0 {
		return nil, fmt.Errorf("invalid input channel count %d", in.Channels)
	}
	return &Converter{in: in}, nil
}

// InputFormat returns the format this converter accepts.
func (c *Converter) InputFormat() Format {
	return c.in
}

// Convert transforms one native buffer into output-format PCM bytes. Channel
// downmix averages all channels; rate conversion is linear interpolation.
func (c *Converter) Convert(buf []byte) ([]byte, error) {
	frameBytes := c.in.bytesPerFrame()
	if len(buf)%frameBytes != 0 {
		return nil, fmt.Errorf("buffer length %d is not a whole number of %d-byte frames", len(buf), frameBytes)
	}

	mono := c.decodeMono(buf)
	if len(mono) == 0 {
		return nil, nil
	}

	resampled := c.resample(mono)
	out := make([]byte, len(resampled)*2)
	for i, sample := range resampled {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(clampSample(sample)))
	}
	return out, nil
}

// decodeMono reads frames from buf and averages channels into float samples
// in the range [-1, 1].
func (c *Converter) decodeMono(buf []byte) []float64 {
	frameBytes := c.in.bytesPerFrame()
	frames := len(buf) / frameBytes
	mono := make([]float64, frames)

	for frame := 0; frame < frames; frame++ {
		base := frame * frameBytes
		var sum float64
		for ch := 0; ch < c.in.Channels; ch++ {
			if c.in.Float {
				bits := binary.LittleEndian.Uint32(buf[base+ch*4:])
				sum += float64(math.Float32frombits(bits))
			} else {
				sum += float64(int16(binary.LittleEndian.Uint16(buf[base+ch*2:]))) / 32768.0
			}
		}
		mono[frame] = sum / float64(c.in.Channels)
	}
	return mono
}

// resample converts mono samples from the input rate to OutputSampleRate,
// carrying interpolation state between calls.
func (c *Converter) resample(mono []float64) []float64 {
	if c.in.SampleRate == OutputSampleRate {
		return mono
	}

	step := float64(c.in.SampleRate) / float64(OutputSampleRate)
	out := make([]float64, 0, int(float64(len(mono))/step)+1)

	// Index -1 addresses the final sample of the previous buffer.
	pos := c.position
	last := float64(len(mono) - 1)
	for pos <= last {
		idx := int(math.Floor(pos))
		frac := pos - float64(idx)

		var left float64
		if idx < 0 {
			left = c.lastSample
		} else {
			left = mono[idx]
		}

		if frac == 0 {
			out = append(out, left)
		} else {
			right := mono[idx+1]
			out = append(out, left+(right-left)*frac)
		}
		pos += step
	}

	c.position = pos - float64(len(mono))
	c.lastSample = mono[len(mono)-1]
	return out
}

// clampSample converts a [-1, 1] float sample to int16 with saturation.
func clampSample(sample float64) int16 {
	scaled := sample * 32767.0
	switch {
	case scaled > 32767:
		return 32767
	case scaled < -32768:
		return -32768
	default:
		return int16(math.Round(scaled))
	}
}
