package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// bitsPerSample is fixed across the pipeline: every engine exchanges signed
// 16-bit little-endian PCM.
const bitsPerSample = 16

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns e.g. "16000Hz mono".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// BytesPer returns the number of PCM bytes covering d in this format.
// The result is always a whole number of sample frames.
func (f Format) BytesPer(d time.Duration) int {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := int(int64(f.SampleRate) * int64(d) / int64(time.Second))
	return samples * f.Channels * bitsPerSample / 8
}

// Duration returns how long pcm plays in this format.
func (f Format) Duration(pcm []byte) time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	frames := len(pcm) / (f.Channels * bitsPerSample / 8)
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// RMS returns the root-mean-square energy of 16-bit PCM in sample units
// (0 to 32767). Buffers shorter than one sample yield 0.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// Convert resamples and channel-converts pcm from src to dst. Resampling
// happens on the mono signal so stereo input is down-mixed first.
func Convert(pcm []byte, src, dst Format) []byte {
	if src == dst || len(pcm) == 0 {
		return pcm
	}
	if src.Channels == 2 {
		pcm = StereoToMono(pcm)
	}
	pcm = ResampleMono16(pcm, src.SampleRate, dst.SampleRate)
	if dst.Channels == 2 {
		pcm = MonoToStereo(pcm)
	}
	return pcm
}

// MonoToStereo duplicates each mono sample into an L+R pair.
func MonoToStereo(pcm []byte) []byte {
	out := make([]byte, (len(pcm)/2)*4)
	for i := 0; i+1 < len(pcm); i += 2 {
		j := i * 2
		out[j], out[j+1] = pcm[i], pcm[i+1]
		out[j+2], out[j+3] = pcm[i], pcm[i+1]
	}
	return out
}

// StereoToMono averages each L+R pair into one mono sample.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(int16(binary.LittleEndian.Uint16(pcm[i*4:])))
		r := int32(int16(binary.LittleEndian.Uint16(pcm[i*4+2:])))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16((l+r)/2)))
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM with linear interpolation. The
// input is returned unchanged when the rates match or are invalid.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)
	sample := func(i int) float64 {
		if i >= srcSamples {
			i = srcSamples - 1
		}
		return float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	for i := range dstSamples {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		v := sample(idx)*(1-frac) + sample(idx+1)*frac
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

// Float32Mono converts 16-bit PCM to mono float32 samples in [-1, 1],
// averaging channels when channels > 1.
func Float32Mono(pcm []byte, channels int) []float32 {
	if channels <= 0 {
		channels = 1
	}
	frames := len(pcm) / (2 * channels)
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			idx := (i*channels + ch) * 2
			sum += float32(int16(binary.LittleEndian.Uint16(pcm[idx:]))) / 32768.0
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// EncodeWAV wraps raw 16-bit PCM in a canonical 44-byte RIFF/WAVE header.
func EncodeWAV(pcm []byte, f Format) []byte {
	byteRate := f.SampleRate * f.Channels * bitsPerSample / 8
	blockAlign := f.Channels * bitsPerSample / 8

	buf := make([]byte, 44+len(pcm))
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+len(pcm)))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(pcm)))
	copy(buf[44:], pcm)
	return buf
}

// ErrNotWAV is returned by [DecodeWAV] for input that is not a RIFF/WAVE file.
var ErrNotWAV = errors.New("audio: not a RIFF/WAVE stream")

// DecodeWAV walks the RIFF chunks of wav and returns the PCM payload of the
// data chunk together with the format from the fmt chunk. Engines that omit
// the fmt chunk are assumed to produce 22050 Hz mono.
func DecodeWAV(wav []byte) ([]byte, Format, error) {
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, Format{}, ErrNotWAV
	}

	f := Format{SampleRate: 22050, Channels: 1}
	offset := 12
	for offset+8 <= len(wav) {
		id := string(wav[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))
		body := offset + 8

		switch id {
		case "fmt ":
			if size >= 16 && body+16 <= len(wav) {
				f.Channels = int(binary.LittleEndian.Uint16(wav[body+2:]))
				f.SampleRate = int(binary.LittleEndian.Uint32(wav[body+4:]))
			}
		case "data":
			end := body + size
			// Streaming engines write 0 or 0xFFFFFFFF when the length is unknown.
			if size == 0 || end > len(wav) || end < body {
				end = len(wav)
			}
			return wav[body:end], f, nil
		}

		offset = body + size
		if size%2 != 0 {
			offset++
		}
	}
	return nil, Format{}, fmt.Errorf("%w: missing data chunk", ErrNotWAV)
}
