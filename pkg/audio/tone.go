package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// fadeDuration is the linear fade applied to both ends of a tone to avoid
// audible clicks.
const fadeDuration = 10 * time.Millisecond

// Tone renders a sine beep of the given frequency and length as 16-bit PCM in
// format f. gain is the peak amplitude in (0, 1].
func Tone(freqHz float64, d time.Duration, f Format, gain float64) []byte {
	if f.SampleRate <= 0 || f.Channels <= 0 || d <= 0 {
		return nil
	}
	if gain <= 0 || gain > 1 {
		gain = 0.3
	}
	n := int(int64(f.SampleRate) * int64(d) / int64(time.Second))
	fade := int(int64(f.SampleRate) * int64(fadeDuration) / int64(time.Second))
	fade = min(fade, n/4)

	out := make([]byte, n*f.Channels*2)
	for i := range n {
		env := 1.0
		switch {
		case fade > 0 && i < fade:
			env = float64(i) / float64(fade)
		case fade > 0 && i >= n-fade:
			env = float64(n-1-i) / float64(fade)
		}
		v := gain * env * math.Sin(2*math.Pi*freqHz*float64(i)/float64(f.SampleRate))
		s := uint16(int16(v * 32767))
		for ch := range f.Channels {
			binary.LittleEndian.PutUint16(out[(i*f.Channels+ch)*2:], s)
		}
	}
	return out
}
