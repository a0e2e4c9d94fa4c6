package audio

import (
	"log/slog"
	"sync"
)

// RateConverter resamples a stream of mono 16-bit PCM chunks to a fixed
// target rate. Interpolation state carries across chunks, so converting a
// stream chunk by chunk yields the same samples as converting it in one
// piece. Create one per stream and call [RateConverter.Reset] when the
// stream restarts.
type RateConverter struct {
	Target int

	rate     int   // source rate of the current stream
	consumed int64 // source samples seen before the current chunk
	emitted  int64 // output samples produced so far
	last     int16 // final source sample of the previous chunk

	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Reset discards the carried interpolation state.
func (c *RateConverter) Reset() {
	c.rate = 0
	c.consumed = 0
	c.emitted = 0
	c.last = 0
}

// Convert resamples pcm from rate to the converter's target. If the rates
// already match (or rate is unknown), pcm is returned unchanged. A trailing
// odd byte is dropped. A change of source rate starts a new stream.
//
// An output sample that falls between the last sample of pcm and the first
// sample of the next chunk is produced with the next chunk.
func (c *RateConverter) Convert(pcm []byte, rate int) []byte {
	if len(pcm)%2 != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio rate converter: odd byte count in PCM data, dropping trailing byte",
				"bytes", len(pcm),
				"sample_rate", rate,
			)
		})
		pcm = pcm[:len(pcm)-1]
	}
	if rate <= 0 || c.Target <= 0 || rate == c.Target {
		return pcm
	}
	if rate != c.rate {
		c.Reset()
		c.rate = rate
		c.warnedMismatch.Do(func() {
			slog.Warn("audio sample rate mismatch: resampling",
				"from", rate,
				"to", c.Target,
			)
		})
	}

	n := int64(len(pcm) / 2)
	if n == 0 {
		return nil
	}
	src, dst := int64(rate), int64(c.Target)
	end := c.consumed + n - 1 // absolute index of the last available sample

	at := func(i int64) int16 {
		if i < c.consumed {
			return c.last
		}
		return sampleAt(pcm, int(i-c.consumed))
	}

	var out []byte
	for {
		num := c.emitted * src
		i0, rem := num/dst, num%dst
		if i0 > end || (rem > 0 && i0+1 > end) {
			break
		}
		v := at(i0)
		if rem > 0 {
			s0, s1 := int64(v), int64(at(i0+1))
			v = int16(s0 + (s1-s0)*rem/dst)
		}
		out = append(out, byte(v), byte(v>>8))
		c.emitted++
	}

	c.last = sampleAt(pcm, int(n-1))
	c.consumed += n
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. The input must be little-endian int16 samples. If srcRate ==
// dstRate, the input is returned unchanged. Unlike [RateConverter] it treats
// pcm as a complete signal and holds the final sample to pad the tail.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := sampleAt(pcm, srcIdx)
		s1 := s0
		if srcIdx+1 < srcSamples {
			s1 = sampleAt(pcm, srcIdx+1)
		}

		v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

func sampleAt(pcm []byte, i int) int16 {
	return int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
}
