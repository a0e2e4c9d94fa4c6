package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrMalformedBase64 is wrapped by [DecodeBase64] when its input is not valid
// standard base64.
var ErrMalformedBase64 = errors.New("audio: malformed base64")

// pcmScale maps int16 samples onto [-1, 1).
const pcmScale = 32768.0

// DecodeBase64 decodes standard base64 text into raw bytes.
func DecodeBase64(text string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedBase64, err)
	}
	return b, nil
}

// EncodeBase64 encodes b as standard base64 text.
func EncodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// DecodePCM reinterprets pcm as interleaved 16-bit signed little-endian
// samples and de-interleaves them into channels float arrays scaled by
// 1/32768. A trailing odd byte or partial frame is dropped.
func DecodePCM(pcm []byte, sampleRate, channels int) (*Buffer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("audio: decode pcm: invalid sample rate %d", sampleRate)
	}
	if channels <= 0 {
		return nil, fmt.Errorf("audio: decode pcm: invalid channel count %d", channels)
	}

	samples := len(pcm) / 2
	frames := samples / channels

	buf := &Buffer{
		Channels:   make([][]float32, channels),
		SampleRate: sampleRate,
	}
	for ch := range channels {
		data := make([]float32, frames)
		for i := range frames {
			off := (i*channels + ch) * 2
			s := int16(binary.LittleEndian.Uint16(pcm[off:]))
			data[i] = float32(float64(s) / pcmScale)
		}
		buf.Channels[ch] = data
	}
	return buf, nil
}

// EncodePCM converts float samples to 16-bit signed little-endian PCM. Each
// sample is clamped to [-1, 1] before scaling so out-of-range input saturates
// instead of wrapping around.
func EncodePCM(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(floatToInt16(s)))
	}
	return out
}

func floatToInt16(s float32) int16 {
	f := float64(s)
	switch {
	case math.IsNaN(f):
		return 0
	case f > 1:
		f = 1
	case f < -1:
		f = -1
	}
	v := math.Round(f * pcmScale)
	// +1.0 scales to 32768, one past the int16 maximum.
	if v > math.MaxInt16 {
		v = math.MaxInt16
	}
	return int16(v)
}

// PCMMIMEType returns the MIME tag used for raw PCM at rate.
func PCMMIMEType(rate int) string {
	return "audio/pcm;rate=" + strconv.Itoa(rate)
}

// EncodeFrame encodes a captured frame into a transport [Chunk] tagged with
// sampleRate.
func EncodeFrame(samples []float32, sampleRate int) Chunk {
	return Chunk{
		MIMEType: PCMMIMEType(sampleRate),
		Data:     EncodeBase64(EncodePCM(samples)),
	}
}

// ParseRate extracts the rate parameter from a MIME tag such as
// "audio/pcm;rate=24000". It reports false when no valid rate is present.
func ParseRate(mimeType string) (int, bool) {
	_, params, found := strings.Cut(mimeType, ";")
	if !found {
		return 0, false
	}
	for p := range strings.SplitSeq(params, ";") {
		key, val, ok := strings.Cut(strings.TrimSpace(p), "=")
		if !ok || !strings.EqualFold(key, "rate") {
			continue
		}
		rate, err := strconv.Atoi(val)
		if err != nil || rate <= 0 {
			return 0, false
		}
		return rate, true
	}
	return 0, false
}
