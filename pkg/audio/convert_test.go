package audio_test

import (
	"encoding/binary"
	"testing"

	"github.com/MrWong99/wolfa/pkg/audio"
)

// samplesToBytes converts a slice of int16 samples to little-endian byte representation.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts a little-endian byte slice to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestResampleMono16_SameRate(t *testing.T) {
	pcm := samplesToBytes([]int16{100, 200, 300})
	out := audio.ResampleMono16(pcm, 24000, 24000)
	if len(out) != len(pcm) {
		t.Fatalf("length mismatch: got %d, want %d", len(out), len(pcm))
	}
}

func TestResampleMono16_Upsample(t *testing.T) {
	// 2 samples at 16kHz → 3 samples at 24kHz (1.5x)
	pcm := samplesToBytes([]int16{1000, 2000})
	out := audio.ResampleMono16(pcm, 16000, 24000)
	got := bytesToSamples(out)
	if len(got) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(got))
	}
	if got[0] != 1000 {
		t.Errorf("first sample: got %d, want 1000", got[0])
	}
	// Second output sits two thirds of the way between the source samples.
	if got[1] < 1600 || got[1] > 1700 {
		t.Errorf("second sample: got %d, want ~1666", got[1])
	}
}

func TestResampleMono16_Downsample(t *testing.T) {
	// 6 samples at 48kHz → 2 samples at 16kHz (1/3x)
	pcm := samplesToBytes([]int16{100, 200, 300, 400, 500, 600})
	out := audio.ResampleMono16(pcm, 48000, 16000)
	got := bytesToSamples(out)
	if len(got) != 2 {
		t.Fatalf("expected 2 samples, got %d", len(got))
	}
}

func TestResampleMono16_ZeroRate(t *testing.T) {
	pcm := samplesToBytes([]int16{100, 200})
	if out := audio.ResampleMono16(pcm, 0, 48000); len(out) != len(pcm) {
		t.Errorf("expected unchanged output for zero srcRate, got len %d", len(out))
	}
	if out := audio.ResampleMono16(pcm, 48000, 0); len(out) != len(pcm) {
		t.Errorf("expected unchanged output for zero dstRate, got len %d", len(out))
	}
	if out := audio.ResampleMono16(pcm, -1, 48000); len(out) != len(pcm) {
		t.Errorf("expected unchanged output for negative srcRate, got len %d", len(out))
	}
}

func TestRateConverter_NoOp(t *testing.T) {
	conv := audio.RateConverter{Target: 24000}
	pcm := samplesToBytes([]int16{1, 2, 3})
	out := conv.Convert(pcm, 24000)
	if &out[0] != &pcm[0] {
		t.Error("matching rate should return the input slice unchanged")
	}
}

func TestRateConverter_UnknownRatePassesThrough(t *testing.T) {
	conv := audio.RateConverter{Target: 24000}
	pcm := samplesToBytes([]int16{1, 2, 3})
	if out := conv.Convert(pcm, 0); len(out) != len(pcm) {
		t.Errorf("len = %d, want %d", len(out), len(pcm))
	}
}

func TestRateConverter_Resamples(t *testing.T) {
	conv := audio.RateConverter{Target: 24000}
	pcm := samplesToBytes(make([]int16, 160)) // 10 ms at 16 kHz
	out := conv.Convert(pcm, 16000)
	// The 240th sample sits past the last input sample and waits for the
	// next chunk.
	if got := len(out) / 2; got != 239 {
		t.Errorf("samples = %d, want 239", got)
	}
	out = conv.Convert(pcm, 16000)
	if got := len(out) / 2; got != 240 {
		t.Errorf("second chunk samples = %d, want 240", got)
	}
}

func TestRateConverter_ChunkingIsTransparent(t *testing.T) {
	src := make([]int16, 320)
	for i := range src {
		src[i] = int16((i*997)%20000 - 10000)
	}

	tests := []struct {
		name   string
		from   int
		to     int
		chunks []int
	}{
		{name: "upsample 16k to 24k", from: 16000, to: 24000, chunks: []int{7, 100, 1, 212}},
		{name: "downsample 24k to 16k", from: 24000, to: 16000, chunks: []int{160, 160}},
		{name: "odd ratio 22050 to 24000", from: 22050, to: 24000, chunks: []int{1, 1, 1, 317}},
		{name: "single sample chunks", from: 16000, to: 48000, chunks: repeat(1, 320)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			whole := audio.RateConverter{Target: tt.to}
			want := bytesToSamples(whole.Convert(samplesToBytes(src), tt.from))

			chunked := audio.RateConverter{Target: tt.to}
			var got []int16
			off := 0
			for _, n := range tt.chunks {
				got = append(got, bytesToSamples(chunked.Convert(samplesToBytes(src[off:off+n]), tt.from))...)
				off += n
			}

			if len(got) != len(want) {
				t.Fatalf("chunked produced %d samples, whole produced %d", len(got), len(want))
			}
			for i := range want {
				if got[i] != want[i] {
					t.Fatalf("sample %d = %d, want %d", i, got[i], want[i])
				}
			}
		})
	}
}

func TestRateConverter_Interpolates(t *testing.T) {
	conv := audio.RateConverter{Target: 24000}
	got := bytesToSamples(conv.Convert(samplesToBytes([]int16{0, 3000, 6000}), 16000))
	want := []int16{0, 2000, 4000, 6000}
	if len(got) != len(want) {
		t.Fatalf("samples = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestRateConverter_ResetAndRateChange(t *testing.T) {
	conv := audio.RateConverter{Target: 24000}
	pcm := samplesToBytes(make([]int16, 160))

	first := len(conv.Convert(pcm, 16000))
	conv.Reset()
	if got := len(conv.Convert(pcm, 16000)); got != first {
		t.Errorf("after Reset len = %d, want %d", got, first)
	}

	// 8 kHz input restarts the stream rather than continuing the 16 kHz phase.
	fresh := audio.RateConverter{Target: 24000}
	want := len(fresh.Convert(pcm, 8000))
	if got := len(conv.Convert(pcm, 8000)); got != want {
		t.Errorf("after rate change len = %d, want %d", got, want)
	}
}

func repeat(v, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestRateConverter_OddByteCount(t *testing.T) {
	conv := audio.RateConverter{Target: 24000}
	pcm := append(samplesToBytes([]int16{5, 6}), 0x01)
	out := conv.Convert(pcm, 24000)
	if len(out) != 4 {
		t.Fatalf("len = %d, want 4", len(out))
	}
	if got := bytesToSamples(out); got[0] != 5 || got[1] != 6 {
		t.Errorf("samples = %v, want [5 6]", got)
	}
}
