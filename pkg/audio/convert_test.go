package audio_test

import (
	"encoding/binary"
	"slices"
	"testing"

	"github.com/MrWong99/hintstream/pkg/audio"
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

func TestPCM16ToFloat32(t *testing.T) {
	t.Parallel()

	got := audio.PCM16ToFloat32(samplesToBytes([]int16{0, 1000, -1000, 32767, -32768}))
	want := []float32{0, 1000, -1000, 32767, -32768}
	if !slices.Equal(got, want) {
		t.Errorf("PCM16ToFloat32 = %v, want %v", got, want)
	}
}

func TestPCM16ToFloat32_TrailingByte(t *testing.T) {
	t.Parallel()

	got := audio.PCM16ToFloat32([]byte{0x64, 0x00, 0xFF})
	if !slices.Equal(got, []float32{100}) {
		t.Errorf("PCM16ToFloat32 = %v, want [100]", got)
	}
}

func TestStereoToMono(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []int16
		want []int16
	}{
		{"average", []int16{100, 200, -100, -200}, []int16{150, -150}},
		{"no overflow", []int16{32767, 32767}, []int16{32767}},
		{"no underflow", []int16{-32768, -32768}, []int16{-32768}},
		{"partial frame dropped", []int16{10, 20, 30}, []int16{15}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := bytesToSamples(audio.StereoToMono(samplesToBytes(tc.in)))
			if !slices.Equal(got, tc.want) {
				t.Errorf("StereoToMono(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestResampleMono16(t *testing.T) {
	t.Parallel()

	t.Run("same rate", func(t *testing.T) {
		t.Parallel()
		pcm := samplesToBytes([]int16{100, 200, 300})
		if out := audio.ResampleMono16(pcm, 16000, 16000); len(out) != len(pcm) {
			t.Fatalf("length mismatch: got %d, want %d", len(out), len(pcm))
		}
	})

	t.Run("upsample", func(t *testing.T) {
		t.Parallel()
		// 2 samples at 8kHz → 4 samples at 16kHz.
		got := bytesToSamples(audio.ResampleMono16(samplesToBytes([]int16{1000, 2000}), 8000, 16000))
		if want := []int16{1000, 1500, 2000, 2000}; !slices.Equal(got, want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("downsample", func(t *testing.T) {
		t.Parallel()
		// 6 samples at 48kHz → 2 samples at 16kHz.
		got := bytesToSamples(audio.ResampleMono16(samplesToBytes([]int16{100, 200, 300, 400, 500, 600}), 48000, 16000))
		if want := []int16{100, 400}; !slices.Equal(got, want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("invalid rates", func(t *testing.T) {
		t.Parallel()
		pcm := samplesToBytes([]int16{100, 200})
		for _, rates := range [][2]int{{0, 16000}, {16000, 0}, {-1, 16000}} {
			if out := audio.ResampleMono16(pcm, rates[0], rates[1]); len(out) != len(pcm) {
				t.Errorf("rates %v: expected unchanged output, got len %d", rates, len(out))
			}
		}
	})

	t.Run("too short", func(t *testing.T) {
		t.Parallel()
		if out := audio.ResampleMono16(samplesToBytes([]int16{5}), 48000, 8000); out != nil {
			t.Errorf("expected nil, got %v", bytesToSamples(out))
		}
	})
}

func TestConverter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []byte
		from audio.Format
		want []float32
	}{
		{
			name: "matching format",
			in:   samplesToBytes([]int16{100, -200}),
			from: audio.Format{SampleRate: 16000, Channels: 1},
			want: []float32{100, -200},
		},
		{
			name: "stereo",
			in:   samplesToBytes([]int16{100, 300, -100, -300}),
			from: audio.Format{SampleRate: 16000, Channels: 2},
			want: []float32{200, -200},
		},
		{
			name: "stereo 8kHz",
			in:   samplesToBytes([]int16{1000, 1000, 2000, 2000}),
			from: audio.Format{SampleRate: 8000, Channels: 2},
			want: []float32{1000, 1500, 2000, 2000},
		},
		{
			name: "odd byte count",
			in:   []byte{1, 2, 3},
			from: audio.Format{SampleRate: 16000, Channels: 1},
		},
		{
			name: "partial stereo frame",
			in:   samplesToBytes([]int16{1, 2, 3}),
			from: audio.Format{SampleRate: 16000, Channels: 2},
		},
		{
			name: "unsupported channels",
			in:   samplesToBytes([]int16{1, 2, 3}),
			from: audio.Format{SampleRate: 16000, Channels: 3},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			conv := audio.Converter{TargetRate: 16000}
			got := conv.Convert(tc.in, tc.from)
			if !slices.Equal(got, tc.want) {
				t.Errorf("Convert = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestFormat_String(t *testing.T) {
	t.Parallel()

	tests := map[audio.Format]string{
		{SampleRate: 16000, Channels: 1}: "16000Hz mono",
		{SampleRate: 48000, Channels: 2}: "48000Hz stereo",
		{SampleRate: 44100, Channels: 6}: "44100Hz 6ch",
	}
	for f, want := range tests {
		if got := f.String(); got != want {
			t.Errorf("%+v.String() = %q, want %q", f, got, want)
		}
	}
}
