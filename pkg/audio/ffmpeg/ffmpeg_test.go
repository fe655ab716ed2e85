package ffmpeg

import (
	"context"
	"errors"
	"math"
	"os"
	"os/exec"
	"strings"
	"testing"

	"github.com/MrWong99/lingocast/pkg/audio"
)

func TestConcatFilter(t *testing.T) {
	f := audio.Format{SampleRate: 24000, Channels: 1}
	got := concatFilter(f, []bool{false, true, true}, []int{500, 3000, 0})
	want := strings.Join([]string{
		"anullsrc=r=24000:cl=mono,atrim=duration=0.500[s0]",
		"[0:a]aresample=24000,aformat=sample_fmts=s16:channel_layouts=mono[f1]",
		"anullsrc=r=24000:cl=mono,atrim=duration=3.000[s1]",
		"[1:a]aresample=24000,aformat=sample_fmts=s16:channel_layouts=mono[f2]",
		"[s0][f1][s1][f2]concat=n=4:v=0:a=1[out]",
	}, ";")
	if got != want {
		t.Errorf("concatFilter =\n%s\nwant\n%s", got, want)
	}
}

func TestConcatFilter_Empty(t *testing.T) {
	f := audio.Format{SampleRate: 24000, Channels: 1}
	if got := concatFilter(f, []bool{false}, []int{0}); got != "" {
		t.Errorf("concatFilter = %q, want empty", got)
	}
}

func TestMixFilter(t *testing.T) {
	tests := []struct {
		name   string
		delays []int
		want   string
	}{
		{"passthrough", nil, "[0:a]anull[out]"},
		{
			"two holes",
			[]int{1500, 9000},
			"[1:a]adelay=delays=1500:all=1[d1];[2:a]adelay=delays=9000:all=1[d2];" +
				"[0:a][d1][d2]amix=inputs=3:duration=longest:dropout_transition=0:normalize=0[out]",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := mixFilter(tt.delays); got != tt.want {
				t.Errorf("mixFilter = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseMaxVolume(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{in: "[Parsed_volumedetect_0 @ 0x1] mean_volume: -20.1 dB\n[Parsed_volumedetect_0 @ 0x1] max_volume: -3.5 dB\n", want: -3.5},
		{in: "[Parsed_volumedetect_0 @ 0x1] max_volume: -inf dB\n", want: math.Inf(-1)},
		{in: "max_volume: 0.0 dB", want: 0},
		{in: "no reading here", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseMaxVolume([]byte(tt.in))
		if (err != nil) != tt.wantErr {
			t.Fatalf("parseMaxVolume(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if err == nil && got != tt.want {
			t.Errorf("parseMaxVolume(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseDurationMs(t *testing.T) {
	if got, err := parseDurationMs([]byte("12.3456\n")); err != nil || got != 12346 {
		t.Errorf("got (%d, %v), want (12346, nil)", got, err)
	}
	if _, err := parseDurationMs([]byte("N/A")); err == nil {
		t.Error("expected error for N/A")
	}
}

func TestNew_RejectsUnknownExtension(t *testing.T) {
	if _, err := New(WithExtension(".ogg")); err == nil {
		t.Error("expected error for .ogg")
	}
}

func TestMixWithDelays_InvocationArgs(t *testing.T) {
	var gotArgs []string
	tk, err := New(WithBinaries("/opt/ff/ffmpeg", ""))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tk.run = func(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
		if name != "/opt/ff/ffmpeg" {
			t.Errorf("binary = %q", name)
		}
		gotArgs = args
		return nil, nil, os.WriteFile(args[len(args)-1], []byte("mixed"), 0o600)
	}

	out, err := tk.MixWithDelays(context.Background(), []byte("base"), []audio.Overlay{{Audio: []byte("frag"), DelayMs: 750}})
	if err != nil {
		t.Fatalf("MixWithDelays: %v", err)
	}
	if string(out) != "mixed" {
		t.Errorf("out = %q", out)
	}
	joined := strings.Join(gotArgs, " ")
	for _, want := range []string{"adelay=delays=750:all=1", "amix=inputs=2", "-c:a pcm_s16le", "-ar 24000"} {
		if !strings.Contains(joined, want) {
			t.Errorf("args %q missing %q", joined, want)
		}
	}
}

func TestPeakLevelDB_CommandFailure(t *testing.T) {
	tk, _ := New()
	boom := errors.New("exit status 1")
	tk.run = func(context.Context, string, ...string) ([]byte, []byte, error) {
		return nil, []byte("in000: Invalid data found when processing input"), boom
	}
	if _, err := tk.PeakLevelDB(context.Background(), []byte("x")); !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped %v", err, boom)
	}
}

// TestRoundTrip_RealBinaries exercises the real ffmpeg tools when installed.
func TestRoundTrip_RealBinaries(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not installed")
	}
	f := audio.Format{SampleRate: 16000, Channels: 1}
	tk, err := New(WithFormat(f), WithTempDir(t.TempDir()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	pcm := audio.Silence(f, 300)
	for i := 0; i+1 < len(pcm); i += 2 {
		pcm[i+1] = 0x20 // 8192, about -12 dBFS
	}
	frag := audio.EncodeWAV(audio.Clip{Format: f, PCM: pcm})

	out, err := tk.ConcatWithSilence(ctx, [][]byte{nil, frag}, []int{200, 500})
	if err != nil {
		t.Fatalf("ConcatWithSilence: %v", err)
	}
	ms, err := tk.MeasureDurationMs(ctx, out)
	if err != nil {
		t.Fatalf("MeasureDurationMs: %v", err)
	}
	if ms < 990 || ms > 1010 {
		t.Errorf("duration = %d, want ≈ 1000", ms)
	}

	peak, err := tk.PeakLevelDB(ctx, out)
	if err != nil {
		t.Fatalf("PeakLevelDB: %v", err)
	}
	if peak < -13 || peak > -11 {
		t.Errorf("peak = %v, want ≈ -12", peak)
	}

}
