// Package ffmpeg implements audio.Toolkit by shelling out to ffmpeg and
// ffprobe. It handles any container ffmpeg can read and writes either WAV or
// MP3 depending on the configured extension.
//
// Every operation is a single ffmpeg invocation over temporary files; the
// filter graphs are built by pure functions so they can be tested without the
// binaries installed.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/MrWong99/lingocast/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Toolkit = (*Toolkit)(nil)

// Option is a functional option for configuring a Toolkit.
type Option func(*Toolkit)

// WithBinaries overrides the ffmpeg and ffprobe executables. Empty values keep
// the defaults ("ffmpeg", "ffprobe" resolved via PATH).
func WithBinaries(ffmpegPath, ffprobePath string) Option {
	return func(t *Toolkit) {
		if ffmpegPath != "" {
			t.ffmpeg = ffmpegPath
		}
		if ffprobePath != "" {
			t.ffprobe = ffprobePath
		}
	}
}

// WithFormat sets the sample rate and channel layout of produced clips.
func WithFormat(f audio.Format) Option {
	return func(t *Toolkit) { t.format = f }
}

// WithExtension selects the output container: ".wav" (default) or ".mp3".
func WithExtension(ext string) Option {
	return func(t *Toolkit) { t.ext = ext }
}

// WithTempDir sets the directory used for intermediate files.
func WithTempDir(dir string) Option {
	return func(t *Toolkit) { t.tempDir = dir }
}

// Toolkit is an audio.Toolkit backed by the ffmpeg command-line tools.
// It is safe for concurrent use; every call works in its own temp directory.
type Toolkit struct {
	ffmpeg  string
	ffprobe string
	format  audio.Format
	ext     string
	tempDir string

	// run executes a command and returns stdout and stderr. Replaced in tests.
	run func(ctx context.Context, name string, args ...string) ([]byte, []byte, error)
}

// New creates a Toolkit.
func New(opts ...Option) (*Toolkit, error) {
	t := &Toolkit{
		ffmpeg:  "ffmpeg",
		ffprobe: "ffprobe",
		format:  audio.Format{SampleRate: 24000, Channels: 1},
		ext:     ".wav",
		run:     runCommand,
	}
	for _, o := range opts {
		o(t)
	}
	if !t.format.Valid() {
		return nil, fmt.Errorf("ffmpeg: invalid output format %s", t.format)
	}
	if _, ok := codecs[t.ext]; !ok {
		return nil, fmt.Errorf("ffmpeg: unsupported output extension %q", t.ext)
	}
	return t, nil
}

// codecs maps output extensions to ffmpeg encoder arguments.
var codecs = map[string][]string{
	".wav": {"-c:a", "pcm_s16le"},
	".mp3": {"-c:a", "libmp3lame", "-q:a", "2"},
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// Extension implements audio.Toolkit.
func (t *Toolkit) Extension() string { return t.ext }

// MeasureDurationMs implements audio.Toolkit using ffprobe's container duration.
func (t *Toolkit) MeasureDurationMs(ctx context.Context, clip []byte) (int, error) {
	var ms int
	err := t.withWorkdir(func(dir string) error {
		in, err := writeInput(dir, 0, clip)
		if err != nil {
			return err
		}
		stdout, stderr, err := t.run(ctx, t.ffprobe,
			"-v", "error",
			"-show_entries", "format=duration",
			"-of", "default=noprint_wrappers=1:nokey=1",
			in,
		)
		if err != nil {
			return fmt.Errorf("ffprobe: %w (stderr: %s)", err, strings.TrimSpace(string(stderr)))
		}
		ms, err = parseDurationMs(stdout)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("ffmpeg: measure duration: %w", err)
	}
	return ms, nil
}

// ConcatWithSilence implements audio.Toolkit with one concat filter graph.
func (t *Toolkit) ConcatWithSilence(ctx context.Context, fragments [][]byte, pausesMs []int) ([]byte, error) {
	if err := audio.CheckConcatArgs(fragments, pausesMs); err != nil {
		return nil, fmt.Errorf("ffmpeg: concat: %w", err)
	}
	var out []byte
	err := t.withWorkdir(func(dir string) error {
		var args []string
		present := make([]bool, len(fragments))
		n := 0
		for i, frag := range fragments {
			if len(frag) == 0 {
				continue
			}
			in, err := writeInput(dir, n, frag)
			if err != nil {
				return err
			}
			args = append(args, "-i", in)
			present[i] = true
			n++
		}
		graph := concatFilter(t.format, present, pausesMs)
		if graph == "" {
			graph = fmt.Sprintf("anullsrc=r=%d:cl=%s,atrim=duration=0[out]", t.format.SampleRate, layout(t.format))
		}
		args = append(args, "-filter_complex", graph, "-map", "[out]")
		var err error
		out, err = t.render(ctx, dir, args)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: concat: %w", err)
	}
	return out, nil
}

// MixWithDelays implements audio.Toolkit with one adelay/amix filter graph.
func (t *Toolkit) MixWithDelays(ctx context.Context, base []byte, overlays []audio.Overlay) ([]byte, error) {
	var out []byte
	err := t.withWorkdir(func(dir string) error {
		in, err := writeInput(dir, 0, base)
		if err != nil {
			return err
		}
		args := []string{"-i", in}
		delays := make([]int, len(overlays))
		for i, o := range overlays {
			if o.DelayMs < 0 {
				return fmt.Errorf("overlay %d: negative delay %d ms", i, o.DelayMs)
			}
			in, err := writeInput(dir, i+1, o.Audio)
			if err != nil {
				return err
			}
			args = append(args, "-i", in)
			delays[i] = o.DelayMs
		}
		args = append(args, "-filter_complex", mixFilter(delays), "-map", "[out]")
		out, err = t.render(ctx, dir, args)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: mix: %w", err)
	}
	return out, nil
}

// PeakLevelDB implements audio.Toolkit using the volumedetect filter.
func (t *Toolkit) PeakLevelDB(ctx context.Context, clip []byte) (float64, error) {
	var db float64
	err := t.withWorkdir(func(dir string) error {
		in, err := writeInput(dir, 0, clip)
		if err != nil {
			return err
		}
		_, stderr, err := t.run(ctx, t.ffmpeg, "-hide_banner", "-nostats", "-i", in, "-af", "volumedetect", "-f", "null", "-")
		if err != nil {
			return fmt.Errorf("volumedetect: %w (stderr: %s)", err, lastLine(stderr))
		}
		db, err = parseMaxVolume(stderr)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("ffmpeg: peak level: %w", err)
	}
	return db, nil
}

// render runs ffmpeg with args plus the output encoding and returns the
// produced file.
func (t *Toolkit) render(ctx context.Context, dir string, args []string) ([]byte, error) {
	outPath := filepath.Join(dir, "out"+t.ext)
	full := append([]string{"-hide_banner", "-loglevel", "error", "-y"}, args...)
	full = append(full, "-ar", strconv.Itoa(t.format.SampleRate), "-ac", strconv.Itoa(t.format.Channels))
	full = append(full, codecs[t.ext]...)
	full = append(full, outPath)
	if _, stderr, err := t.run(ctx, t.ffmpeg, full...); err != nil {
		return nil, fmt.Errorf("ffmpeg: %w (stderr: %s)", err, lastLine(stderr))
	}
	return os.ReadFile(outPath)
}

func (t *Toolkit) withWorkdir(fn func(dir string) error) error {
	dir, err := os.MkdirTemp(t.tempDir, "lingocast-ffmpeg-*")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)
	return fn(dir)
}

func writeInput(dir string, i int, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("input %d is empty", i)
	}
	p := filepath.Join(dir, fmt.Sprintf("in%03d", i))
	if err := os.WriteFile(p, data, 0o600); err != nil {
		return "", fmt.Errorf("write input %d: %w", i, err)
	}
	return p, nil
}

func layout(f audio.Format) string {
	if f.Channels == 2 {
		return "stereo"
	}
	return "mono"
}

// concatFilter builds a filter graph that normalises every present fragment
// to f, follows each slot with its pause rendered from anullsrc, and joins all
// pieces with one concat filter labelled [out]. present[i] says whether slot i
// has an input file; input numbering skips absent slots.
func concatFilter(f audio.Format, present []bool, pausesMs []int) string {
	norm := fmt.Sprintf("aresample=%d,aformat=sample_fmts=s16:channel_layouts=%s", f.SampleRate, layout(f))
	var (
		chains []string
		labels []string
		input  int
	)
	for i := range present {
		if present[i] {
			label := fmt.Sprintf("[f%d]", i)
			chains = append(chains, fmt.Sprintf("[%d:a]%s%s", input, norm, label))
			labels = append(labels, label)
			input++
		}
		if pausesMs[i] > 0 {
			label := fmt.Sprintf("[s%d]", i)
			chains = append(chains, fmt.Sprintf("anullsrc=r=%d:cl=%s,atrim=duration=%s%s",
				f.SampleRate, layout(f), seconds(pausesMs[i]), label))
			labels = append(labels, label)
		}
	}
	if len(labels) == 0 {
		return ""
	}
	chains = append(chains, fmt.Sprintf("%sconcat=n=%d:v=0:a=1[out]", strings.Join(labels, ""), len(labels)))
	return strings.Join(chains, ";")
}

// mixFilter builds a filter graph delaying input i+1 by delays[i] ms and
// summing all inputs (including the undelayed input 0) into [out]. With no
// delays input 0 passes through unchanged.
func mixFilter(delays []int) string {
	if len(delays) == 0 {
		return "[0:a]anull[out]"
	}
	var (
		chains []string
		labels = []string{"[0:a]"}
	)
	for i, d := range delays {
		label := fmt.Sprintf("[d%d]", i+1)
		chains = append(chains, fmt.Sprintf("[%d:a]adelay=delays=%d:all=1%s", i+1, d, label))
		labels = append(labels, label)
	}
	chains = append(chains, fmt.Sprintf("%samix=inputs=%d:duration=longest:dropout_transition=0:normalize=0[out]",
		strings.Join(labels, ""), len(labels)))
	return strings.Join(chains, ";")
}

func seconds(ms int) string {
	return strconv.FormatFloat(float64(ms)/1000, 'f', 3, 64)
}

// parseDurationMs parses ffprobe's bare duration output ("12.345000").
func parseDurationMs(out []byte) (int, error) {
	s := strings.TrimSpace(string(out))
	if s == "" || s == "N/A" {
		return 0, errors.New("ffprobe reported no duration")
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", s, err)
	}
	return int(math.Round(secs * 1000)), nil
}

var maxVolumeRe = regexp.MustCompile(`max_volume:\s*(-?inf|-?[0-9.]+)\s*dB`)

// parseMaxVolume extracts the max_volume reading printed by volumedetect.
func parseMaxVolume(stderr []byte) (float64, error) {
	m := maxVolumeRe.FindSubmatch(stderr)
	if m == nil {
		return 0, errors.New("volumedetect printed no max_volume")
	}
	switch v := string(m[1]); v {
	case "-inf", "inf":
		return math.Inf(-1), nil
	default:
		return strconv.ParseFloat(v, 64)
	}
}

func lastLine(b []byte) string {
	s := strings.TrimSpace(string(b))
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
