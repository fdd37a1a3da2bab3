package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	maxStderrBytes = 8 * 1024 // tail of stderr kept for diagnostics

	segmentVideoCodec = "libx264"
	segmentAudioCodec = "aac"
	segmentCRF        = 23
	segmentPreset     = "veryfast"
	audioSampleRate   = 48000
)

// FFmpegTool runs ffmpeg and ffprobe subprocesses.
type FFmpegTool struct {
	ffmpegPath  string
	ffprobePath string
	stepTimeout time.Duration
	logger      *slog.Logger
}

// NewFFmpegTool resolves the ffmpeg and ffprobe binaries on PATH.
func NewFFmpegTool(stepTimeout time.Duration, logger *slog.Logger) (*FFmpegTool, error) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		return nil, fmt.Errorf("ffprobe not found in PATH: %w", err)
	}
	if stepTimeout <= 0 {
		stepTimeout = 5 * time.Minute
	}
	return &FFmpegTool{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		stepTimeout: stepTimeout,
		logger:      logger,
	}, nil
}

func (t *FFmpegTool) Probe(ctx context.Context, path string) (*ProbeInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, t.stepTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, t.ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe failed: %w", err)
	}

	var probe struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
		Streams []struct {
			CodecType string `json:"codec_type"`
			Width     int    `json:"width"`
			Height    int    `json:"height"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(output, &probe); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}

	info := &ProbeInfo{}
	if dur, err := strconv.ParseFloat(probe.Format.Duration, 64); err == nil {
		info.DurationSeconds = dur
	}
	hasVideo := false
	for _, stream := range probe.Streams {
		switch stream.CodecType {
		case "video":
			hasVideo = true
			info.Width = stream.Width
			info.Height = stream.Height
		case "audio":
			info.HasAudio = true
		}
	}
	if !hasVideo {
		return nil, fmt.Errorf("no decodable video stream in %s", filepath.Base(path))
	}
	return info, nil
}

func (t *FFmpegTool) ExtractSegment(ctx context.Context, src string, start, duration float64, fps int, outPath string) error {
	info, err := t.Probe(ctx, src)
	if err != nil {
		return err
	}
	return t.run(ctx, extractArgs(src, start, duration, fps, info.HasAudio, outPath))
}

func (t *FFmpegTool) Placeholder(ctx context.Context, label string, duration float64, fps int, outPath string) error {
	return t.run(ctx, placeholderArgs(label, duration, fps, outPath))
}

func (t *FFmpegTool) Concat(ctx context.Context, segments []string, outPath string) error {
	if len(segments) == 0 {
		return fmt.Errorf("no segments to concatenate")
	}

	listFile, err := writeConcatList(segments)
	if err != nil {
		return fmt.Errorf("create concat list: %w", err)
	}
	defer os.Remove(listFile)

	return t.run(ctx, concatArgs(listFile, outPath))
}

// run executes ffmpeg with a bounded stderr tail for diagnostics.
func (t *FFmpegTool) run(ctx context.Context, args []string) error {
	ctx, cancel := context.WithTimeout(ctx, t.stepTimeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(ctx, t.ffmpegPath, args...)

	var stderrBuf bytes.Buffer
	cmd.Stderr = &limitedWriter{w: &stderrBuf, limit: maxStderrBytes}
	cmd.Stdout = io.Discard

	t.logger.Debug("executing ffmpeg", "args", args)

	err := cmd.Run()
	elapsed := time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg failed after %s: %w: %s",
			elapsed.Round(time.Millisecond), err, tail(stderrBuf.String(), 512))
	}

	t.logger.Debug("ffmpeg completed", "duration_ms", elapsed.Milliseconds())
	return nil
}

// extractArgs builds the argument list for re-encoding one trim window into
// a normalised segment. Sources without audio get a silent stereo track so
// every segment concatenates cleanly.
func extractArgs(src string, start, duration float64, fps int, hasAudio bool, outPath string) []string {
	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-ss", formatSeconds(start),
		"-t", formatSeconds(duration),
		"-i", src,
	}

	if !hasAudio {
		args = append(args,
			"-f", "lavfi",
			"-t", formatSeconds(duration),
			"-i", fmt.Sprintf("anullsrc=channel_layout=stereo:sample_rate=%d", audioSampleRate),
			"-map", "0:v:0",
			"-map", "1:a:0",
		)
	}

	args = append(args,
		"-r", strconv.Itoa(fps),
		"-c:v", segmentVideoCodec,
		"-crf", strconv.Itoa(segmentCRF),
		"-preset", segmentPreset,
		"-c:a", segmentAudioCodec,
		"-ar", strconv.Itoa(audioSampleRate),
		"-ac", "2",
		outPath,
	)
	return args
}

// placeholderArgs builds a deterministic substitute segment: dark background
// with the clip label drawn centred.
func placeholderArgs(label string, duration float64, fps int, outPath string) []string {
	drawtext := fmt.Sprintf(
		"drawtext=text='%s':fontcolor=white:fontsize=48:x=(w-text_w)/2:y=(h-text_h)/2",
		escapeDrawtext(label),
	)
	return []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-f", "lavfi",
		"-i", fmt.Sprintf("color=c=0x202020:s=1280x720:r=%d:d=%s", fps, formatSeconds(duration)),
		"-f", "lavfi",
		"-t", formatSeconds(duration),
		"-i", fmt.Sprintf("anullsrc=channel_layout=stereo:sample_rate=%d", audioSampleRate),
		"-vf", drawtext,
		"-c:v", segmentVideoCodec,
		"-crf", strconv.Itoa(segmentCRF),
		"-preset", segmentPreset,
		"-c:a", segmentAudioCodec,
		"-shortest",
		outPath,
	}
}

func concatArgs(listFile, outPath string) []string {
	// Segments are uniformly encoded, so stream copy is safe and fast.
	return []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-f", "concat",
		"-safe", "0",
		"-i", listFile,
		"-c", "copy",
		outPath,
	}
}

func writeConcatList(segments []string) (string, error) {
	tmp, err := os.CreateTemp("", "cutroom-concat-*.txt")
	if err != nil {
		return "", err
	}
	defer tmp.Close()

	for _, seg := range segments {
		abs, err := filepath.Abs(seg)
		if err != nil {
			os.Remove(tmp.Name())
			return "", err
		}
		if _, err := fmt.Fprintf(tmp, "file '%s'\n", abs); err != nil {
			os.Remove(tmp.Name())
			return "", err
		}
	}
	return tmp.Name(), nil
}

// escapeDrawtext escapes the characters ffmpeg's drawtext filter treats
// specially inside a single-quoted text value.
func escapeDrawtext(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\\'`, `:`, `\:`, `%`, `\%`)
	return r.Replace(s)
}

func formatSeconds(s float64) string {
	return strconv.FormatFloat(s, 'f', 3, 64)
}

func tail(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return "..." + s[len(s)-maxLen:]
}

// limitedWriter keeps only the last `limit` bytes written.
type limitedWriter struct {
	w     *bytes.Buffer
	limit int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	lw.w.Write(p)
	if lw.w.Len() > lw.limit {
		b := lw.w.Bytes()
		lw.w.Reset()
		lw.w.Write(b[len(b)-lw.limit:])
	}
	return n, nil
}
