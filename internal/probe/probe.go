// Package probe shells out to ffprobe/ffmpeg for the video operations
// the core cannot do natively: structural metadata, frame grabs for
// thumbnails, and preview proxy transcodes. Every function degrades to
// an error the caller can treat as per-file or per-job, never fatal.
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
)

type Result struct {
	DurationSecs float64
	Width        int
	Height       int
	VideoCodec   string
	AudioCodec   string
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func Probe(ctx context.Context, filePath string) (*Result, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		filePath,
	)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe: %w", err)
	}

	var parsed ffprobeOutput
	if err := json.Unmarshal(output, &parsed); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}

	result := &Result{}
	if parsed.Format.Duration != "" {
		result.DurationSecs, _ = strconv.ParseFloat(parsed.Format.Duration, 64)
	}
	for _, s := range parsed.Streams {
		switch s.CodecType {
		case "video":
			result.VideoCodec = s.CodecName
			result.Width = s.Width
			result.Height = s.Height
		case "audio":
			result.AudioCodec = s.CodecName
		}
	}
	return result, nil
}

// ExtractVideoFrame grabs one scaled frame for thumbnailing.
func ExtractVideoFrame(ctx context.Context, inputPath, outputPath string, seekSecs float64) error {
	if seekSecs < 0.1 {
		seekSecs = 1
	}
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-ss", fmt.Sprintf("%.2f", seekSecs),
		"-i", inputPath,
		"-vframes", "1",
		"-vf", "scale=400:-1",
		"-q:v", "3",
		"-y",
		outputPath,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg frame grab: %w\n%s", err, string(out))
	}
	return nil
}

// Transcoder produces a browseable preview proxy from an archival
// video. CPU-heavy work runs in whatever process pool the
// implementation chooses; the core only sees the result path or error.
type Transcoder interface {
	TranscodeProxy(ctx context.Context, inputPath, outputPath string) error
}

// FFmpegTranscoder runs ffmpeg in a subprocess.
type FFmpegTranscoder struct{}

func (FFmpegTranscoder) TranscodeProxy(ctx context.Context, inputPath, outputPath string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", inputPath,
		"-vf", "scale='min(1280,iw)':-2",
		"-c:v", "libx264",
		"-crf", "26",
		"-preset", "fast",
		"-movflags", "+faststart",
		"-c:a", "aac",
		"-b:a", "128k",
		"-y",
		outputPath,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg proxy: %w\noutput: %s", err, string(out))
	}
	return nil
}
