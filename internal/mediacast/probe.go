package mediacast

import (
	"context"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// AudioProber reports whether a media file carries an audio stream. A nil
// result error means the answer is authoritative; any error is resolved by
// the caller to "has audio".
type AudioProber interface {
	HasAudio(ctx context.Context, path string) (bool, error)
}

// FFProbe shells out to ffprobe and inspects its stdout for audio stream
// codec names. Empty output means no audio stream.
type FFProbe struct {
	Binary  string        // defaults to "ffprobe"
	Timeout time.Duration // defaults to 10s
	Logger  *slog.Logger
}

func (p *FFProbe) HasAudio(ctx context.Context, path string) (bool, error) {
	binary := p.Binary
	if binary == "" {
		binary = "ffprobe"
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, binary,
		"-v", "error",
		"-select_streams", "a",
		"-show_entries", "stream=codec_name",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		p.logger().Error("audio probe failed", "path", path, "error", err)
		return false, err
	}
	return strings.TrimSpace(string(output)) != "", nil
}

func (p *FFProbe) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}
