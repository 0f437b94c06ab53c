package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
)

var ErrUnknownDuration = errors.New("duration could not be determined")

// FFprobe measures media duration with the ffprobe binary
type FFprobe struct {
	path string
}

// NewFFprobe creates a prober using the binary at path
func NewFFprobe(path string) *FFprobe {
	if path == "" {
		path = "ffprobe"
	}
	return &FFprobe{path: path}
}

type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// Probe returns the duration of the file at path in seconds
func (f *FFprobe) Probe(ctx context.Context, path string) (float64, error) {
	args := []string{
		"-v", "error",
		"-print_format", "json",
		"-show_entries", "format=duration",
		path,
	}

	cmd := exec.CommandContext(ctx, f.path, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w, stderr: %s", err, stderr.String())
	}

	var out probeOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return 0, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	seconds, err := strconv.ParseFloat(out.Format.Duration, 64)
	if err != nil || seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return 0, fmt.Errorf("%w: %q", ErrUnknownDuration, out.Format.Duration)
	}
	return seconds, nil
}
