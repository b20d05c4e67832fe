package caption

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"strings"
)

// Command captions images with an external program. The program receives
// the path of a PNG rendering as its last argument and prints the caption
// on stdout.
type Command struct {
	name string
	args []string
}

func NewCommand(commandLine string) (*Command, error) {
	fields := strings.Fields(commandLine)
	if len(fields) == 0 {
		return nil, fmt.Errorf("caption command is required")
	}
	path, err := exec.LookPath(fields[0])
	if err != nil {
		return nil, fmt.Errorf("caption command %q: %w", fields[0], err)
	}
	return &Command{name: path, args: fields[1:]}, nil
}

func (c *Command) Caption(ctx context.Context, img image.Image) (string, error) {
	tmp, err := os.CreateTemp("", "caption-*.png")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	if err := png.Encode(tmp, img); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("encode image for captioning: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	args := append(append([]string{}, c.args...), tmp.Name())
	cmd := exec.CommandContext(ctx, c.name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("caption command failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	text := strings.TrimSpace(string(out))
	if text == "" {
		return "", fmt.Errorf("caption command printed nothing")
	}
	return text, nil
}
