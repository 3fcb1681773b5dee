package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"os/exec"
	"runtime"
	"time"

	"golang.org/x/image/draw"
)

// Frame is one sampled screen image.
type Frame struct {
	Image      image.Image
	Width      int
	Height     int
	CapturedAt time.Time
	Seq        uint64
}

// Grabber samples the primary display.
type Grabber interface {
	Grab(ctx context.Context) (image.Image, error)
}

// ErrNoCaptureCommand is returned when no screenshot tool is configured and
// none is known for this platform.
var ErrNoCaptureCommand = errors.New("no screen capture command available")

// CommandGrabber runs an external screenshot tool that writes a PNG or JPEG
// image to stdout.
type CommandGrabber struct {
	Command []string
}

// NewCommandGrabber returns a grabber for command, or the platform default
// when command is empty.
func NewCommandGrabber(command []string) (*CommandGrabber, error) {
	if len(command) == 0 {
		command = DefaultCommand(runtime.GOOS, os.Getenv)
	}
	if len(command) == 0 {
		return nil, ErrNoCaptureCommand
	}
	return &CommandGrabber{Command: command}, nil
}

// DefaultCommand returns the screenshot command for goos, consulting the
// environment to tell Wayland from X11.
func DefaultCommand(goos string, getenv func(string) string) []string {
	switch goos {
	case "darwin":
		return []string{"screencapture", "-x", "-t", "png", "/dev/stdout"}
	case "linux", "freebsd", "openbsd":
		if getenv("WAYLAND_DISPLAY") != "" {
			return []string{"grim", "-"}
		}
		if getenv("DISPLAY") != "" {
			return []string{"import", "-silent", "-window", "root", "png:-"}
		}
	}
	return nil
}

func (g *CommandGrabber) Grab(ctx context.Context) (image.Image, error) {
	cmd := exec.CommandContext(ctx, g.Command[0], g.Command[1:]...) // #nosec G204
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s failed: %w: %s", g.Command[0], err, bytes.TrimSpace(stderr.Bytes()))
	}
	img, _, err := image.Decode(&stdout)
	if err != nil {
		return nil, fmt.Errorf("failed to decode screenshot: %w", err)
	}
	return img, nil
}

// Downscale shrinks img so neither side exceeds maxDim, preserving aspect
// ratio. Images already within bounds, or maxDim <= 0, are returned as-is.
func Downscale(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return img
	}

	var nw, nh int
	if w >= h {
		nw = maxDim
		nh = h * maxDim / w
	} else {
		nh = maxDim
		nw = w * maxDim / h
	}
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}
