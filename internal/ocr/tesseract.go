package ocr

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"os/exec"
	"strconv"
	"strings"
)

// TesseractEngine runs the tesseract CLI once per frame.
type TesseractEngine struct {
	Binary    string
	Languages []string
	// PSM is the page segmentation mode. Sparse text (11) suits screens.
	PSM int
}

func NewTesseractEngine(languages []string) *TesseractEngine {
	return &TesseractEngine{Binary: "tesseract", Languages: languages, PSM: 11}
}

// Warm checks the binary and runs one recognition on a blank image so the
// language data is loaded from disk before the first real frame.
func (e *TesseractEngine) Warm(ctx context.Context) error {
	if _, err := exec.LookPath(e.Binary); err != nil {
		return fmt.Errorf("tesseract not found: %w", err)
	}
	out, err := exec.CommandContext(ctx, e.Binary, "--version").CombinedOutput() // #nosec G204
	if err != nil {
		return fmt.Errorf("tesseract --version failed: %w: %s", err, bytes.TrimSpace(out))
	}
	if _, err := e.Extract(ctx, image.NewGray(image.Rect(0, 0, 32, 32))); err != nil {
		return fmt.Errorf("tesseract probe failed: %w", err)
	}
	return nil
}

func (e *TesseractEngine) Extract(ctx context.Context, img image.Image) ([]Fragment, error) {
	var in bytes.Buffer
	if err := png.Encode(&in, img); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}

	args := []string{"stdin", "stdout", "--psm", strconv.Itoa(e.PSM)}
	if len(e.Languages) > 0 {
		args = append(args, "-l", strings.Join(e.Languages, "+"))
	}
	args = append(args, "tsv")

	cmd := exec.CommandContext(ctx, e.Binary, args...) // #nosec G204
	cmd.Stdin = &in
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("tesseract failed: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}
	return ParseTSV(&stdout)
}

func (e *TesseractEngine) Close() error { return nil }

// ParseTSV reads tesseract TSV output and returns one fragment per
// recognized word. Confidence is scaled from 0..100 to 0..1.
func ParseTSV(r io.Reader) ([]Fragment, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	var frags []Fragment
	header := true
	for sc.Scan() {
		line := sc.Text()
		if header {
			header = false
			if strings.HasPrefix(line, "level") {
				continue
			}
		}
		cols := strings.Split(line, "\t")
		if len(cols) < 12 || cols[0] != "5" {
			continue
		}
		text := strings.TrimSpace(strings.Join(cols[11:], "\t"))
		if text == "" {
			continue
		}
		conf, err := strconv.ParseFloat(cols[10], 64)
		if err != nil || conf < 0 {
			continue
		}
		var box [4]int
		for i := range box {
			v, err := strconv.Atoi(cols[6+i])
			if err != nil {
				return nil, fmt.Errorf("malformed tsv row %q: %w", line, err)
			}
			box[i] = v
		}
		frags = append(frags, Fragment{
			Text:       text,
			Region:     Region{X: box[0], Y: box[1], W: box[2], H: box[3]},
			Confidence: conf / 100,
		})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read tesseract output: %w", err)
	}
	return frags, nil
}
