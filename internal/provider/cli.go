package provider

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// CLIProvider runs a local LLM command line tool (llm, llamafile, ...)
// with the prompt as its final argument and reads the answer from stdout.
type CLIProvider struct {
	binaryPath string
	args       []string
	name       string
}

func NewCLIProvider(binaryPath string, args []string) (*CLIProvider, error) {
	if binaryPath == "" {
		return nil, fmt.Errorf("binary path is required for CLI provider")
	}
	return &CLIProvider{
		binaryPath: binaryPath,
		args:       args,
		name:       "cli-" + binaryPath,
	}, nil
}

func (p *CLIProvider) Name() string {
	return p.name
}

func (p *CLIProvider) Chat(ctx context.Context, messages []Message) (*Response, error) {
	var parts []string
	for _, m := range messages {
		parts = append(parts, m.Content)
	}
	prompt := strings.Join(parts, "\n\n")

	fullArgs := append(append([]string(nil), p.args...), prompt)
	cmd := exec.CommandContext(ctx, p.binaryPath, fullArgs...) // #nosec G204

	var stderr strings.Builder
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s: %w", p.name, ErrTimeout)
		}
		return nil, fmt.Errorf("%s failed: %w: %s", p.name, err, strings.TrimSpace(stderr.String()))
	}

	result := string(output)
	return &Response{
		Content: result,
		Usage: Usage{
			TotalTokens: len(strings.Fields(result)),
		},
	}, nil
}
