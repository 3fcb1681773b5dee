package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/rewind/internal/capture"
	"github.com/felixgeelhaar/rewind/internal/config"
	"github.com/felixgeelhaar/rewind/internal/observe"
	"github.com/felixgeelhaar/rewind/internal/ocr"
	"github.com/felixgeelhaar/rewind/internal/plugin"
	"github.com/felixgeelhaar/rewind/internal/runtime"
	"github.com/felixgeelhaar/rewind/internal/store"
	"github.com/felixgeelhaar/rewind/internal/ui/tui"
)

var (
	configPath  string
	homeDir     string
	verbose     bool
	jsonOutput  bool
	interactive bool
	listenAddr  string
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "rewind",
	Short: "Remembers what was on your screen a moment ago",
	Long: `Rewind reads the screen a few times a second, keeps the last minute of
text in memory and asks a language model what you are doing and which
codes, links and numbers are worth remembering. Nothing is written to disk.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Watch the screen until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSession(cmd.Context())
	},
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default ~/.rewind/config.yaml)")
	RootCmd.PersistentFlags().StringVar(&homeDir, "home", "", "Directory for settings and credentials (default ~/.rewind)")

	RootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	runCmd.Flags().BoolVar(&jsonOutput, "json", false, "Log as JSON")
	runCmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Start interactive TUI")
	runCmd.Flags().StringVar(&listenAddr, "listen", "", "Query server address, or \"off\" (default from config)")
}

func runSession(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if verbose {
		cfg.Log.Verbose = true
	}
	if jsonOutput {
		cfg.Log.JSON = true
	}
	switch listenAddr {
	case "":
	case "off":
		cfg.Query.Listen = ""
	default:
		cfg.Query.Listen = listenAddr
	}

	// The TUI owns stdout, so logs go to stderr.
	logOut := os.Stdout
	if interactive {
		logOut = os.Stderr
	}
	obs := observe.NewForFile(logOut, cfg.Log.Verbose, cfg.Log.JSON)
	defer obs.Close()

	s, err := getStore()
	if err != nil {
		return err
	}
	defer s.Close()

	comps, cleanup, err := buildComponents(cfg, s, obs)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !interactive {
		runner := NewRunner(obs, cfg, comps, nil)
		sum, err := runner.Run(ctx)
		if err != nil {
			return err
		}
		return printSummary(sum)
	}

	runner := NewRunner(obs, cfg, comps, nil)
	rt, err := runner.Build()
	if err != nil {
		return err
	}
	model := tui.NewModel("rewind", rt.Surface(), 0, cfg.Retention())
	program := tea.NewProgram(model, tea.WithContext(ctx))
	runner.UI = tui.NewTUI(program)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		_, err := runner.RunRuntime(runCtx, rt)
		done <- err
		program.Quit()
	}()

	_, uiErr := program.Run()
	cancel()
	if err := <-done; err != nil {
		return err
	}
	if uiErr != nil && !errors.Is(uiErr, tea.ErrProgramKilled) {
		return fmt.Errorf("tui: %w", uiErr)
	}
	return nil
}

// buildComponents resolves provider keys and creates the grabber, the
// extraction engine and the analysis backends. cleanup releases whatever
// was started.
func buildComponents(cfg *config.Config, s store.Storage, obs *observe.Observer) (runtime.Components, func(), error) {
	noop := func() {}

	if err := cfg.ResolveKeys(s); err != nil {
		return runtime.Components{}, noop, err
	}
	fillCLICommands(cfg, s, exec.LookPath)
	usable, skipped, err := cfg.UsableProviders()
	for _, note := range skipped {
		obs.Log().Warn().Str("provider", note).Msg("skipping analysis provider")
	}
	if err != nil {
		return runtime.Components{}, noop, err
	}
	backends, err := runtime.BackendsFromConfig(usable)
	if err != nil {
		return runtime.Components{}, noop, err
	}

	grabber, err := capture.NewCommandGrabber(cfg.Capture.Command)
	if err != nil {
		return runtime.Components{}, noop, err
	}

	var engine ocr.Engine
	switch cfg.OCR.Engine {
	case "tesseract":
		engine = ocr.NewTesseractEngine(cfg.OCR.Languages)
	case "plugin":
		level := hclog.Warn
		if cfg.Log.Verbose {
			level = hclog.Debug
		}
		pe, err := plugin.Launch(cfg.OCR.PluginPath, hclog.New(&hclog.LoggerOptions{
			Name:   "ocr-plugin",
			Level:  level,
			Output: os.Stderr,
		}))
		if err != nil {
			return runtime.Components{}, noop, err
		}
		engine = pe
		noop = func() { _ = pe.Close() }
	default:
		return runtime.Components{}, noop, fmt.Errorf("unknown ocr engine %q", cfg.OCR.Engine)
	}

	return runtime.Components{
		Grabber:  grabber,
		Engine:   engine,
		Backends: backends,
	}, noop, nil
}

// cliTools are probed in order when a cli provider names no command.
var cliTools = []string{"llm", "claude", "gemini", "codex"}

// fillCLICommands gives cli providers without a command the stored
// provider.cli.path, or the first known tool on PATH.
func fillCLICommands(cfg *config.Config, s store.Storage, lookPath func(string) (string, error)) {
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if p.Type != config.TypeCLI || strings.TrimSpace(p.Command) != "" {
			continue
		}
		if s != nil {
			if v, _ := s.GetConfig("provider.cli.path"); v != "" {
				p.Command = v
				continue
			}
		}
		for _, t := range cliTools {
			if path, err := lookPath(t); err == nil {
				p.Command = path
				break
			}
		}
	}
}

func printSummary(sum runtime.Summary) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(sum)
}
