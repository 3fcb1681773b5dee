// Package plugin runs text extraction engines out of process over gRPC.
package plugin

import (
	"context"
	"fmt"
	"image"
	"os"
	"os/exec"

	"github.com/hashicorp/go-hclog"
	hcplugin "github.com/hashicorp/go-plugin"

	"github.com/felixgeelhaar/rewind/internal/ocr"
)

// HandshakeConfig is used to handshake between host and plugin.
var HandshakeConfig = hcplugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "REWIND_PLUGIN_MAGIC_COOKIE",
	MagicCookieValue: "rewind-ocr",
}

// PluginName is the name the OCR engine is dispensed under.
const PluginName = "ocr"

// PluginMap is the map of plugins we can dispense.
var PluginMap = map[string]hcplugin.Plugin{
	PluginName: &OCRGRPCPlugin{},
}

// Engine is an ocr.Engine living in a plugin process.
type Engine struct {
	remote *OCRGRPCClient
	client *hcplugin.Client
}

// Launch starts the plugin binary at path and connects to its engine.
func Launch(path string, logger hclog.Logger) (*Engine, error) {
	if logger == nil {
		logger = hclog.New(&hclog.LoggerOptions{
			Name:   "ocr-plugin",
			Level:  hclog.Warn,
			Output: os.Stderr,
		})
	}
	client := hcplugin.NewClient(&hcplugin.ClientConfig{
		HandshakeConfig:  HandshakeConfig,
		Plugins:          PluginMap,
		Cmd:              exec.Command(path),
		AllowedProtocols: []hcplugin.Protocol{hcplugin.ProtocolGRPC},
		Logger:           logger,
	})

	rpcClient, err := client.Client()
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("failed to start ocr plugin %s: %w", path, err)
	}
	raw, err := rpcClient.Dispense(PluginName)
	if err != nil {
		client.Kill()
		return nil, fmt.Errorf("failed to dispense ocr plugin: %w", err)
	}
	remote, ok := raw.(*OCRGRPCClient)
	if !ok {
		client.Kill()
		return nil, fmt.Errorf("ocr plugin returned unexpected type %T", raw)
	}
	return &Engine{remote: remote, client: client}, nil
}

func (e *Engine) Warm(ctx context.Context) error {
	return e.remote.Warm(ctx)
}

func (e *Engine) Extract(ctx context.Context, img image.Image) ([]ocr.Fragment, error) {
	if e.client.Exited() {
		return nil, fmt.Errorf("ocr plugin exited")
	}
	return e.remote.Extract(ctx, img)
}

// Close stops the plugin process.
func (e *Engine) Close() error {
	e.client.Kill()
	return nil
}

// Serve runs impl as a plugin. It is called from the plugin binary's main
// and does not return.
func Serve(impl ocr.Engine, logger hclog.Logger) {
	hcplugin.Serve(&hcplugin.ServeConfig{
		HandshakeConfig: HandshakeConfig,
		Plugins: map[string]hcplugin.Plugin{
			PluginName: &OCRGRPCPlugin{Impl: impl},
		},
		GRPCServer: hcplugin.DefaultGRPCServer,
		Logger:     logger,
	})
}
