// Command rewind-ocr-plugin serves the tesseract engine as a rewind OCR
// plugin. Point ocr.plugin_path at the built binary and set ocr.engine to
// "plugin".
package main

import (
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/felixgeelhaar/rewind/internal/ocr"
	"github.com/felixgeelhaar/rewind/internal/plugin"
)

func main() {
	langs := []string{"eng"}
	if v := os.Getenv("REWIND_OCR_LANGS"); v != "" {
		langs = strings.Split(v, "+")
	}
	logger := hclog.New(&hclog.LoggerOptions{
		Name:       "rewind-ocr-plugin",
		Level:      hclog.LevelFromString(os.Getenv("REWIND_OCR_LOG_LEVEL")),
		Output:     os.Stderr,
		JSONFormat: true,
	})
	plugin.Serve(ocr.NewTesseractEngine(langs), logger)
}
