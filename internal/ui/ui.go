// Package ui defines how the pipeline reports progress to whoever is
// watching it.
package ui

type UI interface {
	UpdateStatus(status string)
	Log(msg string)
}

type SilentUI struct{}

func (s SilentUI) UpdateStatus(status string) {}
func (s SilentUI) Log(msg string)             {}
