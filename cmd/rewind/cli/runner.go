package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/felixgeelhaar/rewind/internal/config"
	"github.com/felixgeelhaar/rewind/internal/observe"
	"github.com/felixgeelhaar/rewind/internal/runtime"
	"github.com/felixgeelhaar/rewind/internal/ui"
)

type Runner struct {
	Observer   *observe.Observer
	Config     *config.Config
	Components runtime.Components
	UI         ui.UI
}

func NewRunner(obs *observe.Observer, cfg *config.Config, comps runtime.Components, u ui.UI) *Runner {
	if u == nil {
		u = ui.SilentUI{}
	}
	return &Runner{
		Observer:   obs,
		Config:     cfg,
		Components: comps,
		UI:         u,
	}
}

// Build creates the pipeline without starting it.
func (r *Runner) Build() (*runtime.Runtime, error) {
	rt, err := runtime.New(r.Config, r.Components, r.Observer)
	if err != nil {
		r.Observer.Log().Error().Err(err).Msg("Failed to build pipeline")
		return nil, err
	}
	return rt, nil
}

// Run builds the pipeline and runs it until ctx is done.
func (r *Runner) Run(ctx context.Context) (runtime.Summary, error) {
	rt, err := r.Build()
	if err != nil {
		return runtime.Summary{}, err
	}
	return r.RunRuntime(ctx, rt)
}

// RunRuntime runs an already built pipeline, reporting its events to the UI.
func (r *Runner) RunRuntime(ctx context.Context, rt *runtime.Runtime) (runtime.Summary, error) {
	r.UI.UpdateStatus("Starting rewind...")
	r.Observer.Log().Info().Str("providers", rt.Analyzer().String()).Msg("rewind: screen context assistant (initialized)")

	rt.Bus().SubscribeAll(func(e runtime.Event) {
		r.UI.Log(describeEvent(e))
	})

	r.UI.UpdateStatus("Watching the screen")
	if err := rt.Run(ctx); err != nil {
		r.UI.UpdateStatus("Stopped with error")
		r.Observer.Log().Error().Err(err).Msg("Pipeline failed")
		return rt.Summary(), err
	}

	r.UI.UpdateStatus("Stopped")
	return rt.Summary(), nil
}

// describeEvent renders an event as one log line.
func describeEvent(e runtime.Event) string {
	var b strings.Builder
	b.WriteString(e.Timestamp.Format("15:04:05"))
	b.WriteString(" ")
	b.WriteString(string(e.Type))
	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.Data[k])
	}
	return b.String()
}
