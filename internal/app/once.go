package app

import (
	"context"
	"errors"

	"agentmon/internal/monitor"
)

var ErrNoReport = errors.New("tick produced no report")

// RunOnce runs a single tick without starting the loop. Exporters run only
// when export is true.
func (a *App) RunOnce(ctx context.Context, export bool) (monitor.Report, error) {
	mon := a.mon
	if !export {
		deps := a.deps
		deps.Exporters = nil
		mon = monitor.New(a.mon.Config(), deps)
	}
	if err := mon.Tick(ctx, "once"); err != nil {
		return monitor.Report{}, err
	}
	rep, ok := mon.Latest()
	if !ok {
		return monitor.Report{}, ErrNoReport
	}
	return rep, nil
}
