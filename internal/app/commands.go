package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"agentmon/internal/monitor"
	"agentmon/internal/transport/telegram/router"
	"agentmon/pkg/tgui"
)

// chatCommands is the command set served over Telegram when
// telegram.commands.enabled is set.
func (a *App) chatCommands() []router.Command {
	return []router.Command{
		{
			Name:        "report",
			Aliases:     []string{"latest"},
			Description: "show the latest report",
			Usage:       "/report",
			Handle:      a.cmdReport,
		},
		{
			Name:        "run",
			Aliases:     []string{"trigger"},
			Description: "start a report run now",
			Usage:       "/run",
			Access:      router.AccessOwnerOnly,
			Timeout:     5 * time.Second,
			Handle:      a.cmdRun,
		},
		{
			Name:        "status",
			Description: "loop and source status",
			Usage:       "/status",
			Timeout:     5 * time.Second,
			Handle:      a.cmdStatus,
		},
	}
}

func (a *App) cmdReport(ctx context.Context, req *router.Request) error {
	rep, ok := a.mon.Latest()
	if !ok {
		return req.Reply(ctx, "No report yet. Use /run to generate one.")
	}
	for _, chunk := range a.tgExport.Render(rep) {
		if err := req.Reply(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) cmdRun(ctx context.Context, req *router.Request) error {
	switch a.mon.Trigger() {
	case monitor.TriggerStarted:
		req.Logger.Info("report run triggered from chat")
		return req.Reply(ctx, "Report run started. Use /report when it completes.")
	default:
		return req.Reply(ctx, "A report run is already in progress.")
	}
}

func (a *App) cmdStatus(ctx context.Context, req *router.Request) error {
	return req.Reply(ctx, a.statusText())
}

func (a *App) statusText() string {
	lines := []string{
		tgui.B("agentmon status").String(),
		"Loop: " + onOff(a.mon.LoopActive(), "active", "stopped"),
		"Tick: " + onOff(a.mon.Running(), "running", "idle"),
	}
	rep, ok := a.mon.Latest()
	if !ok {
		lines = append(lines, "Last report: none")
		return strings.Join(lines, "\n")
	}
	lines = append(lines, fmt.Sprintf("Last report: %s (%s ago)",
		tgui.Code(rep.GeneratedAt.UTC().Format("2006-01-02 15:04:05 UTC")),
		time.Since(rep.GeneratedAt).Truncate(time.Second)))
	if rep.Fallback {
		lines = append(lines, "Analyzer: fallback summary")
	}
	for _, s := range rep.Sources {
		lines = append(lines, "• "+tgui.Esc(s.Name).String()+": "+onOff(!s.Failed, "ok", "failed"))
	}
	return strings.Join(lines, "\n")
}

func onOff(b bool, yes, no string) string {
	if b {
		return yes
	}
	return no
}
