package exporters

import (
	"context"
	"testing"

	"agentmon/internal/monitor"
	logx "agentmon/pkg/logx"
)

type stub struct {
	name string
	on   bool
}

func (s stub) Name() string                                 { return s.name }
func (s stub) Configured() bool                             { return s.on }
func (s stub) Export(context.Context, monitor.Report) error { return nil }

func TestConfigured(t *testing.T) {
	t.Parallel()
	got := Configured(logx.Nop(), stub{"telegram", false}, nil, stub{"stdout", true})
	if len(got) != 1 || got[0].Name() != "stdout" {
		t.Fatalf("Configured = %v", got)
	}
}
