//go:build linux

package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/dbus"
)

type dbusConn struct{ c *dbus.Conn }

func dialSystem(ctx context.Context) (conn, error) {
	c, err := dbus.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, err
	}
	return dbusConn{c: c}, nil
}

func (d dbusConn) ListUnits(ctx context.Context, patterns []string) ([]UnitState, error) {
	units, err := d.c.ListUnitsByPatternsContext(ctx, nil, patterns)
	if err != nil {
		return nil, err
	}
	return toStates(units), nil
}

func (d dbusConn) ListFailed(ctx context.Context) ([]UnitState, error) {
	units, err := d.c.ListUnitsByPatternsContext(ctx, []string{"failed"}, nil)
	if err != nil {
		return nil, err
	}
	return toStates(units), nil
}

func (d dbusConn) StateChange(ctx context.Context, unit string) (time.Time, error) {
	props, err := d.c.GetUnitPropertiesContext(ctx, unit)
	if err != nil {
		return time.Time{}, err
	}
	// systemd timestamps are microseconds since the Unix epoch.
	if ts, ok := props["StateChangeTimestamp"].(uint64); ok && ts > 0 {
		return time.UnixMicro(int64(ts)), nil
	}
	return time.Time{}, nil
}

func (d dbusConn) Close() { d.c.Close() }

func toStates(units []dbus.UnitStatus) []UnitState {
	out := make([]UnitState, 0, len(units))
	for _, u := range units {
		out = append(out, UnitState{
			Name:        u.Name,
			Description: u.Description,
			LoadState:   u.LoadState,
			ActiveState: u.ActiveState,
			SubState:    u.SubState,
		})
	}
	return out
}
