//go:build !linux

package systemd

import "context"

func dialSystem(context.Context) (conn, error) { return nil, ErrUnsupported }
