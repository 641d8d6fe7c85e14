// Package scheduler turns schedule strings from config into activation
// schedules for the monitor loop.
package scheduler
