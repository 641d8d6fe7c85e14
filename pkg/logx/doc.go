// Package logx configures agentmon's structured logging.
//
// Logger is a small value type over zerolog:
//   - console output stays readable (short timestamp + file:line caller)
//   - file output is JSON, one event per line
//   - an optional Telegram sink forwards warnings to an ops chat, rate limited
//
// Service owns the sinks and can be re-applied at runtime on config reload.
package logx
