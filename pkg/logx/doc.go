// Package logx configures cronhost's structured logging.
//
// A small wrapper (logx.Logger) on top of zerolog keeps:
//   - console output readable (short timestamp + short caller)
//   - file output JSON-structured
//   - loggers handed out before a config reload following the new sinks
package logx
