// Package logger builds the relay's structured slog loggers, the rotating
// log files behind them, and the JSON traffic log.
package logger
