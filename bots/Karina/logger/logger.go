// Package logger derives the bot's zap loggers and adapts them to libraries
// that bring their own logging interface.
package logger

import (
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ForUser returns a child logger bound to a Telegram user.
func ForUser(l *zap.SugaredLogger, u int64) *zap.SugaredLogger {
	return l.With("user", u)
}

type cronLogger struct {
	l *zap.SugaredLogger
}

// Cron adapts l to cron.Logger. Cron's info messages are logged at debug
// level, they fire on every schedule tick.
func Cron(l *zap.SugaredLogger) cron.Logger {
	return cronLogger{l.With("component", "cron")}
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Errorw(msg, append(keysAndValues, "err", err)...)
}
