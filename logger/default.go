package logger

import "sync/atomic"

type holder struct{ l Logger }

var defLogger atomic.Pointer[holder]

func init() {
	defLogger.Store(&holder{l: NewSlog(InfoLevel, false)})
}

// Debug logs with the default logger.
func Debug(msg string, keysAndValues ...any) {
	GetLogger().Debug(msg, keysAndValues...)
}

// Info logs with the default logger.
func Info(msg string, keysAndValues ...any) {
	GetLogger().Info(msg, keysAndValues...)
}

// Warn logs with the default logger.
func Warn(msg string, keysAndValues ...any) {
	GetLogger().Warn(msg, keysAndValues...)
}

// Error logs with the default logger.
func Error(msg string, keysAndValues ...any) {
	GetLogger().Error(msg, keysAndValues...)
}

// Fatal logs with the default logger and exits.
func Fatal(msg string, keysAndValues ...any) {
	GetLogger().Fatal(msg, keysAndValues...)
}

// SetLevel sets the level of the default logger.
func SetLevel(level Level) {
	GetLogger().SetLevel(level)
}

// GetLogger returns the package-wide default logger. Components created without a logger use it.
func GetLogger() Logger {
	return defLogger.Load().l
}

// SetLogger replaces the package-wide default logger. Components that were already created keep
// the logger they captured at construction time. A nil l is ignored.
func SetLogger(l Logger) {
	if l != nil {
		defLogger.Store(&holder{l: l})
	}
}

// With returns a child of the default logger.
func With(keyValues ...any) Logger {
	return GetLogger().With(keyValues...)
}
