package core

import "log"

// Logger is any leveled logger that can also report to an external error tracker.
// expected args: error, map[string]interface{}, user value...
type Logger interface {
	Enable(enabled bool)
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}

// StdLogger is a Logger on the standard library's log package only;
// used in tests and in the admin CLI where error tracking is not wanted.
type StdLogger struct {
	Std *log.Logger
}

var _ Logger = (*StdLogger)(nil)

func (l StdLogger) log(level, msg string, args []interface{}) {
	l.Std.Printf("%s: %s", level, msg)
	for _, arg := range args {
		l.Std.Printf("%+v", arg)
	}
}

func (l StdLogger) Enable(bool)                            {}
func (l StdLogger) Debug(msg string, args ...interface{})  { l.log("DEBUG", msg, args) }
func (l StdLogger) Info(msg string, args ...interface{})   { l.log("INFO", msg, args) }
func (l StdLogger) Warn(msg string, args ...interface{})   { l.log("WARN", msg, args) }
func (l StdLogger) Error(msg string, args ...interface{})  { l.log("ERROR", msg, args) }
func (l StdLogger) Fatal(msg string, args ...interface{})  { l.log("FATAL", msg, args); l.Std.Fatal(msg) }
