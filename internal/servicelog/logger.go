// Package servicelog wraps zap behind a small attribute-based Logger
// interface so call sites never import zap directly, and so the
// pipeline's structured record {ts, level, message, meta} (spec.md
// §4.6) has one place where it is assembled.
package servicelog

import (
	"os"
	"time"

	kservice "github.com/kardianos/service"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Attrib is one structured field attached to a log line.
type Attrib = zap.Field

func String(name, value string) Attrib           { return zap.String(name, value) }
func Error(err error) Attrib                      { return zap.Error(err) }
func Bool(name string, value bool) Attrib         { return zap.Bool(name, value) }
func Any(name string, value interface{}) Attrib   { return zap.Any(name, value) }
func Int(name string, value int) Attrib           { return zap.Int(name, value) }
func Time(name string, value time.Time) Attrib    { return zap.Time(name, value) }
func Duration(name string, value time.Duration) Attrib { return zap.Duration(name, value) }

// Logger is the structured logging surface used throughout the
// pipeline; every component takes one via constructor injection,
// never a package-level singleton.
type Logger interface {
	With(attrs ...Attrib) Logger
	Info(msg string, attrs ...Attrib)
	Warn(msg string, attrs ...Attrib)
	Error(msg string, attrs ...Attrib)
	Debug(msg string, attrs ...Attrib)
	Fatal(msg string, attrs ...Attrib)
	// SetDebug toggles whether Debug() calls are actually emitted,
	// used by the config hot-reload watcher (SPEC_FULL §4.11).
	SetDebug(enabled bool)
	Sync() error
}

type zapLogger struct {
	z     *zap.Logger
	debug *bool // shared pointer so With() children observe SetDebug
}

// Options configures New.
type Options struct {
	Debug      bool
	LogFile    string // path for lumberjack-rotated output; "" disables file output
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	// Service, when non-nil, additionally mirrors Info/Warn/Error
	// records to the OS service manager's logger (event log / syslog).
	Service kservice.Logger
}

// New builds the root Logger. Grounded on
// internal/driver/servicelog/logger.go's zap+lumberjack wiring,
// corrected to route through zap's structured field API end to end
// instead of flattening attributes into a string by hand.
func New(opts Options) (Logger, error) {
	var cores []zapcore.Core

	// The core admits every level; Debug() checks the debug flag itself,
	// so SetDebug can turn debug output on and off after construction.
	level := zap.NewAtomicLevelAt(zapcore.DebugLevel)

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	if opts.LogFile != "" {
		ws := zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.LogFile,
			MaxSize:    firstNonZero(opts.MaxSizeMB, 100),
			MaxBackups: firstNonZero(opts.MaxBackups, 5),
			MaxAge:     firstNonZero(opts.MaxAgeDays, 28),
		})
		cores = append(cores, zapcore.NewCore(encoder, ws, level))
	} else {
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level))
	}

	z := zap.New(zapcore.NewTee(cores...))
	debug := opts.Debug
	l := &zapLogger{z: z, debug: &debug}
	if opts.Service != nil {
		return &serviceMirror{zapLogger: l, svc: opts.Service}, nil
	}
	return l, nil
}

func firstNonZero(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func (l *zapLogger) With(attrs ...Attrib) Logger {
	return &zapLogger{z: l.z.With(attrs...), debug: l.debug}
}

func (l *zapLogger) Info(msg string, attrs ...Attrib)  { l.z.Info(msg, attrs...) }
func (l *zapLogger) Warn(msg string, attrs ...Attrib)  { l.z.Warn(msg, attrs...) }
func (l *zapLogger) Error(msg string, attrs ...Attrib) { l.z.Error(msg, attrs...) }
func (l *zapLogger) Fatal(msg string, attrs ...Attrib) { l.z.Fatal(msg, attrs...) }

func (l *zapLogger) Debug(msg string, attrs ...Attrib) {
	if *l.debug {
		l.z.Debug(msg, attrs...)
	}
}

func (l *zapLogger) SetDebug(enabled bool) { *l.debug = enabled }
func (l *zapLogger) Sync() error           { return l.z.Sync() }

// serviceMirror additionally forwards Info/Warn/Error to the OS
// service manager's logger, matching the teacher's use of
// kardianos/service.Logger as the sink behind this package.
type serviceMirror struct {
	*zapLogger
	svc kservice.Logger
}

func (m *serviceMirror) With(attrs ...Attrib) Logger {
	return &serviceMirror{zapLogger: &zapLogger{z: m.z.With(attrs...), debug: m.debug}, svc: m.svc}
}

func (m *serviceMirror) Info(msg string, attrs ...Attrib) {
	m.zapLogger.Info(msg, attrs...)
	m.svc.Info(msg)
}

func (m *serviceMirror) Warn(msg string, attrs ...Attrib) {
	m.zapLogger.Warn(msg, attrs...)
	m.svc.Warning(msg)
}

func (m *serviceMirror) Error(msg string, attrs ...Attrib) {
	m.zapLogger.Error(msg, attrs...)
	m.svc.Error(msg)
}
