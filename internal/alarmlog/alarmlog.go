// Package alarmlog is a small structured-logging facade, wrapping a
// concrete backend the way purpleidea-mgmt/util.LogWriter wraps a Logf
// function, so the rest of alarmhost depends on an interface instead of a
// specific logging library.
package alarmlog

import "go.uber.org/zap"

// Logger is the leveled, structured logging surface every component
// depends on.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// zapLogger adapts *zap.SugaredLogger to Logger.
type zapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZap builds a Logger backed by zap's production configuration.
func NewZap() (Logger, error) {
	l, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return &zapLogger{sugar: l.Sugar()}, nil
}

// NewZapDevelopment builds a Logger backed by zap's human-readable
// development configuration (colorized level, caller, no sampling).
func NewZapDevelopment() (Logger, error) {
	l, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	return &zapLogger{sugar: l.Sugar()}, nil
}

func (z *zapLogger) Debugf(format string, args ...interface{}) { z.sugar.Debugf(format, args...) }
func (z *zapLogger) Infof(format string, args ...interface{})  { z.sugar.Infof(format, args...) }
func (z *zapLogger) Warnf(format string, args ...interface{})  { z.sugar.Warnf(format, args...) }
func (z *zapLogger) Errorf(format string, args ...interface{}) { z.sugar.Errorf(format, args...) }
