package jobs

import (
	"fmt"

	"go.uber.org/zap"
)

// logger adapts zap to asynq.Logger
type logger struct {
	s *zap.SugaredLogger
}

func newLogger(log *zap.Logger) *logger {
	return &logger{s: log.Named("asynq").Sugar()}
}

func (l *logger) Debug(args ...interface{}) { l.s.Debug(args...) }
func (l *logger) Info(args ...interface{})  { l.s.Info(args...) }
func (l *logger) Warn(args ...interface{})  { l.s.Warn(args...) }
func (l *logger) Error(args ...interface{}) { l.s.Error(args...) }
func (l *logger) Fatal(args ...interface{}) { l.s.Fatal(fmt.Sprint(args...)) }
