// Copyright (C) 2025, Indra Network Contributors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package telemetry carries the node's ambient stack: structured
// logging (github.com/luxfi/log) and Prometheus metrics
// (github.com/prometheus/client_golang), grounded on the teacher's
// log/ and metrics/ packages.
package telemetry

import (
	"context"
	"log/slog"

	"github.com/luxfi/log"
	"go.uber.org/zap"
)

// NoOpLogger is a log.Logger that discards everything. Used as the
// default in tests and for components that have not been handed a
// real logger yet.
type NoOpLogger struct{}

// NewNoOpLogger returns a logger that discards everything.
func NewNoOpLogger() log.Logger {
	return NoOpLogger{}
}

// NewProduction returns a real, zap-backed logger tagged with name,
// the node's top-level component (e.g. "indranode").
func NewProduction(name string) log.Logger {
	return log.NewLogger(name)
}

func (n NoOpLogger) With(ctx ...interface{}) log.Logger { return n }
func (n NoOpLogger) New(ctx ...interface{}) log.Logger  { return n }

func (NoOpLogger) Log(level slog.Level, msg string, ctx ...interface{}) {}
func (NoOpLogger) Trace(msg string, ctx ...interface{})                 {}
func (NoOpLogger) Debug(msg string, ctx ...interface{})                 {}
func (NoOpLogger) Info(msg string, ctx ...interface{})                  {}
func (NoOpLogger) Warn(msg string, ctx ...interface{})                  {}
func (NoOpLogger) Error(msg string, ctx ...interface{})                 {}
func (NoOpLogger) Crit(msg string, ctx ...interface{})                  {}
func (NoOpLogger) WriteLog(level slog.Level, msg string, attrs ...any)  {}

func (NoOpLogger) Enabled(ctx context.Context, level slog.Level) bool { return false }
func (NoOpLogger) Handler() slog.Handler                              { return nil }

func (NoOpLogger) Fatal(msg string, fields ...zap.Field) {}
func (NoOpLogger) Verbo(msg string, fields ...zap.Field) {}

func (n NoOpLogger) WithFields(fields ...zap.Field) log.Logger { return n }
func (n NoOpLogger) WithOptions(opts ...zap.Option) log.Logger { return n }

func (NoOpLogger) SetLevel(level slog.Level)         {}
func (NoOpLogger) GetLevel() slog.Level              { return slog.Level(0) }
func (NoOpLogger) EnabledLevel(lvl slog.Level) bool  { return false }
func (NoOpLogger) StopOnPanic()                      {}
func (NoOpLogger) RecoverAndPanic(f func())          { f() }
func (NoOpLogger) RecoverAndExit(f, exit func())     { f() }
func (NoOpLogger) Stop()                             {}
func (NoOpLogger) Write(p []byte) (n int, err error) { return len(p), nil }

// Component returns a child logger tagged with a component name, the
// pattern every subsystem (router, handler, pending, artifact) uses
// to identify its own log lines.
func Component(base log.Logger, name string) log.Logger {
	if base == nil {
		base = NewNoOpLogger()
	}
	return base.With("component", name)
}
