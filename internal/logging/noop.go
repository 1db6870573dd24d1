package logging

import "context"

// NoopLogger discards every call; wired in release configuration so
// breadcrumbs are zero-cost per spec §7 ("intended to be no-ops in
// release builds if the transport disables them").
type NoopLogger struct{}

func NewNoopLogger() Logger { return NoopLogger{} }

func (NoopLogger) Info(string, ...any)  {}
func (NoopLogger) Warn(string, ...any)  {}
func (NoopLogger) Error(string, ...any) {}
func (NoopLogger) Debug(string, ...any) {}

func (NoopLogger) InfoContext(context.Context, string, ...any)  {}
func (NoopLogger) WarnContext(context.Context, string, ...any)  {}
func (NoopLogger) ErrorContext(context.Context, string, ...any) {}
func (NoopLogger) DebugContext(context.Context, string, ...any) {}

func (n NoopLogger) WithTraceID(string) Logger    { return n }
func (n NoopLogger) WithComponent(string) Logger  { return n }
