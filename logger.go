// Copyright 2017 Denis Bernard <db047h@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package elfloader

import (
	"context"
	"fmt"
	"log/slog"
)

func fmtf(format string, args ...any) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}

// Logger is implemented by types that can receive the four severities of
// diagnostic output the loader emits. It is threaded by value through the
// reader, loader, relocation engine and MPU policy; none of those packages
// import a concrete logging implementation directly.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// StdLogger adapts a *slog.Logger to the Logger interface. cmd/elfdump uses
// it; packages handed a nil Logger fall back to NopLogger, not StdLogger.
type StdLogger struct {
	L *slog.Logger
}

// NewStdLogger wraps slog.Default if l is nil.
func NewStdLogger(l *slog.Logger) StdLogger {
	if l == nil {
		l = slog.Default()
	}
	return StdLogger{L: l}
}

func (s StdLogger) Debugf(format string, args ...any) {
	s.L.Log(context.Background(), slog.LevelDebug, fmtf(format, args...))
}

func (s StdLogger) Infof(format string, args ...any) {
	s.L.Log(context.Background(), slog.LevelInfo, fmtf(format, args...))
}

func (s StdLogger) Warnf(format string, args ...any) {
	s.L.Log(context.Background(), slog.LevelWarn, fmtf(format, args...))
}

func (s StdLogger) Errorf(format string, args ...any) {
	s.L.Log(context.Background(), slog.LevelError, fmtf(format, args...))
}

// NopLogger discards everything. It is the fallback wherever a nil Logger is
// passed, and is used by tests where log output would just be noise.
type NopLogger struct{}

func (NopLogger) Debugf(string, ...any) {}
func (NopLogger) Infof(string, ...any)  {}
func (NopLogger) Warnf(string, ...any)  {}
func (NopLogger) Errorf(string, ...any) {}
