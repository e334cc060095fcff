package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestDefaultLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, LevelWarn)

	l.Debugf("debug message")
	l.Infof("info message")
	if buf.Len() != 0 {
		t.Errorf("messages below the configured level should be suppressed, got %q", buf.String())
	}

	l.Warnf("warn message")
	if !strings.Contains(buf.String(), "WARN") || !strings.Contains(buf.String(), "warn message") {
		t.Errorf("Warnf output = %q, want it to contain WARN and the message", buf.String())
	}
}

func TestDefaultLoggerErrorAlwaysLogsAtErrorLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, LevelError)
	l.Errorf("boom: %d", 42)
	if !strings.Contains(buf.String(), "ERROR") || !strings.Contains(buf.String(), "boom: 42") {
		t.Errorf("Errorf output = %q", buf.String())
	}
}

func TestFatalfInvokesHandler(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf, LevelError)

	var gotMsg string
	l.SetFatalHandler(func(msg string) { gotMsg = msg })

	l.Fatalf("disk full")
	if gotMsg != "disk full" {
		t.Errorf("fatal handler received %q, want 'disk full'", gotMsg)
	}
	if !strings.Contains(buf.String(), "FATAL") {
		t.Errorf("Fatalf output = %q, want it to contain FATAL", buf.String())
	}
}

func TestIsNilDetectsTypedNil(t *testing.T) {
	var l *DefaultLogger
	if !IsNil(l) {
		t.Error("IsNil should detect a typed-nil *DefaultLogger assigned to the Logger interface")
	}
	if !IsNil(nil) {
		t.Error("IsNil(nil) should be true")
	}
	if IsNil(NewDefaultLogger(LevelInfo)) {
		t.Error("IsNil should be false for a real logger")
	}
}

func TestOrDefaultReturnsFallbackForNil(t *testing.T) {
	var l *DefaultLogger
	got := OrDefault(l)
	if got == nil || IsNil(got) {
		t.Error("OrDefault should never return a nil or typed-nil logger")
	}

	real := NewDefaultLogger(LevelDebug)
	if OrDefault(real) != Logger(real) {
		t.Error("OrDefault should return the provided logger unchanged when valid")
	}
}

func TestLevelString(t *testing.T) {
	cases := map[Level]string{
		LevelError: "ERROR",
		LevelWarn:  "WARN",
		LevelInfo:  "INFO",
		LevelDebug: "DEBUG",
	}
	for level, want := range cases {
		if got := level.String(); got != want {
			t.Errorf("Level(%d).String() = %q, want %q", level, got, want)
		}
	}
}
