package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
)

// capture redirects the package output to a buffer in JSON form and
// restores the defaults when the test ends.
func capture(t *testing.T, level Level) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	origLevel := GetLevel()

	SetFormat(FormatJSON)
	SetOutput(&buf)
	SetLevel(level)

	t.Cleanup(func() {
		SetLevel(origLevel)
		SetFormat(FormatConsole)
		SetOutput(os.Stdout)
	})
	return &buf
}

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var records []map[string]interface{}
	dec := json.NewDecoder(buf)
	for {
		var rec map[string]interface{}
		if err := dec.Decode(&rec); err == io.EOF {
			break
		} else if err != nil {
			t.Fatalf("decode log line: %v", err)
		}
		records = append(records, rec)
	}
	return records
}

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{DEBUG, "DEBUG"},
		{INFO, "INFO"},
		{WARN, "WARN"},
		{ERROR, "ERROR"},
		{Level(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.level.String(); got != tt.want {
				t.Errorf("Level.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"warning", WARN},
		{" error ", ERROR},
		{"nonsense", INFO},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSetLevel_Filtering(t *testing.T) {
	buf := capture(t, WARN)

	Debug("debug message")
	Info("info message")
	if buf.Len() > 0 {
		t.Errorf("DEBUG and INFO should be filtered at WARN, got %q", buf.String())
	}

	Warn("warn message")
	Error("error message")

	records := decodeLines(t, buf)
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	if records[0]["level"] != "WARN" || records[1]["level"] != "ERROR" {
		t.Errorf("levels = %v, %v", records[0]["level"], records[1]["level"])
	}
}

func TestLog_FormatWithArgs(t *testing.T) {
	buf := capture(t, DEBUG)

	Info("value: %d", 42)

	records := decodeLines(t, buf)
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if records[0]["msg"] != "value: 42" {
		t.Errorf("msg = %v, want %q", records[0]["msg"], "value: 42")
	}
}

func TestLog_PercentWithoutArgs(t *testing.T) {
	buf := capture(t, DEBUG)

	Info("100% done")

	records := decodeLines(t, buf)
	if records[0]["msg"] != "100% done" {
		t.Errorf("msg = %v", records[0]["msg"])
	}
}

func TestLogger_WithFields(t *testing.T) {
	buf := capture(t, DEBUG)

	WithFields(map[string]interface{}{"key1": "value1", "key2": 42}).
		WithField("err", errors.New("boom")).
		Info("test")

	records := decodeLines(t, buf)
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	rec := records[0]
	if rec["key1"] != "value1" {
		t.Errorf("key1 = %v", rec["key1"])
	}
	if rec["key2"] != float64(42) {
		t.Errorf("key2 = %v", rec["key2"])
	}
	if rec["err"] != "boom" {
		t.Errorf("err = %v", rec["err"])
	}
}

func TestComponent(t *testing.T) {
	buf := capture(t, DEBUG)

	Component("scheduler").Warn("tick took %s", "2s")

	records := decodeLines(t, buf)
	if records[0]["component"] != "scheduler" {
		t.Errorf("component = %v", records[0]["component"])
	}
}

func TestLoggerFieldsImmutability(t *testing.T) {
	parent := WithField("a", 1)
	child := parent.WithField("b", 2)

	if len(parent.fields) != 1 {
		t.Errorf("parent fields = %d, want 1", len(parent.fields))
	}
	if len(child.fields) != 2 {
		t.Errorf("child fields = %d, want 2", len(child.fields))
	}
}

func TestConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	t.Cleanup(func() { SetOutput(os.Stdout) })

	Info("plain line")

	out := buf.String()
	if !strings.Contains(out, "INFO") || !strings.Contains(out, "plain line") {
		t.Errorf("console output = %q", out)
	}
}

func TestLogger_ConcurrentAccess(t *testing.T) {
	capture(t, DEBUG)
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			WithField("n", n).Info("concurrent %d", n)
		}(i)
	}
	wg.Wait()
}
