package logger

import (
	"bytes"
	"os"
	"strings"
	"sync"
	"testing"
)

func reset() {
	SetVerbose(false)
	SetOutput(os.Stderr)
}

func TestSetVerbose(t *testing.T) {
	defer reset()

	SetVerbose(false)
	if IsVerbose() {
		t.Error("expected verbose to be false initially")
	}

	SetVerbose(true)
	if !IsVerbose() {
		t.Error("expected verbose to be true after SetVerbose(true)")
	}

	SetVerbose(false)
	if IsVerbose() {
		t.Error("expected verbose to be false after SetVerbose(false)")
	}
}

func TestDebug_WhenVerbose(t *testing.T) {
	defer reset()

	var buf bytes.Buffer
	SetOutput(&buf)
	SetVerbose(true)

	Debug("test message %s", "arg")

	out := buf.String()
	if !strings.Contains(out, "level=DEBUG") {
		t.Errorf("expected debug level, got %q", out)
	}
	if !strings.Contains(out, `msg="test message arg"`) {
		t.Errorf("expected formatted message, got %q", out)
	}
}

func TestDebug_WhenNotVerbose(t *testing.T) {
	defer reset()

	var buf bytes.Buffer
	SetOutput(&buf)
	SetVerbose(false)

	Debug("test message")
	Info("test message")
	Section("Test")

	if buf.Len() != 0 {
		t.Errorf("expected no output when not verbose, got %q", buf.String())
	}
}

func TestSection(t *testing.T) {
	defer reset()

	var buf bytes.Buffer
	SetOutput(&buf)
	SetVerbose(true)

	Section("Retrieval")

	if buf.String() != "\n=== Retrieval ===\n" {
		t.Errorf("unexpected output: %q", buf.String())
	}
}

func TestInfo(t *testing.T) {
	defer reset()

	var buf bytes.Buffer
	SetOutput(&buf)
	SetVerbose(true)

	Info("indexed %d documents", 3)

	if !strings.Contains(buf.String(), "level=INFO") || !strings.Contains(buf.String(), "indexed 3 documents") {
		t.Errorf("unexpected output: %q", buf.String())
	}
}

func TestWarnAndError_AlwaysPrint(t *testing.T) {
	defer reset()

	var buf bytes.Buffer
	SetOutput(&buf)
	SetVerbose(false)

	Warn("cache degraded")
	Error("ingest failed: %v", "boom")

	out := buf.String()
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, "cache degraded") {
		t.Errorf("expected warning, got %q", out)
	}
	if !strings.Contains(out, "level=ERROR") || !strings.Contains(out, "ingest failed: boom") {
		t.Errorf("expected error, got %q", out)
	}
}

func TestSlog(t *testing.T) {
	defer reset()

	var buf bytes.Buffer
	SetOutput(&buf)

	Slog().Info("structured", "policy_id", "POL-AUTO-001")

	if !strings.Contains(buf.String(), "policy_id=POL-AUTO-001") {
		t.Errorf("expected structured attribute, got %q", buf.String())
	}
}

func TestConcurrentAccess(t *testing.T) {
	defer reset()

	var buf syncBuffer
	SetOutput(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			SetVerbose(n%2 == 0)
		}(i)
		go func(n int) {
			defer wg.Done()
			Debug("message %d", n)
			Warn("warning %d", n)
		}(i)
	}
	wg.Wait()
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}
