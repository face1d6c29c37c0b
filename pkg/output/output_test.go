package output

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewWithWriter_NonTTY(t *testing.T) {
	var buf bytes.Buffer
	p := NewWithWriter(&buf)
	if p == nil {
		t.Fatal("NewWithWriter() returned nil")
	}
	if p.isTTY {
		t.Error("expected isTTY=false for buffer")
	}
}

func TestPrinter_Print(t *testing.T) {
	var buf bytes.Buffer
	p := NewWithWriter(&buf)

	p.Print("hello %s", "world")
	if got := buf.String(); got != "hello world" {
		t.Errorf("Print() = %q, want %q", got, "hello world")
	}
}

func TestPrinter_Info(t *testing.T) {
	var buf bytes.Buffer
	p := NewWithWriter(&buf)

	p.Info("gateway listening", "addr", ":8080")

	got := buf.String()
	if !strings.Contains(got, "INFO") {
		t.Errorf("Info() output should contain INFO, got %q", got)
	}
	if !strings.Contains(got, "gateway listening") {
		t.Errorf("Info() output should contain message, got %q", got)
	}
}

func TestPrinter_Debug_DefaultHidden(t *testing.T) {
	var buf bytes.Buffer
	p := NewWithWriter(&buf)

	p.Debug("hidden")
	if buf.Len() > 0 {
		t.Errorf("Debug() should be hidden by default, got %q", buf.String())
	}

	p.SetDebug(true)
	p.Debug("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Errorf("Debug() should print when enabled, got %q", buf.String())
	}
}

func TestBackendsTable(t *testing.T) {
	var buf bytes.Buffer
	p := NewWithWriter(&buf)

	p.Backends([]BackendSummary{
		{Name: "calc", Prefix: "calc", Transport: "http", State: "connected", Tools: 2},
		{Name: "files", Prefix: "fs", Transport: "stdio", State: "disabled"},
	})

	got := buf.String()
	for _, want := range []string{"NAME", "PREFIX", "calc", "files", "connected", "disabled"} {
		if !strings.Contains(got, want) {
			t.Errorf("Backends() output missing %q:\n%s", want, got)
		}
	}
}

func TestBackendsTableEmpty(t *testing.T) {
	var buf bytes.Buffer
	p := NewWithWriter(&buf)

	p.Backends(nil)
	if !strings.Contains(buf.String(), "no backends registered") {
		t.Errorf("expected empty-set message, got %q", buf.String())
	}
}

func TestKitsTable(t *testing.T) {
	var buf bytes.Buffer
	p := NewWithWriter(&buf)

	p.Kits([]KitSummary{{Name: "math", Version: "1.2.0", Backends: 2, Source: "math.yaml"}})

	got := buf.String()
	for _, want := range []string{"KITS", "math", "1.2.0"} {
		if !strings.Contains(got, want) {
			t.Errorf("Kits() output missing %q:\n%s", want, got)
		}
	}
}
