package logger

import (
	"bytes"
	"log/slog"
	"os"
	"strings"
	"testing"
)

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: levelVar}))
	t.Cleanup(func() {
		SetOutput(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))
		SetLevel("info")
	})
	return &buf
}

func TestComponentAndFields(t *testing.T) {
	buf := captureOutput(t)

	InfoCF("sender", "Message delivered", map[string]interface{}{"chat_id": "42"})

	out := buf.String()
	if !strings.Contains(out, "component=sender") {
		t.Errorf("missing component tag: %s", out)
	}
	if !strings.Contains(out, "chat_id=42") {
		t.Errorf("missing field: %s", out)
	}
	if !strings.Contains(out, "Message delivered") {
		t.Errorf("missing message: %s", out)
	}
}

func TestLevelFiltering(t *testing.T) {
	buf := captureOutput(t)

	SetLevel("warn")
	InfoC("receiver", "suppressed")
	WarnC("receiver", "visible")

	out := buf.String()
	if strings.Contains(out, "suppressed") {
		t.Errorf("info line leaked at warn level: %s", out)
	}
	if !strings.Contains(out, "visible") {
		t.Errorf("warn line missing: %s", out)
	}

	SetLevel("debug")
	DebugC("receiver", "now visible")
	if !strings.Contains(buf.String(), "now visible") {
		t.Errorf("debug line missing after SetLevel(debug): %s", buf.String())
	}

	SetLevel("bogus") // unchanged
	DebugC("receiver", "still visible")
	if !strings.Contains(buf.String(), "still visible") {
		t.Errorf("unknown level should not change filtering: %s", buf.String())
	}
}
