package log

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]bool{
		"debug": true,
		"INFO":  true,
		"warn":  true,
		"bogus": false,
	}
	for in, wantOK := range cases {
		_, err := ParseLevel(in)
		if (err == nil) != wantOK {
			t.Errorf("ParseLevel(%q): err=%v, want ok=%v", in, err, wantOK)
		}
	}
}

func TestTerminalHandlerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(NewTerminalHandlerWithLevel(&buf, LevelInfo, false))

	l.Debug(ModuleHarness, "should not appear")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below configured level, got %q", buf.String())
	}

	l.Info(ModuleHarness, "hello", "addr", uint64(0x1000))
	out := buf.String()
	if !strings.Contains(out, "hello") || !strings.Contains(out, "addr=4096") {
		t.Fatalf("unexpected log line: %q", out)
	}
}
