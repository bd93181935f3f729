package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestNew_WritesJSONToLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "elemental.log")
	log := New(Config{Path: path})
	log.Info("gc sweep complete", "burned", 3)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}

	var record map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(data), &record); err != nil {
		t.Fatalf("log record is not valid JSON: %v (data: %s)", err, data)
	}
	if record["msg"] != "gc sweep complete" {
		t.Errorf("expected msg %q, got %v", "gc sweep complete", record["msg"])
	}
	if record["burned"] != float64(3) {
		t.Errorf("expected burned=3, got %v", record["burned"])
	}
}

func TestNew_ZeroConfigLogsToStderrOnly(t *testing.T) {
	stderr, err := os.CreateTemp(t.TempDir(), "stderr")
	if err != nil {
		t.Fatalf("creating stderr stand-in: %v", err)
	}
	defer stderr.Close()
	orig := os.Stderr
	os.Stderr = stderr
	log := New(Config{})
	os.Stderr = orig

	if log == nil {
		t.Fatal("expected a non-nil logger for a zero Config")
	}
	log.Info("zero config record")
	data, err := os.ReadFile(stderr.Name())
	if err != nil {
		t.Fatalf("reading stderr stand-in: %v", err)
	}
	if !bytes.Contains(data, []byte("zero config record")) {
		t.Error("expected a zero Config to write records to stderr")
	}
}

func TestDefaultInt(t *testing.T) {
	cases := []struct{ v, fallback, want int }{
		{0, 10, 10},
		{-1, 10, 10},
		{5, 10, 5},
	}
	for _, c := range cases {
		if got := defaultInt(c.v, c.fallback); got != c.want {
			t.Errorf("defaultInt(%d, %d) = %d, want %d", c.v, c.fallback, got, c.want)
		}
	}
}

func TestLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "elemental.log")
	log := New(Config{Path: path, Level: slog.LevelWarn})
	log.Info("should be filtered out")
	log.Warn("should appear")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if bytes.Contains(data, []byte("should be filtered out")) {
		t.Error("expected info-level record to be filtered at Warn level")
	}
	if !bytes.Contains(data, []byte("should appear")) {
		t.Error("expected warn-level record to be written")
	}
}
