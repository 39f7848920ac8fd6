package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.RequestTimeout.Std() != 10*time.Second {
		t.Errorf("requestTimeout %s", cfg.RequestTimeout.Std())
	}
	if cfg.StopDrainGrace.Std() != time.Second {
		t.Errorf("stopDrainGrace %s", cfg.StopDrainGrace.Std())
	}
	if cfg.MaxSessions != 10 || cfg.ConnectRetries != 20 {
		t.Errorf("limits %d/%d", cfg.MaxSessions, cfg.ConnectRetries)
	}
	if cfg.Adapters.Debugpy.PythonPath == "" {
		t.Error("python path unset")
	}
}

func TestDuration_JSON(t *testing.T) {
	var d Duration
	if err := json.Unmarshal([]byte(`"1500ms"`), &d); err != nil {
		t.Fatal(err)
	}
	if d.Std() != 1500*time.Millisecond {
		t.Errorf("parsed %s", d.Std())
	}

	// Bare nanosecond numbers are accepted too.
	if err := json.Unmarshal([]byte(`2000000000`), &d); err != nil {
		t.Fatal(err)
	}
	if d.Std() != 2*time.Second {
		t.Errorf("parsed %s", d.Std())
	}

	if err := json.Unmarshal([]byte(`"not a duration"`), &d); err == nil {
		t.Error("bad duration string accepted")
	}

	out, err := json.Marshal(Duration(5 * time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != `"5s"` {
		t.Errorf("marshaled %s", out)
	}
}

func TestLoad_LayeredOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	payload := `{
		"requestTimeout": "2s",
		"maxSessions": 3,
		"adapters": {"python": {"pythonPath": "/opt/py/bin/python"}}
	}`
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.RequestTimeout.Std() != 2*time.Second {
		t.Errorf("requestTimeout %s", cfg.RequestTimeout.Std())
	}
	if cfg.MaxSessions != 3 {
		t.Errorf("maxSessions %d", cfg.MaxSessions)
	}
	if cfg.Adapters.Debugpy.PythonPath != "/opt/py/bin/python" {
		t.Errorf("pythonPath %q", cfg.Adapters.Debugpy.PythonPath)
	}
	// Untouched fields keep their defaults.
	if cfg.LaunchTimeout.Std() != 30*time.Second {
		t.Errorf("launchTimeout %s", cfg.LaunchTimeout.Std())
	}
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MaxSessions != 10 {
		t.Errorf("maxSessions %d", cfg.MaxSessions)
	}
}

func TestLoad_RejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"maxSessions": 0}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("zero maxSessions accepted")
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("missing file accepted")
	}
}
