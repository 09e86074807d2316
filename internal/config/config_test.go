package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/brightlinelabs/depthstream/internal/model"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
sensors:
  depth:
    enabled: true
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BaseSensor.QueueMax != 4 {
		t.Errorf("expected default queueMax 4, got %d", cfg.BaseSensor.QueueMax)
	}
	if cfg.BaseSensor.MaxPoolSize != 32 {
		t.Errorf("expected default maxPoolSize 32, got %d", cfg.BaseSensor.MaxPoolSize)
	}
	if cfg.Network.Websocket.Port != 9999 {
		t.Errorf("expected default port 9999, got %d", cfg.Network.Websocket.Port)
	}
	if len(cfg.FrameSync.Required) != 1 || cfg.FrameSync.Required[0] != "depth" {
		t.Errorf("expected default frameSync.required [depth], got %v", cfg.FrameSync.Required)
	}
	if cfg.Sensors.Color.JPEGQuality != 85 {
		t.Errorf("expected default jpegQuality 85, got %d", cfg.Sensors.Color.JPEGQuality)
	}
}

func TestLoadRejectsUnreadableFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error loading a nonexistent config file")
	}
}

func TestValidateAccumulatesAllViolations(t *testing.T) {
	path := writeConfig(t, `
baseSensor:
  initialPoolSize: 64
  maxPoolSize: 8
sensors:
  depth:
    enabled: true
    minDistance: 5000
    maxDistance: 500
  color:
    jpegQuality: 500
network:
  websocket:
    port: 70000
frameSync:
  required: ["not-a-real-kind"]
`)
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{"initialPoolSize", "minDistance", "websocket.port", "jpegQuality", "unknown kind"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected joined error to mention %q, got: %s", want, msg)
		}
	}
}

func TestSensorConfigOverridesBaseSensor(t *testing.T) {
	path := writeConfig(t, `
baseSensor:
  queueMax: 4
  maxRestarts: 3
sensors:
  depth:
    enabled: true
    baseSensor:
      queueMax: 10
      maxRestarts: 1
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	sc := cfg.SensorConfig(model.KindDepth)
	if sc.QueueMax != 10 {
		t.Errorf("expected per-kind override queueMax 10, got %d", sc.QueueMax)
	}
	if sc.MaxRestarts != 1 {
		t.Errorf("expected per-kind override maxRestarts 1, got %d", sc.MaxRestarts)
	}
}
