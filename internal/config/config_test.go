package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestViperConfigGetString(t *testing.T) {
	v := viper.New()
	v.Set("name", "test")
	cfg := New(v)

	if got := cfg.GetString("name"); got != "test" {
		t.Errorf("GetString('name') = %q, want %q", got, "test")
	}
}

func TestViperConfigGetDuration(t *testing.T) {
	v := viper.New()
	v.Set("timeout", "5s")
	cfg := New(v)

	want := 5 * time.Second
	if got := cfg.GetDuration("timeout"); got != want {
		t.Errorf("GetDuration('timeout') = %v, want %v", got, want)
	}
}

func TestViperConfigIsSet(t *testing.T) {
	v := viper.New()
	v.Set("exists", true)
	cfg := New(v)

	if !cfg.IsSet("exists") {
		t.Error("IsSet('exists') = false, want true")
	}
	if cfg.IsSet("missing") {
		t.Error("IsSet('missing') = true, want false")
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}

	timeouts := cfg.Timeouts()
	if timeouts.VdevSetup != 5*time.Second {
		t.Errorf("VdevSetup = %v, want 5s", timeouts.VdevSetup)
	}
	if timeouts.PeerOp != 3*time.Second {
		t.Errorf("PeerOp = %v, want 3s", timeouts.PeerOp)
	}
	if timeouts.ScanStart != 1*time.Second {
		t.Errorf("ScanStart = %v, want 1s", timeouts.ScanStart)
	}

	limits := cfg.Limits()
	if limits.MaxVdevs != 16 {
		t.Errorf("MaxVdevs = %d, want 16", limits.MaxVdevs)
	}
	if limits.MaxPeers != 32 {
		t.Errorf("MaxPeers = %d, want 32", limits.MaxPeers)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "airvane.yaml")
	content := []byte(`
driver:
  max_peers: 8
  timeout:
    key_install: 500ms
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error = %v", path, err)
	}
	if got := cfg.Limits().MaxPeers; got != 8 {
		t.Errorf("MaxPeers = %d, want 8", got)
	}
	if got := cfg.Timeouts().KeyInstall; got != 500*time.Millisecond {
		t.Errorf("KeyInstall = %v, want 500ms", got)
	}
	// Keys the file does not mention keep their defaults.
	if got := cfg.Limits().MaxVdevs; got != 16 {
		t.Errorf("MaxVdevs = %d, want 16", got)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load of missing file should fail")
	}
}

func TestNilViper(t *testing.T) {
	cfg := New(nil)
	// Should not panic and return zero values.
	if got := cfg.GetString("key"); got != "" {
		t.Errorf("nil viper GetString() = %q, want empty", got)
	}
	if got := cfg.GetDuration("key"); got != 0 {
		t.Errorf("nil viper GetDuration() = %v, want 0", got)
	}
}
