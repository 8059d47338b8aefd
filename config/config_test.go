package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	os.Unsetenv("PORT")
	os.Unsetenv("ROOM_PREFIX")
	os.Unsetenv("GRACE_PERIOD")
	os.Unsetenv("WAITING_TIMEOUT")

	cfg := Load()

	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.Port)
	}
	if cfg.RoomPrefix != "therapy-session-" {
		t.Fatalf("expected default room prefix, got %q", cfg.RoomPrefix)
	}
	if cfg.GracePeriod != 15*time.Second {
		t.Fatalf("expected default grace period 15s, got %s", cfg.GracePeriod)
	}
	if cfg.WaitingTimeout != 10*time.Minute {
		t.Fatalf("expected default waiting timeout 10m, got %s", cfg.WaitingTimeout)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("GRACE_PERIOD", "30s")
	t.Setenv("WAITING_TIMEOUT", "5m")
	t.Setenv("ROOM_PREFIX", "call-")

	cfg := Load()

	if cfg.GracePeriod != 30*time.Second {
		t.Fatalf("grace period override ignored: %s", cfg.GracePeriod)
	}
	if cfg.WaitingTimeout != 5*time.Minute {
		t.Fatalf("waiting timeout override ignored: %s", cfg.WaitingTimeout)
	}
	if cfg.RoomPrefix != "call-" {
		t.Fatalf("room prefix override ignored: %q", cfg.RoomPrefix)
	}
}

func TestBadDurationFallsBack(t *testing.T) {
	t.Setenv("GRACE_PERIOD", "soonish")

	cfg := Load()
	if cfg.GracePeriod != 15*time.Second {
		t.Fatalf("expected fallback to default, got %s", cfg.GracePeriod)
	}
}
