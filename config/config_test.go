package config

import (
	"testing"
	"time"
)

func TestCacheDirNilWhenUnset(t *testing.T) {
	t.Setenv("REDUCTOR_CACHE_DIR", "")
	dir, err := CacheDir()
	if err != nil {
		t.Fatal(err)
	}
	if dir != nil {
		t.Fatalf("expected nil, got %v", *dir)
	}
}

func TestCacheDirResolvesToAbsolutePath(t *testing.T) {
	t.Setenv("REDUCTOR_CACHE_DIR", "relative/path")
	dir, err := CacheDir()
	if err != nil {
		t.Fatal(err)
	}
	if dir == nil || !isAbs(*dir) {
		t.Fatalf("expected absolute path, got %v", dir)
	}
}

func TestPollerTimeoutDefault(t *testing.T) {
	t.Setenv("REDUCTOR_POLLER_TIMEOUT_MS", "")
	got, err := PollerTimeout()
	if err != nil {
		t.Fatal(err)
	}
	if got != defaultPollerTimeout {
		t.Fatalf("expected default, got %s", got)
	}
}

func TestPollerTimeoutFromEnv(t *testing.T) {
	t.Setenv("REDUCTOR_POLLER_TIMEOUT_MS", "250")
	got, err := PollerTimeout()
	if err != nil {
		t.Fatal(err)
	}
	if got != 250*time.Millisecond {
		t.Fatalf("expected 250ms, got %s", got)
	}
}

func isAbs(p string) bool { return len(p) > 0 && p[0] == '/' }
