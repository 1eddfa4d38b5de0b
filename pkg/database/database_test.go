package database_test

import (
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/JaimeStill/herbtrace/pkg/database"
	"github.com/JaimeStill/herbtrace/pkg/lifecycle"
)

func TestFinalizeDefaults(t *testing.T) {
	cfg := database.Config{User: "herb"}
	if err := cfg.Finalize(nil); err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	tests := []struct {
		name     string
		got      any
		expected any
	}{
		{"host", cfg.Host, "localhost"},
		{"port", cfg.Port, 5432},
		{"name", cfg.Name, "herbtrace"},
		{"ssl_mode", cfg.SSLMode, "disable"},
		{"max_open_conns", cfg.MaxOpenConns, 10},
		{"max_idle_conns", cfg.MaxIdleConns, 2},
		{"conn_max_lifetime", cfg.ConnMaxLifetimeDuration(), 15 * time.Minute},
		{"conn_timeout", cfg.ConnTimeoutDuration(), 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("got %v, want %v", tt.got, tt.expected)
			}
		})
	}
}

func TestFinalizeEnvOverrides(t *testing.T) {
	t.Setenv("TEST_DB_HOST", "db.internal")
	t.Setenv("TEST_DB_PORT", "6432")
	t.Setenv("TEST_DB_USER", "envuser")
	t.Setenv("TEST_DB_TIMEOUT", "2s")

	cfg := database.Config{}
	err := cfg.Finalize(&database.Env{
		Host:        "TEST_DB_HOST",
		Port:        "TEST_DB_PORT",
		User:        "TEST_DB_USER",
		ConnTimeout: "TEST_DB_TIMEOUT",
	})
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}

	if cfg.Host != "db.internal" || cfg.Port != 6432 || cfg.User != "envuser" {
		t.Errorf("env not applied: %+v", cfg)
	}
	if cfg.ConnTimeoutDuration() != 2*time.Second {
		t.Errorf("ConnTimeout = %v, want 2s", cfg.ConnTimeoutDuration())
	}
}

func TestFinalizeValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     database.Config
		wantErr string
	}{
		{"missing user", database.Config{}, "user required"},
		{"idle exceeds open", database.Config{User: "u", MaxOpenConns: 1, MaxIdleConns: 3}, "max_idle_conns"},
		{"bad lifetime", database.Config{User: "u", ConnMaxLifetime: "forever"}, "conn_max_lifetime"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Finalize(nil)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Finalize() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestMerge(t *testing.T) {
	base := database.Config{Host: "a", Port: 1, User: "u"}
	base.Merge(&database.Config{Host: "b"})
	if base.Host != "b" || base.Port != 1 || base.User != "u" {
		t.Errorf("Merge() = %+v", base)
	}
}

func TestURL(t *testing.T) {
	cfg := database.Config{Host: "h", Port: 5432, Name: "n", User: "u", Password: "p@ss", SSLMode: "disable"}
	want := "postgres://u:p%40ss@h:5432/n?sslmode=disable"
	if got := cfg.URL(); got != want {
		t.Errorf("URL() = %q, want %q", got, want)
	}
}

func TestNewIsLazy(t *testing.T) {
	cfg := database.Config{User: "u"}
	if err := cfg.Finalize(nil); err != nil {
		t.Fatal(err)
	}

	sys, err := database.New(&cfg, slog.Default())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if sys.Connection() == nil {
		t.Fatal("Connection() returned nil")
	}
	if sys.Ready() {
		t.Error("should not be ready before Start")
	}

	lc := lifecycle.New()
	if err := sys.Start(lc); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := lc.Shutdown(time.Second); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}
