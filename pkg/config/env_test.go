package config

import (
	"testing"

	"github.com/sirupsen/logrus"
)

func TestGetEnvWithDefault(t *testing.T) {
	t.Setenv("FOO", "")
	if got := GetEnv("FOO", "bar"); got != "bar" {
		t.Fatalf("expected bar, got %s", got)
	}
	t.Setenv("FOO", "baz")
	if got := GetEnv("FOO", "bar"); got != "baz" {
		t.Fatalf("expected baz, got %s", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("NUM", "")
	if got := GetEnvInt("NUM", 42); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
	t.Setenv("NUM", "100")
	if got := GetEnvInt("NUM", 42); got != 100 {
		t.Fatalf("expected 100, got %d", got)
	}
	t.Setenv("NUM", "notint")
	if got := GetEnvInt("NUM", 7); got != 7 {
		t.Fatalf("expected 7 on parse error, got %d", got)
	}
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("FLAG", "")
	if got := GetEnvBool("FLAG", true); got != true {
		t.Fatalf("expected true default, got %v", got)
	}
	t.Setenv("FLAG", "false")
	if got := GetEnvBool("FLAG", true); got != false {
		t.Fatalf("expected false, got %v", got)
	}
}

func TestGetLogLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	if GetLogLevel() != logrus.DebugLevel {
		t.Fatalf("expected debug level")
	}
	t.Setenv("LOG_LEVEL", "")
	if GetLogLevel() != logrus.InfoLevel {
		t.Fatalf("expected info level by default")
	}
}

func TestLoadLimitsDefaults(t *testing.T) {
	for _, key := range []string{"MIN_DEPOSIT", "MAX_DEPOSIT", "MIN_WITHDRAW", "MAX_WITHDRAW", "PAYMENT_CODE_LIMIT"} {
		t.Setenv(key, "")
	}
	limits := LoadLimits()
	if limits.MinDeposit != 500 || limits.MaxDeposit != 100000 {
		t.Fatalf("unexpected deposit bounds: %+v", limits)
	}
	if limits.MinWithdraw != 1000 || limits.MaxWithdraw != 50000 {
		t.Fatalf("unexpected withdraw bounds: %+v", limits)
	}
	if limits.DefaultCodeCap != 5400 {
		t.Fatalf("unexpected code cap: %d", limits.DefaultCodeCap)
	}
}

func TestLoadLimitsOverride(t *testing.T) {
	t.Setenv("MIN_DEPOSIT", "250")
	t.Setenv("PAYMENT_CODE_LIMIT", "10000")
	limits := LoadLimits()
	if limits.MinDeposit != 250 {
		t.Fatalf("expected 250, got %d", limits.MinDeposit)
	}
	if limits.DefaultCodeCap != 10000 {
		t.Fatalf("expected 10000, got %d", limits.DefaultCodeCap)
	}
}

func TestLoadEnvNoFile(t *testing.T) {
	// Should not panic or error; just log debug
	logger := logrus.New()
	LoadEnv(logger)
}
