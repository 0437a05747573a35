package obslog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug": zapcore.DebugLevel, " WARN ": zapcore.WarnLevel, "warning": zapcore.WarnLevel,
		"error": zapcore.ErrorLevel, "": zapcore.InfoLevel, "verbose": zapcore.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestInitFromEnvWritesServiceField(t *testing.T) {
	prev := L()
	defer Set(prev)

	path := filepath.Join(t.TempDir(), "nested", "worker.log")
	t.Setenv("LOG_TO_CONSOLE", "false")
	t.Setenv("LOG_TO_FILE", "true")
	t.Setenv("LOG_FILE", path)
	t.Setenv("LOG_FORMAT", "json")
	if err := InitFromEnv("analysis-worker"); err != nil {
		t.Fatalf("InitFromEnv: %v", err)
	}
	L().Info("batch_start", zap.String("batch_id", "b1"))
	Sync()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := string(raw)
	for _, want := range []string{`"msg":"batch_start"`, `"service":"analysis-worker"`, `"batch_id":"b1"`} {
		if !strings.Contains(line, want) {
			t.Fatalf("log line missing %s: %s", want, line)
		}
	}
}

func TestSetNilFallsBackToNop(t *testing.T) {
	prev := L()
	defer Set(prev)

	core, logs := observer.New(zapcore.InfoLevel)
	Set(zap.New(core))
	L().Info("seen")
	Set(nil)
	L().Info("dropped")
	if logs.Len() != 1 || logs.All()[0].Message != "seen" {
		t.Fatalf("unexpected entries: %+v", logs.All())
	}
}
