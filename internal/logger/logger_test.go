package logger

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestLevelFromEnvDefaultsToInfo(t *testing.T) {
	old, hadOld := os.LookupEnv("DENDRODB_LOG")
	os.Unsetenv("DENDRODB_LOG")
	defer func() {
		if hadOld {
			os.Setenv("DENDRODB_LOG", old)
		}
	}()

	if got := LevelFromEnv(); got != "info" {
		t.Errorf("expected default level info, got %q", got)
	}
}

func TestLevelFromEnvRejectsUnknownValue(t *testing.T) {
	os.Setenv("DENDRODB_LOG", "verbose")
	defer os.Unsetenv("DENDRODB_LOG")

	if got := LevelFromEnv(); got != "info" {
		t.Errorf("expected an unrecognized level to fall back to info, got %q", got)
	}
}

func TestLevelFromEnvPassesThroughKnownValues(t *testing.T) {
	for _, level := range []string{"off", "warn", "info", "debug"} {
		os.Setenv("DENDRODB_LOG", level)
		if got := LevelFromEnv(); got != level {
			t.Errorf("expected %q to pass through, got %q", level, got)
		}
	}
	os.Unsetenv("DENDRODB_LOG")
}

func TestNewAtOffLevelDiscardsInfoLogs(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "off", Output: &buf})
	l.Info().Msg("should not appear")
	if buf.Len() != 0 {
		t.Errorf("expected no output at off level, got %q", buf.String())
	}
}

func TestNewAtDebugLevelWritesMessage(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "debug", Output: &buf})
	l.Debug().Str("collection", "widgets").Msg("opened")
	if !strings.Contains(buf.String(), "opened") {
		t.Errorf("expected log line to contain the message, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "dendrodb") {
		t.Errorf("expected the service field to be stamped, got %q", buf.String())
	}
}

func TestWithAddsComponentField(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "info", Output: &buf}).With("btree")
	l.Info().Msg("split")
	if !strings.Contains(buf.String(), `"component":"btree"`) {
		t.Errorf("expected component=btree in the log line, got %q", buf.String())
	}
}

func TestNopDiscardsEverything(t *testing.T) {
	l := Nop()
	l.Error().Msg("should be silently dropped")
	l.LogCommit(1, 3, 0, nil)
	l.LogRecovery(1, 0, 2)
}

func TestLogRecoveryReportsCounts(t *testing.T) {
	var buf bytes.Buffer
	l := New(Config{Level: "info", Output: &buf})
	l.LogRecovery(2, 1, 5)
	out := buf.String()
	for _, want := range []string{`"committed_txns":2`, `"uncommitted_txns":1`, `"replayed_pages":5`} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in recovery log line, got %q", want, out)
		}
	}
}
