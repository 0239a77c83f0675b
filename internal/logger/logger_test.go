package logger

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"DEBUG", slog.LevelDebug},
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"WARNING", slog.LevelWarn},
		{"WARN", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"invalid", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := parseLogLevel(tt.input)
			if result != tt.expected {
				t.Errorf("parseLogLevel(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	config, err := LoadConfig("nonexistent.yaml")
	if err != nil {
		t.Fatalf("LoadConfig returned error for missing file: %v", err)
	}

	if config.Level != "INFO" {
		t.Errorf("Default level = %q, want %q", config.Level, "INFO")
	}
	if !config.Console() {
		t.Error("Default console output is off, want on")
	}
	if config.ConsoleFormat != "text" {
		t.Errorf("Default ConsoleFormat = %q, want %q", config.ConsoleFormat, "text")
	}
	if config.FileEnabled {
		t.Error("Default FileEnabled = true, want false")
	}
	if config.FilePath != "logs/balance.log" {
		t.Errorf("Default FilePath = %q, want %q", config.FilePath, "logs/balance.log")
	}
}

func TestLoadConfigFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "balance.yaml")
	yamlContent := `monte_carlo:
  runs: 500
logging:
  level: DEBUG
  console_enabled: false
  console_format: json
  file_enabled: true
  file_path: test.log
  file_max_size_mb: 20
`
	if err := os.WriteFile(path, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	if config.Level != "DEBUG" {
		t.Errorf("Level = %q, want %q", config.Level, "DEBUG")
	}
	if config.Console() {
		t.Error("console_enabled: false was ignored")
	}
	if config.ConsoleFormat != "json" {
		t.Errorf("ConsoleFormat = %q, want %q", config.ConsoleFormat, "json")
	}
	if !config.FileEnabled {
		t.Error("FileEnabled = false, want true")
	}
	if config.FilePath != "test.log" {
		t.Errorf("FilePath = %q, want %q", config.FilePath, "test.log")
	}
	if config.FileMaxSizeMB != 20 {
		t.Errorf("FileMaxSizeMB = %d, want %d", config.FileMaxSizeMB, 20)
	}
	if config.FileMaxBackups != 5 {
		t.Errorf("FileMaxBackups = %d, want default 5", config.FileMaxBackups)
	}
}

func TestLoadConfigMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("logging: [unclosed"), 0o644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("LoadConfig accepted malformed YAML")
	}
}

func TestEnvVarOverride(t *testing.T) {
	t.Setenv("LOG_LEVEL", "ERROR")
	t.Setenv("LOG_CONSOLE_FORMAT", "json")
	t.Setenv("LOG_FILE_ENABLED", "true")
	t.Setenv("LOG_FILE_PATH", "/custom/path.log")

	config, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}

	if config.Level != "ERROR" {
		t.Errorf("Level = %q, want %q (from env var)", config.Level, "ERROR")
	}
	if config.ConsoleFormat != "json" {
		t.Errorf("ConsoleFormat = %q, want %q (from env var)", config.ConsoleFormat, "json")
	}
	if !config.FileEnabled {
		t.Error("FileEnabled = false, want true (from env var)")
	}
	if config.FilePath != "/custom/path.log" {
		t.Errorf("FilePath = %q, want %q (from env var)", config.FilePath, "/custom/path.log")
	}
}

// captureConsole points console output at a buffer for the test.
func captureConsole(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := console
	console = &buf
	t.Cleanup(func() {
		console = prev
		Close()
	})
	return &buf
}

func TestInitializeConsoleText(t *testing.T) {
	buf := captureConsole(t)
	if err := Initialize(Config{Level: "INFO", ConsoleFormat: "text"}); err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}

	Info("Run complete", "runs", 1000)
	Debug("This should not appear")

	output := buf.String()
	if !strings.Contains(output, "Run complete") || !strings.Contains(output, "runs=1000") {
		t.Errorf("Output missing INFO message: %s", output)
	}
	if strings.Contains(output, "This should not appear") {
		t.Errorf("Output contains DEBUG message when level is INFO: %s", output)
	}
}

func TestInitializeConsoleJSON(t *testing.T) {
	buf := captureConsole(t)
	if err := Initialize(Config{Level: "DEBUG", ConsoleFormat: "json"}); err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}

	Debug("JSON test", "unit", "Knight", "win_rate", 0.5)

	output := buf.String()
	if !strings.Contains(output, `"msg":"JSON test"`) {
		t.Errorf("Output missing JSON message field: %s", output)
	}
	if !strings.Contains(output, `"unit":"Knight"`) || !strings.Contains(output, `"win_rate":0.5`) {
		t.Errorf("Output missing JSON fields: %s", output)
	}
}

func TestInitializeFileRotation(t *testing.T) {
	captureConsole(t)
	path := filepath.Join(t.TempDir(), "logs", "balance.log")
	disabled := false
	err := Initialize(Config{Level: "INFO", ConsoleEnabled: &disabled, FileEnabled: true, FilePath: path, FileMaxSizeMB: 1})
	if err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}
	Info("written to file", "seed", 42)
	if err := Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not created: %v", err)
	}
	if !strings.Contains(string(data), "written to file") || !strings.Contains(string(data), "seed=42") {
		t.Errorf("log file content = %q", data)
	}
}

func TestInitializeFileWithoutPath(t *testing.T) {
	if err := Initialize(Config{FileEnabled: true}); err == nil {
		t.Error("Initialize accepted file logging without a path")
	}
}

func TestAlwaysBypassesLogLevel(t *testing.T) {
	buf := captureConsole(t)
	if err := Initialize(Config{Level: "ERROR"}); err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}

	Debug("Debug message")
	Info("Info message")
	Warning("Warning")
	Error("Error message")
	Always("Always message")

	output := buf.String()
	if strings.Contains(output, "Debug message") {
		t.Error("DEBUG appeared when level is ERROR")
	}
	if strings.Contains(output, "Info message") {
		t.Error("INFO appeared when level is ERROR")
	}
	if strings.Contains(output, "Warning") {
		t.Error("WARNING appeared when level is ERROR")
	}
	if !strings.Contains(output, "Error message") {
		t.Error("ERROR message missing from output")
	}
	if !strings.Contains(output, "Always message") {
		t.Error("ALWAYS message missing from output (should bypass level filter)")
	}
	if !strings.Contains(output, "level=ALWAYS") {
		t.Error("ALWAYS level not formatted correctly")
	}
}

func TestFormattedLogging(t *testing.T) {
	buf := captureConsole(t)
	if err := Initialize(Config{Level: "DEBUG"}); err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}

	Debugf("Debug: %d + %d = %d", 1, 2, 3)
	Infof("Info: %s", "test")
	Warningf("Warning: %.2f%%", 99.95)
	Errorf("Error: %v", "failed")
	Alwaysf("Always: %s %d", "count", 5)

	output := buf.String()
	for _, want := range []string{"Debug: 1 + 2 = 3", "Info: test", "Warning: 99.95%", "Error: failed", "Always: count 5"} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestMultiHandler(t *testing.T) {
	var buf1, buf2 bytes.Buffer

	handler1 := slog.NewTextHandler(&buf1, &slog.HandlerOptions{Level: slog.LevelInfo})
	handler2 := slog.NewTextHandler(&buf2, &slog.HandlerOptions{Level: slog.LevelWarn})
	l := slog.New(newMultiHandler(handler1, handler2)).With("component", "matrix")

	l.Info("Multi-handler test", "field", "value")
	l.Warn("Second output")

	output1 := buf1.String()
	output2 := buf2.String()

	if !strings.Contains(output1, "Multi-handler test") || !strings.Contains(output1, "component=matrix") {
		t.Errorf("First handler output = %q", output1)
	}
	if strings.Contains(output2, "Multi-handler test") {
		t.Error("Second handler received a record below its level")
	}
	if !strings.Contains(output2, "Second output") {
		t.Error("Second handler did not receive the warning")
	}
}

func TestNilLogger(t *testing.T) {
	Close()

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("Logging with nil logger caused panic: %v", r)
		}
	}()

	Debug("debug")
	Info("info")
	Warning("warning")
	Error("error")
	Always("always")
}
