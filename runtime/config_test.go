package runtime

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeConfig writes a script, a module dir and a config file referencing
// them, and returns the config path.
func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()

	if err := os.WriteFile(filepath.Join(dir, "validators.risor"), []byte("validators := {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "lib"), 0o755); err != nil {
		t.Fatal(err)
	}

	body = strings.ReplaceAll(body, "$DIR", dir)
	path := filepath.Join(dir, "scriptval.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeConfig(t, `
script: $DIR/validators.risor
search_path: [$DIR/lib]
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Engine != "risor" {
		t.Errorf("Expected engine 'risor', got '%s'", cfg.Engine)
	}
	if cfg.AuxModule != DefaultAuxModule {
		t.Errorf("Expected aux module %q, got %q", DefaultAuxModule, cfg.AuxModule)
	}
	if cfg.Symbol != DefaultResultSymbol {
		t.Errorf("Expected symbol %q, got %q", DefaultResultSymbol, cfg.Symbol)
	}
	if len(cfg.Recoverable) != 1 || cfg.Recoverable[0] != DefaultRecoverable {
		t.Errorf("Expected recoverable [%s], got %v", DefaultRecoverable, cfg.Recoverable)
	}
	if cfg.Paths.Resolver != "static" || cfg.Paths.Fanout != 1024 {
		t.Errorf("unexpected paths defaults %+v", cfg.Paths)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("unexpected log defaults %+v", cfg.Log)
	}
	if cfg.Telemetry.Enabled || cfg.Telemetry.ServiceName != "scriptval" {
		t.Errorf("unexpected telemetry defaults %+v", cfg.Telemetry)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("SCRIPTVAL_UPLOAD", "/var/boinc/upload")
	path := writeConfig(t, `
engine: lua
script: $DIR/validators.risor
aux_module: site.hooks
symbol: result
recoverable: [NoSuchProcess, Timeout]
paths:
  resolver: upload
  upload_dir: ${SCRIPTVAL_UPLOAD}
  fanout: 256
log:
  level: ${SCRIPTVAL_LOG_LEVEL:debug}
  format: json
plugins:
  http:
    base_url: https://project.example.org
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Engine != "lua" || cfg.AuxModule != "site.hooks" || cfg.Symbol != "result" {
		t.Errorf("unexpected config %+v", cfg)
	}
	if len(cfg.Recoverable) != 2 {
		t.Errorf("Expected configured recoverable kinds to replace the default, got %v", cfg.Recoverable)
	}
	if cfg.Paths.UploadDir != "/var/boinc/upload" || cfg.Paths.Fanout != 256 {
		t.Errorf("unexpected paths %+v", cfg.Paths)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Expected env default 'debug', got %q", cfg.Log.Level)
	}
	if cfg.Plugins["http"]["base_url"] != "https://project.example.org" {
		t.Errorf("unexpected plugin config %v", cfg.Plugins)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "missing script",
			body: "engine: risor\n",
			want: "Script",
		},
		{
			name: "script does not exist",
			body: "script: $DIR/nope.risor\n",
			want: "Script",
		},
		{
			name: "unknown engine",
			body: "engine: python\nscript: $DIR/validators.risor\n",
			want: "Engine",
		},
		{
			name: "upload resolver without dir",
			body: "script: $DIR/validators.risor\npaths:\n  resolver: upload\n",
			want: "UploadDir",
		},
		{
			name: "telemetry without endpoint",
			body: "script: $DIR/validators.risor\ntelemetry:\n  enabled: true\n",
			want: "Endpoint",
		},
		{
			name: "symbol is not an identifier",
			body: "script: $DIR/validators.risor\nsymbol: current-result\n",
			want: "Symbol",
		},
		{
			name: "bad module name",
			body: "script: $DIR/validators.risor\naux_module: boinc..tools\n",
			want: "AuxModule",
		},
		{
			name: "search path is not a directory",
			body: "script: $DIR/validators.risor\nsearch_path: [$DIR/validators.risor]\n",
			want: "SearchPath",
		},
		{
			name: "unset environment variable",
			body: "script: ${SCRIPTVAL_UNSET_FOR_TEST}\n",
			want: "SCRIPTVAL_UNSET_FOR_TEST",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error to mention %q, got: %v", tt.want, err)
			}
		})
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for a missing config file")
	}
}

type pluginConfig struct {
	Addr     string        `yaml:"addr" default:"localhost:5432" validate:"required,hostname_port"`
	Endpoint string        `yaml:"endpoint" validate:"omitempty,url_format"`
	DSN      string        `yaml:"dsn" validate:"omitempty,dsn"`
	Pool     int           `yaml:"pool" default:"4" validate:"gte=1,lte=64"`
	Timeout  time.Duration `yaml:"timeout" default:"30s" validate:"gte=1s"`
}

func TestInitializeConfig(t *testing.T) {
	var cfg pluginConfig
	if err := InitializeConfig(&cfg, map[string]any{"pool": 8, "timeout": "2m"}); err != nil {
		t.Fatalf("InitializeConfig failed: %v", err)
	}
	if cfg.Addr != "localhost:5432" || cfg.Pool != 8 || cfg.Timeout != 2*time.Minute {
		t.Errorf("unexpected config %+v", cfg)
	}

	var bad pluginConfig
	err := InitializeConfig(&bad, map[string]any{"pool": 500})
	if err == nil || !strings.Contains(err.Error(), "validation") {
		t.Errorf("Expected validation error, got %v", err)
	}

	if err := ApplyDefaults(nil); err == nil {
		t.Error("Expected error for nil config")
	}
}

func TestCustomValidators(t *testing.T) {
	tests := []struct {
		name      string
		cfg       pluginConfig
		shouldErr bool
	}{
		{"hostname port", pluginConfig{Addr: "db.example.com:5432"}, false},
		{"ipv6 port", pluginConfig{Addr: "[::1]:8080"}, false},
		{"no port", pluginConfig{Addr: "localhost"}, true},
		{"no host", pluginConfig{Addr: ":8080"}, true},
		{"named port", pluginConfig{Addr: "localhost:port"}, true},
		{"url", pluginConfig{Addr: "a:1", Endpoint: "https://example.com:8080/v1"}, false},
		{"url without scheme", pluginConfig{Addr: "a:1", Endpoint: "example.com"}, true},
		{"url without host", pluginConfig{Addr: "a:1", Endpoint: "http://"}, true},
		{"postgres url", pluginConfig{Addr: "a:1", DSN: "postgres://u:p@localhost:5432/boinc"}, false},
		{"key value dsn", pluginConfig{Addr: "a:1", DSN: "host=localhost dbname=boinc"}, false},
		{"bad dsn", pluginConfig{Addr: "a:1", DSN: "localhost:5432/boinc"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			if cfg.Pool == 0 {
				cfg.Pool = 1
			}
			if cfg.Timeout == 0 {
				cfg.Timeout = time.Second
			}
			err := validateConfig(cfg)
			if tt.shouldErr && err == nil {
				t.Errorf("Expected validation error for %+v, got nil", tt.cfg)
			}
			if !tt.shouldErr && err != nil {
				t.Errorf("Expected no error for %+v, got: %v", tt.cfg, err)
			}
		})
	}
}

func TestIsIdentifier(t *testing.T) {
	tests := map[string]bool{
		"current_result": true,
		"NoSuchProcess":  true,
		"_x1":            true,
		"1x":             false,
		"":               false,
		"a-b":            false,
		"a.b":            false,
	}
	for in, want := range tests {
		if got := isIdentifier(in); got != want {
			t.Errorf("isIdentifier(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("SCRIPTVAL_BUCKET", "results")

	out, err := ExpandEnv(map[string]any{
		"bucket": "${SCRIPTVAL_BUCKET}",
		"region": "${SCRIPTVAL_REGION_UNSET:eu-west-1}",
		"list":   []any{"${SCRIPTVAL_BUCKET}", 3},
		"inline": "prefix-${SCRIPTVAL_BUCKET}",
	})
	if err != nil {
		t.Fatalf("ExpandEnv failed: %v", err)
	}

	m := out.(map[string]any)
	if m["bucket"] != "results" || m["region"] != "eu-west-1" {
		t.Errorf("unexpected expansion %v", m)
	}
	if list := m["list"].([]any); list[0] != "results" || list[1] != 3 {
		t.Errorf("unexpected list expansion %v", list)
	}
	// Only whole-value references are expanded.
	if m["inline"] != "prefix-${SCRIPTVAL_BUCKET}" {
		t.Errorf("unexpected inline expansion %v", m["inline"])
	}

	_, err = ExpandEnv(map[string]any{"dsn": "${SCRIPTVAL_DSN_UNSET}"})
	if err == nil || !strings.Contains(err.Error(), "dsn: required environment variable not set") {
		t.Errorf("Expected missing variable error, got %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]string{
		"debug":   "DEBUG",
		"WARN":    "WARN",
		"warning": "WARN",
		"error":   "ERROR",
		"":        "INFO",
		"verbose": "INFO",
	}
	for in, want := range tests {
		if got := ParseLevel(in).String(); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestNewLogger(t *testing.T) {
	var buf strings.Builder
	logger := NewLogger(LogConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown", "result", "wu_1_0")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record should be filtered: %s", out)
	}
	if !strings.Contains(out, `"result":"wu_1_0"`) {
		t.Errorf("Expected a JSON record, got %s", out)
	}
}
