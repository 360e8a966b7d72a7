package runtime

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"reflect"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Package-level validator instance
var validate *validator.Validate

// init initializes the validator and registers custom validation functions
func init() {
	validate = validator.New()

	// Register custom validators
	registerCustomValidators()
}

// Config is the validator bridge configuration, usually loaded from YAML.
type Config struct {
	Engine      string                    `yaml:"engine" default:"risor" validate:"oneof=risor lua yaml"`
	Script      string                    `yaml:"script" validate:"required,file"`
	SearchPath  []string                  `yaml:"search_path" validate:"dive,dir"`
	AuxModule   string                    `yaml:"aux_module" default:"boinctools" validate:"required,module_name"`
	Symbol      string                    `yaml:"symbol" default:"current_result" validate:"required,identifier"`
	Recoverable []string                  `yaml:"recoverable" default:"[\"NoSuchProcess\"]" validate:"dive,identifier"`
	Sandbox     bool                      `yaml:"sandbox"`
	Paths       PathsConfig               `yaml:"paths" default:"{}"`
	Log         LogConfig                 `yaml:"log" default:"{}"`
	Telemetry   TelemetryConfig           `yaml:"telemetry" default:"{}"`
	Plugins     map[string]map[string]any `yaml:"plugins"`
}

// PathsConfig selects how result output files are located.
type PathsConfig struct {
	Resolver  string `yaml:"resolver" default:"static" validate:"oneof=static upload s3"`
	UploadDir string `yaml:"upload_dir" validate:"required_if=Resolver upload"`
	Fanout    int    `yaml:"fanout" default:"1024" validate:"gte=1"`
	Bucket    string `yaml:"bucket" validate:"required_if=Resolver s3"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint" validate:"omitempty,url_format"`
	SpoolDir  string `yaml:"spool_dir" validate:"required_if=Resolver s3"`
}

type LogConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" default:"text" validate:"oneof=text json"`
}

type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Endpoint    string `yaml:"endpoint" validate:"required_if=Enabled true,omitempty,hostname_port"`
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"service_name" default:"scriptval"`
}

// EngineOptions maps the configuration onto engine options.
func (c *Config) EngineOptions(plugins *Container, logger *slog.Logger) EngineOptions {
	return EngineOptions{
		Script:     c.Script,
		SearchPath: c.SearchPath,
		Symbol:     c.Symbol,
		Sandbox:    c.Sandbox,
		Plugins:    plugins,
		Logger:     logger,
	}
}

// LoadConfig reads a YAML config file, expands ${VAR} references and
// returns the defaulted, validated configuration.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("error unmarshalling config %s: %w", path, err)
	}

	expanded, err := ExpandEnv(raw)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	var cfg Config
	if err := InitializeConfig(&cfg, expanded.(map[string]any)); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

// InitializeConfig prepares a config struct: defaults, then raw value
// merging, then validation.
func InitializeConfig(config any, rawValues map[string]any) error {
	// Step 1: Apply defaults from struct tags
	if err := ApplyDefaults(config); err != nil {
		slog.Error("Config: failed to apply defaults",
			"config_type", reflect.TypeOf(config).String(),
			"error", err)
		return fmt.Errorf("failed to apply defaults: %w", err)
	}

	// Step 2: Merge raw values (env vars already expanded)
	// Use YAML tags because Config structs use yaml tags for field mapping
	if len(rawValues) > 0 {
		if err := mapToStructFromYAML(rawValues, config); err != nil {
			slog.Error("Config: failed to apply config values",
				"config_type", reflect.TypeOf(config).String(),
				"error", err)
			return fmt.Errorf("failed to apply config values: %w", err)
		}
	}

	// Step 3: Validate final config (AFTER rawValues are merged)
	configValue := reflect.ValueOf(config)
	if configValue.Kind() == reflect.Ptr {
		configValue = configValue.Elem()
	}

	if err := validateConfig(configValue.Interface()); err != nil {
		slog.Error("Config validation failed",
			"config_type", reflect.TypeOf(config).String(),
			"error", err)
		return fmt.Errorf("validation failed: %w", err)
	}

	return nil
}

// registerCustomValidators registers framework-provided custom validation functions
func registerCustomValidators() {
	// hostname_port validates "host:port" format with numeric port
	validate.RegisterValidation("hostname_port", func(fl validator.FieldLevel) bool {
		addr := fl.Field().String()
		host, port, err := net.SplitHostPort(addr)
		if err != nil || host == "" || port == "" {
			return false
		}
		_, err = net.LookupPort("tcp", port)
		return err == nil
	})

	// url_format validates URL structure
	validate.RegisterValidation("url_format", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		u, err := url.Parse(s)
		return err == nil && u.Scheme != "" && u.Host != ""
	})

	// dsn validates database connection string format
	// Checks for either URL format (scheme://...) or traditional key=value DSN
	validate.RegisterValidation("dsn", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if strings.Contains(s, "://") {
			_, err := url.Parse(s)
			return err == nil
		}
		return strings.Contains(s, "=") || (strings.Contains(s, "@") && strings.Contains(s, "/"))
	})

	// identifier validates a script-level name usable as a global or exception class
	validate.RegisterValidation("identifier", func(fl validator.FieldLevel) bool {
		return isIdentifier(fl.Field().String())
	})

	// module_name validates dotted module names such as "boinctools" or "site.hooks"
	validate.RegisterValidation("module_name", func(fl validator.FieldLevel) bool {
		for _, part := range strings.Split(fl.Field().String(), ".") {
			if !isIdentifier(part) {
				return false
			}
		}
		return true
	})
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

func ApplyDefaults(config any) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := defaults.Set(config); err != nil {
		return fmt.Errorf("failed to apply default values: %w", err)
	}

	return nil
}

func validateConfig(config any) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := validate.Struct(config); err != nil {
		// Format validation errors for better readability
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			var errMessages []string
			for _, fieldErr := range validationErrors {
				errMessages = append(errMessages, fmt.Sprintf(
					"field '%s' failed validation: %s (rule: %s)",
					fieldErr.Field(),
					fieldErr.Error(),
					fieldErr.Tag(),
				))
			}
			return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errMessages, "\n  - "))
		}
		return fmt.Errorf("config validation failed: %w", err)
	}

	return nil
}
