package config

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes every environment variable. A double underscore separates
// nested keys: IMPALINEAGE_SOURCE__HOST sets source.host.
const EnvPrefix = "IMPALINEAGE_"

// configKey and loggerKey store values in the command context.
type (
	configKey struct{}
	loggerKey struct{}
)

// flagKeys maps command-line flags to configuration keys. Flags not listed here
// are command options and never reach the configuration.
var flagKeys = map[string]string{
	"verbose":          "verbose",
	"output":           "output",
	"log-level":        "log.level",
	"log-format":       "log.format",
	"host":             "source.host",
	"cluster":          "source.cluster",
	"from":             "query.start_time",
	"to":               "query.end_time",
	"filter":           "query.filter",
	"batch-size":       "query.batch_size",
	"tasks":            "tasks.path",
	"tasks-format":     "tasks.format",
	"skip-header":      "tasks.skip_header",
	"only-successful":  "tasks.only_successful",
	"strategy":         "search.strategy",
	"exclude-table":    "search.exclude_tables",
	"exclude-keyword":  "search.exclude_keywords",
	"ignore-source-db": "search.ignore_source_db",
	"parallelism":      "search.parallelism",
	"allow-partial":    "ingest.allow_partial",
	"format":           "report.format",
	"out":              "report.output",
	"store-driver":     "store.driver",
	"store-dsn":        "store.dsn",
}

var configFileUsed string

// findConfigFile finds the config file to use.
// Priority: explicit path > impalineage.yaml > impalineage.yml
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, name := range []string{"impalineage.yaml", "impalineage.yml"} {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

// Load loads configuration from defaults, the config file, environment
// variables and flags. Precedence (highest to lowest): flags > env vars >
// config file > defaults. flags may be nil.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file
	configFileUsed = findConfigFile(cfgFile)
	if configFileUsed != "" {
		if err := k.Load(file.Provider(configFileUsed), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFileUsed, err)
		}
	}

	// 3. Environment: IMPALINEAGE_SEARCH__EXCLUDE_TABLES -> search.exclude_tables
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags, only those explicitly set
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// 5. Decode
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
				mapstructure.TextUnmarshallerHookFunc(),
			),
			Metadata:         nil,
			Result:           &cfg,
			TagName:          "koanf",
			WeaklyTypedInput: true,
		},
	}); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	cfg.Search.ExcludeTables = trimAll(cfg.Search.ExcludeTables)
	cfg.Search.ExcludeKeywords = trimAll(cfg.Search.ExcludeKeywords)
	expandSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// GetConfigFileUsed returns the path to the config file being used, if any.
func GetConfigFileUsed() string {
	return configFileUsed
}

// WithConfig returns a context carrying cfg.
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// FromContext retrieves the config from the command context.
func FromContext(ctx context.Context) *Config {
	if c, ok := ctx.Value(configKey{}).(*Config); ok {
		return c
	}
	return nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match
	})
}

// expandSecrets expands environment variables in credential fields.
func expandSecrets(cfg *Config) {
	cfg.Source.Username = expandEnvVars(cfg.Source.Username)
	cfg.Source.Password = expandEnvVars(cfg.Source.Password)
	cfg.Report.S3.AccessKeyID = expandEnvVars(cfg.Report.S3.AccessKeyID)
	cfg.Report.S3.SecretAccessKey = expandEnvVars(cfg.Report.S3.SecretAccessKey)
	cfg.Store.DSN = expandEnvVars(cfg.Store.DSN)
}

func trimAll(items []string) []string {
	out := items[:0]
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
