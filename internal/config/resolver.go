// Package config resolves smcluster settings from built-in defaults, a YAML
// file, SMCLUSTER_* environment variables and command-line flags, in that
// order, remembering where each value came from.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps every resolution or validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SMCLUSTER_"

type ValueSource string

const (
	SourceUnknown ValueSource = "unknown"
	SourceConfig  ValueSource = "config"
	SourceEnv     ValueSource = "env"
	SourceCLI     ValueSource = "cli"
	SourceDefault ValueSource = "default"
)

type ResolvedValue struct {
	Value  string      `json:"value"`
	Source ValueSource `json:"source"`
	From   string      `json:"from,omitempty"`
}

// Config keys.
const (
	KeyMinThreshold        = "min_threshold"
	KeySecondClusterFactor = "second_cluster_factor"
	KeyDampeningFactor     = "dampening_factor"
	KeyUpdateEvery         = "update_every"
	KeyMaxGroupSize        = "max_group_size"
	KeyWorkers             = "workers"
	KeyExcludeContent      = "exclude_content"
	KeyPMINoSignal         = "pmi_no_signal"
	KeyLanguageModel       = "language.model_path"
	KeyLanguageTokenizer   = "language.tokenizer_path"
	KeyLanguageConfig      = "language.config_path"
	KeyLanguageORTLibrary  = "language.ort_library"
	KeyLanguageMaxTokens   = "language.max_tokens"
	KeyOutput              = "output"
	KeyMetricsTextfile     = "metrics_textfile"
	KeyLogLevel            = "log_level"
	KeyLogFormat           = "log_format"
)

// ListSeparator joins list values (exclude_content) in env and flag form.
const ListSeparator = "|"

var defaults = []struct{ key, value string }{
	{KeyMinThreshold, "0.03"},
	{KeySecondClusterFactor, "2.5"},
	{KeyDampeningFactor, "4"},
	{KeyUpdateEvery, "1000"},
	{KeyMaxGroupSize, "0"},
	{KeyWorkers, "0"},
	{KeyExcludeContent, ListSeparator + "This is a re-share of a post"},
	{KeyPMINoSignal, "-inf"},
	{KeyLanguageModel, ""},
	{KeyLanguageTokenizer, ""},
	{KeyLanguageConfig, ""},
	{KeyLanguageORTLibrary, ""},
	{KeyLanguageMaxTokens, "128"},
	{KeyOutput, "clusters.csv"},
	{KeyMetricsTextfile, ""},
	{KeyLogLevel, "info"},
	{KeyLogFormat, "console"},
}

// Keys returns every config key in display order.
func Keys() []string {
	out := make([]string, len(defaults))
	for i, d := range defaults {
		out[i] = d.key
	}
	return out
}

// EnvName returns the environment variable that overrides key.
func EnvName(key string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// Override is one command-line value.
type Override struct {
	Key   string
	Value string
	Flag  string
}

type ResolveOptions struct {
	ConfigPath string
	CLI        []Override
}

type ResolvedConfig struct {
	ConfigPath string                   `json:"config_path"`
	Values     map[string]ResolvedValue `json:"values"`
}

// Get returns the resolved value of key.
func (r ResolvedConfig) Get(key string) ResolvedValue {
	return r.Values[key]
}

type fileConfig struct {
	MinThreshold        *float64  `yaml:"min_threshold"`
	SecondClusterFactor *float64  `yaml:"second_cluster_factor"`
	DampeningFactor     *float64  `yaml:"dampening_factor"`
	UpdateEvery         *int      `yaml:"update_every"`
	MaxGroupSize        *int      `yaml:"max_group_size"`
	Workers             *int      `yaml:"workers"`
	ExcludeContent      *[]string `yaml:"exclude_content"`
	PMINoSignal         *float64  `yaml:"pmi_no_signal"`
	Language            struct {
		ModelPath     string `yaml:"model_path"`
		TokenizerPath string `yaml:"tokenizer_path"`
		ConfigPath    string `yaml:"config_path"`
		ORTLibrary    string `yaml:"ort_library"`
		MaxTokens     *int   `yaml:"max_tokens"`
	} `yaml:"language"`
	Output          string `yaml:"output"`
	MetricsTextfile string `yaml:"metrics_textfile"`
	LogLevel        string `yaml:"log_level"`
	LogFormat       string `yaml:"log_format"`
}

func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".smcluster", "config.yaml")
}

func ResolveConfig(opts ResolveOptions) (ResolvedConfig, error) {
	path := strings.TrimSpace(opts.ConfigPath)
	if path == "" {
		path = DefaultConfigPath()
	}

	out := ResolvedConfig{
		ConfigPath: path,
		Values:     make(map[string]ResolvedValue, len(defaults)),
	}
	for _, d := range defaults {
		out.Values[d.key] = ResolvedValue{Value: d.value, Source: SourceDefault, From: "built-in default"}
	}

	cfg, err := loadConfig(path)
	if err != nil {
		return out, err
	}
	if cfg != nil {
		out.applyFile(cfg, path)
	}

	for _, d := range defaults {
		out.applyEnv(d.key)
	}

	for _, o := range opts.CLI {
		if _, ok := out.Values[o.Key]; !ok {
			return out, fmt.Errorf("%w: unknown key %q", ErrInvalidConfig, o.Key)
		}
		from := o.Flag
		if from == "" {
			from = "--" + strings.ReplaceAll(o.Key, "_", "-")
		}
		out.apply(o.Key, o.Value, SourceCLI, from)
	}

	for _, k := range []string{KeyLanguageModel, KeyLanguageTokenizer, KeyLanguageConfig, KeyLanguageORTLibrary, KeyOutput, KeyMetricsTextfile} {
		v := out.Values[k]
		v.Value = expandUserPath(v.Value)
		out.Values[k] = v
	}

	return out, nil
}

func (r *ResolvedConfig) applyFile(cfg *fileConfig, path string) {
	setFloat := func(key string, v *float64) {
		if v != nil {
			r.Values[key] = ResolvedValue{Value: strconv.FormatFloat(*v, 'g', -1, 64), Source: SourceConfig, From: path}
		}
	}
	setInt := func(key string, v *int) {
		if v != nil {
			r.Values[key] = ResolvedValue{Value: strconv.Itoa(*v), Source: SourceConfig, From: path}
		}
	}

	setFloat(KeyMinThreshold, cfg.MinThreshold)
	setFloat(KeySecondClusterFactor, cfg.SecondClusterFactor)
	setFloat(KeyDampeningFactor, cfg.DampeningFactor)
	setInt(KeyUpdateEvery, cfg.UpdateEvery)
	setInt(KeyMaxGroupSize, cfg.MaxGroupSize)
	setInt(KeyWorkers, cfg.Workers)
	setFloat(KeyPMINoSignal, cfg.PMINoSignal)
	setInt(KeyLanguageMaxTokens, cfg.Language.MaxTokens)
	if cfg.ExcludeContent != nil {
		// an explicit empty list clears the defaults
		r.Values[KeyExcludeContent] = ResolvedValue{
			Value:  strings.Join(*cfg.ExcludeContent, ListSeparator),
			Source: SourceConfig,
			From:   path,
		}
	}

	r.apply(KeyLanguageModel, cfg.Language.ModelPath, SourceConfig, path)
	r.apply(KeyLanguageTokenizer, cfg.Language.TokenizerPath, SourceConfig, path)
	r.apply(KeyLanguageConfig, cfg.Language.ConfigPath, SourceConfig, path)
	r.apply(KeyLanguageORTLibrary, cfg.Language.ORTLibrary, SourceConfig, path)
	r.apply(KeyOutput, cfg.Output, SourceConfig, path)
	r.apply(KeyMetricsTextfile, cfg.MetricsTextfile, SourceConfig, path)
	r.apply(KeyLogLevel, cfg.LogLevel, SourceConfig, path)
	r.apply(KeyLogFormat, cfg.LogFormat, SourceConfig, path)
}

func (r *ResolvedConfig) apply(key, raw string, source ValueSource, from string) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return
	}
	r.Values[key] = ResolvedValue{Value: v, Source: source, From: from}
}

func (r *ResolvedConfig) applyEnv(key string) {
	env := EnvName(key)
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		r.Values[key] = ResolvedValue{Value: v, Source: SourceEnv, From: env}
	}
}

func loadConfig(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrInvalidConfig, path, err)
	}
	return &cfg, nil
}

func expandUserPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
