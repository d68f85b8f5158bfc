package config

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// LanguageSettings locates the language-identification model.
type LanguageSettings struct {
	ModelPath     string `key:"language.model_path"`
	TokenizerPath string `key:"language.tokenizer_path"`
	ConfigPath    string `key:"language.config_path"`
	ORTLibrary    string `key:"language.ort_library"`
	MaxTokens     int    `key:"language.max_tokens" validate:"gte=1"`
}

// Settings is the typed, validated form of a ResolvedConfig.
type Settings struct {
	MinThreshold        float64  `key:"min_threshold" validate:"gte=0,lte=1"`
	SecondClusterFactor float64  `key:"second_cluster_factor" validate:"gte=1"`
	DampeningFactor     float64  `key:"dampening_factor" validate:"gt=0"`
	UpdateEvery         int      `key:"update_every" validate:"gte=1"`
	MaxGroupSize        int      `key:"max_group_size" validate:"gte=0"`
	Workers             int      `key:"workers" validate:"gte=0"`
	ExcludeContent      []string `key:"exclude_content"`
	PMINoSignal         float64  `key:"pmi_no_signal"`
	Language            LanguageSettings
	Output              string `key:"output" validate:"required"`
	MetricsTextfile     string `key:"metrics_textfile"`
	LogLevel            string `key:"log_level" validate:"oneof=debug info warn error"`
	LogFormat           string `key:"log_format" validate:"oneof=console json"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func settingsValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			if k := f.Tag.Get("key"); k != "" {
				return k
			}
			return f.Name
		})
	})
	return validate
}

// Validate checks value ranges. NaN never satisfies a range.
func (s Settings) Validate() error {
	for key, v := range map[string]float64{
		KeyMinThreshold:        s.MinThreshold,
		KeySecondClusterFactor: s.SecondClusterFactor,
		KeyDampeningFactor:     s.DampeningFactor,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s must be finite", ErrInvalidConfig, key)
		}
	}
	err := settingsValidator().Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s (got %v)", fe.Field(), fe.Tag(), fe.Param(), fe.Value()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s is %s", fe.Field(), fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
}

// Settings parses and validates the resolved values.
func (r ResolvedConfig) Settings() (Settings, error) {
	p := parser{r: r}
	s := Settings{
		MinThreshold:        p.float(KeyMinThreshold),
		SecondClusterFactor: p.float(KeySecondClusterFactor),
		DampeningFactor:     p.float(KeyDampeningFactor),
		UpdateEvery:         p.int(KeyUpdateEvery),
		MaxGroupSize:        p.int(KeyMaxGroupSize),
		Workers:             p.int(KeyWorkers),
		ExcludeContent:      strings.Split(r.Get(KeyExcludeContent).Value, ListSeparator),
		PMINoSignal:         p.float(KeyPMINoSignal),
		Language: LanguageSettings{
			ModelPath:     r.Get(KeyLanguageModel).Value,
			TokenizerPath: r.Get(KeyLanguageTokenizer).Value,
			ConfigPath:    r.Get(KeyLanguageConfig).Value,
			ORTLibrary:    r.Get(KeyLanguageORTLibrary).Value,
			MaxTokens:     p.int(KeyLanguageMaxTokens),
		},
		Output:          r.Get(KeyOutput).Value,
		MetricsTextfile: r.Get(KeyMetricsTextfile).Value,
		LogLevel:        strings.ToLower(r.Get(KeyLogLevel).Value),
		LogFormat:       strings.ToLower(r.Get(KeyLogFormat).Value),
	}
	if p.err != nil {
		return s, p.err
	}
	return s, s.Validate()
}

type parser struct {
	r   ResolvedConfig
	err error
}

func (p *parser) fail(key string, v ResolvedValue, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("%w: %s=%q from %s %s: %v", ErrInvalidConfig, key, v.Value, v.Source, v.From, err)
	}
}

func (p *parser) float(key string) float64 {
	v := p.r.Get(key)
	f, err := strconv.ParseFloat(v.Value, 64)
	if err != nil {
		p.fail(key, v, err)
	}
	return f
}

func (p *parser) int(key string) int {
	v := p.r.Get(key)
	n, err := strconv.Atoi(v.Value)
	if err != nil {
		p.fail(key, v, err)
	}
	return n
}

// Params returns the clustering parameters of a run, keyed like the config.
func (s Settings) Params() map[string]any {
	return map[string]any{
		KeyMinThreshold:        s.MinThreshold,
		KeySecondClusterFactor: s.SecondClusterFactor,
		KeyDampeningFactor:     s.DampeningFactor,
		KeyMaxGroupSize:        s.MaxGroupSize,
		KeyExcludeContent:      s.ExcludeContent,
	}
}
