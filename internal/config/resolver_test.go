package config

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestResolveConfig_Defaults(t *testing.T) {
	resolved, err := ResolveConfig(ResolveOptions{ConfigPath: filepath.Join(t.TempDir(), "missing.yaml")})
	require.NoError(t, err)

	for _, k := range Keys() {
		assert.Equal(t, SourceDefault, resolved.Get(k).Source, k)
	}

	s, err := resolved.Settings()
	require.NoError(t, err)
	assert.Equal(t, 0.03, s.MinThreshold)
	assert.Equal(t, 2.5, s.SecondClusterFactor)
	assert.Equal(t, 4.0, s.DampeningFactor)
	assert.Equal(t, 1000, s.UpdateEvery)
	assert.True(t, math.IsInf(s.PMINoSignal, -1))
	assert.Equal(t, []string{"", "This is a re-share of a post"}, s.ExcludeContent)
	assert.Equal(t, 128, s.Language.MaxTokens)
	assert.Equal(t, "info", s.LogLevel)
}

func TestResolveConfig_Precedence_ConfigEnvCLI(t *testing.T) {
	path := writeConfig(t, `min_threshold: 0.1
second_cluster_factor: 3
update_every: 50
exclude_content: ["", "spam"]
language:
  model_path: /models/lid.onnx
  max_tokens: 64
log_format: json
`)
	t.Setenv("SMCLUSTER_SECOND_CLUSTER_FACTOR", "4")
	t.Setenv("SMCLUSTER_UPDATE_EVERY", "10")

	resolved, err := ResolveConfig(ResolveOptions{
		ConfigPath: path,
		CLI:        []Override{{Key: KeyUpdateEvery, Value: "5", Flag: "--update-every"}},
	})
	require.NoError(t, err)

	assert.Equal(t, SourceConfig, resolved.Get(KeyMinThreshold).Source)
	assert.Equal(t, path, resolved.Get(KeyMinThreshold).From)
	assert.Equal(t, ResolvedValue{Value: "4", Source: SourceEnv, From: "SMCLUSTER_SECOND_CLUSTER_FACTOR"}, resolved.Get(KeySecondClusterFactor))
	assert.Equal(t, ResolvedValue{Value: "5", Source: SourceCLI, From: "--update-every"}, resolved.Get(KeyUpdateEvery))
	assert.Equal(t, SourceDefault, resolved.Get(KeyDampeningFactor).Source)

	s, err := resolved.Settings()
	require.NoError(t, err)
	assert.Equal(t, 0.1, s.MinThreshold)
	assert.Equal(t, 4.0, s.SecondClusterFactor)
	assert.Equal(t, 5, s.UpdateEvery)
	assert.Equal(t, []string{"", "spam"}, s.ExcludeContent)
	assert.Equal(t, "/models/lid.onnx", s.Language.ModelPath)
	assert.Equal(t, 64, s.Language.MaxTokens)
	assert.Equal(t, "json", s.LogFormat)
}

func TestResolveConfig_EnvLanguageKey(t *testing.T) {
	assert.Equal(t, "SMCLUSTER_LANGUAGE_ORT_LIBRARY", EnvName(KeyLanguageORTLibrary))
	t.Setenv("SMCLUSTER_LANGUAGE_ORT_LIBRARY", "/opt/libonnxruntime.so")

	resolved, err := ResolveConfig(ResolveOptions{ConfigPath: filepath.Join(t.TempDir(), "none.yaml")})
	require.NoError(t, err)
	assert.Equal(t, "/opt/libonnxruntime.so", resolved.Get(KeyLanguageORTLibrary).Value)
}

func TestResolveConfig_ExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	resolved, err := ResolveConfig(ResolveOptions{
		ConfigPath: filepath.Join(home, "none.yaml"),
		CLI:        []Override{{Key: KeyOutput, Value: "~/out.csv"}},
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "out.csv"), resolved.Get(KeyOutput).Value)
	assert.Equal(t, "--output", resolved.Get(KeyOutput).From)
}

func TestResolveConfig_Errors(t *testing.T) {
	_, err := ResolveConfig(ResolveOptions{
		ConfigPath: filepath.Join(t.TempDir(), "none.yaml"),
		CLI:        []Override{{Key: "nope", Value: "1"}},
	})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = ResolveConfig(ResolveOptions{ConfigPath: writeConfig(t, "min_threshold: [1, 2]\n")})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestSettings_Validation(t *testing.T) {
	cases := []struct {
		name  string
		key   string
		value string
	}{
		{"threshold above one", KeyMinThreshold, "1.5"},
		{"negative threshold", KeyMinThreshold, "-0.1"},
		{"nan threshold", KeyMinThreshold, "NaN"},
		{"factor below one", KeySecondClusterFactor, "0.5"},
		{"zero dampening", KeyDampeningFactor, "0"},
		{"zero update interval", KeyUpdateEvery, "0"},
		{"negative group cap", KeyMaxGroupSize, "-1"},
		{"negative workers", KeyWorkers, "-2"},
		{"not a number", KeyWorkers, "many"},
		{"bad log level", KeyLogLevel, "loud"},
		{"bad log format", KeyLogFormat, "xml"},
		{"zero max tokens", KeyLanguageMaxTokens, "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resolved, err := ResolveConfig(ResolveOptions{
				ConfigPath: filepath.Join(t.TempDir(), "none.yaml"),
				CLI:        []Override{{Key: tc.key, Value: tc.value}},
			})
			require.NoError(t, err)
			_, err = resolved.Settings()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tc.key)
		})
	}
}

func TestSettings_Params(t *testing.T) {
	resolved, err := ResolveConfig(ResolveOptions{ConfigPath: filepath.Join(t.TempDir(), "none.yaml")})
	require.NoError(t, err)
	s, err := resolved.Settings()
	require.NoError(t, err)
	p := s.Params()
	assert.Equal(t, 0.03, p[KeyMinThreshold])
	assert.Equal(t, 0, p[KeyMaxGroupSize])
}
