package lang

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	ort "github.com/yalue/onnxruntime_go"
)

// DefaultMaxTokens bounds the sequence fed to the classifier.
const DefaultMaxTokens = 128

// Config describes a sequence-classification language model exported to
// ONNX together with its Hugging Face tokenizer.
type Config struct {
	ModelPath     string `yaml:"model_path" json:"model_path"`
	TokenizerPath string `yaml:"tokenizer_path" json:"tokenizer_path"`
	// ConfigPath is the model's config.json, read for id2label.
	ConfigPath string `yaml:"config_path" json:"config_path"`
	// LibraryPath points at the onnxruntime shared library.
	LibraryPath string `yaml:"ort_library" json:"ort_library"`
	MaxTokens   int    `yaml:"max_tokens" json:"max_tokens"`
}

// Validate reports missing paths.
func (c Config) Validate() error {
	var missing []string
	if c.ModelPath == "" {
		missing = append(missing, "model_path")
	}
	if c.TokenizerPath == "" {
		missing = append(missing, "tokenizer_path")
	}
	if c.ConfigPath == "" {
		missing = append(missing, "config_path")
	}
	if len(missing) > 0 {
		return fmt.Errorf("language model config missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// ONNXDetector classifies text with an ONNX model.
type ONNXDetector struct {
	mu        sync.Mutex
	tk        *tokenizer.Tokenizer
	session   *ort.DynamicAdvancedSession
	labels    []string
	maxTokens int
	ownsEnv   bool
}

func loadONNX(cfg Config) (closingDetector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}

	labels, err := readLabels(cfg.ConfigPath)
	if err != nil {
		return nil, err
	}
	tk, err := pretrained.FromFile(cfg.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("loading tokenizer %s: %w", cfg.TokenizerPath, err)
	}

	ownsEnv := false
	if !ort.IsInitialized() {
		if cfg.LibraryPath != "" {
			ort.SetSharedLibraryPath(cfg.LibraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("initializing onnxruntime: %w", err)
		}
		ownsEnv = true
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{"input_ids", "attention_mask"}, []string{"logits"}, nil)
	if err != nil {
		if ownsEnv {
			ort.DestroyEnvironment()
		}
		return nil, fmt.Errorf("loading model %s: %w", cfg.ModelPath, err)
	}

	return &ONNXDetector{
		tk:        tk,
		session:   session,
		labels:    labels,
		maxTokens: cfg.MaxTokens,
		ownsEnv:   ownsEnv,
	}, nil
}

// Detect returns the most likely language label for text.
func (d *ONNXDetector) Detect(text string) (string, error) {
	text = Normalize(text)
	if text == "" {
		return NoText, nil
	}

	enc, err := d.tk.EncodeSingle(text, true)
	if err != nil {
		return "", fmt.Errorf("tokenizing: %w", err)
	}
	ids, mask := truncate(enc.Ids, enc.AttentionMask, d.maxTokens)
	if len(ids) == 0 {
		return NoText, nil
	}

	shape := ort.NewShape(1, int64(len(ids)))
	idsTensor, err := ort.NewTensor(shape, toInt64(ids))
	if err != nil {
		return "", err
	}
	defer idsTensor.Destroy()
	maskTensor, err := ort.NewTensor(shape, toInt64(mask))
	if err != nil {
		return "", err
	}
	defer maskTensor.Destroy()
	logits, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(len(d.labels))))
	if err != nil {
		return "", err
	}
	defer logits.Destroy()

	d.mu.Lock()
	err = d.session.Run([]ort.Value{idsTensor, maskTensor}, []ort.Value{logits})
	d.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("running language model: %w", err)
	}

	return d.labels[argmax(logits.GetData())], nil
}

// Close destroys the session and, when this detector created it, the
// runtime environment.
func (d *ONNXDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session == nil {
		return nil
	}
	err := d.session.Destroy()
	d.session = nil
	if d.ownsEnv {
		if envErr := ort.DestroyEnvironment(); err == nil {
			err = envErr
		}
	}
	return err
}

// truncate keeps the first max-1 tokens and the final (end-of-sequence)
// token.
func truncate(ids, mask []int, max int) ([]int, []int) {
	if len(mask) != len(ids) {
		mask = make([]int, len(ids))
		for i := range mask {
			mask[i] = 1
		}
	}
	if max <= 1 || len(ids) <= max {
		return ids, mask
	}
	outIDs := append(append([]int(nil), ids[:max-1]...), ids[len(ids)-1])
	outMask := append(append([]int(nil), mask[:max-1]...), mask[len(mask)-1])
	return outIDs, outMask
}

func toInt64(v []int) []int64 {
	out := make([]int64, len(v))
	for i, x := range v {
		out[i] = int64(x)
	}
	return out
}

func argmax(v []float32) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

// readLabels reads id2label from a Hugging Face config.json, ordered by id.
func readLabels(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg struct {
		ID2Label map[string]string `json:"id2label"`
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(cfg.ID2Label) == 0 {
		return nil, fmt.Errorf("%s: no id2label entries", path)
	}

	type entry struct {
		id    int
		label string
	}
	entries := make([]entry, 0, len(cfg.ID2Label))
	for k, v := range cfg.ID2Label {
		id, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("%s: bad label id %q", path, k)
		}
		entries = append(entries, entry{id: id, label: cleanLabel(v)})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].id < entries[j].id })
	for i, e := range entries {
		if e.id != i {
			return nil, fmt.Errorf("%s: label ids are not contiguous at %d", path, i)
		}
	}
	labels := make([]string, len(entries))
	for i, e := range entries {
		labels[i] = e.label
	}
	return labels, nil
}

func cleanLabel(l string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(l), "__label__"))
}
