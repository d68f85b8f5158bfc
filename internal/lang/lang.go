// Package lang predicts the language of post text.
//
// A Handle owns the model. It is constructed explicitly, loads the model at
// most once on first use and must be closed by its owner. Nothing in this
// package keeps global state beyond the ONNX runtime environment the handle
// initializes.
package lang

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"
)

const (
	// NoText is returned for text that is empty after normalization.
	NoText = "no_text"
	// Unknown labels pages with no prediction.
	Unknown = "unknown"
)

// ErrClosed is returned by a Handle after Close.
var ErrClosed = errors.New("language handle closed")

// Detector predicts a language code for a piece of text.
type Detector interface {
	Detect(text string) (string, error)
}

type closingDetector interface {
	Detector
	Close() error
}

// Handle lazily loads a Detector exactly once.
type Handle struct {
	cfg  Config
	load func(Config) (closingDetector, error)

	once   sync.Once
	mu     sync.Mutex
	det    closingDetector
	err    error
	closed bool
}

// NewHandle returns a Handle for the ONNX model described by cfg. The model
// is not read until Detector is called.
func NewHandle(cfg Config) *Handle {
	return &Handle{cfg: cfg, load: loadONNX}
}

// HandleFor wraps a Detector that is already loaded. Closing the handle
// closes det when it has a Close method.
func HandleFor(det Detector) *Handle {
	return &Handle{load: func(Config) (closingDetector, error) {
		if cd, ok := det.(closingDetector); ok {
			return cd, nil
		}
		return nopCloser{det}, nil
	}}
}

type nopCloser struct{ Detector }

func (nopCloser) Close() error { return nil }

// Detector loads the model on first call and returns it. A failed load is
// not retried.
func (h *Handle) Detector() (Detector, error) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	h.once.Do(func() {
		det, err := h.load(h.cfg)
		h.mu.Lock()
		h.det, h.err = det, err
		h.mu.Unlock()
	})
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	if h.err != nil {
		return nil, h.err
	}
	return h.det, nil
}

// Close releases the model. It is safe to call more than once.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	if h.det != nil {
		return h.det.Close()
	}
	return nil
}

// Normalize prepares text for prediction: NFC, newlines folded to spaces,
// surrounding whitespace trimmed.
func Normalize(s string) string {
	s = norm.NFC.String(s)
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimSpace(s)
}

// Majority returns the most frequent label. Ties go to the label seen
// first. An empty slice yields Unknown.
func Majority(labels []string) string {
	if len(labels) == 0 {
		return Unknown
	}
	counts := make(map[string]int, 4)
	first := make(map[string]int, 4)
	for i, l := range labels {
		if _, ok := first[l]; !ok {
			first[l] = i
		}
		counts[l]++
	}
	best := labels[0]
	for l, c := range counts {
		bc := counts[best]
		if c > bc || (c == bc && first[l] < first[best]) {
			best = l
		}
	}
	return best
}

// PageLanguages predicts every post of every page and returns each page's
// majority language.
func PageLanguages(ctx context.Context, det Detector, texts map[string][]string) (map[string]string, error) {
	pages := make([]string, 0, len(texts))
	for id := range texts {
		pages = append(pages, id)
	}
	sort.Strings(pages)

	out := make(map[string]string, len(pages))
	for _, id := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		labels := make([]string, 0, len(texts[id]))
		for _, t := range texts[id] {
			l, err := det.Detect(t)
			if err != nil {
				return nil, err
			}
			labels = append(labels, l)
		}
		out[id] = Majority(labels)
	}
	return out, nil
}
