// Package tokens estimates token counts for conversation budgeting.
//
// The history layer needs cheap, dependable estimates rather than exact
// counts, so the tiktoken-backed estimator degrades to a length heuristic
// whenever an encoding cannot be loaded.
package tokens

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Estimator approximates how many tokens a piece of text consumes.
type Estimator interface {
	Count(text string) int
}

// HeuristicEstimator approximates tokens as one per four characters of
// text. It matches the budgeting behaviour used when no tokenizer data
// is available and is always safe to call.
type HeuristicEstimator struct{}

// Count returns the estimated token count for text.
func (HeuristicEstimator) Count(text string) int {
	return len(text) / 4
}

// encodingForModel maps model names to their tiktoken encoding.
var encodingForModel = map[string]string{
	"gpt-4o":        "o200k_base",
	"gpt-4o-mini":   "o200k_base",
	"gpt-4-turbo":   "cl100k_base",
	"gpt-4":         "cl100k_base",
	"gpt-3.5-turbo": "cl100k_base",
}

const defaultEncoding = "cl100k_base"

// knownEncodings are the tiktoken encoding names accepted directly, so
// configuration can name an encoding instead of a model.
var knownEncodings = map[string]bool{
	"cl100k_base": true,
	"o200k_base":  true,
	"p50k_base":   true,
	"r50k_base":   true,
}

// TiktokenEstimator counts tokens with a real BPE encoding, loaded lazily
// on first use. Loading can require a network fetch of the encoding data;
// when it fails the estimator silently falls back to the heuristic so
// budgeting keeps working offline.
type TiktokenEstimator struct {
	encoding string
	fallback HeuristicEstimator

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
}

// NewTiktokenEstimator creates an estimator for the given model or
// encoding name. Unknown names use the cl100k_base encoding.
func NewTiktokenEstimator(model string) *TiktokenEstimator {
	if knownEncodings[model] {
		return &TiktokenEstimator{encoding: model}
	}

	encoding, ok := encodingForModel[model]
	if !ok {
		// Versioned model names ("gpt-4o-2025-01-01") resolve through the
		// longest known prefix.
		best := ""
		for prefix, enc := range encodingForModel {
			if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
				best, encoding, ok = prefix, enc, true
			}
		}
	}
	if !ok {
		encoding = defaultEncoding
	}
	return &TiktokenEstimator{encoding: encoding}
}

func (t *TiktokenEstimator) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = err
			return
		}
		t.enc = enc
	})
	return t.initErr
}

// Count returns the token count for text, or the heuristic estimate when
// the encoding could not be loaded.
func (t *TiktokenEstimator) Count(text string) int {
	if err := t.init(); err != nil {
		return t.fallback.Count(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}
