package tokens

import (
	"encoding/json"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// encodingName is the BPE vocabulary used for counting. It approximates the
// tokenizers of all routed model tiers closely enough for budgeting.
const encodingName = "cl100k_base"

// heuristicBytesPerToken is the fallback ratio when the BPE vocabulary is
// unavailable (offline hosts). Roughly four bytes per token for English
// prose and JSON.
const heuristicBytesPerToken = 4

// Estimator counts prompt tokens. It prefers a real BPE encoding and falls
// back to a byte-ratio heuristic, so estimation never fails at runtime.
// Safe for concurrent use.
type Estimator struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

// NewEstimator creates an Estimator. The encoding is loaded lazily on first
// use; construction never blocks.
func NewEstimator() *Estimator {
	return &Estimator{}
}

func (e *Estimator) encoding() *tiktoken.Tiktoken {
	e.once.Do(func() {
		enc, err := tiktoken.GetEncoding(encodingName)
		if err == nil {
			e.enc = enc
		}
	})
	return e.enc
}

// Count returns the token count of the text.
func (e *Estimator) Count(text string) int {
	if text == "" {
		return 0
	}
	if enc := e.encoding(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return (len(text) + heuristicBytesPerToken - 1) / heuristicBytesPerToken
}

// CountValue counts the tokens of a value's JSON form. Unmarshalable values
// count as zero rather than erroring; estimation is advisory.
func (e *Estimator) CountValue(v any) int {
	if v == nil {
		return 0
	}
	if s, ok := v.(string); ok {
		return e.Count(s)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return e.Count(string(b))
}
