package prompt

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/tiktoken-go/tokenizer"
)

// Stats summarizes a composed prompt.
type Stats struct {
	Tokens int `json:"tokens"`
	Lines  int `json:"lines"`
	Bytes  int `json:"bytes"`
}

// CountTokens counts cl100k_base tokens. Ollama models use their own tokenizers,
// so the number is an estimate.
func CountTokens(text string) (int, error) {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return 0, errors.Wrap(err, "error getting codec")
	}
	ids, _, err := codec.Encode(text)
	if err != nil {
		return 0, errors.Wrap(err, "error encoding prompt")
	}
	return len(ids), nil
}

func Measure(text string) (Stats, error) {
	st := Stats{Bytes: len(text)}
	if text != "" {
		st.Lines = strings.Count(text, "\n") + 1
	}
	n, err := CountTokens(text)
	if err != nil {
		return st, err
	}
	st.Tokens = n
	return st, nil
}
