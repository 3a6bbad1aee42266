package synth

import (
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"github.com/rotisserie/eris"
)

// TokenCounter measures prompt text against the context budget.
type TokenCounter interface {
	Count(text string) int
}

// ApproxCounter estimates four characters per token. It never touches the
// network and is the default.
type ApproxCounter struct{}

func (ApproxCounter) Count(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 3) / 4
}

// TiktokenCounter counts with a BPE encoding.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenCounter loads an encoding by name ("cl100k_base") or by model
// name ("gpt-4o").
func NewTiktokenCounter(encodingOrModel string) (*TiktokenCounter, error) {
	enc, err := tiktoken.GetEncoding(encodingOrModel)
	if err != nil {
		enc, err = tiktoken.EncodingForModel(encodingOrModel)
		if err != nil {
			return nil, eris.Wrapf(err, "synth: load token encoding %q", encodingOrModel)
		}
	}
	return &TiktokenCounter{enc: enc}, nil
}

func (c *TiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}
