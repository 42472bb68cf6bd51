// Package tokenize turns sentences into fixed-length
// sequences of subword token IDs.
package tokenize

import (
	"fmt"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	"github.com/unixpickle/essentials"
)

// DefaultMaxLen is the number of tokens per sequence.
const DefaultMaxLen = 128

var padTokens = []string{"[PAD]", "<pad>", "<PAD>"}

// A Tokenizer wraps a pretrained subword tokenizer and
// truncates or pads its output to MaxLen tokens.
type Tokenizer struct {
	Model  *tokenizer.Tokenizer
	MaxLen int
	PadID  int
}

// Load reads a tokenizer.json file.
//
// The padding ID is looked up in the vocabulary and
// defaults to 0.
//
// Components the tokenizer library does not implement,
// such as the Precompiled normalizer, produce an error.
func Load(path string, maxLen int) (tok *Tokenizer, err error) {
	defer essentials.AddCtxTo("load tokenizer", &err)
	tk, err := fromFile(path)
	if err != nil {
		return nil, err
	}
	return &Tokenizer{
		Model:  tk,
		MaxLen: maxLen,
		PadID:  findPadID(tk.TokenToId),
	}, nil
}

func fromFile(path string) (tk *tokenizer.Tokenizer, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unsupported tokenizer component: %v", r)
		}
	}()
	return pretrained.FromFile(path)
}

// Encode tokenizes the text, adding special tokens, and
// returns exactly MaxLen token IDs along with an attention
// mask.
func (t *Tokenizer) Encode(text string) (ids, mask []int, err error) {
	encoding, err := t.Model.EncodeSingle(text, true)
	if err != nil {
		return nil, nil, essentials.AddCtx("encode", err)
	}
	ids, mask = Fit(encoding.Ids, t.MaxLen, t.PadID)
	return ids, mask, nil
}

// Fit truncates or pads a sequence of token IDs to
// maxLen.
//
// Truncated sequences keep their final token, which is
// the separator token when special tokens were added.
// The mask is 1 for real tokens and 0 for padding.
func Fit(ids []int, maxLen, padID int) (fitted, mask []int) {
	fitted = make([]int, maxLen)
	mask = make([]int, maxLen)
	if len(ids) > maxLen {
		if maxLen > 1 {
			copy(fitted, ids[:maxLen-1])
			fitted[maxLen-1] = ids[len(ids)-1]
		} else {
			copy(fitted, ids)
		}
		for i := range mask {
			mask[i] = 1
		}
		return
	}
	copy(fitted, ids)
	for i := range fitted {
		if i < len(ids) {
			mask[i] = 1
		} else {
			fitted[i] = padID
		}
	}
	return
}

func findPadID(lookup func(string) (int, bool)) int {
	for _, tok := range padTokens {
		if id, ok := lookup(tok); ok {
			return id
		}
	}
	return 0
}
