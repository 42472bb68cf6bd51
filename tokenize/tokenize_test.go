package tokenize

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTokenizer(t *testing.T) *Tokenizer {
	tok, err := Load(filepath.Join("testdata", "tokenizer.json"), DefaultMaxLen)
	require.NoError(t, err)
	return tok
}

func TestLoad(t *testing.T) {
	tok := testTokenizer(t)
	assert.Equal(t, DefaultMaxLen, tok.MaxLen)
	assert.Equal(t, 0, tok.PadID)

	_, err := Load(filepath.Join("testdata", "missing.json"), DefaultMaxLen)
	assert.Error(t, err)
}

func TestLoadUnsupported(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("testdata", "tokenizer.json"))
	require.NoError(t, err)
	var obj map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &obj))
	obj["normalizer"] = map[string]interface{}{
		"type":                "Precompiled",
		"precompiled_charsmap": "",
	}
	data, err = json.Marshal(obj)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "tokenizer.json")
	require.NoError(t, os.WriteFile(path, data, 0644))

	_, err = Load(path, DefaultMaxLen)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported tokenizer component")
}

func TestEncode(t *testing.T) {
	tok := testTokenizer(t)
	ids, mask, err := tok.Encode("The cat sat.")
	require.NoError(t, err)
	require.Len(t, ids, DefaultMaxLen)
	require.Len(t, mask, DefaultMaxLen)
	assert.Equal(t, []int{2, 4, 5, 6, 9, 3}, ids[:6])
	assert.Equal(t, []int{1, 1, 1, 1, 1, 1}, mask[:6])
	for i := 6; i < DefaultMaxLen; i++ {
		assert.Equal(t, 0, ids[i], "id %d", i)
		assert.Equal(t, 0, mask[i], "mask %d", i)
	}

	ids, _, err = tok.Encode("cats on a mat")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 5, 10, 7, 1, 8, 3, 0}, ids[:8])
}

func TestEncodeTruncate(t *testing.T) {
	tok := testTokenizer(t)
	text := strings.Repeat("the cat sat on the mat. ", 30)
	ids, mask, err := tok.Encode(text)
	require.NoError(t, err)
	require.Len(t, ids, DefaultMaxLen)
	assert.Equal(t, 2, ids[0])
	assert.Equal(t, 3, ids[DefaultMaxLen-1], "separator must be kept")
	pattern := []int{4, 5, 6, 7, 4, 8, 9}
	for i := 1; i < DefaultMaxLen-1; i++ {
		assert.Equal(t, pattern[(i-1)%len(pattern)], ids[i], "id %d", i)
	}
	for i, x := range mask {
		assert.Equal(t, 1, x, "mask %d", i)
	}
}

func TestFitPad(t *testing.T) {
	ids, mask := Fit([]int{101, 7, 8, 102}, 6, 0)
	assert.Equal(t, []int{101, 7, 8, 102, 0, 0}, ids)
	assert.Equal(t, []int{1, 1, 1, 1, 0, 0}, mask)

	ids, mask = Fit([]int{0, 5, 2}, 5, 1)
	assert.Equal(t, []int{0, 5, 2, 1, 1}, ids)
	assert.Equal(t, []int{1, 1, 1, 0, 0}, mask)
}

func TestFitTruncate(t *testing.T) {
	ids, mask := Fit([]int{101, 1, 2, 3, 4, 5, 102}, 4, 0)
	assert.Equal(t, []int{101, 1, 2, 102}, ids)
	assert.Equal(t, []int{1, 1, 1, 1}, mask)
}

func TestFitExact(t *testing.T) {
	in := []int{101, 9, 102}
	ids, mask := Fit(in, 3, 0)
	assert.Equal(t, in, ids)
	assert.Equal(t, []int{1, 1, 1}, mask)

	in[1] = 4
	assert.Equal(t, 9, ids[1], "output should not alias input")
}

func TestFindPadID(t *testing.T) {
	vocab := map[string]int{"<s>": 0, "<pad>": 1, "</s>": 2}
	lookup := func(tok string) (int, bool) {
		id, ok := vocab[tok]
		return id, ok
	}
	assert.Equal(t, 1, findPadID(lookup))

	empty := func(string) (int, bool) { return 0, false }
	assert.Equal(t, 0, findPadID(empty))
}
