package corpus

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentLengthTotal(t *testing.T) {
	doc, err := NewDocument([]int{3, 1, 3}, []int{2, 1, 4})
	require.NoError(t, err)

	assert.Equal(t, 3, doc.Length())
	assert.Equal(t, 7, doc.Total())
}

func TestDocumentValidate(t *testing.T) {
	_, err := NewDocument([]int{1, 2}, []int{1})
	assert.True(t, errors.Is(err, ErrMismatchedCounts))

	_, err = NewDocument([]int{1}, []int{0})
	assert.True(t, errors.Is(err, ErrBadCount))

	doc := &Document{Words: []int{0, 5}, Counts: []int{1, 1}}
	assert.NoError(t, doc.Validate(6))
	assert.True(t, errors.Is(doc.Validate(5), ErrWordOutOfRange))
}

func TestParseLine(t *testing.T) {
	doc, err := ParseLine("7 0:2 4:1 bogus 9:3")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 4, 9}, doc.Words)
	assert.Equal(t, []int{2, 1, 3}, doc.Counts)

	doc, err = ParseLine("7")
	assert.NoError(t, err)
	assert.Nil(t, doc)

	_, err = ParseLine("x 1:1")
	assert.Error(t, err)

	doc, err = ParseLine("8 3:0 5:2")
	require.NoError(t, err)
	assert.Equal(t, []int{5}, doc.Words)
	assert.Equal(t, []int{2}, doc.Counts)

	doc, err = ParseLine("9 3:0")
	assert.NoError(t, err)
	assert.Nil(t, doc)
}

func TestLoadAndBatches(t *testing.T) {
	fn := filepath.Join(t.TempDir(), "docs.txt")
	data := "0 1:1 2:2\n1 3:1 4:0\n\n2 0:5 11:1\n3 6:0\n"
	require.NoError(t, os.WriteFile(fn, []byte(data), 0o644))

	c := &Corpus{}
	require.NoError(t, c.Load(fn))
	assert.Equal(t, 3, len(c.Docs))
	assert.Equal(t, 12, c.VocabSize)

	batches := c.Batches(2)
	assert.Equal(t, 2, len(batches))
	assert.Equal(t, 2, len(batches[0]))
	assert.Equal(t, 1, len(batches[1]))
}
