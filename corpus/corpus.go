package corpus

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	log "github.com/golang/glog"
)

var (
	ErrMismatchedCounts = errors.New("corpus: words and counts differ in length")
	ErrBadCount         = errors.New("corpus: word count must be positive")
	ErrWordOutOfRange   = errors.New("corpus: word id out of vocabulary range")
)

// Document is a bag of words: Words[i] occurred Counts[i] times.
// Word ids are not required to be unique.
type Document struct {
	Words  []int
	Counts []int
}

// NewDocument creates a document and checks that words and counts
// are aligned and every count is positive.
func NewDocument(words, counts []int) (*Document, error) {
	doc := &Document{Words: words, Counts: counts}
	if err := doc.Validate(-1); err != nil {
		return nil, err
	}
	return doc, nil
}

// number of (word, count) entries
func (d *Document) Length() int {
	return len(d.Words)
}

// number of tokens in the document
func (d *Document) Total() int {
	total := 0
	for _, c := range d.Counts {
		total += c
	}
	return total
}

// Validate checks the document invariants. When vocabSize is positive
// every word id must also lie in [0, vocabSize).
func (d *Document) Validate(vocabSize int) error {
	if len(d.Words) != len(d.Counts) {
		return fmt.Errorf("%w: %d words, %d counts",
			ErrMismatchedCounts, len(d.Words), len(d.Counts))
	}
	for i, w := range d.Words {
		if d.Counts[i] <= 0 {
			return fmt.Errorf("%w: word %d has count %d", ErrBadCount, w, d.Counts[i])
		}
		if w < 0 || (vocabSize > 0 && w >= vocabSize) {
			return fmt.Errorf("%w: %d not in [0, %d)", ErrWordOutOfRange, w, vocabSize)
		}
	}
	return nil
}

type Corpus struct {
	VocabSize int
	Docs      []*Document
}

// Load reads documents from file, the file format should be like:
// [docId wordId:wordCount wordId:wordCount ... wordId:wordCount]
// Lines without any word count pair are skipped.
func (c *Corpus) Load(fn string) error {
	f, err := os.Open(fn)
	if err != nil {
		return err
	}
	defer f.Close()

	vocabMaxId := -1
	lineIdx := 0

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		lineIdx += 1
		doc, err := ParseLine(scanner.Text())
		if err != nil {
			return fmt.Errorf("line %d: %w", lineIdx, err)
		}
		if doc == nil {
			log.Infof("bad document at line %d", lineIdx)
			continue
		}
		for _, w := range doc.Words {
			if w > vocabMaxId {
				vocabMaxId = w
			}
		}
		c.Docs = append(c.Docs, doc)
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if vocabMaxId+1 > c.VocabSize {
		c.VocabSize = vocabMaxId + 1
	}

	log.Infof("number of documents %d", len(c.Docs))
	log.Infof("vocabulary size %d", c.VocabSize)
	return nil
}

// ParseLine parses a single "docId w:c w:c ..." line. Malformed pairs
// and zero counts are skipped. It returns a nil document if the line
// carries no usable word counts.
func ParseLine(line string) (*Document, error) {
	vals := strings.Fields(line)
	if len(vals) < 2 {
		return nil, nil
	}
	if _, err := strconv.ParseUint(vals[0], 10, 32); err != nil {
		return nil, err
	}

	words := make([]int, 0, len(vals)-1)
	counts := make([]int, 0, len(vals)-1)
	for _, kv := range vals[1:] {
		wc := strings.Split(kv, ":")
		if len(wc) != 2 {
			log.Infof("bad word count: %s", kv)
			continue
		}
		wordId, err := strconv.ParseUint(wc[0], 10, 32)
		if err != nil {
			return nil, err
		}
		count, err := strconv.ParseUint(wc[1], 10, 32)
		if err != nil {
			return nil, err
		}
		if count == 0 {
			log.Infof("bad word count: %s", kv)
			continue
		}
		words = append(words, int(wordId))
		counts = append(counts, int(count))
	}
	if len(words) == 0 {
		return nil, nil
	}
	return NewDocument(words, counts)
}

// Batches splits the documents into consecutive mini-batches of at
// most size documents each.
func (c *Corpus) Batches(size int) [][]*Document {
	if size <= 0 {
		size = len(c.Docs)
	}
	var batches [][]*Document
	for start := 0; start < len(c.Docs); start += size {
		end := start + size
		if end > len(c.Docs) {
			end = len(c.Docs)
		}
		batches = append(batches, c.Docs[start:end])
	}
	return batches
}
