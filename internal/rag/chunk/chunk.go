// Package chunk implements the chunker (spec.md C6): splitting document
// text into retrievable pieces by character window, approximate token
// window, sentence, or paragraph, with overlap and oversized-atom
// fallback. Grounded on the teacher's TextChunker/TokenCounter
// (internal/rag/chunk.go), generalized from its single sentence-window
// algorithm to all four modes plus the recursive fallback spec.md adds.
package chunk

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// Mode selects the chunking strategy.
type Mode string

const (
	Character Mode = "character"
	Token     Mode = "token"
	Sentence  Mode = "sentence"
	Paragraph Mode = "paragraph"
)

// TokenCounter estimates the token count of a string.
type TokenCounter interface {
	Count(text string) int
}

// ApproxTokenCounter implements the spec's tokens ≈ 0.75·words rule of
// thumb, used when no tokenizer-accurate counter is configured.
type ApproxTokenCounter struct{}

func (ApproxTokenCounter) Count(text string) int {
	words := len(strings.Fields(text))
	return int(0.75 * float64(words))
}

// TikTokenCounter counts tokens exactly using the model's real BPE
// vocabulary, mirroring the teacher's TikTokenCounter.
type TikTokenCounter struct {
	tke *tiktoken.Tiktoken
}

func NewTikTokenCounter(encoding string) (*TikTokenCounter, error) {
	tke, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("tiktoken encoding %q: %w", encoding, err)
	}
	return &TikTokenCounter{tke: tke}, nil
}

func (c *TikTokenCounter) Count(text string) int {
	return len(c.tke.Encode(text, nil, nil))
}

// Chunker splits text per the configured mode, size and overlap.
type Chunker struct {
	Mode         Mode
	ChunkSize    int
	ChunkOverlap int
	TokenCounter TokenCounter
}

// Option configures a Chunker.
type Option func(*Chunker)

func WithMode(m Mode) Option              { return func(c *Chunker) { c.Mode = m } }
func WithChunkSize(n int) Option          { return func(c *Chunker) { c.ChunkSize = n } }
func WithChunkOverlap(n int) Option       { return func(c *Chunker) { c.ChunkOverlap = n } }
func WithTokenCounter(tc TokenCounter) Option { return func(c *Chunker) { c.TokenCounter = tc } }

// New creates a Chunker, defaulting to sentence mode, 200/50 size/overlap
// and the approximate token counter, matching the teacher's defaults.
func New(opts ...Option) *Chunker {
	c := &Chunker{
		Mode:         Sentence,
		ChunkSize:    200,
		ChunkOverlap: 50,
		TokenCounter: ApproxTokenCounter{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 1
	}
	if c.ChunkOverlap >= c.ChunkSize {
		c.ChunkOverlap = c.ChunkSize - 1
	}
	if c.ChunkOverlap < 0 {
		c.ChunkOverlap = 0
	}
	return c
}

// Chunk splits text according to the configured mode. Output preserves
// source order and never contains an empty chunk.
func (c *Chunker) Chunk(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	return c.chunkMode(text, c.Mode)
}

func (c *Chunker) chunkMode(text string, mode Mode) []string {
	switch mode {
	case Character:
		return chunkByRuneWindow(text, c.ChunkSize, c.ChunkOverlap)
	case Token:
		return chunkByWordWindow(text, c.ChunkSize, c.ChunkOverlap)
	case Sentence:
		return c.chunkByAtoms(splitSentences(text), mode)
	case Paragraph:
		return c.chunkByAtoms(splitParagraphs(text), mode)
	default:
		return c.chunkByAtoms(splitSentences(text), Sentence)
	}
}

// nextFinerMode is the fallback chain for an oversized atom: paragraph
// falls back to sentence, sentence falls back to token, token falls back
// to character (the finest granularity, which always terminates).
func nextFinerMode(mode Mode) Mode {
	switch mode {
	case Paragraph:
		return Sentence
	case Sentence:
		return Token
	case Token:
		return Character
	default:
		return Character
	}
}

func (c *Chunker) chunkByAtoms(atoms []string, mode Mode) []string {
	var chunks []string
	var cur []string
	curCount := 0

	flush := func() {
		if len(cur) > 0 {
			joined := strings.TrimSpace(strings.Join(cur, " "))
			if joined != "" {
				chunks = append(chunks, joined)
			}
		}
	}

	for _, atom := range atoms {
		atom = strings.TrimSpace(atom)
		if atom == "" {
			continue
		}
		atomCount := c.TokenCounter.Count(atom)

		if atomCount > c.ChunkSize {
			flush()
			cur = nil
			curCount = 0
			chunks = append(chunks, c.chunkMode(atom, nextFinerMode(mode))...)
			continue
		}

		if curCount+atomCount > c.ChunkSize && curCount > 0 {
			flush()
			cur = c.trimForOverlap(cur)
			curCount = 0
			for _, a := range cur {
				curCount += c.TokenCounter.Count(a)
			}
		}

		cur = append(cur, atom)
		curCount += atomCount
	}
	flush()
	return chunks
}

// trimForOverlap keeps the trailing atoms of the just-flushed chunk whose
// combined token count fits within ChunkOverlap, seeding the next chunk.
func (c *Chunker) trimForOverlap(atoms []string) []string {
	if c.ChunkOverlap <= 0 || len(atoms) == 0 {
		return nil
	}
	var kept []string
	count := 0
	for i := len(atoms) - 1; i >= 0; i-- {
		n := c.TokenCounter.Count(atoms[i])
		if count+n > c.ChunkOverlap {
			break
		}
		kept = append([]string{atoms[i]}, kept...)
		count += n
	}
	return kept
}

var sentenceSplitRe = regexp.MustCompile(`[^.?!]+[.?!]+`)

// splitSentences splits on runs of non-terminal characters followed by
// one or more [.?!], keeping the terminal punctuation attached to each
// sentence. Any trailing text with no terminal punctuation becomes its
// own final sentence.
func splitSentences(text string) []string {
	locs := sentenceSplitRe.FindAllStringIndex(text, -1)
	var out []string
	last := 0
	for _, loc := range locs {
		piece := strings.TrimSpace(text[loc[0]:loc[1]])
		if piece != "" {
			out = append(out, piece)
		}
		last = loc[1]
	}
	if last < len(text) {
		remainder := strings.TrimSpace(text[last:])
		if remainder != "" {
			out = append(out, remainder)
		}
	}
	if len(out) == 0 {
		trimmed := strings.TrimSpace(text)
		if trimmed != "" {
			out = []string{trimmed}
		}
	}
	return out
}

var paragraphSplitRe = regexp.MustCompile(`\n\s*\n+`)

func splitParagraphs(text string) []string {
	parts := paragraphSplitRe.Split(text, -1)
	var out []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 && text != "" {
		out = []string{text}
	}
	return out
}

func chunkByRuneWindow(text string, size, overlap int) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	if overlap >= size {
		overlap = size - 1
	}
	if overlap < 0 {
		overlap = 0
	}
	step := size - overlap
	if step <= 0 {
		step = 1
	}

	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}

// chunkByWordWindow implements the approximate token window by converting
// the token size/overlap into an equivalent word count via the inverse of
// tokens ≈ 0.75·words (words ≈ tokens / 0.75).
func chunkByWordWindow(text string, tokenSize, tokenOverlap int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	wordSize := int(float64(tokenSize) / 0.75)
	if wordSize < 1 {
		wordSize = 1
	}
	wordOverlap := int(float64(tokenOverlap) / 0.75)
	if wordOverlap >= wordSize {
		wordOverlap = wordSize - 1
	}
	if wordOverlap < 0 {
		wordOverlap = 0
	}
	step := wordSize - wordOverlap
	if step <= 0 {
		step = 1
	}

	var chunks []string
	for start := 0; start < len(words); start += step {
		end := start + wordSize
		if end > len(words) {
			end = len(words)
		}
		chunk := strings.TrimSpace(strings.Join(words[start:end], " "))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(words) {
			break
		}
	}
	return chunks
}
