// Package chunker splits file content into bounded, semantically coherent
// chunks suitable for embedding. Splitting is pure and deterministic:
// identical input always produces an identical chunk sequence, which the
// index relies on for idempotent upsert keys.
package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Chunk is a contiguous span of a file's text. Line numbers are 1-based
// and inclusive.
type Chunk struct {
	Path      string `json:"path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Text      string `json:"text"`
	// Hash is SHA-256 over (path, text), so identical content at
	// different revisions hashes identically and is never re-embedded.
	Hash string `json:"hash"`
}

// Options configures chunk sizing.
type Options struct {
	// MaxLines is the maximum number of lines per chunk.
	MaxLines int
	// OverlapLines is the number of lines repeated between consecutive
	// windowed chunks so context spanning a boundary is not lost.
	OverlapLines int
}

// DefaultOptions returns the sizing used when none is configured.
func DefaultOptions() Options {
	return Options{MaxLines: 30, OverlapLines: 5}
}

func (o Options) normalized() Options {
	if o.MaxLines <= 0 {
		o.MaxLines = DefaultOptions().MaxLines
	}
	if o.OverlapLines < 0 {
		o.OverlapLines = 0
	}
	if o.OverlapLines >= o.MaxLines {
		o.OverlapLines = o.MaxLines - 1
	}
	return o
}

// Chunker splits text into chunks. The zero value is not usable; use New.
type Chunker struct {
	opts Options
}

// New creates a Chunker with the given options.
func New(opts Options) *Chunker {
	return &Chunker{opts: opts.normalized()}
}

// Split breaks text into chunks. Paragraphs (blank-line separated blocks)
// are packed greedily up to MaxLines; a single paragraph longer than
// MaxLines falls back to a sliding window with OverlapLines of overlap.
// Empty or whitespace-only text yields zero chunks.
func (c *Chunker) Split(path, text string) []Chunk {
	lines := strings.Split(text, "\n")
	// A trailing newline produces one empty trailing element; drop it so
	// line counts match what an editor reports.
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	if len(lines) == 0 || strings.TrimSpace(text) == "" {
		return nil
	}

	var chunks []Chunk
	for _, p := range paragraphs(lines) {
		if p.end-p.start+1 <= c.opts.MaxLines {
			chunks = appendMerged(chunks, p, lines, c.opts.MaxLines)
			continue
		}
		// Oversized paragraph: fixed-size windows with overlap.
		stride := c.opts.MaxLines - c.opts.OverlapLines
		for start := p.start; start <= p.end; start += stride {
			end := start + c.opts.MaxLines - 1
			if end > p.end {
				end = p.end
			}
			chunks = append(chunks, span{start, end}.chunk(lines))
			if end == p.end {
				break
			}
		}
	}

	out := make([]Chunk, 0, len(chunks))
	for _, ch := range chunks {
		if strings.TrimSpace(ch.Text) == "" {
			continue
		}
		ch.Path = path
		ch.Hash = HashContent(path, ch.Text)
		out = append(out, ch)
	}
	return out
}

// HashContent returns the deterministic content hash for a (path, text)
// pair.
func HashContent(path, text string) string {
	h := sha256.New()
	h.Write([]byte(path))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// span is an inclusive 0-based line range.
type span struct {
	start, end int
}

func (s span) chunk(lines []string) Chunk {
	return Chunk{
		StartLine: s.start + 1,
		EndLine:   s.end + 1,
		Text:      strings.Join(lines[s.start:s.end+1], "\n"),
	}
}

// paragraphs returns blank-line separated blocks as inclusive line ranges.
func paragraphs(lines []string) []span {
	var out []span
	start := -1
	for i, line := range lines {
		blank := strings.TrimSpace(line) == ""
		if blank {
			if start >= 0 {
				out = append(out, span{start, i - 1})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		out = append(out, span{start, len(lines) - 1})
	}
	return out
}

// appendMerged packs p into the previous chunk when the combined range
// still fits within maxLines, otherwise starts a new chunk.
func appendMerged(chunks []Chunk, p span, lines []string, maxLines int) []Chunk {
	if n := len(chunks); n > 0 {
		prevStart := chunks[n-1].StartLine - 1
		if p.end-prevStart+1 <= maxLines {
			chunks[n-1] = span{prevStart, p.end}.chunk(lines)
			return chunks
		}
	}
	return append(chunks, p.chunk(lines))
}
