// Package chunk splits page-aware document text into token-bounded chunks
// for embedding and retrieval.
//
// Chunks are cut on token boundaries against a configurable token budget.
// When a sentence break falls in the second half of a window the cut moves
// back to it, so chunks tend to end at sentence boundaries without ever
// producing degenerate slivers. Concatenating all chunk contents in order
// reconstructs the joined document text exactly.
package chunk

import (
	"strings"
)

// DefaultTargetTokens is the token budget per chunk when Options.TargetTokens
// is zero.
const DefaultTargetTokens = 1000

// sentenceBreaks are the patterns a chunk prefers to end after, in no
// particular priority; the rightmost occurrence wins.
var sentenceBreaks = []string{". ", ".\n", "! ", "!\n", "? ", "?\n", "\n\n"}

// Tokenizer converts text to token IDs and back. Production code uses the
// tiktoken cl100k_base encoding (see NewTikToken); tests may substitute a
// deterministic offline implementation.
type Tokenizer interface {
	Encode(text string) []int
	Decode(tokens []int) string
}

// Options configures Split.
type Options struct {
	// TargetTokens is the token budget per chunk. Default: DefaultTargetTokens.
	TargetTokens int

	// Tokenizer is required.
	Tokenizer Tokenizer
}

// Chunk is one token-bounded slice of a document.
type Chunk struct {
	Index      int    // 0-based position within the document
	Content    string // exact slice of the joined document text
	PageStart  int    // first source page this chunk draws from (1-based)
	PageEnd    int    // last source page this chunk draws from
	TokenCount int
}

// Page is the chunker's input unit: 1-based page number plus its text.
// Mirrors extract.Page without importing it, so the chunker stays usable
// on any page-shaped input.
type Page struct {
	Number int
	Text   string
}

// pageBoundary records where a page's text begins in the joined document.
type pageBoundary struct {
	page  int
	start int // byte offset into the joined text
}

// Split cuts the pages' text into chunks of at most opts.TargetTokens tokens.
// Blank pages are skipped for content but never renumbered. Returns nil when
// the input has no text.
func Split(pages []Page, opts Options) []Chunk {
	target := opts.TargetTokens
	if target <= 0 {
		target = DefaultTargetTokens
	}

	text, boundaries := joinPages(pages)
	if text == "" {
		return nil
	}

	tokens := opts.Tokenizer.Encode(text)
	if len(tokens) == 0 {
		return nil
	}

	// cum[i] is the byte offset of the text produced by the first i tokens.
	// Per-token decodes concatenate to the full text bytewise, so summing
	// their lengths gives exact offsets even when a token holds a partial
	// UTF-8 sequence.
	cum := make([]int, len(tokens)+1)
	for i, tok := range tokens {
		cum[i+1] = cum[i] + len(opts.Tokenizer.Decode([]int{tok}))
	}

	var chunks []Chunk
	for start := 0; start < len(tokens); {
		end := min(start+target, len(tokens))

		// Prefer ending at a sentence break, but only when the break sits
		// in the second half of the window. The final window keeps its
		// natural end.
		if end < len(tokens) {
			if b, ok := sentenceEnd(text[cum[start]:cum[end]]); ok {
				end = snapToToken(cum, start, end, cum[start]+b)
			}
		}

		content := text[cum[start]:cum[end]]
		chunks = append(chunks, Chunk{
			Index:      len(chunks),
			Content:    content,
			PageStart:  pageAt(boundaries, cum[start]),
			PageEnd:    pageAt(boundaries, cum[end]-1),
			TokenCount: end - start,
		})
		start = end
	}
	return chunks
}

// joinPages concatenates non-blank page texts with a blank line between
// them, recording where each page begins.
func joinPages(pages []Page) (string, []pageBoundary) {
	var (
		sb         strings.Builder
		boundaries []pageBoundary
	)
	for _, p := range pages {
		if strings.TrimSpace(p.Text) == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		boundaries = append(boundaries, pageBoundary{page: p.Number, start: sb.Len()})
		sb.WriteString(p.Text)
	}
	return sb.String(), boundaries
}

// sentenceEnd returns the byte offset just past the rightmost sentence
// break in window, if one exists past the window's midpoint.
func sentenceEnd(window string) (int, bool) {
	best := -1
	for _, pat := range sentenceBreaks {
		if i := strings.LastIndex(window, pat); i >= 0 && i+len(pat) > best {
			best = i + len(pat)
		}
	}
	if best <= len(window)/2 {
		return 0, false
	}
	return best, true
}

// snapToToken returns the smallest token index b in (start, end] whose byte
// offset covers breakAt. Cutting on the token boundary keeps the chunk
// partition exact; the chunk may run a few characters past the sentence
// break when the break lands mid-token.
func snapToToken(cum []int, start, end, breakAt int) int {
	for b := start + 1; b <= end; b++ {
		if cum[b] >= breakAt {
			return b
		}
	}
	return end
}

// pageAt returns the page number owning the given byte offset.
func pageAt(boundaries []pageBoundary, offset int) int {
	page := 0
	for _, b := range boundaries {
		if b.start > offset {
			break
		}
		page = b.page
	}
	return page
}
