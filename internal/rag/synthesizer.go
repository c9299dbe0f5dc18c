package rag

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"github.com/carrel-ai/carrel/internal/store"
)

// systemPrompt frames the model as a grounded document assistant. Answers
// must come from the provided sources and cite them with [n] markers.
const systemPrompt = `You are a careful assistant that answers questions using only the provided sources.

Rules:
- Base your answer strictly on the numbered sources. Do not use outside knowledge.
- Cite sources inline with bracketed numbers, e.g. [1] or [2], matching the source numbering.
- If the sources do not contain the answer, say so plainly instead of guessing.
- Be concise and direct.`

// citationPattern matches [n] markers in model output.
var citationPattern = regexp.MustCompile(`\[(\d+)\]`)

// DefaultSynthesisTimeout bounds one model call.
const DefaultSynthesisTimeout = 60 * time.Second

// Synthesizer turns retrieved chunks plus a question into a cited answer.
type Synthesizer struct {
	g         *genkit.Genkit
	modelName string
	timeout   time.Duration
	logger    *slog.Logger
}

// SynthesizerConfig configures NewSynthesizer. Genkit and ModelName are
// required.
type SynthesizerConfig struct {
	Genkit    *genkit.Genkit
	ModelName string // provider-qualified, e.g. "googleai/gemini-2.5-flash"
	Timeout   time.Duration
	Logger    *slog.Logger
}

// NewSynthesizer creates a Synthesizer.
func NewSynthesizer(cfg SynthesizerConfig) (*Synthesizer, error) {
	if cfg.Genkit == nil {
		return nil, fmt.Errorf("genkit instance is required")
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultSynthesisTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Synthesizer{
		g:         cfg.Genkit,
		modelName: cfg.ModelName,
		timeout:   cfg.Timeout,
		logger:    cfg.Logger,
	}, nil
}

// Synthesize produces an answer for the question from the matches. With no
// matches it returns the fixed insufficient-information answer without
// calling the model.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, matches []store.Match) (Answer, error) {
	if len(matches) == 0 {
		return Answer{Text: InsufficientContextAnswer}, nil
	}

	genCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// WithMessages rather than WithPrompt: chunk content may contain
	// formatting verbs that must reach the model untouched.
	resp, err := genkit.Generate(genCtx, s.g,
		ai.WithModelName(s.modelName),
		ai.WithSystem(systemPrompt),
		ai.WithMessages(ai.NewUserMessage(ai.NewTextPart(buildPrompt(question, matches)))),
	)
	if err != nil {
		return Answer{}, fmt.Errorf("%w: %v", ErrSynthesis, err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return Answer{}, fmt.Errorf("%w: model returned empty response", ErrSynthesis)
	}

	citations := parseCitations(text, matches)
	s.logger.Debug("synthesized answer",
		"sources", len(matches),
		"citations", len(citations),
		"answer_length", len(text))

	return Answer{
		Text:            text,
		Citations:       citations,
		ChunksRetrieved: len(matches),
	}, nil
}

// buildPrompt lays out the numbered sources followed by the question.
func buildPrompt(question string, matches []store.Match) string {
	var sb strings.Builder
	sb.WriteString("Sources:\n\n")
	for i, m := range matches {
		pages := fmt.Sprintf("Page %d", m.PageStart)
		if m.PageEnd > m.PageStart {
			pages = fmt.Sprintf("Pages %d-%d", m.PageStart, m.PageEnd)
		}
		fmt.Fprintf(&sb, "[%d] %s (Source: %s)\n%s\n\n", i+1, pages, m.Filename, m.Content)
	}
	sb.WriteString("Question: ")
	sb.WriteString(question)
	return sb.String()
}

// parseCitations extracts the distinct [n] markers from the answer and
// resolves them against the numbered matches. Markers outside 1..len(matches)
// are dropped; the model sometimes hallucinates numbers it was never given.
func parseCitations(text string, matches []store.Match) []Citation {
	seen := make(map[int]bool)
	var ids []int
	for _, sub := range citationPattern.FindAllStringSubmatch(text, -1) {
		id, err := strconv.Atoi(sub[1])
		if err != nil || id < 1 || id > len(matches) {
			continue
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)

	citations := make([]Citation, 0, len(ids))
	for _, id := range ids {
		citations = append(citations, citationFor(id, matches[id-1]))
	}
	return citations
}
