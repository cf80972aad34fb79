package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/querypilot/querypilot/internal/kb"
	"github.com/querypilot/querypilot/internal/llm"
	"github.com/querypilot/querypilot/internal/log"

	"github.com/firebase/genkit/go/ai"
)

const synthesizerSystemPrompt = `You write PostgreSQL queries for an analytics warehouse.
Rules:
- Produce exactly one SELECT statement (WITH clauses are allowed).
- Use only the tables and columns in the provided schema.
- Never modify data and never use statements other than SELECT.
- Reply with the SQL only, no explanations.`

// Synthesizer is the second pipeline stage: given the detailed schema of the
// selected tables and any similar knowledge-base examples, it asks the model
// for a single SELECT statement.
type Synthesizer struct {
	client      CompletionClient
	temperature float32
	logger      log.Logger
}

func NewSynthesizer(client CompletionClient, temperature float32, logger log.Logger) *Synthesizer {
	return &Synthesizer{client: client, temperature: temperature, logger: logger}
}

// Synthesize returns a SQL statement answering the question. schemaText is
// the formatted column detail for the selected tables. The statement is
// extracted from the reply but not validated here.
func (s *Synthesizer) Synthesize(ctx context.Context, question, schemaText string, examples []kb.ScoredExample, history []*ai.Message) (string, error) {
	var b strings.Builder
	b.WriteString("Schema:\n")
	b.WriteString(schemaText)

	if len(examples) > 0 {
		b.WriteString("\nSimilar queries for reference:\n")
		for _, ex := range examples {
			b.WriteString("-- ")
			b.WriteString(ex.Title)
			b.WriteByte('\n')
			b.WriteString(ex.SQL)
			b.WriteByte('\n')
		}
	}

	b.WriteString("\nQuestion: ")
	b.WriteString(question)

	raw, err := s.client.Complete(ctx, llm.CompletionRequest{
		System:      synthesizerSystemPrompt,
		Prompt:      b.String(),
		History:     history,
		Temperature: s.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("synthesizing sql: %w", err)
	}

	stmt, err := extractSQL(raw)
	if err != nil {
		s.logger.Warn("model reply contained no SELECT", "reply", truncateForLog(raw))
		return "", err
	}
	return stmt, nil
}

// extractSQL pulls the statement out of a model reply: code fences are
// stripped, leading prose before the first SELECT or WITH is dropped, and a
// trailing semicolon is added when missing.
func extractSQL(raw string) (string, error) {
	text := strings.TrimSpace(raw)

	if idx := strings.Index(text, "```"); idx >= 0 {
		rest := text[idx+3:]
		// Skip a language hint such as "sql" on the fence line.
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if end := strings.Index(rest, "```"); end >= 0 {
			rest = rest[:end]
		}
		text = strings.TrimSpace(rest)
	}

	lower := strings.ToLower(text)
	start := -1
	// Prefer a line that opens with the statement keyword: replies with
	// leading prose often use "with" conversationally mid-sentence.
	offset := 0
	for _, line := range strings.SplitAfter(lower, "\n") {
		trimmed := strings.TrimLeft(line, " \t")
		if hasWordPrefix(trimmed, "select") || hasWordPrefix(trimmed, "with") {
			start = offset + (len(line) - len(trimmed))
			break
		}
		offset += len(line)
	}
	if start < 0 {
		start = indexWord(lower, "select")
	}
	if start < 0 {
		return "", fmt.Errorf("%w: model reply contains no SELECT statement", ErrSynthesisFailed)
	}

	stmt := strings.TrimSpace(text[start:])
	if !strings.HasSuffix(stmt, ";") {
		stmt += ";"
	}
	return stmt, nil
}

func hasWordPrefix(s, kw string) bool {
	if !strings.HasPrefix(s, kw) {
		return false
	}
	return len(s) == len(kw) || !isWordPart(rune(s[len(kw)]))
}

// indexWord finds kw in s at a word boundary.
func indexWord(s, kw string) int {
	for from := 0; ; {
		idx := strings.Index(s[from:], kw)
		if idx < 0 {
			return -1
		}
		idx += from
		beforeOK := idx == 0 || !isWordPart(rune(s[idx-1]))
		afterOK := idx+len(kw) >= len(s) || !isWordPart(rune(s[idx+len(kw)]))
		if beforeOK && afterOK {
			return idx
		}
		from = idx + len(kw)
	}
}
