package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/querypilot/querypilot/internal/llm"
	"github.com/querypilot/querypilot/internal/log"
	"github.com/querypilot/querypilot/internal/schema"

	"github.com/firebase/genkit/go/ai"
)

// CompletionClient is the subset of the model engine the pipeline stages use.
type CompletionClient interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (string, error)
}

const selectorSystemPrompt = `You pick database tables for answering analytics questions.
Given a catalog of tables and a question, reply with the names of every table
needed to answer the question, one name per line. Reply with table names only,
no explanations and no SQL.`

// Selector is the first pipeline stage: it narrows the warehouse catalog to
// the handful of tables relevant to a question, so the synthesis stage sees
// full column detail for those tables only.
type Selector struct {
	client    CompletionClient
	maxTables int
	logger    log.Logger
}

func NewSelector(client CompletionClient, maxTables int, logger log.Logger) *Selector {
	return &Selector{client: client, maxTables: maxTables, logger: logger}
}

// Select returns canonical table names from snap relevant to the question.
// Unknown names in the model reply are dropped; an empty resolved set is an
// ErrSelectionFailed.
func (s *Selector) Select(ctx context.Context, snap *schema.Snapshot, question string, history []*ai.Message) ([]string, error) {
	var b strings.Builder
	b.WriteString("Available tables:\n")
	b.WriteString(snap.Summaries())
	b.WriteString("\nQuestion: ")
	b.WriteString(question)

	raw, err := s.client.Complete(ctx, llm.CompletionRequest{
		System:  selectorSystemPrompt,
		Prompt:  b.String(),
		History: history,
	})
	if err != nil {
		return nil, fmt.Errorf("selecting tables: %w", err)
	}

	names := parseTableNames(raw)
	valid, unknown := snap.Resolve(names)
	if len(unknown) > 0 {
		s.logger.Warn("model named unknown tables", "unknown", unknown)
	}
	if len(valid) == 0 {
		return nil, fmt.Errorf("%w: no known tables in model reply %q", ErrSelectionFailed, truncateForLog(raw))
	}
	if len(valid) > s.maxTables {
		valid = valid[:s.maxTables]
	}
	return valid, nil
}

// parseTableNames extracts candidate table names from a model reply,
// tolerating commas, bullets, numbering, quoting, and code fences.
func parseTableNames(raw string) []string {
	var names []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "```") {
			continue
		}
		for _, field := range strings.FieldsFunc(line, func(r rune) bool {
			return r == ',' || r == ';'
		}) {
			name := strings.TrimSpace(field)
			name = strings.TrimLeft(name, "-*0123456789.) ")
			name = strings.Trim(name, "`'\"")
			if name != "" {
				names = append(names, name)
			}
		}
	}
	return names
}

func truncateForLog(s string) string {
	const max = 200
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
