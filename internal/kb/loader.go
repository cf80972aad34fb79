package kb

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Example is one curated question/SQL pair from the knowledge base directory.
//
// Example files are plain .sql files with a leading comment block:
//
//	-- Monthly revenue by product category
//	-- Sums order totals per category for the trailing 12 months.
//	SELECT ...
//
// The first comment line is the title (the natural-language question the
// example answers), following comment lines are the description.
type Example struct {
	Filename    string // base name within the knowledge directory
	Title       string
	Description string
	SQL         string
	ContentHash string    // SHA-256 of the raw file, keys the embedding cache
	Embedding   []float32 // filled during Reload
}

// EmbeddingText returns the text embedded for similarity matching.
// Questions are matched against what the example claims to answer, not
// against its SQL.
func (e *Example) EmbeddingText() string {
	if e.Description == "" {
		return e.Title
	}
	return e.Title + "\n" + e.Description
}

// loadDir reads all .sql files in dir, sorted by filename.
// Returns an empty slice when the directory has no examples.
func loadDir(dir string) ([]Example, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading knowledge directory: %w", err)
	}

	var examples []Example
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading example %s: %w", entry.Name(), err)
		}

		ex := parseExample(entry.Name(), string(data))
		if strings.TrimSpace(ex.SQL) == "" {
			continue // comment-only file, nothing to reuse
		}
		examples = append(examples, ex)
	}

	sort.Slice(examples, func(i, j int) bool { return examples[i].Filename < examples[j].Filename })
	return examples, nil
}

// parseExample splits a file into leading comment block and SQL body.
func parseExample(filename, content string) Example {
	sum := sha256.Sum256([]byte(content))

	var commentLines []string
	lines := strings.Split(content, "\n")
	body := 0
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" && len(commentLines) == 0 {
			body = i + 1
			continue
		}
		if strings.HasPrefix(trimmed, "--") {
			commentLines = append(commentLines, strings.TrimSpace(strings.TrimPrefix(trimmed, "--")))
			body = i + 1
			continue
		}
		break
	}

	title := strings.TrimSuffix(filename, ".sql")
	var description string
	if len(commentLines) > 0 {
		title = commentLines[0]
		description = strings.TrimSpace(strings.Join(commentLines[1:], "\n"))
	}

	return Example{
		Filename:    filename,
		Title:       title,
		Description: description,
		SQL:         strings.TrimSpace(strings.Join(lines[body:], "\n")),
		ContentHash: hex.EncodeToString(sum[:]),
	}
}
