package query

import (
	"fmt"
	"strings"
	"unicode"
)

// forbiddenKeywords are statement types and commands the service never runs
// against the target warehouse. Matched on whole keyword tokens only, so
// column names like "updated_at" or string literals containing "DROP" pass.
var forbiddenKeywords = map[string]struct{}{
	"INSERT":     {},
	"UPDATE":     {},
	"DELETE":     {},
	"MERGE":      {},
	"INTO":       {},
	"TRUNCATE":   {},
	"DROP":       {},
	"CREATE":     {},
	"ALTER":      {},
	"RENAME":     {},
	"GRANT":      {},
	"REVOKE":     {},
	"COPY":       {},
	"CALL":       {},
	"DO":         {},
	"EXECUTE":    {},
	"PREPARE":    {},
	"DEALLOCATE": {},
	"VACUUM":     {},
	"ANALYZE":    {},
	"REINDEX":    {},
	"CLUSTER":    {},
	"REFRESH":    {},
	"COMMENT":    {},
	"LOCK":       {},
	"LISTEN":     {},
	"NOTIFY":     {},
	"SET":        {},
	"RESET":      {},
	"BEGIN":      {},
	"COMMIT":     {},
	"ROLLBACK":   {},
	"SAVEPOINT":  {},
}

// ValidateSQL checks that text is a single read-only SELECT statement.
//
// The check works on lexical tokens, not substrings: comments, quoted
// strings, quoted identifiers, and dollar-quoted bodies are skipped, so
// forbidden keywords inside them do not trigger rejection, and keywords
// split across identifiers (my_update_col) do not either. Any violation
// is returned as a *RejectionError.
func ValidateSQL(text string) error {
	toks, err := tokenize(text)
	if err != nil {
		return err
	}
	if len(toks) == 0 {
		return &RejectionError{Reason: "statement is empty"}
	}

	first := strings.ToUpper(toks[0].text)
	if toks[0].kind != tokenWord || (first != "SELECT" && first != "WITH") {
		return &RejectionError{Reason: fmt.Sprintf("statement must start with SELECT or WITH, got %q", toks[0].text)}
	}

	for i, tok := range toks {
		switch tok.kind {
		case tokenWord:
			upper := strings.ToUpper(tok.text)
			if _, bad := forbiddenKeywords[upper]; bad {
				return &RejectionError{Reason: fmt.Sprintf("forbidden keyword %s", upper)}
			}
		case tokenSemicolon:
			// A trailing semicolon is fine; anything after it is a
			// second statement.
			if i != len(toks)-1 {
				return &RejectionError{Reason: "multiple statements are not allowed"}
			}
		}
	}
	return nil
}

type tokenKind int

const (
	tokenWord tokenKind = iota
	tokenSemicolon
	tokenOther
)

type token struct {
	kind tokenKind
	text string
}

// tokenize splits SQL into word, semicolon, and punctuation tokens,
// discarding comments and the contents of quoted regions.
func tokenize(text string) ([]token, error) {
	var toks []token
	runes := []rune(text)
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '-' && i+1 < len(runes) && runes[i+1] == '-':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
		case r == '/' && i+1 < len(runes) && runes[i+1] == '*':
			end, err := skipBlockComment(runes, i)
			if err != nil {
				return nil, err
			}
			i = end
		case r == '\'':
			end, err := skipQuoted(runes, i, '\'')
			if err != nil {
				return nil, err
			}
			i = end
		case r == '"':
			end, err := skipQuoted(runes, i, '"')
			if err != nil {
				return nil, err
			}
			i = end
		case r == '$':
			if end, ok := skipDollarQuoted(runes, i); ok {
				if end < 0 {
					return nil, &RejectionError{Reason: "unterminated dollar-quoted string"}
				}
				i = end
			} else {
				toks = append(toks, token{kind: tokenOther, text: string(r)})
				i++
			}
		case r == ';':
			toks = append(toks, token{kind: tokenSemicolon, text: ";"})
			i++
		case isWordStart(r):
			start := i
			for i < len(runes) && isWordPart(runes[i]) {
				i++
			}
			toks = append(toks, token{kind: tokenWord, text: string(runes[start:i])})
		default:
			toks = append(toks, token{kind: tokenOther, text: string(r)})
			i++
		}
	}
	return toks, nil
}

// skipBlockComment advances past a /* */ comment starting at i.
// Postgres block comments nest.
func skipBlockComment(runes []rune, i int) (int, error) {
	depth := 0
	for i < len(runes) {
		if runes[i] == '/' && i+1 < len(runes) && runes[i+1] == '*' {
			depth++
			i += 2
			continue
		}
		if runes[i] == '*' && i+1 < len(runes) && runes[i+1] == '/' {
			depth--
			i += 2
			if depth == 0 {
				return i, nil
			}
			continue
		}
		i++
	}
	return 0, &RejectionError{Reason: "unterminated block comment"}
}

// skipQuoted advances past a quoted region starting at i, where a doubled
// quote character is an escape.
func skipQuoted(runes []rune, i int, quote rune) (int, error) {
	i++ // opening quote
	for i < len(runes) {
		if runes[i] == quote {
			if i+1 < len(runes) && runes[i+1] == quote {
				i += 2
				continue
			}
			return i + 1, nil
		}
		i++
	}
	return 0, &RejectionError{Reason: "unterminated quoted string"}
}

// skipDollarQuoted handles $tag$ ... $tag$ bodies. Returns ok=false when the
// dollar sign does not open a valid tag (positional parameters like $1).
func skipDollarQuoted(runes []rune, i int) (end int, ok bool) {
	j := i + 1
	for j < len(runes) && (runes[j] == '_' || unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j])) {
		j++
	}
	if j >= len(runes) || runes[j] != '$' {
		return 0, false
	}
	if j > i+1 && unicode.IsDigit(runes[i+1]) {
		// Tags cannot start with a digit.
		return 0, false
	}
	tag := runes[i : j+1]
	for k := j + 1; k+len(tag) <= len(runes); k++ {
		if string(runes[k:k+len(tag)]) == string(tag) {
			return k + len(tag), true
		}
	}
	return -1, true
}

func isWordStart(r rune) bool {
	return r == '_' || unicode.IsLetter(r)
}

func isWordPart(r rune) bool {
	return r == '_' || r == '$' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
