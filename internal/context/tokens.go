package context

import (
	"path/filepath"
	"strings"

	"github.com/alecthomas/chroma/v2/lexers"
	lru "github.com/hashicorp/golang-lru/v2"
)

// ContentClass represents the kind of content for token estimation.
type ContentClass int

const (
	ClassProse ContentClass = iota
	ClassCode
	ClassData
	ClassMixed
)

// Estimator produces fast approximate token counts. Exactness is not a
// goal; the estimate only has to be cheap, stable, and monotonic in
// content length so budget trimming behaves predictably.
type Estimator struct {
	memo *lru.Cache[string, int]
}

// NewEstimator creates an Estimator with a bounded memo keyed by content
// signature, so unchanged files cost nothing to re-estimate.
func NewEstimator() *Estimator {
	memo, _ := lru.New[string, int](4096)
	return &Estimator{memo: memo}
}

// ForFile estimates tokens for one file. The signature memoizes the
// result; the filename biases classification before content heuristics.
func (e *Estimator) ForFile(path, signature string, content []byte) int {
	if signature != "" {
		if tokens, ok := e.memo.Get(signature); ok {
			return tokens
		}
	}

	text := string(content)
	class := ClassifyPath(path)
	if class == ClassMixed {
		class = classifyContent(text)
	}
	tokens := estimateForClass(text, class)

	if signature != "" {
		e.memo.Add(signature, tokens)
	}
	return tokens
}

// EstimateText estimates tokens for free-form text (prompts, replies).
func EstimateText(text string) int {
	if text == "" {
		return 0
	}
	return estimateForClass(text, classifyContent(text))
}

// ClassifyPath maps a filename to a content class using chroma's lexer
// registry. ClassMixed means the name alone was not conclusive.
func ClassifyPath(path string) ContentClass {
	lexer := lexers.Match(filepath.Base(path))
	if lexer == nil {
		return ClassMixed
	}

	switch lexer.Config().Name {
	case "JSON", "YAML", "TOML", "XML", "INI", "CSV", "properties":
		return ClassData
	case "markdown", "Markdown", "reStructuredText", "plaintext", "Org Mode":
		return ClassProse
	default:
		return ClassCode
	}
}

// estimateForClass applies the per-class rate. Each branch is monotonic:
// appending content never lowers the estimate.
func estimateForClass(text string, class ContentClass) int {
	if text == "" {
		return 0
	}
	chars := len(text)

	switch class {
	case ClassCode:
		// Identifiers split into subword tokens and punctuation is dense,
		// so code averages about 3.2 chars per token.
		return int(float64(chars) / 3.2)

	case ClassData:
		// Quotes, delimiters, and keys tokenize separately.
		return int(float64(chars) / 3.0)

	case ClassProse:
		words := len(strings.Fields(text))
		byWords := int(float64(words) * 1.3)
		byChars := chars / 4
		return (byWords*3 + byChars) / 4

	default: // ClassMixed
		words := len(strings.Fields(text))
		byWords := int(float64(words) * 1.3)
		byChars := int(float64(chars) / 3.5)
		return (byWords + byChars) / 2
	}
}

// classifyContent inspects text when the filename gave no answer.
func classifyContent(text string) ContentClass {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ClassProse
	}

	if (strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}")) ||
		(strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]")) {
		return ClassData
	}

	lines := strings.Split(text, "\n")
	codeLines := 0
	for _, line := range lines {
		t := strings.TrimSpace(line)
		if strings.HasPrefix(t, "func ") ||
			strings.HasPrefix(t, "type ") ||
			strings.HasPrefix(t, "package ") ||
			strings.HasPrefix(t, "import ") ||
			strings.HasPrefix(t, "def ") ||
			strings.HasPrefix(t, "class ") ||
			strings.HasPrefix(t, "function ") ||
			strings.HasPrefix(t, "const ") ||
			strings.HasPrefix(t, "//") ||
			strings.HasPrefix(t, "#") ||
			strings.HasSuffix(t, "{") ||
			strings.HasSuffix(t, "}") ||
			strings.HasSuffix(t, ";") ||
			strings.Contains(t, " := ") ||
			strings.Contains(t, " = ") {
			codeLines++
		}
	}
	if len(lines) > 0 && float64(codeLines)/float64(len(lines)) > 0.3 {
		return ClassCode
	}

	words := strings.Fields(text)
	identifiers := 0
	for _, w := range words {
		if strings.Contains(w, "_") || hasCamelCase(w) {
			identifiers++
		}
	}
	if len(words) > 0 && float64(identifiers)/float64(len(words)) > 0.2 {
		return ClassMixed
	}

	return ClassProse
}

func hasCamelCase(word string) bool {
	hasLower := false
	for _, r := range word {
		switch {
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= 'A' && r <= 'Z':
			if hasLower {
				return true
			}
		}
	}
	return false
}
