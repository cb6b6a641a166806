package agent

import (
	"encoding/json"

	"github.com/pitabwire/floe/model"
)

// ParseOutput scans free-form capability output for JSON object documents
// and selects the best candidate.
//
// The capability returns text that may wrap one or more JSON blocks in
// explanatory prose, or carry several candidate blocks from a misconfigured
// caller. Every syntactically valid top-level JSON object substring is
// collected, not just the first or last. A single candidate is used as-is.
// With multiple candidates, the first whose expectedKey member exists with
// non-empty content wins; if none qualify, the output is unparsable and the
// raw text is returned inside the error for diagnostics.
func ParseOutput(raw, expectedKey string) (model.ParsedResult, error) {
	candidates := scanObjects(raw)
	if len(candidates) == 0 {
		return model.ParsedResult{}, model.NewUnparsableOutputError(raw)
	}

	if len(candidates) == 1 {
		return model.ParsedResult{Key: expectedKey, Document: candidates[0], Raw: raw}, nil
	}

	for _, doc := range candidates {
		if hasNonEmpty(doc, expectedKey) {
			return model.ParsedResult{Key: expectedKey, Document: doc, Raw: raw}, nil
		}
	}

	return model.ParsedResult{}, model.NewUnparsableOutputError(raw)
}

// scanObjects extracts every balanced, syntactically valid top-level JSON
// object substring from the text. Nested objects inside a matched candidate
// are not re-reported.
func scanObjects(text string) []map[string]any {
	var out []map[string]any

	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		end, ok := matchObject(text, i)
		if !ok {
			continue
		}
		var doc map[string]any
		if err := json.Unmarshal([]byte(text[i:end+1]), &doc); err == nil {
			out = append(out, doc)
			i = end // skip past the matched candidate
		}
	}

	return out
}

// matchObject finds the index of the brace closing the object opened at
// start, honoring strings and escapes. Returns false if the object never
// closes.
func matchObject(text string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

// hasNonEmpty reports whether the document carries the key with non-empty
// content.
func hasNonEmpty(doc map[string]any, key string) bool {
	v, ok := doc[key]
	if !ok || v == nil {
		return false
	}
	switch t := v.(type) {
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}
