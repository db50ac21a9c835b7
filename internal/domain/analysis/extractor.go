// Package analysis turns the model's free-text reply into a stable result.
//
// The provider usually embeds a JSON snippet in its answer but guarantees
// nothing about where or how. Extraction is therefore an ordered list of
// named strategies, tried in sequence; the first match wins and total
// failure degrades to a raw-text result, never an error.
package analysis

import (
	"encoding/json"
	"strings"
)

// ResultKind tags what Extract managed to recover from the reply.
type ResultKind int

const (
	// KindRaw means no parseable payload was found; Raw holds the reply.
	KindRaw ResultKind = iota
	// KindList means the payload parsed as a JSON array.
	KindList
	// KindObject means the payload parsed as a JSON object.
	KindObject
)

// Result is the outcome of extraction. It is never "absent": a reply without
// structured data yields a Raw result wrapping the text verbatim.
type Result struct {
	Kind    ResultKind
	Entries []any
	Object  map[string]any
	Raw     string
	// Strategy names the heuristic that produced the result, for logging.
	Strategy string
}

// Payload returns the wire value for the detected_boxes field: the parsed
// entries, the parsed object, or an empty list for raw results.
func (r Result) Payload() any {
	switch r.Kind {
	case KindList:
		return r.Entries
	case KindObject:
		return r.Object
	default:
		return []any{}
	}
}

// strategy is one extraction heuristic. ok reports whether it matched; a
// non-match falls through to the next strategy.
type strategy struct {
	name  string
	apply func(reply string) (Result, bool)
}

// strategies are tried in order. Order matters: a fenced block is the
// strongest signal, bare brackets the weakest.
var strategies = []strategy{
	{name: "fenced-json", apply: extractFencedJSON},
	{name: "bracket-array", apply: extractBracketArray},
	{name: "brace-object", apply: extractBraceObject},
}

// Extract locates a structured payload inside the model reply. Parse
// failures fall through to the next strategy; if nothing matches, the whole
// reply is preserved as a raw result.
func Extract(reply string) Result {
	for _, s := range strategies {
		if result, ok := s.apply(reply); ok {
			result.Strategy = s.name
			return result
		}
	}

	return Result{
		Kind:     KindRaw,
		Raw:      reply,
		Strategy: "raw-fallback",
	}
}

// extractFencedJSON parses the text between the first ```json marker and the
// next closing fence.
func extractFencedJSON(reply string) (Result, bool) {
	start := strings.Index(reply, "```json")
	if start < 0 {
		return Result{}, false
	}
	start += len("```json")

	end := strings.Index(reply[start:], "```")
	if end < 0 {
		return Result{}, false
	}

	return parseSnippet(strings.TrimSpace(reply[start : start+end]))
}

// extractBracketArray parses the substring from the first '[' to the last ']'.
func extractBracketArray(reply string) (Result, bool) {
	start := strings.Index(reply, "[")
	end := strings.LastIndex(reply, "]")
	if start < 0 || end < start {
		return Result{}, false
	}

	var entries []any
	if err := json.Unmarshal([]byte(reply[start:end+1]), &entries); err != nil {
		return Result{}, false
	}

	return Result{Kind: KindList, Entries: entries}, true
}

// extractBraceObject parses the substring from the first '{' to the last '}'.
func extractBraceObject(reply string) (Result, bool) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end < start {
		return Result{}, false
	}

	var object map[string]any
	if err := json.Unmarshal([]byte(reply[start:end+1]), &object); err != nil {
		return Result{}, false
	}

	return Result{Kind: KindObject, Object: object}, true
}

// parseSnippet accepts a fenced snippet that is either a JSON array or
// object. Scalars are a non-match so the later strategies get a chance.
func parseSnippet(snippet string) (Result, bool) {
	var value any
	if err := json.Unmarshal([]byte(snippet), &value); err != nil {
		return Result{}, false
	}

	switch v := value.(type) {
	case []any:
		return Result{Kind: KindList, Entries: v}, true
	case map[string]any:
		return Result{Kind: KindObject, Object: v}, true
	default:
		return Result{}, false
	}
}
