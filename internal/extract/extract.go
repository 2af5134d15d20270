// Package extract recovers a JSON document from free-form model output.
//
// Candidate spans are produced by an ordered chain of strategies; the
// first candidate that parses, directly or after repair, wins.
package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/iliyamo/refactor-gateway/internal/apperror"
	"github.com/iliyamo/refactor-gateway/internal/model"
)

// PreviewLimit bounds the raw text carried by an ExtractionError.
const PreviewLimit = 200

// Document is a parsed model reply. "files" is always a slice.
type Document map[string]any

// Strategy returns a candidate JSON span, or false when it does not apply.
type Strategy func(text string) (string, bool)

var fencedJSON = regexp.MustCompile("(?is)```json\\s*\\n?(.*?)```")

// FencedBlock takes the interior of the first ```json fence.
func FencedBlock(text string) (string, bool) {
	m := fencedJSON.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

// OuterBraces takes the span from the first '{' to the last '}'.
func OuterBraces(text string) (string, bool) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return text[start : end+1], true
}

// TrimToBraces strips everything before the first '{' and after the last
// '}', then surrounding whitespace and stray backticks.
func TrimToBraces(text string) (string, bool) {
	if i := strings.Index(text, "{"); i >= 0 {
		text = text[i:]
	} else {
		return "", false
	}
	if i := strings.LastIndex(text, "}"); i >= 0 {
		text = text[:i+1]
	}
	text = strings.Trim(text, " \t\r\n`")
	return text, text != ""
}

// BalancedObject scans from the first '{' to its matching '}', honoring
// JSON string escapes. It recovers documents followed by brace-bearing
// prose.
func BalancedObject(text string) (string, bool) {
	start := strings.Index(text, "{")
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// DefaultChain is the strategy order used by Extract.
var DefaultChain = []Strategy{FencedBlock, OuterBraces, TrimToBraces, BalancedObject}

// Repair drops trailing commas before '}' or ']'. Commas inside string
// values are left alone; generated source code often contains them.
func Repair(candidate string) string {
	var b strings.Builder
	b.Grow(len(candidate))
	inString, escaped := false, false
	for i := 0; i < len(candidate); i++ {
		c := candidate[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case !inString && c == ',' && closesNext(candidate[i+1:]):
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// closesNext reports whether the next non-space byte of s closes an
// object or array.
func closesNext(s string) bool {
	t := strings.TrimLeft(s, " \t\r\n")
	return t != "" && (t[0] == '}' || t[0] == ']')
}

// Error reports text that could not be coerced into JSON.
type Error struct {
	ParseErr  error
	RepairErr error
	Preview   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("extract json: parse: %v; repair: %v", e.ParseErr, e.RepairErr)
}

// Extract runs DefaultChain over text.
func Extract(text string) (Document, error) {
	return ExtractWith(text, DefaultChain...)
}

// ExtractWith runs the given strategies in order.
func ExtractWith(text string, chain ...Strategy) (Document, error) {
	var parseErr, repairErr error
	tried := map[string]bool{}

	for _, strategy := range chain {
		candidate, ok := strategy(text)
		if !ok || tried[candidate] {
			continue
		}
		tried[candidate] = true

		doc, err := parse(candidate)
		if err == nil {
			return doc, nil
		}
		parseErr = err

		doc, err = parse(Repair(candidate))
		if err == nil {
			return doc, nil
		}
		repairErr = err
	}

	if parseErr == nil {
		parseErr = errors.New("no JSON object found in model output")
		repairErr = errors.New("nothing to repair")
	}
	return nil, &Error{ParseErr: parseErr, RepairErr: repairErr, Preview: preview(text)}
}

func parse(candidate string) (Document, error) {
	var doc Document
	if err := json.Unmarshal([]byte(candidate), &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, errors.New("model output is not a JSON object")
	}
	if _, ok := doc["files"].([]any); !ok {
		doc["files"] = []any{}
	}
	return doc, nil
}

func preview(text string) string {
	r := []rune(text)
	if len(r) <= PreviewLimit {
		return text
	}
	return string(r[:PreviewLimit]) + "..."
}

// Result decodes the document into the typed generation result. Entries
// of "files" that are not objects are skipped.
func (d Document) Result() (model.GenerationResult, error) {
	var res model.GenerationResult
	if s, ok := d["summary"].(string); ok {
		res.Summary = s
	}
	res.Files = []model.GeneratedFile{}
	files, _ := d["files"].([]any)
	for _, raw := range files {
		obj, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		var f model.GeneratedFile
		if err := remarshal(obj, &f); err != nil {
			return res, err
		}
		if f.Path == "" {
			continue
		}
		res.Files = append(res.Files, f)
	}
	if raw, ok := d["secrets"].(map[string]any); ok {
		res.Secrets = make(map[string]string, len(raw))
		for k, v := range raw {
			res.Secrets[k] = fmt.Sprint(v)
		}
	}
	if raw, ok := d["packageAnalysis"].(map[string]any); ok {
		var pa model.PackageAnalysis
		if err := remarshal(raw, &pa); err == nil {
			res.PackageAnalysis = &pa
		}
	}
	return res, nil
}

func remarshal(in any, out any) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

// AsAppError converts an extraction failure into the caller-facing error.
func AsAppError(err error) error {
	var ee *Error
	if !errors.As(err, &ee) {
		return err
	}
	return apperror.Extraction("The model response could not be parsed as JSON. Please retry the request.", err).
		WithData(map[string]any{
			"preview":     ee.Preview,
			"parseError":  ee.ParseErr.Error(),
			"repairError": ee.RepairErr.Error(),
		})
}
