// Package prompt renders the instruction documents sent to the models.
package prompt

import (
	"bytes"
	"embed"
	"fmt"
	"path"
	"strings"
	"text/template"

	"github.com/iliyamo/refactor-gateway/internal/model"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var extLanguages = map[string]string{
	".go": "Go", ".js": "JavaScript", ".jsx": "JavaScript", ".ts": "TypeScript", ".tsx": "TypeScript",
	".py": "Python", ".rb": "Ruby", ".java": "Java", ".kt": "Kotlin", ".rs": "Rust", ".php": "PHP",
	".cs": "C#", ".cpp": "C++", ".c": "C", ".h": "C", ".swift": "Swift", ".sql": "SQL",
	".html": "HTML", ".css": "CSS", ".scss": "SCSS", ".json": "JSON", ".yaml": "YAML", ".yml": "YAML",
	".md": "Markdown", ".sh": "Shell",
}

func languageOf(p string) string {
	if l, ok := extLanguages[strings.ToLower(path.Ext(p))]; ok {
		return l
	}
	return "text"
}

// Prompt is a rendered system and user prompt pair.
type Prompt struct {
	System string
	User   string
}

// Builder holds the parsed templates. It is safe for concurrent use.
type Builder struct {
	system string
	tmpl   *template.Template
}

// NewBuilder parses the embedded templates.
func NewBuilder() (*Builder, error) {
	tmpl, err := template.New("prompts").
		Funcs(template.FuncMap{"join": strings.Join, "lang": languageOf}).
		ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse prompt templates: %w", err)
	}
	system, err := templateFS.ReadFile("templates/system.tmpl")
	if err != nil {
		return nil, fmt.Errorf("read system prompt: %w", err)
	}
	return &Builder{system: string(system), tmpl: tmpl}, nil
}

// Build renders the prompt for req.Operation.
func (b *Builder) Build(req model.GenerationRequest) (Prompt, error) {
	var name string
	switch req.Operation {
	case model.OperationRewrite, model.OperationCustom, model.OperationOptimize:
		name = string(req.Operation) + ".tmpl"
	default:
		return Prompt{}, fmt.Errorf("unknown operation %q", req.Operation)
	}

	var buf bytes.Buffer
	if err := b.tmpl.ExecuteTemplate(&buf, name, req); err != nil {
		return Prompt{}, fmt.Errorf("render %s prompt: %w", req.Operation, err)
	}
	return Prompt{System: b.system, User: buf.String()}, nil
}
