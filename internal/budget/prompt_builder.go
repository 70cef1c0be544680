package budget

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/deknijf/documentstore/internal/model"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// DefaultInstructions open every prompt when no custom template is configured.
const DefaultInstructions = "You are a personal finance assistant. Assign every bank transaction below to a budget category."

// PromptBuilder renders the categorization prompts from embedded templates.
type PromptBuilder struct {
	templates    *template.Template
	instructions string
}

// NewPromptBuilder parses the templates. instructions replaces DefaultInstructions when set.
func NewPromptBuilder(instructions string) (*PromptBuilder, error) {
	funcMap := template.FuncMap{
		"join": strings.Join,
	}

	tmpl, err := template.New("budget").Funcs(funcMap).ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse prompt templates: %w", err)
	}

	if strings.TrimSpace(instructions) == "" {
		instructions = DefaultInstructions
	}
	return &PromptBuilder{templates: tmpl, instructions: strings.TrimSpace(instructions)}, nil
}

type promptMapping struct {
	Keyword  string     `json:"keyword"`
	Category string     `json:"category"`
	Flow     model.Flow `json:"flow"`
}

type chunkPromptData struct {
	Instructions     string
	MappingsJSON     string
	TransactionsJSON string
	Categories       []string
}

type summaryPromptData struct {
	Instructions string
	MappingsJSON string
	TotalsJSON   string
}

func mappingsJSON(mappings []model.CategoryMapping) (string, error) {
	out := make([]promptMapping, 0, len(mappings))
	for _, m := range mappings {
		if strings.TrimSpace(m.Keyword) == "" {
			continue
		}
		out = append(out, promptMapping{Keyword: m.Keyword, Category: m.Category, Flow: m.Flow})
	}
	b, err := json.Marshal(out)
	if err != nil {
		return "", fmt.Errorf("failed to encode mappings: %w", err)
	}
	return string(b), nil
}

// ChunkPrompt renders the classification prompt for one chunk.
func (pb *PromptBuilder) ChunkPrompt(chunk []compactTransaction, mappings []model.CategoryMapping, categories []string) (string, error) {
	mj, err := mappingsJSON(mappings)
	if err != nil {
		return "", err
	}
	tj, err := json.Marshal(chunk)
	if err != nil {
		return "", fmt.Errorf("failed to encode transactions: %w", err)
	}

	var buf bytes.Buffer
	data := chunkPromptData{
		Instructions:     pb.instructions,
		MappingsJSON:     mj,
		TransactionsJSON: string(tj),
		Categories:       categories,
	}
	if err := pb.templates.ExecuteTemplate(&buf, "chunk_prompt.tmpl", data); err != nil {
		return "", fmt.Errorf("failed to execute chunk_prompt template: %w", err)
	}
	return buf.String(), nil
}

// SummaryPrompt renders the prompt that turns category totals into summary points.
func (pb *PromptBuilder) SummaryPrompt(totals []CategoryTotal, mappings []model.CategoryMapping) (string, error) {
	mj, err := mappingsJSON(mappings)
	if err != nil {
		return "", err
	}
	tj, err := json.Marshal(totals)
	if err != nil {
		return "", fmt.Errorf("failed to encode totals: %w", err)
	}

	var buf bytes.Buffer
	data := summaryPromptData{
		Instructions: pb.instructions,
		MappingsJSON: mj,
		TotalsJSON:   string(tj),
	}
	if err := pb.templates.ExecuteTemplate(&buf, "summary_prompt.tmpl", data); err != nil {
		return "", fmt.Errorf("failed to execute summary_prompt template: %w", err)
	}
	return buf.String(), nil
}
