package wiki

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/poiesic/plansight/ai"
	"github.com/poiesic/plansight/core"
)

const systemPrompt = `You are a technical writer producing an internal wiki for a construction project.
You work only from the project documents you are given. Never invent quantities, dimensions, names or dates.`

var overviewTemplate = template.Must(template.New("overview").Parse(`Write a project overview from the documents below.

<documents>
{{range .Metadata.Documents}}<document id="{{.ID}}" name="{{.Filename}}"/>
{{end}}</documents>
{{if .Metadata.Sections}}
<sections>
{{range .Metadata.Sections}}{{.}}
{{end}}</sections>
{{end}}
<excerpts>
{{range .Excerpts}}<excerpt document="{{.DocumentID}}" page="{{.Page}}">
{{.Content}}
</excerpt>
{{end}}</excerpts>

Respond with a JSON object:
{"title": "<project name>", "overview": "<three to six paragraphs>", "topics": ["<key topic>", ...]}`))

var overviewSchema = ai.MustCompileSchema("overview.json", map[string]any{
	"type":     "object",
	"required": []string{"title", "overview"},
	"properties": map[string]any{
		"title":    map[string]any{"type": "string"},
		"overview": map[string]any{"type": "string", "minLength": 1},
		"topics": map[string]any{
			"type":  "array",
			"items": map[string]any{"type": "string"},
		},
	},
})

var structureTemplate = template.Must(template.New("structure").Parse(`Plan the pages of the project wiki.

<overview>
{{.Overview}}
</overview>
{{if .Metadata.Sections}}
<sections>
{{range .Metadata.Sections}}{{.}}
{{end}}</sections>
{{end}}
Propose between {{.MinPages}} and {{.MaxPages}} pages. Each page covers one subject a project team member would look up,
such as a specification section, a building system or a set of drawings.
For each page write between {{.MinQueries}} and {{.MaxQueries}} search queries that would find its content in the documents.

Respond with a JSON object:
{"pages": [{"title": "...", "description": "<one sentence>", "queries": ["...", ...]}, ...]}`))

// structureSchema bounds the number of pages and queries per page.
func structureSchema(minPages, maxPages, minQueries, maxQueries int) (*ai.Schema, error) {
	return ai.CompileSchema("structure.json", map[string]any{
		"type":     "object",
		"required": []string{"pages"},
		"properties": map[string]any{
			"pages": map[string]any{
				"type":     "array",
				"minItems": minPages,
				"maxItems": maxPages,
				"items": map[string]any{
					"type":     "object",
					"required": []string{"title", "queries"},
					"properties": map[string]any{
						"title":       map[string]any{"type": "string", "minLength": 1},
						"description": map[string]any{"type": "string"},
						"queries": map[string]any{
							"type":     "array",
							"minItems": minQueries,
							"maxItems": maxQueries,
							"items":    map[string]any{"type": "string", "minLength": 1},
						},
					},
				},
			},
		},
	})
}

var pageTemplate = template.Must(template.New("page").Parse(`Write the wiki page "{{.Page.Title}}".
{{if .Page.Description}}{{.Page.Description}}
{{end}}
<overview>
{{.Overview}}
</overview>

<excerpts>
{{range .Excerpts}}<excerpt document="{{.DocumentID}}" page="{{.Page}}"{{if .Section}} section="{{.Section}}"{{end}}>
{{.Content}}
</excerpt>
{{else}}No excerpts matched this page.
{{end}}</excerpts>

Write the page in markdown, starting with a level one heading of the page title.
Cite the document and page of every fact as [document p.N].
If there are no excerpts, write a short page stating that the documents do not cover this subject yet.
Return only the markdown.`))

// render executes tmpl with data.
func render(tmpl *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}

// excerpts truncates each match to limit runes.
func excerpts(matches []core.ChunkMatch, limit int) []core.ChunkMatch {
	out := make([]core.ChunkMatch, len(matches))
	for i, m := range matches {
		m.Content = core.Preview(m.Content, limit)
		out[i] = m
	}
	return out
}
