package retrieval

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"text/template"

	"github.com/poiesic/plansight/ai"
	"github.com/poiesic/plansight/config"
	"github.com/poiesic/plansight/core"
)

const answerSystemPrompt = `You are a construction project assistant answering questions about a set of construction documents.
Answer only from the excerpts you are given. Cite the document and page of every fact you use as [document p.N].
If the excerpts do not contain the answer, say so plainly instead of guessing.`

var answerTemplate = template.Must(template.New("answer").Parse(`Please answer the following question:
{{.Question}}

<excerpts>
{{range .Matches}}<excerpt document="{{.DocumentID}}" page="{{.Page}}"{{if .Section}} section="{{.Section}}"{{end}} score="{{printf "%.2f" .Score}}">
{{.Content}}
</excerpt>
{{end}}</excerpts>
`))

// NoContextAnswer is returned when retrieval finds nothing relevant.
const NoContextAnswer = "No indexed content is relevant to this question."

// Answer is a generated reply together with the matches it was grounded on.
type Answer struct {
	Question string            `json:"question"`
	Text     string            `json:"answer"`
	Model    string            `json:"model,omitempty"`
	Matches  []core.ChunkMatch `json:"matches"`
}

// Answerer answers questions with retrieval plus a single LLM call.
type Answerer struct {
	search     *Service
	generator  ai.Generator
	generation config.GenerationSettings
	logger     *slog.Logger
}

// NewAnswerer creates an answerer. settings are the query pipeline settings.
func NewAnswerer(search *Service, provider ai.AIProvider, settings config.Settings, logger *slog.Logger) (*Answerer, error) {
	if search == nil {
		return nil, ErrServiceRequired
	}
	if provider == nil {
		return nil, ErrAIProviderRequired
	}
	if err := settings.Validate("query"); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Answerer{
		search:     search,
		generator:  provider.Generator(),
		generation: settings.Generation,
		logger:     logger.With("component", "answerer"),
	}, nil
}

// Answer retrieves the top matches for question within runID and asks the
// query model to answer from them. The model is not called when nothing
// matches.
func (a *Answerer) Answer(ctx context.Context, question, runID string) (*Answer, error) {
	matches, err := a.search.Search(ctx, Query{Text: question, IndexRunID: runID})
	if err != nil {
		return nil, err
	}

	answer := &Answer{Question: question, Matches: matches}
	if len(matches) == 0 {
		answer.Text = NoContextAnswer
		return answer, nil
	}

	var prompt bytes.Buffer
	if err := answerTemplate.Execute(&prompt, map[string]any{
		"Question": question,
		"Matches":  matches,
	}); err != nil {
		return nil, fmt.Errorf("failed to render answer prompt: %w", err)
	}

	resp, err := a.generator.Generate(ctx, ai.GenerateRequest{
		Model:          a.generation.Model,
		FallbackModels: a.generation.FallbackModels,
		System:         answerSystemPrompt,
		Prompt:         prompt.String(),
		Temperature:    a.generation.Temperature,
		MaxTokens:      a.generation.MaxTokens,
		Timeout:        a.generation.Timeout,
	})
	if err != nil {
		a.logger.Error("answer generation failed", "run", runID, "err", err)
		return nil, core.ExternalServiceError("llm", err)
	}

	answer.Text = resp.Text
	answer.Model = resp.Model
	return answer, nil
}
