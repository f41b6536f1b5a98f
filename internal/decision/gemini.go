// Package decision asks the Gemini model for one structured decision per
// user turn.
package decision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/ashureev/roa-designer/internal/domain"
	"github.com/ashureev/roa-designer/internal/workflow"
)

const defaultTemperature float32 = 0.4

// contentGenerator is the subset of *genai.Models used here.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Config holds Gemini settings.
type Config struct {
	APIKey string
	Model  string
}

// GeminiDecider implements workflow.Decider on top of Gemini function calling.
type GeminiDecider struct {
	models contentGenerator
	model  string
	logger *slog.Logger
}

var _ workflow.Decider = (*GeminiDecider)(nil)

// NewGeminiDecider creates a Gemini API client and wraps it.
func NewGeminiDecider(ctx context.Context, cfg Config, logger *slog.Logger) (*GeminiDecider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini api key is empty")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return newGeminiDecider(client.Models, cfg.Model, logger), nil
}

func newGeminiDecider(models contentGenerator, model string, logger *slog.Logger) *GeminiDecider {
	if logger == nil {
		logger = slog.Default()
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &GeminiDecider{models: models, model: model, logger: logger}
}

// Decide sends the priming exchange, the recent history and the new message,
// and interprets the first candidate.
func (g *GeminiDecider) Decide(ctx context.Context, req workflow.DecisionRequest) (domain.Decision, error) {
	contents, err := buildContents(req)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("%w: %w", domain.ErrDecisionUnavailable, err)
	}

	resp, err := g.models.GenerateContent(ctx, g.model, contents, generateConfig())
	if err != nil {
		g.logger.Error("Gemini request failed", "model", g.model, "error", err)
		return domain.Decision{}, fmt.Errorf("%w: %w", domain.ErrDecisionUnavailable, err)
	}

	d, err := interpret(resp)
	if err != nil {
		g.logger.Warn("Unusable Gemini response", "model", g.model, "error", err)
		return domain.Decision{}, err
	}
	if _, known := domain.ParseAction(string(d.Action)); !known {
		g.logger.Warn("Gemini returned unknown action", "action", d.Action)
	}
	return d, nil
}

func buildContents(req workflow.DecisionRequest) ([]*genai.Content, error) {
	instr, err := buildInstructions(req.Templates, req.Design)
	if err != nil {
		return nil, err
	}

	contents := make([]*genai.Content, 0, len(req.History)+3)
	contents = append(contents,
		genai.NewContentFromText(instr, genai.RoleUser),
		genai.NewContentFromText(primingAck, genai.RoleModel),
	)
	for _, e := range req.History {
		if e.Content == "" {
			continue
		}
		switch e.Role {
		case domain.RoleUser:
			contents = append(contents, genai.NewContentFromText(e.Content, genai.RoleUser))
		case domain.RoleAssistant:
			if e.CarriesImage {
				continue
			}
			contents = append(contents, genai.NewContentFromText(e.Content, genai.RoleModel))
		}
	}
	contents = append(contents, genai.NewContentFromText(req.Message, genai.RoleUser))
	return contents, nil
}

func generateConfig() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		Temperature: genai.Ptr(defaultTemperature),
		Tools:       []*genai.Tool{{FunctionDeclarations: []*genai.FunctionDeclaration{functionDeclaration()}}},
		ToolConfig: &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: genai.FunctionCallingConfigModeAuto},
		},
	}
}

func functionDeclaration() *genai.FunctionDeclaration {
	str := func(desc string) *genai.Schema {
		return &genai.Schema{Type: genai.TypeString, Description: desc}
	}
	return &genai.FunctionDeclaration{
		Name:        FunctionName,
		Description: "The primary tool to process a user's request. Decide which action to take based on the conversation.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"action":       str("The action to take. Must be one of: MODIFY, GENERATE, RESET, CONVERSE."),
				"template_uid": str("Required if action is MODIFY. The UID of the template being edited."),
				"modifications": {
					Type:        genai.TypeArray,
					Description: "Required if action is MODIFY. A list of layer modifications.",
					Items: &genai.Schema{
						Type: genai.TypeObject,
						Properties: map[string]*genai.Schema{
							"name":      {Type: genai.TypeString},
							"text":      {Type: genai.TypeString},
							"image_url": {Type: genai.TypeString},
						},
						Required: []string{"name"},
					},
				},
				"response_text": str("A user-facing message explaining the action taken or answering a question."),
			},
			Required: []string{"action", "response_text"},
		},
	}
}

// interpret reads the first candidate: a function call wins over text, and
// text alone becomes a CONVERSE decision.
func interpret(resp *genai.GenerateContentResponse) (domain.Decision, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return domain.Decision{}, fmt.Errorf("%w: no candidates", domain.ErrDecisionUnavailable)
	}
	cand := resp.Candidates[0]
	if cand == nil || cand.Content == nil || len(cand.Content.Parts) == 0 {
		return domain.Decision{}, fmt.Errorf("%w: empty candidate", domain.ErrDecisionUnavailable)
	}

	var text strings.Builder
	for _, part := range cand.Content.Parts {
		if part == nil || part.Thought {
			continue
		}
		if part.FunctionCall != nil {
			if part.FunctionCall.Name != "" && part.FunctionCall.Name != FunctionName {
				return domain.Decision{}, fmt.Errorf("%w: unexpected function %q", domain.ErrDecisionUnavailable, part.FunctionCall.Name)
			}
			return ParseArgs(part.FunctionCall.Args)
		}
		text.WriteString(part.Text)
	}

	reply := strings.TrimSpace(text.String())
	if reply == "" {
		return domain.Decision{}, fmt.Errorf("%w: no function call or text", domain.ErrDecisionUnavailable)
	}
	return domain.Decision{Action: domain.ActionConverse, ResponseText: reply}, nil
}
