package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/vnmchuo/careerkit-gateway/internal/provider"
)

const (
	Name         = "gemini"
	DefaultModel = "gemini-2.0-flash"

	extractPrompt = `Transcribe all text in this document exactly as written, preserving reading order and section headings.
Output plain text only. If the document contains no readable text, output nothing.`

	// Gemini reports no OCR confidence.
	extractConfidence = 0.9
)

// contentGenerator is the slice of genai.Models the adapter uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type Provider struct {
	*provider.Assistant

	models contentGenerator
	model  string
}

// New creates a Gemini adapter backed by the Gemini API.
func New(ctx context.Context, apiKey, model string) (*Provider, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return newWithGenerator(client.Models, model), nil
}

func newWithGenerator(models contentGenerator, model string) *Provider {
	if model = strings.TrimSpace(model); model == "" {
		model = DefaultModel
	}
	p := &Provider{models: models, model: model}
	p.Assistant = provider.NewAssistant(p, model)
	return p
}

func (p *Provider) Name() string {
	return Name
}

func (p *Provider) Complete(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	var system string
	var contents []*genai.Content

	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			system = m.Content
		case "assistant":
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if req.JSONOutput {
		cfg.ResponseMIMEType = "application/json"
	}

	model := req.Model
	if model == "" {
		model = p.model
	}

	resp, err := p.models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, classify(err)
	}

	text := responseText(resp)
	if text == "" {
		return nil, provider.Errorf(provider.KindUnknown, Name, "api returned empty response")
	}

	in, out := usage(resp)
	return &provider.Response{
		ID:           resp.ResponseID,
		Content:      text,
		InputTokens:  in,
		OutputTokens: out,
		Model:        model,
		Provider:     Name,
	}, nil
}

// ExtractText transcribes a PDF or image with the vision model.
func (p *Provider) ExtractText(ctx context.Context, doc *provider.Document) (*provider.Extraction, error) {
	if doc == nil || len(doc.Data) == 0 {
		return nil, &provider.Error{Kind: provider.KindInvalidInput, Provider: Name, Op: provider.OpExtractText, Err: errors.New("document is empty")}
	}
	mimeType := doc.MIMEType
	if mimeType == "" {
		mimeType = "application/pdf"
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(doc.Data, mimeType),
			genai.NewPartFromText(extractPrompt),
		}, genai.RoleUser),
	}

	resp, err := p.models.GenerateContent(ctx, p.model, contents, &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(0)),
	})
	if err != nil {
		return nil, provider.Classify(Name, provider.OpExtractText, classify(err))
	}

	text := responseText(resp)
	if text == "" {
		return nil, &provider.Error{Kind: provider.KindInvalidInput, Provider: Name, Op: provider.OpExtractText, Err: errors.New("no readable text in document")}
	}

	in, out := usage(resp)
	return &provider.Extraction{
		Text:       text,
		Confidence: extractConfidence,
		Model:      p.model,
		Usage: provider.Usage{
			TokensIn:  in,
			TokensOut: out,
			Pages:     provider.PagesForSize(len(doc.Data)),
		},
	}, nil
}

func classify(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return provider.FromStatus(Name, apiErr.Code, []byte(apiErr.Message))
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return provider.NewError(provider.KindUnavailable, Name, err)
	}
	return provider.NewError(provider.KindUnknown, Name, err)
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var builder strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil || part.Thought {
				continue
			}
			text := strings.TrimSpace(part.Text)
			if text == "" {
				continue
			}
			if builder.Len() > 0 {
				builder.WriteString("\n")
			}
			builder.WriteString(text)
		}
	}
	return strings.TrimSpace(builder.String())
}

func usage(resp *genai.GenerateContentResponse) (int, int) {
	if resp == nil || resp.UsageMetadata == nil {
		return 0, 0
	}
	return int(resp.UsageMetadata.PromptTokenCount), int(resp.UsageMetadata.CandidatesTokenCount)
}
