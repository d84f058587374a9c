package provider

import (
	"context"
	"strings"
)

const defaultCompletionTokens = 1024

// Assistant implements Analyzer on top of any chat Completer. Backends embed
// it so they only have to speak their own wire format.
type Assistant struct {
	completer Completer
	model     string
}

func NewAssistant(c Completer, model string) *Assistant {
	return &Assistant{completer: c, model: model}
}

func (a *Assistant) Name() string {
	return a.completer.Name()
}

func (a *Assistant) Model() string {
	return a.model
}

func (a *Assistant) Analyze(ctx context.Context, req *AnalyzeRequest) (*Analysis, error) {
	name := a.completer.Name()
	if req == nil || strings.TrimSpace(req.CVText) == "" {
		return nil, &Error{Kind: KindInvalidInput, Provider: name, Op: OpAnalyze, Err: errEmptyCV}
	}

	resp, err := a.completer.Complete(ctx, &Request{
		Model: a.model,
		Messages: []Message{
			{Role: "system", Content: analysisSystemPrompt},
			{Role: "user", Content: buildAnalyzePrompt(req.CVText, req.JobDescription)},
		},
		MaxTokens:   completionBudget(req.MaxTokens),
		Temperature: 0.2,
		JSONOutput:  true,
	})
	if err != nil {
		return nil, Classify(name, OpAnalyze, err)
	}

	analysis, err := ParseAnalysis(resp.Content)
	if err != nil {
		return nil, &Error{Kind: KindUnknown, Provider: name, Op: OpAnalyze, Err: err}
	}
	if strings.TrimSpace(req.JobDescription) == "" {
		analysis.Scores.JobMatch = 0
	}
	analysis.Model = resp.Model
	analysis.Usage = Usage{TokensIn: resp.InputTokens, TokensOut: resp.OutputTokens}
	return analysis, nil
}

func (a *Assistant) GenerateCoverLetter(ctx context.Context, req *CoverLetterRequest) (*CoverLetter, error) {
	name := a.completer.Name()
	if req == nil || strings.TrimSpace(req.CVText) == "" {
		return nil, &Error{Kind: KindInvalidInput, Provider: name, Op: OpCoverLetter, Err: errEmptyCV}
	}
	if strings.TrimSpace(req.JobDescription) == "" {
		return nil, &Error{Kind: KindInvalidInput, Provider: name, Op: OpCoverLetter, Err: errEmptyJobDescription}
	}

	resp, err := a.completer.Complete(ctx, &Request{
		Model: a.model,
		Messages: []Message{
			{Role: "system", Content: coverLetterSystemPrompt},
			{Role: "user", Content: buildCoverLetterPrompt(req.CVText, req.JobDescription)},
		},
		MaxTokens:   completionBudget(req.MaxTokens),
		Temperature: 0.6,
	})
	if err != nil {
		return nil, Classify(name, OpCoverLetter, err)
	}

	letter := strings.TrimSpace(resp.Content)
	if letter == "" {
		return nil, &Error{Kind: KindUnknown, Provider: name, Op: OpCoverLetter, Err: errEmptyCompletion}
	}

	return &CoverLetter{
		Letter: letter,
		Model:  resp.Model,
		Usage:  Usage{TokensIn: resp.InputTokens, TokensOut: resp.OutputTokens},
	}, nil
}

func completionBudget(maxTokens int) int {
	if maxTokens <= 0 {
		return defaultCompletionTokens
	}
	return maxTokens
}
