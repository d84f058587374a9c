package provider

import (
	"context"
)

type Operation string

const (
	OpExtractText Operation = "extract_text"
	OpAnalyze     Operation = "analyze"
	OpCoverLetter Operation = "cover_letter"
)

func (o Operation) Valid() bool {
	switch o {
	case OpExtractText, OpAnalyze, OpCoverLetter:
		return true
	}
	return false
}

// Usage is what a provider reports it actually consumed for one call.
type Usage struct {
	TokensIn  int `json:"tokensIn"`
	TokensOut int `json:"tokensOut"`
	Pages     int `json:"pages,omitempty"`
}

type Document struct {
	Data     []byte
	MIMEType string
	Filename string
}

// PageSize is the number of input bytes billed as one page of OCR.
const PageSize = 50 * 1024

// PagesForSize converts a document size to billable pages, rounding up, minimum 1.
func PagesForSize(n int) int {
	if n <= 0 {
		return 1
	}
	return (n + PageSize - 1) / PageSize
}

type Extraction struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Model      string  `json:"model,omitempty"`
	Usage      Usage   `json:"usage"`
}

type AnalyzeRequest struct {
	CVText         string
	JobDescription string
	MaxTokens      int
}

type Scores struct {
	Overall  int `json:"overall"`
	ATS      int `json:"ats"`
	Impact   int `json:"impact"`
	Clarity  int `json:"clarity"`
	JobMatch int `json:"jobMatch,omitempty"`
}

type Analysis struct {
	Scores      Scores   `json:"scores"`
	Strengths   []string `json:"strengths"`
	Weaknesses  []string `json:"weaknesses"`
	Suggestions []string `json:"suggestions"`
	Model       string   `json:"model,omitempty"`
	Usage       Usage    `json:"usage"`
}

type CoverLetterRequest struct {
	CVText         string
	JobDescription string
	MaxTokens      int
}

type CoverLetter struct {
	Letter string `json:"letter"`
	Model  string `json:"model,omitempty"`
	Usage  Usage  `json:"usage"`
}

// Adapter is any backend the router can dispatch to. Capabilities are
// expressed by also implementing TextExtractor and/or Analyzer.
type Adapter interface {
	Name() string
}

type TextExtractor interface {
	Adapter
	ExtractText(ctx context.Context, doc *Document) (*Extraction, error)
}

type Analyzer interface {
	Adapter
	Analyze(ctx context.Context, req *AnalyzeRequest) (*Analysis, error)
	GenerateCoverLetter(ctx context.Context, req *CoverLetterRequest) (*CoverLetter, error)
}

// Chat-completion contract implemented by the text-generation backends.

type Request struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
	// JSONOutput asks the backend to constrain output to a JSON object when it can.
	JSONOutput bool
}

type Message struct {
	Role    string // "user", "assistant", "system"
	Content string
}

type Response struct {
	ID           string
	Content      string
	InputTokens  int
	OutputTokens int
	Model        string
	Provider     string
	LatencyMs    int64
}

type Completer interface {
	Name() string
	Complete(ctx context.Context, req *Request) (*Response, error)
}
