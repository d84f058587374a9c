package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const analysisSystemPrompt = `You are an experienced recruiter and CV reviewer.
Evaluate the CV you are given and answer with a single JSON object, no prose, using exactly this shape:
{
  "scores": {"overall": 0-100, "ats": 0-100, "impact": 0-100, "clarity": 0-100, "job_match": 0-100},
  "strengths": ["..."],
  "weaknesses": ["..."],
  "suggestions": ["..."]
}
Only include "job_match" when a job description is provided. Keep each list to at most 6 short items.`

const coverLetterSystemPrompt = `You write concise, specific cover letters.
Use only facts present in the CV. Match the tone of the job description. Do not invent employers, dates or degrees.
Answer with the letter text only: no subject line, no placeholders, no markdown.`

func buildAnalyzePrompt(cvText, jobDescription string) string {
	var b strings.Builder
	b.WriteString("CV:\n")
	b.WriteString(strings.TrimSpace(cvText))
	if jd := strings.TrimSpace(jobDescription); jd != "" {
		b.WriteString("\n\nJob description:\n")
		b.WriteString(jd)
	}
	b.WriteString("\n\nJSON response:")
	return b.String()
}

func buildCoverLetterPrompt(cvText, jobDescription string) string {
	return fmt.Sprintf("CV:\n%s\n\nJob description:\n%s\n\nCover letter:",
		strings.TrimSpace(cvText), strings.TrimSpace(jobDescription))
}

type analysisPayload struct {
	Scores struct {
		Overall  float64 `json:"overall"`
		ATS      float64 `json:"ats"`
		Impact   float64 `json:"impact"`
		Clarity  float64 `json:"clarity"`
		JobMatch float64 `json:"job_match"`
	} `json:"scores"`
	Strengths   []string `json:"strengths"`
	Weaknesses  []string `json:"weaknesses"`
	Suggestions []string `json:"suggestions"`
}

var errEmptyAnalysis = errors.New("model returned an empty analysis")

// ParseAnalysis extracts the analysis object from raw model output, tolerating
// code fences and leading chatter.
func ParseAnalysis(raw string) (*Analysis, error) {
	cleaned := extractJSON(strings.TrimSpace(raw))
	if cleaned == "" {
		return nil, errEmptyAnalysis
	}

	var p analysisPayload
	if err := json.Unmarshal([]byte(cleaned), &p); err != nil {
		return nil, fmt.Errorf("parse analysis: %w", err)
	}

	a := &Analysis{
		Scores: Scores{
			Overall:  clampScore(p.Scores.Overall),
			ATS:      clampScore(p.Scores.ATS),
			Impact:   clampScore(p.Scores.Impact),
			Clarity:  clampScore(p.Scores.Clarity),
			JobMatch: clampScore(p.Scores.JobMatch),
		},
		Strengths:   compact(p.Strengths),
		Weaknesses:  compact(p.Weaknesses),
		Suggestions: compact(p.Suggestions),
	}

	if a.Scores.Overall == 0 && len(a.Strengths) == 0 && len(a.Weaknesses) == 0 && len(a.Suggestions) == 0 {
		return nil, errEmptyAnalysis
	}
	return a, nil
}

func extractJSON(s string) string {
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return ""
	}
	return s[start : end+1]
}

func clampScore(v float64) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return int(v + 0.5)
}

func compact(items []string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return out
}
