// Package cv turns the CV content shapes clients send into one canonical
// structure. Content arrives in one of three shapes:
//
//   - plain text: a JSON string
//   - a section list: [{"title": "...", "content": "..." | ["...", ...]}]
//   - a structured object with summary, experience, education, skills, etc.
//
// Anything else is rejected with ErrInvalidContent rather than guessed at.
package cv

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidContent = errors.New("unrecognized cv content shape")

type Shape string

const (
	ShapeText       Shape = "text"
	ShapeSections   Shape = "sections"
	ShapeStructured Shape = "structured"
)

type Section struct {
	Title string   `json:"title"`
	Lines []string `json:"lines"`
}

// CV is the canonical form every shape normalizes to.
type CV struct {
	Shape    Shape     `json:"shape"`
	Sections []Section `json:"sections"`
}

// Text renders the CV as plain text for prompts.
func (c *CV) Text() string {
	var b strings.Builder
	for i, s := range c.Sections {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if s.Title != "" {
			b.WriteString(strings.ToUpper(s.Title))
			b.WriteString("\n")
		}
		b.WriteString(strings.Join(s.Lines, "\n"))
	}
	return strings.TrimSpace(b.String())
}

// StringList accepts either a single string or a list of strings.
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = splitLines(s)
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("expected string or list of strings: %w", err)
	}
	out := make([]string, 0, len(list))
	for _, s := range list {
		out = append(out, splitLines(s)...)
	}
	*l = out
	return nil
}

type sectionInput struct {
	Title   string     `json:"title"`
	Content StringList `json:"content"`
}

type experienceInput struct {
	Title       string     `json:"title"`
	Role        string     `json:"role"`
	Company     string     `json:"company"`
	Location    string     `json:"location"`
	StartDate   string     `json:"startDate"`
	EndDate     string     `json:"endDate"`
	Description StringList `json:"description"`
	Bullets     StringList `json:"bullets"`
}

type educationInput struct {
	Degree      string     `json:"degree"`
	Institution string     `json:"institution"`
	School      string     `json:"school"`
	StartDate   string     `json:"startDate"`
	EndDate     string     `json:"endDate"`
	Details     StringList `json:"details"`
}

type structuredInput struct {
	Name           string            `json:"name"`
	Headline       string            `json:"headline"`
	Contact        StringList        `json:"contact"`
	Summary        StringList        `json:"summary"`
	Experience     []experienceInput `json:"experience"`
	Education      []educationInput  `json:"education"`
	Skills         StringList        `json:"skills"`
	Certifications StringList        `json:"certifications"`
	Languages      StringList        `json:"languages"`
	Projects       []sectionInput    `json:"projects"`
}

// Normalize parses raw JSON content into a CV. It fails with an error
// wrapping ErrInvalidContent for unknown shapes and for content with no text.
func Normalize(raw json.RawMessage) (*CV, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty content", ErrInvalidContent)
	}

	var (
		c   *CV
		err error
	)
	switch raw[0] {
	case '"':
		c, err = fromText(raw)
	case '[':
		c, err = fromSections(raw)
	case '{':
		c, err = fromStructured(raw)
	default:
		return nil, fmt.Errorf("%w: content must be a string, a section list or an object", ErrInvalidContent)
	}
	if err != nil {
		return nil, err
	}
	if c.Text() == "" {
		return nil, fmt.Errorf("%w: content has no text", ErrInvalidContent)
	}
	return c, nil
}

// FromText wraps already extracted plain text.
func FromText(text string) *CV {
	return &CV{Shape: ShapeText, Sections: []Section{{Lines: splitLines(text)}}}
}

func fromText(raw json.RawMessage) (*CV, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidContent, err)
	}
	return FromText(s), nil
}

func fromSections(raw json.RawMessage) (*CV, error) {
	var in []sectionInput
	if err := strictDecode(raw, &in); err != nil {
		return nil, err
	}
	c := &CV{Shape: ShapeSections}
	for _, s := range in {
		c.add(s.Title, s.Content...)
	}
	return c, nil
}

func fromStructured(raw json.RawMessage) (*CV, error) {
	var in structuredInput
	if err := strictDecode(raw, &in); err != nil {
		return nil, err
	}

	c := &CV{Shape: ShapeStructured}
	header := append([]string{}, nonEmpty(in.Name, in.Headline)...)
	header = append(header, in.Contact...)
	c.add("", header...)
	c.add("Summary", in.Summary...)

	var exp []string
	for _, e := range in.Experience {
		role := firstNonEmpty(e.Title, e.Role)
		exp = append(exp, joinNonEmpty(" | ", joinNonEmpty(" at ", role, e.Company), e.Location, dateRange(e.StartDate, e.EndDate)))
		for _, d := range append(e.Description, e.Bullets...) {
			exp = append(exp, "- "+d)
		}
	}
	c.add("Experience", exp...)

	var edu []string
	for _, e := range in.Education {
		edu = append(edu, joinNonEmpty(" | ", joinNonEmpty(", ", e.Degree, firstNonEmpty(e.Institution, e.School)), dateRange(e.StartDate, e.EndDate)))
		for _, d := range e.Details {
			edu = append(edu, "- "+d)
		}
	}
	c.add("Education", edu...)

	for _, p := range in.Projects {
		c.add(joinNonEmpty(": ", "Project", p.Title), p.Content...)
	}
	if len(in.Skills) > 0 {
		c.add("Skills", strings.Join(in.Skills, ", "))
	}
	c.add("Certifications", in.Certifications...)
	if len(in.Languages) > 0 {
		c.add("Languages", strings.Join(in.Languages, ", "))
	}
	return c, nil
}

func strictDecode(raw json.RawMessage, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidContent, err)
	}
	return nil
}

func (c *CV) add(title string, lines ...string) {
	lines = nonEmpty(lines...)
	if len(lines) == 0 {
		return
	}
	c.Sections = append(c.Sections, Section{Title: strings.TrimSpace(title), Lines: lines})
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

func nonEmpty(items ...string) []string {
	out := make([]string, 0, len(items))
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func firstNonEmpty(items ...string) string {
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

func joinNonEmpty(sep string, items ...string) string {
	return strings.Join(nonEmpty(items...), sep)
}

func dateRange(start, end string) string {
	start, end = strings.TrimSpace(start), strings.TrimSpace(end)
	if start == "" {
		return end
	}
	if end == "" {
		end = "present"
	}
	return start + " - " + end
}
