package cv

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_PlainText(t *testing.T) {
	c, err := Normalize(json.RawMessage(`"Jane Doe\r\n\nSenior Engineer  "`))
	require.NoError(t, err)
	assert.Equal(t, ShapeText, c.Shape)
	assert.Equal(t, "Jane Doe\nSenior Engineer", c.Text())
}

func TestNormalize_SectionList(t *testing.T) {
	raw := `[
		{"title": "Summary", "content": "Backend engineer"},
		{"title": "Skills", "content": ["Go", "Postgres", " "]},
		{"title": "Empty", "content": []}
	]`
	c, err := Normalize(json.RawMessage(raw))
	require.NoError(t, err)
	assert.Equal(t, ShapeSections, c.Shape)
	require.Len(t, c.Sections, 2, "empty sections are dropped")
	assert.Equal(t, []string{"Go", "Postgres"}, c.Sections[1].Lines)
	assert.Equal(t, "SUMMARY\nBackend engineer\n\nSKILLS\nGo\nPostgres", c.Text())
}

func TestNormalize_Structured(t *testing.T) {
	raw := `{
		"name": "Jane Doe",
		"headline": "Platform Engineer",
		"summary": "Builds reliable systems.",
		"experience": [
			{"title": "Engineer", "company": "Acme", "startDate": "2021", "bullets": ["Cut p99 latency by 40%"]}
		],
		"education": [{"degree": "BSc CS", "school": "MIT", "startDate": "2015", "endDate": "2019"}],
		"skills": ["Go", "Kubernetes"]
	}`
	c, err := Normalize(json.RawMessage(raw))
	require.NoError(t, err)
	assert.Equal(t, ShapeStructured, c.Shape)

	text := c.Text()
	assert.Contains(t, text, "Jane Doe\nPlatform Engineer")
	assert.Contains(t, text, "Engineer at Acme | 2021 - present")
	assert.Contains(t, text, "- Cut p99 latency by 40%")
	assert.Contains(t, text, "BSc CS, MIT | 2015 - 2019")
	assert.Contains(t, text, "SKILLS\nGo, Kubernetes")
}

func TestNormalize_RejectsUnknownShapes(t *testing.T) {
	tests := map[string]string{
		"number":          `42`,
		"bool":            `true`,
		"null":            `null`,
		"empty":           ``,
		"blank string":    `"   "`,
		"unknown field":   `{"name": "x", "hobbies": "chess"}`,
		"list of strings": `["a", "b"]`,
		"bad content":     `[{"title": "x", "content": 5}]`,
		"empty object":    `{}`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Normalize(json.RawMessage(raw))
			assert.ErrorIs(t, err, ErrInvalidContent)
		})
	}
}

func TestFromText(t *testing.T) {
	assert.Equal(t, "a\nb", FromText(" a \n\n b ").Text())
}
