package documents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vnmchuo/careerkit-gateway/internal/cv"
)

var ErrNotFound = errors.New("document not found")

// Document is a CV owned by a user. Content is the client-edited CV in any
// shape cv.Normalize accepts; ExtractedText is what parsing produced.
type Document struct {
	ID            string          `json:"id"`
	UserID        string          `json:"userId"`
	Filename      string          `json:"filename,omitempty"`
	Hash          string          `json:"hash,omitempty"`
	Content       json.RawMessage `json:"content,omitempty"`
	ExtractedText string          `json:"extractedText,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// CV returns the normalized CV, preferring edited content over extracted text.
func (d *Document) CV() (*cv.CV, error) {
	if len(d.Content) > 0 && string(d.Content) != "null" {
		return cv.Normalize(d.Content)
	}
	if strings.TrimSpace(d.ExtractedText) == "" {
		return nil, fmt.Errorf("%w: document %s has no content", cv.ErrInvalidContent, d.ID)
	}
	return cv.FromText(d.ExtractedText), nil
}

type Store interface {
	Get(ctx context.Context, id string) (*Document, error)
	Create(ctx context.Context, doc *Document) error
}
