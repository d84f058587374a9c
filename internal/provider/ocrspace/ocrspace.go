package ocrspace

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"strings"

	"github.com/vnmchuo/careerkit-gateway/internal/provider"
)

const Name = "ocrspace"

const (
	exitParsed    = 1
	exitPartial   = 2
	exitFailed    = 3
	exitFatal     = 4
	defaultEngine = "2"
)

// Provider extracts text from PDFs and images with the OCR.space API. It has
// no text-generation capability.
type Provider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

type Option func(*Provider)

func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = u }
}

func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

type ocrResponse struct {
	ParsedResults         []parsedResult  `json:"ParsedResults"`
	OCRExitCode           int             `json:"OCRExitCode"`
	IsErroredOnProcessing bool            `json:"IsErroredOnProcessing"`
	ErrorMessage          json.RawMessage `json:"ErrorMessage"`
}

type parsedResult struct {
	ParsedText        string `json:"ParsedText"`
	FileParseExitCode int    `json:"FileParseExitCode"`
	ErrorMessage      string `json:"ErrorMessage"`
}

func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		baseURL: "https://api.ocr.space",
		client:  http.DefaultClient,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string {
	return Name
}

func (p *Provider) ExtractText(ctx context.Context, doc *provider.Document) (*provider.Extraction, error) {
	if doc == nil || len(doc.Data) == 0 {
		return nil, p.fail(provider.KindInvalidInput, errors.New("document is empty"))
	}

	body, contentType, err := encodeForm(doc)
	if err != nil {
		return nil, p.fail(provider.KindInvalidInput, err)
	}

	url := fmt.Sprintf("%s/parse/image", p.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, p.fail(provider.KindUnknown, err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("apikey", p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, p.fail(provider.KindUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, provider.Classify(Name, provider.OpExtractText, provider.FromStatus(Name, resp.StatusCode, respBody))
	}

	var ocrResp ocrResponse
	if err := json.NewDecoder(resp.Body).Decode(&ocrResp); err != nil {
		return nil, p.fail(provider.KindUnknown, fmt.Errorf("decode response: %w", err))
	}

	if ocrResp.IsErroredOnProcessing || ocrResp.OCRExitCode == exitFailed || ocrResp.OCRExitCode == exitFatal {
		msg := errorMessage(ocrResp)
		return nil, p.fail(kindForMessage(msg), errors.New(msg))
	}

	var text strings.Builder
	for _, r := range ocrResp.ParsedResults {
		t := strings.TrimSpace(r.ParsedText)
		if t == "" {
			continue
		}
		if text.Len() > 0 {
			text.WriteString("\n")
		}
		text.WriteString(t)
	}
	if text.Len() == 0 {
		return nil, p.fail(provider.KindInvalidInput, errors.New("no readable text in document"))
	}

	confidence := 1.0
	if ocrResp.OCRExitCode == exitPartial {
		confidence = 0.5
	}

	return &provider.Extraction{
		Text:       text.String(),
		Confidence: confidence,
		Model:      "ocr-engine-" + defaultEngine,
		Usage:      provider.Usage{Pages: provider.PagesForSize(len(doc.Data))},
	}, nil
}

func (p *Provider) fail(kind provider.ErrorKind, err error) *provider.Error {
	return &provider.Error{Kind: kind, Provider: Name, Op: provider.OpExtractText, Err: err}
}

func encodeForm(doc *provider.Document) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	filename := doc.Filename
	if filename == "" {
		filename = "document" + extensionFor(doc.MIMEType)
	}
	fw, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, "", err
	}
	if _, err := fw.Write(doc.Data); err != nil {
		return nil, "", err
	}

	fields := map[string]string{
		"language":          "eng",
		"OCREngine":         defaultEngine,
		"scale":             "true",
		"isOverlayRequired": "false",
	}
	if ft := fileType(filename, doc.MIMEType); ft != "" {
		fields["filetype"] = ft
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func fileType(filename, mimeType string) string {
	if ext := strings.TrimPrefix(strings.ToUpper(path.Ext(filename)), "."); ext != "" {
		return ext
	}
	return strings.TrimPrefix(strings.ToUpper(extensionFor(mimeType)), ".")
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/tiff":
		return ".tif"
	case "application/pdf", "":
		return ".pdf"
	}
	return ""
}

// ErrorMessage comes back either as a string or as a list of strings.
func errorMessage(r ocrResponse) string {
	var parts []string
	if len(r.ErrorMessage) > 0 {
		var list []string
		var single string
		if err := json.Unmarshal(r.ErrorMessage, &list); err == nil {
			parts = append(parts, list...)
		} else if err := json.Unmarshal(r.ErrorMessage, &single); err == nil && single != "" {
			parts = append(parts, single)
		}
	}
	for _, pr := range r.ParsedResults {
		if pr.ErrorMessage != "" {
			parts = append(parts, pr.ErrorMessage)
		}
	}
	if len(parts) == 0 {
		return fmt.Sprintf("ocr failed with exit code %d", r.OCRExitCode)
	}
	return strings.Join(parts, "; ")
}

func kindForMessage(msg string) provider.ErrorKind {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "file size exceeds"), strings.Contains(m, "maximum page"):
		return provider.KindPayloadTooLarge
	case strings.Contains(m, "rate limit"), strings.Contains(m, "too many"):
		return provider.KindRateLimited
	case strings.Contains(m, "timed out"), strings.Contains(m, "timeout"), strings.Contains(m, "busy"):
		return provider.KindUnavailable
	case strings.Contains(m, "not a valid"), strings.Contains(m, "unable to recognize"),
		strings.Contains(m, "invalid"), strings.Contains(m, "corrupt"):
		return provider.KindInvalidInput
	}
	return provider.KindUnknown
}
