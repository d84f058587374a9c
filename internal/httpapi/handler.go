// Package httpapi exposes the gateway over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/vnmchuo/careerkit-gateway/internal/auth"
	"github.com/vnmchuo/careerkit-gateway/internal/billing"
	"github.com/vnmchuo/careerkit-gateway/internal/documents"
	"github.com/vnmchuo/careerkit-gateway/internal/fingerprint"
	"github.com/vnmchuo/careerkit-gateway/internal/ledger"
	"github.com/vnmchuo/careerkit-gateway/internal/logger"
	"github.com/vnmchuo/careerkit-gateway/internal/metrics"
	"github.com/vnmchuo/careerkit-gateway/internal/orchestrator"
	"github.com/vnmchuo/careerkit-gateway/internal/provider"
	"github.com/vnmchuo/careerkit-gateway/internal/tier"
	"github.com/vnmchuo/careerkit-gateway/pkg/ratelimit"
)

const DefaultMaxUploadBytes = 10 << 20

// TierSource looks up the tier of a user other than the caller.
type TierSource interface {
	TierForUser(ctx context.Context, userID string) (tier.ID, error)
}

type Deps struct {
	Router    *orchestrator.Router
	Ledger    *ledger.Ledger
	Catalog   *tier.Catalog
	Documents documents.Store
	Audit     billing.Store
	Users     TierSource
	// Limiter is optional.
	Limiter *ratelimit.Limiter
	Tracer  trace.Tracer
	Logger  *zap.Logger

	MaxUploadBytes int64
}

type Handler struct {
	router    *orchestrator.Router
	ledger    *ledger.Ledger
	catalog   *tier.Catalog
	docs      documents.Store
	audit     billing.Store
	users     TierSource
	limiter   *ratelimit.Limiter
	tracer    trace.Tracer
	log       *zap.Logger
	maxUpload int64
}

func NewHandler(d Deps) *Handler {
	h := &Handler{
		router:    d.Router,
		ledger:    d.Ledger,
		catalog:   d.Catalog,
		docs:      d.Documents,
		audit:     d.Audit,
		users:     d.Users,
		limiter:   d.Limiter,
		tracer:    d.Tracer,
		log:       logger.OrNop(d.Logger).Named("http"),
		maxUpload: d.MaxUploadBytes,
	}
	if h.tracer == nil {
		h.tracer = noop.NewTracerProvider().Tracer("httpapi")
	}
	if h.catalog == nil {
		h.catalog = tier.DefaultCatalog()
	}
	if h.maxUpload <= 0 {
		h.maxUpload = DefaultMaxUploadBytes
	}
	return h
}

type analyzeRequest struct {
	UserID         string `json:"userId"`
	DocumentID     string `json:"documentId"`
	JobDescription string `json:"jobDescription"`
	MaxTokens      int    `json:"maxTokens"`
}

// usageSnapshot is the caller-facing view of a ledger record.
type usageSnapshot struct {
	ParsingCount int       `json:"parsingCount"`
	AICallCount  int       `json:"aiCallCount"`
	TotalCost    float64   `json:"totalCost"`
	PeriodStart  time.Time `json:"periodStart"`
	PeriodEnd    time.Time `json:"periodEnd"`
}

func snapshotOf(rec *ledger.Record) *usageSnapshot {
	if rec == nil {
		return nil
	}
	return &usageSnapshot{
		ParsingCount: rec.ParsingCount,
		AICallCount:  rec.AICallCount,
		TotalCost:    rec.AccumulatedCost,
		PeriodStart:  rec.PeriodStart,
		PeriodEnd:    rec.PeriodEnd,
	}
}

// caller is the user a request acts for and the tier that applies.
type caller struct {
	userID    string
	tier      tier.ID
	requestID string
}

func (c caller) call() orchestrator.Call {
	return orchestrator.Call{UserID: c.userID, Tier: c.tier, RequestID: c.requestID}
}

// resolveCaller applies the act_on_behalf capability once per request. It
// writes the error response itself and returns false on failure.
func (h *Handler) resolveCaller(w http.ResponseWriter, r *http.Request, requested string) (caller, bool) {
	ctx := r.Context()
	p := auth.GetPrincipal(ctx)
	if p == nil || p.UserID == "" {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "unauthorized")
		return caller{}, false
	}

	c := caller{userID: p.UserID, tier: p.Tier, requestID: auth.GetRequestID(ctx)}
	requested = strings.TrimSpace(requested)
	if requested == "" || requested == p.UserID {
		return c, true
	}
	if !p.Can(auth.CapActOnBehalf) {
		writeError(w, http.StatusForbidden, CodeForbidden, "not allowed to act for another user")
		return caller{}, false
	}

	c.userID = requested
	c.tier = tier.Free
	if h.users != nil {
		id, err := h.users.TierForUser(ctx, requested)
		switch {
		case err == nil:
			c.tier = id
		case errors.Is(err, auth.ErrKeyNotFound):
		default:
			h.log.Error("failed to resolve user tier", zap.String("user_id", requested), zap.Error(err))
			writeError(w, http.StatusInternalServerError, CodeInternal, "internal server error")
			return caller{}, false
		}
	}
	return c, true
}

// allow applies the per-user burst limiter. It writes the 429 itself.
func (h *Handler) allow(ctx context.Context, w http.ResponseWriter, userID string, tokens int) bool {
	if h.limiter == nil {
		return true
	}
	allowed, err := h.limiter.Allow(ctx, userID, tokens)
	if err != nil {
		// Fail open.
		h.log.Warn("rate limiter unavailable", zap.String("user_id", userID), zap.Error(err))
		return true
	}
	if !allowed {
		metrics.RateLimited.Inc()
		w.Header().Set("Retry-After", "60")
		writeError(w, http.StatusTooManyRequests, CodeRateLimited, "rate limit exceeded")
		return false
	}
	return true
}

// loadCV fetches the caller's document and renders its CV text.
func (h *Handler) loadCV(ctx context.Context, w http.ResponseWriter, userID, documentID string) (string, bool) {
	doc, err := h.docs.Get(ctx, documentID)
	if err != nil {
		if errors.Is(err, documents.ErrNotFound) {
			writeError(w, http.StatusNotFound, CodeDocumentNotFound, "document not found")
			return "", false
		}
		h.log.Error("failed to load document", zap.String("document_id", documentID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, CodeInternal, "internal server error")
		return "", false
	}
	if doc.UserID != userID {
		writeError(w, http.StatusNotFound, CodeDocumentNotFound, "document not found")
		return "", false
	}

	parsed, err := doc.CV()
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, "document content is not a recognized CV shape")
		return "", false
	}
	text := parsed.Text()
	if strings.TrimSpace(text) == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, "document has no CV content")
		return "", false
	}
	return text, true
}

func (h *Handler) decodeAnalyze(w http.ResponseWriter, r *http.Request) (*analyzeRequest, bool) {
	if auth.GetPrincipal(r.Context()) == nil {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "unauthorized")
		return nil, false
	}

	var req analyzeRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, h.maxUpload)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, "invalid request body")
		return nil, false
	}
	if strings.TrimSpace(req.DocumentID) == "" {
		writeError(w, http.StatusBadRequest, CodeMissingInput, "documentId is required")
		return nil, false
	}
	if req.MaxTokens < 0 {
		writeError(w, http.StatusBadRequest, CodeInvalidInput, "maxTokens must not be negative")
		return nil, false
	}
	return &req, true
}

func (h *Handler) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeAnalyze(w, r)
	if !ok {
		return
	}
	c, ok := h.resolveCaller(w, r, req.UserID)
	if !ok {
		return
	}

	ctx, span := h.tracer.Start(r.Context(), "httpapi.analyze")
	defer span.End()
	span.SetAttributes(
		attribute.String("user_id", c.userID),
		attribute.String("request_id", c.requestID),
		attribute.String("document_id", req.DocumentID),
	)

	cvText, ok := h.loadCV(ctx, w, c.userID, req.DocumentID)
	if !ok {
		return
	}
	if !h.allow(ctx, w, c.userID, billing.EstimateTokens(len(cvText)+len(req.JobDescription))) {
		return
	}

	res, err := h.router.Analyze(ctx, c.call(), &provider.AnalyzeRequest{
		CVText:         cvText,
		JobDescription: req.JobDescription,
		MaxTokens:      req.MaxTokens,
	})
	if err != nil {
		h.writeRouteError(w, provider.OpAnalyze, c.userID, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"requestId":     c.requestID,
		"analysis":      res.Analysis,
		"provider":      res.Outcome.Provider,
		"cost":          res.Outcome.Cost,
		"tier":          c.tier,
		"usageSnapshot": snapshotOf(res.Outcome.Usage),
	})
}

func (h *Handler) HandleCoverLetter(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeAnalyze(w, r)
	if !ok {
		return
	}
	if strings.TrimSpace(req.JobDescription) == "" {
		writeError(w, http.StatusBadRequest, CodeMissingData, "jobDescription is required")
		return
	}
	c, ok := h.resolveCaller(w, r, req.UserID)
	if !ok {
		return
	}

	ctx, span := h.tracer.Start(r.Context(), "httpapi.cover_letter")
	defer span.End()
	span.SetAttributes(
		attribute.String("user_id", c.userID),
		attribute.String("request_id", c.requestID),
		attribute.String("document_id", req.DocumentID),
	)

	cvText, ok := h.loadCV(ctx, w, c.userID, req.DocumentID)
	if !ok {
		return
	}
	if !h.allow(ctx, w, c.userID, billing.EstimateTokens(len(cvText)+len(req.JobDescription))) {
		return
	}

	res, err := h.router.CoverLetter(ctx, c.call(), &provider.CoverLetterRequest{
		CVText:         cvText,
		JobDescription: req.JobDescription,
		MaxTokens:      req.MaxTokens,
	})
	if err != nil {
		h.writeRouteError(w, provider.OpCoverLetter, c.userID, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"requestId":     c.requestID,
		"coverLetter":   res.CoverLetter.Letter,
		"provider":      res.Outcome.Provider,
		"cost":          res.Outcome.Cost,
		"tier":          c.tier,
		"usageSnapshot": snapshotOf(res.Outcome.Usage),
	})
}

// HandleParse accepts a multipart "file" field or a raw request body.
func (h *Handler) HandleParse(w http.ResponseWriter, r *http.Request) {
	c, ok := h.resolveCaller(w, r, r.URL.Query().Get("userId"))
	if !ok {
		return
	}

	ctx, span := h.tracer.Start(r.Context(), "httpapi.parse")
	defer span.End()
	span.SetAttributes(
		attribute.String("user_id", c.userID),
		attribute.String("request_id", c.requestID),
	)

	doc, status, code, msg := h.readDocument(w, r)
	if doc == nil {
		writeError(w, status, code, msg)
		return
	}
	if !h.allow(ctx, w, c.userID, 1) {
		return
	}

	res, err := h.router.Parse(ctx, c.call(), doc)
	if err != nil {
		h.writeRouteError(w, provider.OpExtractText, c.userID, err)
		return
	}

	stored := &documents.Document{
		UserID:        c.userID,
		Filename:      doc.Filename,
		Hash:          fingerprint.Hash(doc.Data),
		ExtractedText: res.Extraction.Text,
	}
	body := map[string]any{
		"requestId":     c.requestID,
		"text":          res.Extraction.Text,
		"confidence":    res.Extraction.Confidence,
		"provider":      res.Outcome.Provider,
		"cost":          res.Outcome.Cost,
		"cached":        res.Outcome.Cached,
		"tier":          c.tier,
		"usageSnapshot": snapshotOf(res.Outcome.Usage),
	}
	// The parse is already billed, so the extraction is returned even when
	// it cannot be kept for later calls.
	if err := h.docs.Create(ctx, stored); err != nil {
		h.log.Error("failed to store parsed document",
			zap.String("user_id", c.userID),
			zap.String("request_id", c.requestID),
			zap.Error(err),
		)
		span.RecordError(err)
	} else {
		body["documentId"] = stored.ID
	}

	writeJSON(w, http.StatusOK, body)
}

func (h *Handler) readDocument(w http.ResponseWriter, r *http.Request) (*provider.Document, int, string, string) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	tooLarge := func(err error) bool {
		var mbe *http.MaxBytesError
		return errors.As(err, &mbe)
	}

	doc := &provider.Document{MIMEType: r.Header.Get("Content-Type")}
	if strings.HasPrefix(doc.MIMEType, "multipart/form-data") {
		file, header, err := r.FormFile("file")
		if err != nil {
			if tooLarge(err) {
				return nil, http.StatusRequestEntityTooLarge, CodePayloadTooLarge, "file is too large"
			}
			return nil, http.StatusBadRequest, CodeMissingInput, "multipart field \"file\" is required"
		}
		defer file.Close()
		doc.Filename = header.Filename
		doc.MIMEType = header.Header.Get("Content-Type")
		if doc.Data, err = io.ReadAll(file); err != nil {
			return nil, http.StatusBadRequest, CodeInvalidInput, "could not read file"
		}
	} else {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			if tooLarge(err) {
				return nil, http.StatusRequestEntityTooLarge, CodePayloadTooLarge, "file is too large"
			}
			return nil, http.StatusBadRequest, CodeInvalidInput, "could not read body"
		}
		doc.Data = data
		doc.Filename = r.URL.Query().Get("filename")
	}

	if len(doc.Data) == 0 {
		return nil, http.StatusBadRequest, CodeMissingInput, "document is empty"
	}
	if doc.MIMEType == "" || strings.HasPrefix(doc.MIMEType, "multipart/") {
		doc.MIMEType = http.DetectContentType(doc.Data)
	}
	return doc, 0, "", ""
}

func (h *Handler) HandleUsage(w http.ResponseWriter, r *http.Request) {
	c, ok := h.resolveCaller(w, r, r.URL.Query().Get("userId"))
	if !ok {
		return
	}

	rec, err := h.ledger.CurrentUsage(r.Context(), c.userID)
	if err != nil {
		h.log.Error("failed to read usage", zap.String("user_id", c.userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, CodeInternal, "internal server error")
		return
	}
	def := h.catalog.LimitsFor(c.tier)

	writeJSON(w, http.StatusOK, map[string]any{
		"userId":       c.userID,
		"tier":         def.ID,
		"parsingCount": rec.ParsingCount,
		"aiCallCount":  rec.AICallCount,
		"totalCost":    rec.AccumulatedCost,
		"periodStart":  rec.PeriodStart,
		"periodEnd":    rec.PeriodEnd,
		"limits": map[string]any{
			"parsing":     def.ParsingLimit,
			"aiCalls":     def.AICallLimit,
			"costCeiling": def.CostCeiling,
		},
	})
}

// HandleCalls lists the caller's audit log, by default for the last 30 days.
func (h *Handler) HandleCalls(w http.ResponseWriter, r *http.Request) {
	c, ok := h.resolveCaller(w, r, r.URL.Query().Get("userId"))
	if !ok {
		return
	}
	ctx := r.Context()

	now := time.Now()
	from := now.AddDate(0, 0, -30)
	to := now

	if fromStr := r.URL.Query().Get("from"); fromStr != "" {
		var err error
		from, err = time.Parse(time.RFC3339, fromStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, CodeInvalidInput, "invalid 'from' date format (use RFC3339)")
			return
		}
	}
	if toStr := r.URL.Query().Get("to"); toStr != "" {
		var err error
		to, err = time.Parse(time.RFC3339, toStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, CodeInvalidInput, "invalid 'to' date format (use RFC3339)")
			return
		}
	}

	logs, err := h.audit.GetUsageByUser(ctx, c.userID, from, to)
	if err != nil {
		h.log.Error("failed to list calls", zap.String("user_id", c.userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, CodeInternal, "internal server error")
		return
	}
	totalCost, err := h.audit.GetTotalCostByUser(ctx, c.userID, from, to)
	if err != nil {
		h.log.Error("failed to total calls", zap.String("user_id", c.userID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, CodeInternal, "internal server error")
		return
	}
	if logs == nil {
		logs = []*billing.UsageLog{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"userId":        c.userID,
		"totalRequests": len(logs),
		"totalCostUsd":  totalCost,
		"logs":          logs,
		"from":          from,
		"to":            to,
	})
}

func (h *Handler) HandleTiers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"tiers": h.catalog.All()})
}

func (h *Handler) HandleTier(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "tierId")
	id, ok := tier.Parse(raw)
	if !ok {
		writeError(w, http.StatusNotFound, CodeUnknownTier, "unknown tier "+raw)
		return
	}
	def, _ := h.catalog.Lookup(id)
	writeJSON(w, http.StatusOK, def)
}
