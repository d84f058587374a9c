// Package orchestrator routes parse, analyze and cover letter calls through
// the quota gate, the provider fallback chain and the usage ledger.
//
// Every call that passes the gate holds exactly one reservation, and every
// reservation ends in exactly one commit or rollback, even when the inbound
// request is cancelled mid-flight.
package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/vnmchuo/careerkit-gateway/internal/billing"
	"github.com/vnmchuo/careerkit-gateway/internal/fingerprint"
	"github.com/vnmchuo/careerkit-gateway/internal/ledger"
	"github.com/vnmchuo/careerkit-gateway/internal/logger"
	"github.com/vnmchuo/careerkit-gateway/internal/metrics"
	"github.com/vnmchuo/careerkit-gateway/internal/provider"
	"github.com/vnmchuo/careerkit-gateway/internal/quota"
	"github.com/vnmchuo/careerkit-gateway/internal/tier"
)

const (
	DefaultTimeout        = 30 * time.Second
	DefaultMaxInputTokens = 32000

	commitAttempts = 3
	commitBackoff  = 25 * time.Millisecond
)

// ErrorKindCommitFailed marks a call the provider answered but the ledger
// could not count. The reservation is released and Cost is left unbilled.
const ErrorKindCommitFailed = "commit_failed"

// Call identifies who is asking and under which tier.
type Call struct {
	UserID    string
	Tier      tier.ID
	RequestID string
}

// Outcome describes how a routed call ended. Cost is what was committed to
// the ledger; cached calls cost nothing.
type Outcome struct {
	Op         provider.Operation `json:"op"`
	Provider   string             `json:"provider,omitempty"`
	Model      string             `json:"model,omitempty"`
	TokensIn   int                `json:"tokensIn"`
	TokensOut  int                `json:"tokensOut"`
	Pages      int                `json:"pages,omitempty"`
	Cost       float64            `json:"costUsd"`
	DurationMs int64              `json:"durationMs"`
	Success    bool               `json:"success"`
	ErrorKind  string             `json:"errorKind,omitempty"`
	Cached     bool               `json:"cached"`
	Attempts   []Attempt          `json:"attempts,omitempty"`

	// Usage is the ledger record after this call resolved, when known.
	Usage *ledger.Record `json:"-"`
}

type ParseResult struct {
	Extraction *provider.Extraction
	Outcome    *Outcome
}

type AnalyzeResult struct {
	Analysis *provider.Analysis
	Outcome  *Outcome
}

type CoverLetterResult struct {
	CoverLetter *provider.CoverLetter
	Outcome     *Outcome
}

// Auditor receives one entry per routed call. Record must not block.
type Auditor interface {
	Record(entry *billing.UsageLog)
}

// Deps are the collaborators a Router needs. Dedup and Audit are optional.
type Deps struct {
	Registry  *provider.Registry
	Ledger    *ledger.Ledger
	Gate      *quota.Gate
	Catalog   *tier.Catalog
	Estimator *billing.Estimator
	Chains    Chains
	Dedup     *fingerprint.Deduper
	Audit     Auditor
}

type Router struct {
	registry       *provider.Registry
	ledger         *ledger.Ledger
	gate           *quota.Gate
	catalog        *tier.Catalog
	estimator      *billing.Estimator
	chains         Chains
	dedup          *fingerprint.Deduper
	audit          Auditor
	breakers       map[string]*gobreaker.CircuitBreaker
	timeout        time.Duration
	maxInputTokens int
	tracer         trace.Tracer
	log            *zap.Logger
}

type Option func(*Router)

// WithTimeout bounds each provider attempt.
func WithTimeout(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithMaxInputTokens caps the estimated prompt size of generation calls.
func WithMaxInputTokens(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.maxInputTokens = n
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(r *Router) { r.tracer = t }
}

func WithLogger(log *zap.Logger) Option {
	return func(r *Router) { r.log = logger.OrNop(log) }
}

func NewRouter(d Deps, opts ...Option) *Router {
	r := &Router{
		registry:       d.Registry,
		ledger:         d.Ledger,
		gate:           d.Gate,
		catalog:        d.Catalog,
		estimator:      d.Estimator,
		chains:         d.Chains,
		dedup:          d.Dedup,
		audit:          d.Audit,
		breakers:       make(map[string]*gobreaker.CircuitBreaker),
		timeout:        DefaultTimeout,
		maxInputTokens: DefaultMaxInputTokens,
		tracer:         noop.NewTracerProvider().Tracer("orchestrator"),
		log:            zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.catalog == nil {
		r.catalog = tier.DefaultCatalog()
	}
	if r.chains == nil {
		r.chains = DefaultChains()
	}
	if r.gate == nil {
		r.gate = quota.NewGate(r.ledger, r.log)
	}
	for _, name := range r.registry.Names() {
		r.breakers[name] = newBreaker(name)
	}
	return r
}

// Candidates lists the registered providers able to serve op for the tier,
// in fallback order.
func (r *Router) Candidates(tierID tier.ID, op provider.Operation) []string {
	var names []string
	for _, name := range r.chains.For(tierID, op) {
		if r.registry.Supports(name, op) {
			names = append(names, name)
		}
	}
	return names
}

// Parse extracts text from a document. Repeat parses of the same bytes by the
// same user are served from stored text when it is still available.
func (r *Router) Parse(ctx context.Context, call Call, doc *provider.Document) (*ParseResult, error) {
	const op = provider.OpExtractText
	if doc == nil || len(doc.Data) == 0 {
		return nil, provider.Errorf(provider.KindInvalidInput, "", "document is empty")
	}

	ctx, span := r.startRoute(ctx, call, op)
	defer span.End()
	start := time.Now()

	res, err := r.gate.Check(ctx, call.UserID, call.Tier, op)
	if err != nil {
		r.finish(ctx, span, call, nil, op, start, err)
		return nil, err
	}

	if r.dedup == nil {
		result, err := r.extract(ctx, call, res, doc, "")
		r.finish(ctx, span, call, result.Outcome, op, start, err)
		if err != nil {
			return nil, err
		}
		return result, nil
	}

	hash := fingerprint.Hash(doc.Data)
	shareParse := func() (any, error) {
		if hit := r.lookup(ctx, call, hash); hit != nil {
			return hit, nil
		}
		return r.extract(ctx, call, res, doc, hash)
	}
	v, leader, err := r.dedup.Do(call.UserID, hash, shareParse)
	if !leader && errors.Is(err, context.Canceled) && ctx.Err() == nil {
		// The leader's caller went away; this caller is still waiting.
		v, leader, err = r.dedup.Do(call.UserID, hash, shareParse)
	}
	// A follower, or a leader answered from storage, still holds its own
	// reservation. A leader that dispatched has already resolved it.
	r.release(ctx, res)

	shared, _ := v.(*ParseResult)
	if err != nil {
		var out *Outcome
		if leader && shared != nil {
			out = shared.Outcome
		}
		r.finish(ctx, span, call, out, op, start, err)
		return nil, err
	}

	result := &ParseResult{Extraction: shared.Extraction, Outcome: shared.Outcome}
	if !leader || shared.Outcome.Cached {
		source := "store"
		if !leader {
			source = "inflight"
		}
		metrics.DedupHits.WithLabelValues(source).Inc()
		result.Outcome = &Outcome{
			Op:       op,
			Provider: shared.Outcome.Provider,
			Model:    shared.Outcome.Model,
			Success:  true,
			Cached:   true,
			Usage:    r.snapshot(ctx, call.UserID),
		}
	}
	r.finish(ctx, span, call, result.Outcome, op, start, nil)
	return result, nil
}

// Analyze scores a CV, optionally against a job description.
func (r *Router) Analyze(ctx context.Context, call Call, req *provider.AnalyzeRequest) (*AnalyzeResult, error) {
	if req == nil || strings.TrimSpace(req.CVText) == "" {
		return nil, provider.Errorf(provider.KindInvalidInput, "", "cv text is required")
	}

	var analysis *provider.Analysis
	out, err := r.generate(ctx, call, provider.OpAnalyze, len(req.CVText)+len(req.JobDescription), req.MaxTokens,
		func(ctx context.Context, name string, maxTokens int) (provider.Usage, string, error) {
			a, _ := r.registry.Analyzer(name)
			q := *req
			q.MaxTokens = maxTokens
			res, err := a.Analyze(ctx, &q)
			if err != nil {
				return provider.Usage{}, "", err
			}
			analysis = res
			return res.Usage, res.Model, nil
		})
	if err != nil {
		return nil, err
	}
	return &AnalyzeResult{Analysis: analysis, Outcome: out}, nil
}

// CoverLetter writes a cover letter for a CV and a job description.
func (r *Router) CoverLetter(ctx context.Context, call Call, req *provider.CoverLetterRequest) (*CoverLetterResult, error) {
	if req == nil || strings.TrimSpace(req.CVText) == "" {
		return nil, provider.Errorf(provider.KindInvalidInput, "", "cv text is required")
	}
	if strings.TrimSpace(req.JobDescription) == "" {
		return nil, provider.Errorf(provider.KindInvalidInput, "", "job description is required")
	}

	var letter *provider.CoverLetter
	out, err := r.generate(ctx, call, provider.OpCoverLetter, len(req.CVText)+len(req.JobDescription), req.MaxTokens,
		func(ctx context.Context, name string, maxTokens int) (provider.Usage, string, error) {
			a, _ := r.registry.Analyzer(name)
			q := *req
			q.MaxTokens = maxTokens
			res, err := a.GenerateCoverLetter(ctx, &q)
			if err != nil {
				return provider.Usage{}, "", err
			}
			letter = res
			return res.Usage, res.Model, nil
		})
	if err != nil {
		return nil, err
	}
	return &CoverLetterResult{CoverLetter: letter, Outcome: out}, nil
}

// invokeFunc performs one provider call and reports what it consumed.
type invokeFunc func(ctx context.Context, name string, maxTokens int) (provider.Usage, string, error)

func (r *Router) generate(ctx context.Context, call Call, op provider.Operation, promptSize, requested int, invoke invokeFunc) (*Outcome, error) {
	ctx, span := r.startRoute(ctx, call, op)
	defer span.End()
	start := time.Now()

	res, err := r.gate.Check(ctx, call.UserID, call.Tier, op)
	if err != nil {
		r.finish(ctx, span, call, nil, op, start, err)
		return nil, err
	}

	limit := r.catalog.LimitsFor(call.Tier).MaxTokensPerRequest
	maxTokens := limit
	switch {
	case requested > limit:
		err = provider.Errorf(provider.KindPayloadTooLarge, "", "requested %d tokens, tier allows %d", requested, limit)
	case billing.EstimateTokens(promptSize) > r.maxInputTokens:
		err = provider.Errorf(provider.KindPayloadTooLarge, "", "input exceeds %d tokens", r.maxInputTokens)
	case requested > 0:
		maxTokens = requested
	}
	if err != nil {
		r.release(ctx, res)
		r.finish(ctx, span, call, &Outcome{Op: op, Usage: r.snapshot(ctx, call.UserID)}, op, start, err)
		return nil, err
	}

	out, err := r.dispatch(ctx, call, op, res, promptSize, maxTokens, invoke)
	r.finish(ctx, span, call, out, op, start, err)
	return out, err
}

func (r *Router) extract(ctx context.Context, call Call, res *ledger.Reservation, doc *provider.Document, hash string) (*ParseResult, error) {
	var ext *provider.Extraction
	out, err := r.dispatch(ctx, call, provider.OpExtractText, res, len(doc.Data), 0,
		func(ctx context.Context, name string, _ int) (provider.Usage, string, error) {
			x, _ := r.registry.Extractor(name)
			e, err := x.ExtractText(ctx, doc)
			if err != nil {
				return provider.Usage{}, "", err
			}
			ext = e
			return e.Usage, e.Model, nil
		})
	if err != nil {
		return &ParseResult{Outcome: out}, err
	}

	if hash != "" {
		if err := r.dedup.Remember(context.WithoutCancel(ctx), call.UserID, hash, out.Provider, ext, out.Cost); err != nil {
			r.log.Warn("failed to remember fingerprint",
				zap.String("user_id", call.UserID),
				zap.String("hash", hash),
				zap.Error(err),
			)
		}
	}
	return &ParseResult{Extraction: ext, Outcome: out}, nil
}

func (r *Router) lookup(ctx context.Context, call Call, hash string) *ParseResult {
	hit, err := r.dedup.Lookup(ctx, call.UserID, hash)
	if err != nil {
		r.log.Warn("fingerprint lookup failed, parsing anyway",
			zap.String("user_id", call.UserID),
			zap.String("hash", hash),
			zap.Error(err),
		)
		return nil
	}
	if hit == nil {
		return nil
	}
	return &ParseResult{
		Extraction: &provider.Extraction{Text: hit.Text, Confidence: hit.Record.Confidence},
		Outcome: &Outcome{
			Op:       provider.OpExtractText,
			Provider: hit.Record.Provider,
			Success:  true,
			Cached:   true,
		},
	}
}

// dispatch walks the candidate chain and resolves res exactly once.
func (r *Router) dispatch(ctx context.Context, call Call, op provider.Operation, res *ledger.Reservation, inputSize, maxTokens int, invoke invokeFunc) (*Outcome, error) {
	out := &Outcome{Op: op}
	var lastErr error

	for i, name := range r.Candidates(call.Tier, op) {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}

		est := r.estimator.Estimate(op, name, inputSize, maxTokens)
		started := time.Now()
		usage, model, err := r.attempt(ctx, name, op, i+1, maxTokens, invoke)
		out.Attempts = append(out.Attempts, Attempt{
			Provider:   name,
			ErrorKind:  provider.KindOf(err),
			DurationMs: time.Since(started).Milliseconds(),
		})

		if err == nil {
			cost := r.estimator.Finalize(est, usage)
			out.Provider = name
			out.Model = model
			out.TokensIn = usage.TokensIn
			out.TokensOut = usage.TokensOut
			out.Pages = usage.Pages
			out.Cost = cost
			out.Success = true

			rec, cerr := r.commit(ctx, res, cost)
			if cerr != nil {
				r.log.Error("failed to commit usage, call left unbilled",
					zap.String("user_id", call.UserID),
					zap.String("op", string(op)),
					zap.String("ai_provider", name),
					zap.Float64("cost_usd", cost),
					zap.Error(cerr),
				)
				r.release(ctx, res)
				out.ErrorKind = ErrorKindCommitFailed
				rec = r.snapshot(ctx, call.UserID)
			}
			out.Usage = rec
			metrics.RecordTokens(name, usage.TokensIn, usage.TokensOut)
			metrics.CostUSDTotal.WithLabelValues(name).Add(cost)
			return out, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if provider.IsTerminal(err) {
			r.release(ctx, res)
			out.Usage = r.snapshot(ctx, call.UserID)
			return out, err
		}

		kind := provider.KindOf(err)
		metrics.ProviderFallbacks.WithLabelValues(name, string(op), string(kind)).Inc()
		fields := []zap.Field{
			zap.String("user_id", call.UserID),
			zap.String("op", string(op)),
			zap.String("ai_provider", name),
			zap.Int("attempt", i+1),
			zap.String("error_kind", string(kind)),
			zap.Error(err),
		}
		if provider.IsTransient(err) {
			r.log.Warn("provider failed, trying next", fields...)
		} else {
			r.log.Error("provider failed with unclassified error, trying next", fields...)
		}
	}

	r.release(ctx, res)
	out.Usage = r.snapshot(ctx, call.UserID)
	if err := ctx.Err(); err != nil {
		return out, err
	}

	metrics.AllProvidersFailed.WithLabelValues(string(op)).Inc()
	if lastErr == nil {
		lastErr = provider.Errorf(provider.KindUnavailable, "", "no provider configured for %s", op)
	}
	return out, &AllProvidersFailedError{Op: op, Attempts: out.Attempts, Last: lastErr}
}

func (r *Router) attempt(ctx context.Context, name string, op provider.Operation, n, maxTokens int, invoke invokeFunc) (provider.Usage, string, error) {
	ctx, span := r.tracer.Start(ctx, "provider.call", trace.WithAttributes(
		attribute.String("provider", name),
		attribute.String("op", string(op)),
		attribute.Int("attempt", n),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cb, ok := r.breakers[name]
	if !ok {
		cb = newBreaker(name)
	}

	start := time.Now()
	var (
		usage provider.Usage
		model string
	)
	_, err := cb.Execute(func() (interface{}, error) {
		var err error
		usage, model, err = invoke(ctx, name, maxTokens)
		return nil, err
	})
	err = provider.Classify(name, op, breakerError(name, err))

	outcome := "success"
	if err != nil {
		outcome = string(provider.KindOf(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		span.SetAttributes(attribute.String("error_kind", outcome))
	}
	metrics.ProviderCalls.WithLabelValues(name, string(op), outcome).Inc()
	metrics.ProviderLatency.WithLabelValues(name, string(op)).Observe(time.Since(start).Seconds())
	return usage, model, err
}

// release rolls res back unless it was already resolved.
// commit resolves res as a counted call, retrying transient store failures.
func (r *Router) commit(ctx context.Context, res *ledger.Reservation, cost float64) (*ledger.Record, error) {
	ctx = context.WithoutCancel(ctx)
	var err error
	for i := 0; i < commitAttempts; i++ {
		if i > 0 {
			time.Sleep(time.Duration(i) * commitBackoff)
		}
		var rec *ledger.Record
		rec, err = r.ledger.Commit(ctx, res, cost)
		if err == nil {
			return rec, nil
		}
		if errors.Is(err, ledger.ErrResolved) {
			return nil, err
		}
	}
	return nil, err
}

func (r *Router) release(ctx context.Context, res *ledger.Reservation) {
	err := r.ledger.Rollback(context.WithoutCancel(ctx), res)
	if err != nil && !errors.Is(err, ledger.ErrResolved) {
		r.log.Error("failed to roll back reservation",
			zap.String("user_id", res.UserID),
			zap.String("reservation_id", res.ID),
			zap.Error(err),
		)
	}
}

func (r *Router) snapshot(ctx context.Context, userID string) *ledger.Record {
	rec, err := r.ledger.CurrentUsage(context.WithoutCancel(ctx), userID)
	if err != nil {
		r.log.Warn("failed to read usage", zap.String("user_id", userID), zap.Error(err))
		return nil
	}
	return rec
}

func (r *Router) startRoute(ctx context.Context, call Call, op provider.Operation) (context.Context, trace.Span) {
	return r.tracer.Start(ctx, "orchestrator.route", trace.WithAttributes(
		attribute.String("user_id", call.UserID),
		attribute.String("tier", string(call.Tier)),
		attribute.String("op", string(op)),
	))
}

// finish logs, traces and audits a routed call once it has ended.
func (r *Router) finish(ctx context.Context, span trace.Span, call Call, out *Outcome, op provider.Operation, start time.Time, err error) {
	if out == nil {
		out = &Outcome{Op: op}
	}
	out.DurationMs = time.Since(start).Milliseconds()
	out.Success = err == nil
	if err != nil {
		out.ErrorKind = ErrorKind(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, out.ErrorKind)
	}
	span.SetAttributes(
		attribute.String("ai_provider", out.Provider),
		attribute.Bool("cached", out.Cached),
		attribute.Int("attempts", len(out.Attempts)),
	)

	fields := []zap.Field{
		zap.String("user_id", call.UserID),
		zap.String("tier", string(call.Tier)),
		zap.String("op", string(op)),
		zap.String("ai_provider", out.Provider),
		zap.Int("attempts", len(out.Attempts)),
		zap.Float64("cost_usd", out.Cost),
		zap.Bool("cached", out.Cached),
		zap.Int64("duration_ms", out.DurationMs),
	}
	if err != nil {
		r.log.Info("call failed", append(fields, zap.String("error_kind", out.ErrorKind), zap.Error(err))...)
	} else {
		r.log.Info("call completed", fields...)
	}

	if r.audit == nil {
		return
	}
	r.audit.Record(&billing.UsageLog{
		UserID:       call.UserID,
		RequestID:    call.RequestID,
		Tier:         string(call.Tier),
		Operation:    string(op),
		Provider:     out.Provider,
		Model:        out.Model,
		InputTokens:  out.TokensIn,
		OutputTokens: out.TokensOut,
		Pages:        out.Pages,
		CostUSD:      out.Cost,
		LatencyMs:    out.DurationMs,
		Attempts:     len(out.Attempts),
		Success:      out.Success,
		Cached:       out.Cached,
		ErrorKind:    out.ErrorKind,
		CreatedAt:    time.Now().UTC(),
	})
}

// ErrorKind names the failure class of a routed call for logs and audit.
func ErrorKind(err error) string {
	var qe *quota.ExceededError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &qe):
		return "quota_exceeded"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	return string(provider.KindOf(err))
}
