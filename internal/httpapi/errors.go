package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/vnmchuo/careerkit-gateway/internal/orchestrator"
	"github.com/vnmchuo/careerkit-gateway/internal/provider"
	"github.com/vnmchuo/careerkit-gateway/internal/quota"
)

// Stable error codes returned in the "error" field.
const (
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeForbidden          = "FORBIDDEN"
	CodeMissingInput       = "MISSING_INPUT"
	CodeMissingData        = "MISSING_DATA"
	CodeInvalidInput       = "INVALID_INPUT"
	CodeDocumentNotFound   = "DOCUMENT_NOT_FOUND"
	CodePayloadTooLarge    = "PAYLOAD_TOO_LARGE"
	CodeAILimitExceeded    = "AI_LIMIT_EXCEEDED"
	CodeParseLimitExceeded = "PARSE_LIMIT_EXCEEDED"
	CodeRateLimited        = "RATE_LIMITED"
	CodeAIAnalysisFailed   = "AI_ANALYSIS_FAILED"
	CodeParseFailed        = "PARSE_FAILED"
	CodeInternal           = "INTERNAL_ERROR"
	CodeUnknownTier        = "UNKNOWN_TIER"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{"error": code, "message": message})
}

// writeRouteError maps a router failure to a response. Provider error text
// never reaches the client.
func (h *Handler) writeRouteError(w http.ResponseWriter, op provider.Operation, userID string, err error) {
	var qe *quota.ExceededError
	if errors.As(err, &qe) {
		code := CodeAILimitExceeded
		if op == provider.OpExtractText {
			code = CodeParseLimitExceeded
		}
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":       code,
			"message":     qe.Error(),
			"tier":        qe.Tier,
			"limit":       qe.Limit,
			"costCeiling": qe.CostCeiling,
			"remaining":   qe.Remaining,
			"reason":      qe.Reason,
		})
		return
	}

	var apf *orchestrator.AllProvidersFailedError
	switch {
	case errors.As(err, &apf):
		h.log.Error("all providers failed",
			zap.String("user_id", userID),
			zap.String("op", string(op)),
			zap.Int("attempts", len(apf.Attempts)),
			zap.Error(apf.Last),
		)
		h.writeUnavailable(w, op)
	case errors.Is(err, context.Canceled):
		h.log.Info("request cancelled", zap.String("user_id", userID), zap.String("op", string(op)))
		writeError(w, http.StatusServiceUnavailable, CodeInternal, "request cancelled")
	case provider.KindOf(err) == provider.KindInvalidInput:
		writeError(w, http.StatusBadRequest, CodeInvalidInput, invalidInputMessage(op))
	case provider.KindOf(err) == provider.KindPayloadTooLarge:
		writeError(w, http.StatusRequestEntityTooLarge, CodePayloadTooLarge, "request is too large for this tier")
	default:
		h.log.Error("routed call failed",
			zap.String("user_id", userID),
			zap.String("op", string(op)),
			zap.Error(err),
		)
		h.writeUnavailable(w, op)
	}
}

func (h *Handler) writeUnavailable(w http.ResponseWriter, op provider.Operation) {
	if op == provider.OpExtractText {
		writeError(w, http.StatusInternalServerError, CodeParseFailed, "parsing temporarily unavailable")
		return
	}
	writeError(w, http.StatusInternalServerError, CodeAIAnalysisFailed, "analysis temporarily unavailable")
}

func invalidInputMessage(op provider.Operation) string {
	if op == provider.OpExtractText {
		return "the document could not be read"
	}
	return "the CV could not be processed"
}
