// Package seeder creates development API keys and a sample CV.
package seeder

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/vnmchuo/careerkit-gateway/internal/auth"
	"github.com/vnmchuo/careerkit-gateway/internal/documents"
	"github.com/vnmchuo/careerkit-gateway/internal/logger"
	"github.com/vnmchuo/careerkit-gateway/internal/tier"
)

const (
	TestAPIKey   = "test-api-key-12345"
	TestUserID   = "00000000-0000-0000-0000-000000000001"
	AdminAPIKey  = "test-admin-key-12345"
	AdminUserID  = "00000000-0000-0000-0000-0000000000ad"
	sampleCVJSON = `{
		"name": "Jane Doe",
		"headline": "Backend Engineer",
		"summary": "Eight years building payment and data platforms in Go.",
		"experience": [
			{"title": "Senior Engineer", "company": "Acme", "startDate": "2021", "endDate": "present",
			 "bullets": ["Cut p99 checkout latency by 40%", "Led migration to Postgres 16"]}
		],
		"skills": ["Go", "Postgres", "Kubernetes"]
	}`
)

// Result lists what was created. Empty fields mean the step was skipped.
type Result struct {
	UserKeyID  string
	AdminKeyID string
	DocumentID string
}

// Seed creates a free-tier user key, an admin key allowed to act on behalf
// of other users, and a sample CV owned by the test user. Failures are
// logged and the remaining steps still run, so re-seeding is harmless.
func Seed(ctx context.Context, keys auth.Store, docs documents.Store, log *zap.Logger) Result {
	log = logger.OrNop(log).Named("seeder")
	var res Result

	user := &auth.APIKey{
		UserID:    TestUserID,
		Tier:      string(tier.Free),
		KeyHash:   auth.HashKey(TestAPIKey),
		RateLimit: 1000000,
		Active:    true,
	}
	if err := keys.Create(ctx, user); err != nil {
		log.Info("API key may already exist, skipping", zap.Error(err))
	} else {
		res.UserKeyID = user.ID
		log.Info("test API key created", zap.String("user_id", TestUserID), zap.String("key", TestAPIKey))
	}

	admin := &auth.APIKey{
		UserID:    AdminUserID,
		Tier:      string(tier.Elite),
		KeyHash:   auth.HashKey(AdminAPIKey),
		RateLimit: 1000000,
		Scopes:    []string{string(auth.CapActOnBehalf)},
		Active:    true,
	}
	if err := keys.Create(ctx, admin); err != nil {
		log.Info("admin API key may already exist, skipping", zap.Error(err))
	} else {
		res.AdminKeyID = admin.ID
		log.Info("admin API key created", zap.String("user_id", AdminUserID), zap.String("key", AdminAPIKey))
	}

	if docs == nil {
		return res
	}
	doc := &documents.Document{
		UserID:   TestUserID,
		Filename: "sample-cv.json",
		Content:  json.RawMessage(sampleCVJSON),
	}
	if err := docs.Create(ctx, doc); err != nil {
		log.Warn("failed to create sample CV", zap.Error(err))
		return res
	}
	res.DocumentID = doc.ID
	log.Info("sample CV created", zap.String("document_id", doc.ID))
	return res
}
