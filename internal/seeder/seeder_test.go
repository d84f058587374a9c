package seeder

import (
	"context"
	"testing"

	"github.com/vnmchuo/careerkit-gateway/internal/auth"
	"github.com/vnmchuo/careerkit-gateway/internal/documents"
	"github.com/vnmchuo/careerkit-gateway/internal/tier"
)

func TestSeed(t *testing.T) {
	ctx := context.Background()
	keys := auth.NewMemoryStore()
	docs := documents.NewMemoryStore()

	res := Seed(ctx, keys, docs, nil)
	if res.UserKeyID == "" || res.AdminKeyID == "" || res.DocumentID == "" {
		t.Fatalf("expected every step to run, got %+v", res)
	}

	admin, err := keys.GetByKey(ctx, AdminAPIKey)
	if err != nil {
		t.Fatalf("admin key: %v", err)
	}
	if len(admin.Scopes) != 1 || admin.Scopes[0] != string(auth.CapActOnBehalf) {
		t.Errorf("expected act_on_behalf scope, got %v", admin.Scopes)
	}

	got, err := keys.TierForUser(ctx, TestUserID)
	if err != nil || got != tier.Free {
		t.Errorf("expected free tier for test user, got %s, %v", got, err)
	}

	doc, err := docs.Get(ctx, res.DocumentID)
	if err != nil {
		t.Fatalf("sample CV: %v", err)
	}
	parsed, err := doc.CV()
	if err != nil {
		t.Fatalf("sample CV does not normalize: %v", err)
	}
	if parsed.Text() == "" {
		t.Error("sample CV has no text")
	}
}

func TestSeed_WithoutDocuments(t *testing.T) {
	res := Seed(context.Background(), auth.NewMemoryStore(), nil, nil)
	if res.DocumentID != "" {
		t.Errorf("expected no document, got %s", res.DocumentID)
	}
}
