package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"signflow/internal/domain"
	"signflow/internal/repo"
)

// CreateAPIKey mints a new key and returns the raw secret once. Only the
// hash is stored.
func (e Engine) CreateAPIKey(ctx context.Context, actorID, name string) (domain.APIKey, string, error) {
	if actorID == "" {
		return domain.APIKey{}, "", errors.New("actor is required")
	}
	raw := "sfk_" + uuid.NewString()
	k := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   actorID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(raw),
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertAPIKey(ctx, k); err != nil {
		return domain.APIKey{}, "", err
	}
	return k, raw, nil
}

func (e Engine) ListAPIKeys(ctx context.Context) ([]domain.APIKey, error) {
	return e.Repo.ListAPIKeys(ctx)
}

func (e Engine) RevokeAPIKey(ctx context.Context, id string) error {
	return e.Repo.DeleteAPIKey(ctx, id)
}

// VerifyAPIKey resolves a raw key to its actor.
func (e Engine) VerifyAPIKey(ctx context.Context, raw string) (domain.APIKey, error) {
	return e.Repo.GetAPIKeyByHash(ctx, repo.HashAPIKey(raw))
}

func (e Engine) LatestEvents(ctx context.Context, n int, documentID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	if n <= 0 {
		n = 50
	}
	return e.Repo.LatestEvents(ctx, n, documentID, evtType, entityKind, entityID)
}
