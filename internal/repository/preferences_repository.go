package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/ticket-dashboard/internal/api/dto"
	"github.com/spec-kit/ticket-dashboard/internal/domain"
)

// PreferencesRepository stores per-user ticket list preferences.
type PreferencesRepository interface {
	Get(ctx context.Context, userID string) (domain.ViewPreferences, bool, error)
	Save(ctx context.Context, userID string, prefs domain.ViewPreferences) error
	Delete(ctx context.Context, userID string) error
}

type preferencesRepository struct {
	client *redis.Client
	prefix string
}

// NewPreferencesRepository keys entries as prefix + "prefs:" + userID.
func NewPreferencesRepository(client *redis.Client, prefix string) PreferencesRepository {
	return &preferencesRepository{client: client, prefix: prefix + "prefs:"}
}

func (r *preferencesRepository) Get(ctx context.Context, userID string) (domain.ViewPreferences, bool, error) {
	raw, err := r.client.Get(ctx, r.prefix+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.ViewPreferences{}, false, nil
	}
	if err != nil {
		return domain.ViewPreferences{}, false, err
	}
	var stored dto.PreferencesResponse
	if err := json.Unmarshal(raw, &stored); err != nil {
		return domain.ViewPreferences{}, false, fmt.Errorf("decode preferences: %w", err)
	}
	return stored.ToDomain(), true, nil
}

func (r *preferencesRepository) Save(ctx context.Context, userID string, prefs domain.ViewPreferences) error {
	raw, err := json.Marshal(dto.NewPreferencesResponse(prefs))
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.prefix+userID, raw, 0).Err()
}

func (r *preferencesRepository) Delete(ctx context.Context, userID string) error {
	return r.client.Del(ctx, r.prefix+userID).Err()
}
