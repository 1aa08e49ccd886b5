package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/moveops-platform/apps/migrator/internal/store"
)

func (s *Store) CreateAPIKey(ctx context.Context, key *store.APIKey) error {
	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO api_keys (id, owner_id, name, token_hash, scopes)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, key.ID, key.OwnerID, key.Name, key.TokenHash, strings.Join(key.Scopes, " "),
	).Scan(&key.CreatedAt)
	return mapErr("insert api key", err)
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, hash string) (store.APIKey, error) {
	var (
		key    store.APIKey
		scopes string
	)
	err := s.db.QueryRow(ctx, `
		SELECT id, owner_id, name, token_hash, scopes, created_at, revoked_at
		FROM api_keys
		WHERE token_hash = $1 AND revoked_at IS NULL
	`, hash).Scan(&key.ID, &key.OwnerID, &key.Name, &key.TokenHash, &scopes, &key.CreatedAt, &key.RevokedAt)
	if err != nil {
		return store.APIKey{}, mapErr("get api key", err)
	}
	key.Scopes = strings.Fields(scopes)
	return key, nil
}

func (s *Store) InsertAudit(ctx context.Context, entry store.AuditEntry) error {
	metadata := []byte("{}")
	if len(entry.Metadata) > 0 {
		encoded, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		metadata = encoded
	}
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO audit_log (id, owner_id, actor_id, action, entity_type, entity_id, request_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, entry.ID, entry.OwnerID, uuidArg(entry.ActorID), entry.Action, entry.EntityType, uuidArg(entry.EntityID),
		nullString(entry.RequestID), metadata)
	return mapErr("insert audit log", err)
}
