package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ayo6706/captcha-solver-api/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const (
	entityTransaction = "transaction"
	entityDeposit     = "deposit"
	entityBalance     = "balance"
	entitySolve       = "captcha_solve"
	entityUser        = "user"
	entityAPIToken    = "api_token"
)

// AuditService writes immutable audit trail entries inside the caller's transaction.
type AuditService struct{}

func NewAuditService() *AuditService {
	return &AuditService{}
}

// Write stores a single immutable audit record.
func (s *AuditService) Write(ctx context.Context, sink AuditSink, entityType string, entityID uuid.UUID, actorID *uuid.UUID, action, prevState, nextState string, metadata map[string]any) error {
	var actor pgtype.UUID
	if actorID != nil {
		actor = repository.ToPgUUID(*actorID)
	}

	var raw []byte
	if len(metadata) > 0 {
		var err error
		raw, err = json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("encode audit metadata: %w", err)
		}
	}

	if _, err := sink.InsertAuditLog(ctx, repository.InsertAuditLogParams{
		EntityType: entityType,
		EntityID:   repository.ToPgUUID(entityID),
		ActorID:    actor,
		Action:     action,
		PrevState:  textParam(prevState),
		NextState:  textParam(nextState),
		Metadata:   raw,
	}); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func textParam(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
