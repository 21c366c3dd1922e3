package service

import (
	"context"
	"fmt"

	"github.com/ayo6706/legal-settlement/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// Audited entities.
const (
	auditTransaction = "transaction"
	auditWithdrawal  = "withdrawal"
)

// AuditService appends to audit_log inside the caller's transaction, so an
// audit row exists exactly when the state change it describes committed.
type AuditService struct {
	store QueryStore
}

func NewAuditService(store QueryStore) *AuditService {
	return &AuditService{store: store}
}

// Write records action on an entity. actorID is nil for gateway- and
// worker-driven changes.
func (s *AuditService) Write(ctx context.Context, qtx *repository.Queries, entityType string, entityID uuid.UUID, actorID *uuid.UUID, action, prevState, nextState string, metadata []byte) error {
	if qtx == nil {
		qtx = s.store.Queries()
	}

	if _, err := qtx.InsertAuditLog(ctx, repository.InsertAuditLogParams{
		EntityType: entityType,
		EntityID:   repository.ToPgUUID(entityID),
		ActorID:    actorParam(actorID),
		Action:     action,
		PrevState:  textParam(prevState),
		NextState:  textParam(nextState),
		Metadata:   metadata,
	}); err != nil {
		return fmt.Errorf("insert audit log %s/%s: %w", entityType, action, err)
	}
	return nil
}

func actorParam(id *uuid.UUID) pgtype.UUID {
	if id == nil {
		return pgtype.UUID{}
	}
	return repository.NullableUUID(*id)
}

func textParam(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
