package service

import (
	"context"
	"fmt"

	"github.com/ayo6706/legal-settlement/internal/domain"
	"github.com/ayo6706/legal-settlement/internal/repository"
	"github.com/google/uuid"
)

// transitionWithdrawal checks the state machine, runs update and records the
// audit entry, all inside qtx.
func transitionWithdrawal(ctx context.Context, qtx *repository.Queries, audit *AuditService, w repository.WithdrawalRequest, next domain.WithdrawalStatus, actorID *uuid.UUID, action string, metadata []byte, update func() (int64, error)) error {
	current := domain.WithdrawalStatus(w.Status)
	if !current.CanTransition(next) {
		return fmt.Errorf("%w: withdrawal %s cannot move from %s to %s", domain.ErrInvalidTransition, repository.FromPgUUID(w.ID), current, next)
	}

	rows, err := update()
	if err != nil {
		return fmt.Errorf("%s withdrawal: %w", action, err)
	}
	if err := requireExactlyOne(rows, action+" withdrawal"); err != nil {
		return err
	}

	return audit.Write(ctx, qtx, auditWithdrawal, repository.FromPgUUID(w.ID), actorID, action, string(current), string(next), metadata)
}
