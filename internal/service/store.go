package service

import (
	"context"

	"github.com/ayo6706/legal-settlement/internal/repository"
)

// QueryStore is what services need from persistence: plain queries and a
// transaction scope. *repository.Store is the production implementation.
type QueryStore interface {
	Queries() *repository.Queries
	RunInTx(ctx context.Context, fn func(q *repository.Queries) error) error
}

var _ QueryStore = (*repository.Store)(nil)
