package repository

import (
	"context"
	"database/sql"
	"time"

	"fieldsync/internal/models"
)

// EventFilter narrows an audit log query. Zero values mean "no constraint".
type EventFilter struct {
	From  time.Time
	To    time.Time
	Type  string
	Limit int // newest N, still returned oldest first
}

type EventRepo interface {
	Append(ctx context.Context, e models.AuditEvent) error
	List(ctx context.Context, f EventFilter) ([]models.AuditEvent, error)
}

type Repository struct {
	EventRepo EventRepo
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{
		EventRepo: NewEventSQLite(db),
	}
}
