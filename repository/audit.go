package repository

import (
	"context"

	"devconnect/database"
	"devconnect/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type AuditRepository struct {
	logs *database.Collection[models.AuditLog]
}

func NewAuditRepository(store *database.Store) *AuditRepository {
	return &AuditRepository{logs: database.NewCollection[models.AuditLog](store, database.AuditLogs)}
}

func (r *AuditRepository) Insert(ctx context.Context, entry *models.AuditLog) error {
	if entry.ID.IsZero() {
		entry.ID = primitive.NewObjectID()
	}
	_, err := r.logs.Insert(ctx, entry)
	return err
}
