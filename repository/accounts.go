package repository

import (
	"context"
	"time"

	"devconnect/database"
	"devconnect/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type AccountRepository struct {
	accounts *database.Collection[models.Account]
}

func NewAccountRepository(store *database.Store) *AccountRepository {
	return &AccountRepository{accounts: database.NewCollection[models.Account](store, database.Accounts)}
}

func (r *AccountRepository) FindByProviderAccountID(ctx context.Context, providerAccountID string) (*models.Account, error) {
	return r.accounts.FindOne(ctx, bson.M{"providerAccountId": providerAccountID})
}

func (r *AccountRepository) ListByUser(ctx context.Context, userID string) ([]models.Account, error) {
	return r.accounts.Find(ctx, bson.M{"userId": userID}, options.Find().SetLimit(2))
}

// Create fails with database.ErrDuplicate when the provider subject is already linked.
func (r *AccountRepository) Create(ctx context.Context, a *models.Account) error {
	if a.ID.IsZero() {
		a.ID = primitive.NewObjectID()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := r.accounts.Insert(ctx, a)
	return err
}
