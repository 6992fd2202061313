package repository

import (
	"context"

	"devconnect/database"
	"devconnect/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type OTPRepository struct {
	codes *database.Collection[models.OTPCode]
}

func NewOTPRepository(store *database.Store) *OTPRepository {
	return &OTPRepository{codes: database.NewCollection[models.OTPCode](store, database.OTPCodes)}
}

// Save replaces any pending code for the phone number.
func (r *OTPRepository) Save(ctx context.Context, code *models.OTPCode) error {
	_, err := r.codes.UpdateOne(ctx,
		bson.M{"phone": code.Phone},
		bson.M{"$set": bson.M{
			"codeHash":  code.CodeHash,
			"attempts":  0,
			"expiresAt": code.ExpiresAt,
			"createdAt": code.CreatedAt,
		}},
		options.Update().SetUpsert(true),
	)
	return err
}

func (r *OTPRepository) Find(ctx context.Context, phone string) (*models.OTPCode, error) {
	return r.codes.FindOne(ctx, bson.M{"phone": phone})
}

// ClaimAttempt atomically spends one verification attempt on the pending code for phone and
// returns the code. It reports ErrNotFound when there is no code or max attempts are used up.
func (r *OTPRepository) ClaimAttempt(ctx context.Context, phone string, max int) (*models.OTPCode, error) {
	return r.codes.FindOneAndUpdate(ctx,
		bson.M{"phone": phone, "attempts": bson.M{"$lt": max}},
		bson.M{"$inc": bson.M{"attempts": 1}},
		false,
	)
}

func (r *OTPRepository) Delete(ctx context.Context, phone string) error {
	_, err := r.codes.DeleteOne(ctx, bson.M{"phone": phone})
	return err
}
