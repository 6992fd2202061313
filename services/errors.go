package services

import (
	"errors"
	"fmt"

	"devconnect/database"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	ErrInvalidID   = errors.New("invalid id")
	ErrNotFound    = errors.New("not found")
	ErrForbidden   = errors.New("forbidden")
	ErrValidation  = errors.New("validation failed")
	ErrConflict    = errors.New("conflict")
	ErrRateLimited = errors.New("too many requests")
	ErrUnavailable = errors.New("service unavailable")
)

func notFound(what string) error {
	return fmt.Errorf("%s %w", what, ErrNotFound)
}

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

func forbidden(msg string) error {
	return fmt.Errorf("%w: %s", ErrForbidden, msg)
}

// storeErr maps repository sentinels onto the service taxonomy.
func storeErr(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, database.ErrNotFound):
		return notFound(what)
	case errors.Is(err, database.ErrDuplicate):
		return fmt.Errorf("%s %w", what, ErrConflict)
	case database.IsUnavailable(err):
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}

func parseObjectID(id, what string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%w: %s", ErrInvalidID, what)
	}
	return oid, nil
}
