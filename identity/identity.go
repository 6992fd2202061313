package identity

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"devconnect/database"
	"devconnect/logger"
	"devconnect/models"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

const maxIDs = 3

// Identity is a user's canonical id plus any alternate ids older documents may be keyed by.
type Identity struct {
	Canonical  string   `json:"canonical"`
	Alternates []string `json:"alternates,omitempty"`
}

// All returns canonical first followed by alternates, never more than three ids.
func (i Identity) All() []string {
	out := make([]string, 0, 1+len(i.Alternates))
	out = append(out, i.Canonical)
	for _, a := range i.Alternates {
		if len(out) == maxIDs {
			break
		}
		if a != "" && !contains(out, a) {
			out = append(out, a)
		}
	}
	return out
}

func (i Identity) Has(id string) bool {
	return contains(i.All(), id)
}

// Rooms returns the personal realtime room of every id.
func (i Identity) Rooms() []string {
	ids := i.All()
	rooms := make([]string, len(ids))
	for n, id := range ids {
		rooms[n] = UserRoom(id)
	}
	return rooms
}

func UserRoom(id string) string { return "user:" + id }

type UserLookup interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByLegacyID(ctx context.Context, legacyID string) (*models.User, error)
}

type AccountLookup interface {
	FindByProviderAccountID(ctx context.Context, providerAccountID string) (*models.Account, error)
	ListByUser(ctx context.Context, userID string) ([]models.Account, error)
}

// Resolver is the single place alternate ids are derived.
type Resolver struct {
	users    UserLookup
	accounts AccountLookup
	cache    *redis.Client
	ttl      time.Duration
}

func NewResolver(users UserLookup, accounts AccountLookup) *Resolver {
	return &Resolver{users: users, accounts: accounts}
}

// WithCache stores resolved identities in redis for ttl.
func (r *Resolver) WithCache(client *redis.Client, ttl time.Duration) *Resolver {
	r.cache = client
	r.ttl = ttl
	return r
}

// Resolve never fails. Unknown ids and lookup errors fall back to the input id.
func (r *Resolver) Resolve(ctx context.Context, id string) Identity {
	if id == "" {
		return Identity{}
	}
	if cached, ok := r.fromCache(ctx, id); ok {
		return cached
	}

	ident, err := r.lookup(ctx, id)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			logger.Warn("identity lookup failed", zap.String("id", id), zap.Error(err))
			return Identity{Canonical: id}
		}
		ident = Identity{Canonical: id}
	}
	r.toCache(ctx, id, ident)
	return ident
}

func (r *Resolver) lookup(ctx context.Context, id string) (Identity, error) {
	var user *models.User
	var err error = database.ErrNotFound

	if primitive.IsValidObjectID(id) {
		user, err = r.users.FindByID(ctx, id)
	}
	if errors.Is(err, database.ErrNotFound) {
		user, err = r.users.FindByLegacyID(ctx, id)
	}
	if errors.Is(err, database.ErrNotFound) {
		var acct *models.Account
		acct, err = r.accounts.FindByProviderAccountID(ctx, id)
		if err != nil {
			return Identity{}, err
		}
		user, err = r.users.FindByID(ctx, acct.UserID)
		if errors.Is(err, database.ErrNotFound) {
			// account points at a user we cannot load; the account's user id is still the best canonical
			return Identity{Canonical: acct.UserID, Alternates: []string{id}}, nil
		}
	}
	if err != nil {
		return Identity{}, err
	}
	return r.fromUser(ctx, user)
}

func (r *Resolver) fromUser(ctx context.Context, user *models.User) (Identity, error) {
	canonical := user.ID.Hex()
	ident := Identity{Canonical: canonical}
	if user.LegacyID != "" && user.LegacyID != canonical {
		ident.Alternates = append(ident.Alternates, user.LegacyID)
	}

	accounts, err := r.accounts.ListByUser(ctx, canonical)
	if err != nil {
		return Identity{}, err
	}
	for _, a := range accounts {
		if a.ProviderAccountID != canonical && !contains(ident.Alternates, a.ProviderAccountID) {
			ident.Alternates = append(ident.Alternates, a.ProviderAccountID)
		}
	}
	if len(ident.Alternates) > maxIDs-1 {
		ident.Alternates = ident.Alternates[:maxIDs-1]
	}
	return ident, nil
}

// Forget drops cached entries for every id of ident.
func (r *Resolver) Forget(ctx context.Context, ident Identity) {
	if r.cache == nil {
		return
	}
	keys := make([]string, 0, 3)
	for _, id := range ident.All() {
		keys = append(keys, cacheKey(id))
	}
	if err := r.cache.Del(ctx, keys...).Err(); err != nil {
		logger.Warn("identity cache invalidate failed", zap.Error(err))
	}
}

func cacheKey(id string) string { return "identity:" + id }

func (r *Resolver) fromCache(ctx context.Context, id string) (Identity, bool) {
	if r.cache == nil {
		return Identity{}, false
	}
	raw, err := r.cache.Get(ctx, cacheKey(id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.Warn("identity cache read failed", zap.Error(err))
		}
		return Identity{}, false
	}
	var ident Identity
	if err := json.Unmarshal(raw, &ident); err != nil || ident.Canonical == "" {
		return Identity{}, false
	}
	return ident, true
}

func (r *Resolver) toCache(ctx context.Context, id string, ident Identity) {
	if r.cache == nil {
		return
	}
	raw, err := json.Marshal(ident)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, cacheKey(id), raw, r.ttl).Err(); err != nil {
		logger.Warn("identity cache write failed", zap.Error(err))
	}
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
