package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"devconnect/database"
	"devconnect/logger"
	"devconnect/models"
	"devconnect/otp"
	"devconnect/ratelimit"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var phonePattern = regexp.MustCompile(`^\+[1-9][0-9]{7,14}$`)

type OTPStore interface {
	Save(ctx context.Context, code *models.OTPCode) error
	Find(ctx context.Context, phone string) (*models.OTPCode, error)
	// ClaimAttempt spends one attempt atomically and returns the code, or ErrNotFound when
	// there is no code or fewer than one attempt is left.
	ClaimAttempt(ctx context.Context, phone string, max int) (*models.OTPCode, error)
	Delete(ctx context.Context, phone string) error
}

type PhoneUserStore interface {
	FindByPhone(ctx context.Context, phone string) (*models.User, error)
	Create(ctx context.Context, u *models.User) error
}

type TokenIssuer interface {
	IssueToken(userID string) (string, time.Time, error)
}

type AuthResult struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      *models.User `json:"user"`
	Created   bool         `json:"created"`
}

type AuthService struct {
	codes       OTPStore
	users       PhoneUserStore
	sender      otp.Sender
	tokens      TokenIssuer
	limiter     *ratelimit.Limiter
	ttl         time.Duration
	maxAttempts int
	now         clock
	generate    func() (string, error)
}

func NewAuthService(codes OTPStore, users PhoneUserStore, sender otp.Sender, tokens TokenIssuer, ttl time.Duration, maxAttempts int) *AuthService {
	return &AuthService{
		codes:       codes,
		users:       users,
		sender:      sender,
		tokens:      tokens,
		limiter:     ratelimit.PerMinute(3),
		ttl:         ttl,
		maxAttempts: maxAttempts,
		now:         utcNow,
		generate:    randomCode,
	}
}

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func normalizePhone(phone string) (string, error) {
	phone = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(strings.TrimSpace(phone))
	if !phonePattern.MatchString(phone) {
		return "", invalid("phone must be in international format, e.g. +2348012345678")
	}
	return phone, nil
}

// RequestOTP stores a hashed one-time code for phone and delivers it over WhatsApp.
func (s *AuthService) RequestOTP(ctx context.Context, phone string) error {
	phone, err := normalizePhone(phone)
	if err != nil {
		return err
	}
	if !s.limiter.Allow(phone) {
		return fmt.Errorf("%w: wait before requesting another code", ErrRateLimited)
	}

	code, err := s.generate()
	if err != nil {
		return fmt.Errorf("generate otp: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash otp: %w", err)
	}

	now := s.now()
	if err := s.codes.Save(ctx, &models.OTPCode{
		Phone:     phone,
		CodeHash:  string(hash),
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}); err != nil {
		return storeErr(err, "otp")
	}

	if err := s.sender.SendOTP(ctx, phone, code); err != nil {
		if errors.Is(err, otp.ErrNotConfigured) {
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		logger.Error("otp delivery failed", zap.String("phone", phone), zap.Error(err))
		return fmt.Errorf("%w: could not deliver verification code", ErrUnavailable)
	}
	return nil
}

// VerifyOTP checks code against the pending one for phone and signs the user in, creating the
// account on first verification.
func (s *AuthService) VerifyOTP(ctx context.Context, phone, code string) (*AuthResult, error) {
	phone, err := normalizePhone(phone)
	if err != nil {
		return nil, err
	}
	rejected := invalid("invalid or expired code")

	pending, err := s.codes.ClaimAttempt(ctx, phone, s.maxAttempts)
	if errors.Is(err, database.ErrNotFound) {
		if _, ferr := s.codes.Find(ctx, phone); ferr == nil {
			_ = s.codes.Delete(ctx, phone)
			return nil, fmt.Errorf("%w: too many attempts, request a new code", ErrRateLimited)
		}
		return nil, rejected
	}
	if err != nil {
		return nil, storeErr(err, "otp")
	}

	if !s.now().Before(pending.ExpiresAt) {
		_ = s.codes.Delete(ctx, phone)
		return nil, rejected
	}
	if bcrypt.CompareHashAndPassword([]byte(pending.CodeHash), []byte(strings.TrimSpace(code))) != nil {
		return nil, rejected
	}
	if err := s.codes.Delete(ctx, phone); err != nil {
		return nil, storeErr(err, "otp")
	}

	user, created, err := s.findOrCreate(ctx, phone)
	if err != nil {
		return nil, err
	}
	token, exp, err := s.tokens.IssueToken(user.ID.Hex())
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &AuthResult{Token: token, ExpiresAt: exp, User: user, Created: created}, nil
}

// Sweep forgets phone numbers whose request limit has gone idle.
func (s *AuthService) Sweep() int {
	return s.limiter.Sweep()
}

func (s *AuthService) findOrCreate(ctx context.Context, phone string) (*models.User, bool, error) {
	user, err := s.users.FindByPhone(ctx, phone)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, false, storeErr(err, "user")
	}

	user = &models.User{
		Phone:     phone,
		Username:  "user" + strings.TrimPrefix(phone, "+"),
		Role:      models.RoleUser,
		CreatedAt: s.now(),
	}
	err = s.users.Create(ctx, user)
	if database.IsDuplicate(err) {
		// a concurrent verification created it first
		user, err = s.users.FindByPhone(ctx, phone)
		return user, false, storeErr(err, "user")
	}
	if err != nil {
		return nil, false, storeErr(err, "user")
	}
	return user, true, nil
}
