// Package authpw provides email/password accounts: sign-up signs in
// immediately, sign-in is throttled per email, and passwords can be reset
// with a one-hour token.
package authpw

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"ignisos/api/internal/auth"
	"ignisos/api/internal/store"
	"ignisos/api/internal/util"
)

const (
	MinPasswordLength = 6
	MaxFailures       = 5
	FailureWindow     = 15 * time.Minute
	ResetTTL          = time.Hour
)

// Provider-style error codes returned to the browser.
const (
	CodeEmailInUse        = "auth/email-already-in-use"
	CodeWeakPassword      = "auth/weak-password"
	CodeInvalidEmail      = "auth/invalid-email"
	CodeUserNotFound      = "auth/user-not-found"
	CodeWrongPassword     = "auth/wrong-password"
	CodeInvalidCredential = "auth/invalid-credential"
	CodeTooManyRequests   = "auth/too-many-requests"
)

var messages = map[string]string{
	CodeEmailInUse:        "Este email ya está registrado",
	CodeWeakPassword:      "La contraseña debe tener al menos 6 caracteres",
	CodeInvalidEmail:      "Email inválido",
	CodeUserNotFound:      "Usuario no encontrado",
	CodeWrongPassword:     "Contraseña incorrecta",
	CodeInvalidCredential: "Credenciales inválidas",
	CodeTooManyRequests:   "Demasiados intentos. Intenta más tarde",
}

// Message maps a provider code to its user-facing text.
func Message(code string) string {
	if msg, ok := messages[code]; ok {
		return msg
	}
	return "Error de autenticación"
}

type Error struct {
	Code string
}

func (e *Error) Error() string {
	return Message(e.Code)
}

func fail(code string) error {
	return &Error{Code: code}
}

// UserStore defines the storage interface for auth
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (store.User, error)
	CreateUser(ctx context.Context, user store.User) error
	TouchLastLogin(ctx context.Context, userID string) error
	CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error
	ConsumePasswordReset(ctx context.Context, token, passwordHash string) (string, error)
	RecentSignInFailures(ctx context.Context, email string, window time.Duration) (int, error)
	RecordSignInFailure(ctx context.Context, email string, window time.Duration) error
	ClearSignInFailures(ctx context.Context, email string) error
}

type Service struct {
	store UserStore
}

func NewService(store UserStore) *Service {
	return &Service{store: store}
}

type SignUpRequest struct {
	Email       string
	Password    string
	DisplayName string
}

// SignUp creates the account and returns it signed in. The display name
// falls back to the part of the email before '@'.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (store.User, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return store.User{}, err
	}
	if len(req.Password) < MinPasswordLength {
		return store.User{}, fail(CodeWeakPassword)
	}

	if _, err := s.store.GetUserByEmail(ctx, email); err == nil {
		return store.User{}, fail(CodeEmailInUse)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}

	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		displayName, _, _ = strings.Cut(email, "@")
	}
	now := time.Now().UTC()
	user := store.User{
		ID:           util.NewID("usr"),
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: string(hash),
		CreatedAt:    now,
		LastLoginAt:  &now,
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			return store.User{}, fail(CodeEmailInUse)
		}
		return store.User{}, fmt.Errorf("create user: %w", err)
	}
	if err := s.store.TouchLastLogin(ctx, user.ID); err != nil {
		log.Printf("auth: touch last login for %s: %v", user.ID, err)
	}
	return user, nil
}

type SignInRequest struct {
	Email    string
	Password string
}

// SignIn checks the password. After MaxFailures failed attempts within
// FailureWindow the email is locked until the window passes.
func (s *Service) SignIn(ctx context.Context, req SignInRequest) (store.User, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return store.User{}, err
	}
	if req.Password == "" {
		return store.User{}, fail(CodeInvalidCredential)
	}

	failures, err := s.store.RecentSignInFailures(ctx, email, FailureWindow)
	if err != nil {
		return store.User{}, err
	}
	if failures >= MaxFailures {
		return store.User{}, fail(CodeTooManyRequests)
	}

	user, err := s.store.GetUserByEmail(ctx, email)
	if errors.Is(err, sql.ErrNoRows) {
		s.recordFailure(ctx, email)
		return store.User{}, fail(CodeUserNotFound)
	}
	if err != nil {
		return store.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		s.recordFailure(ctx, email)
		return store.User{}, fail(CodeWrongPassword)
	}

	if err := s.store.ClearSignInFailures(ctx, email); err != nil {
		log.Printf("auth: clear sign-in failures for %s: %v", email, err)
	}
	if err := s.store.TouchLastLogin(ctx, user.ID); err != nil {
		log.Printf("auth: touch last login for %s: %v", user.ID, err)
	}
	return user, nil
}

func (s *Service) recordFailure(ctx context.Context, email string) {
	if err := s.store.RecordSignInFailure(ctx, email, FailureWindow); err != nil {
		log.Printf("auth: record sign-in failure for %s: %v", email, err)
	}
}

// RequestPasswordReset returns a reset token for a known email and "" for
// an unknown one, so callers cannot tell the two apart.
func (s *Service) RequestPasswordReset(ctx context.Context, email string) (store.User, string, error) {
	normalized, err := normalizeEmail(email)
	if err != nil {
		return store.User{}, "", err
	}
	user, err := s.store.GetUserByEmail(ctx, normalized)
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, "", nil
	}
	if err != nil {
		return store.User{}, "", fmt.Errorf("lookup user: %w", err)
	}

	token, err := util.NewSecret(32)
	if err != nil {
		return store.User{}, "", err
	}
	if err := s.store.CreatePasswordReset(ctx, user.ID, auth.HashToken(token), time.Now().Add(ResetTTL)); err != nil {
		return store.User{}, "", err
	}
	return user, token, nil
}

type ResetPasswordRequest struct {
	Token       string
	NewPassword string
}

var ErrInvalidResetToken = errors.New("el enlace para restablecer la contraseña no es válido o expiró")

// ResetPassword consumes the token and returns the id of the user whose
// password changed.
func (s *Service) ResetPassword(ctx context.Context, req ResetPasswordRequest) (string, error) {
	if len(req.NewPassword) < MinPasswordLength {
		return "", fail(CodeWeakPassword)
	}
	if req.Token == "" {
		return "", ErrInvalidResetToken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	userID, err := s.store.ConsumePasswordReset(ctx, auth.HashToken(req.Token), string(hash))
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrInvalidResetToken
	}
	if err != nil {
		return "", fmt.Errorf("consume reset token: %w", err)
	}
	return userID, nil
}

func normalizeEmail(raw string) (string, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email, "@") {
		return "", fail(CodeInvalidEmail)
	}
	return email, nil
}
