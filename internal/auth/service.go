// Package auth issues and checks bearer tokens. The authenticated user is the
// actor recorded on stage events, approvals and submissions.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/david/govcapture/internal/db"
	"github.com/david/govcapture/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrUserExists    = errors.New("user already exists")
	ErrInvalidCreds  = errors.New("invalid credentials")
	ErrInvalidSignup = errors.New("invalid signup")
	ErrForbiddenRole = errors.New("role requires the admin secret")

	fallbackOnce   sync.Once
	fallbackSecret []byte
	fallbackErr    error
)

const tokenTTL = 24 * time.Hour

// ephemeralSecret is used when no JWT secret is configured. Tokens do not
// survive a restart.
func ephemeralSecret() ([]byte, error) {
	fallbackOnce.Do(func() {
		buf := make([]byte, 48)
		if _, err := rand.Read(buf); err != nil {
			fallbackErr = fmt.Errorf("failed to generate JWT fallback secret: %w", err)
			return
		}
		fallbackSecret = []byte(base64.RawURLEncoding.EncodeToString(buf))
		log.Print("[auth] JWT_SECRET is not set; using ephemeral in-memory fallback secret")
	})
	return fallbackSecret, fallbackErr
}

type UserStore interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
}

type SignupRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	Role        string `json:"role,omitempty"`
	AdminSecret string `json:"admin_secret,omitempty"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Token string      `json:"token"`
	User  models.User `json:"user"`
}

type Service struct {
	store       UserStore
	secret      []byte
	adminSecret string
	now         func() time.Time
}

// NewService builds the auth service. An empty jwtSecret falls back to a
// per-process random secret.
func NewService(store UserStore, jwtSecret, adminSecret string) (*Service, error) {
	secret := []byte(strings.TrimSpace(jwtSecret))
	if len(secret) == 0 {
		var err error
		if secret, err = ephemeralSecret(); err != nil {
			return nil, err
		}
	}
	return &Service{store: store, secret: secret, adminSecret: adminSecret, now: time.Now}, nil
}

func (s *Service) Signup(ctx context.Context, req SignupRequest) (*AuthResponse, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("%w: email is not valid", ErrInvalidSignup)
	}
	if len(req.Password) < 8 {
		return nil, fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidSignup)
	}
	role := strings.ToLower(strings.TrimSpace(req.Role))
	switch role {
	case "", models.RoleMember:
		role = models.RoleMember
	case models.RoleOfficer, models.RoleAdmin:
		if s.adminSecret == "" || subtle.ConstantTimeCompare([]byte(req.AdminSecret), []byte(s.adminSecret)) != 1 {
			return nil, ErrForbiddenRole
		}
	default:
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidSignup, req.Role)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing failed: %w", err)
	}
	user := models.User{Email: email, PasswordHash: string(hash), Role: role}
	if err := s.store.CreateUser(ctx, &user); err != nil {
		if errors.Is(err, db.ErrConflict) {
			return nil, ErrUserExists
		}
		return nil, err
	}

	token, err := s.generateToken(user)
	if err != nil {
		return nil, err
	}
	user.PasswordHash = ""
	return &AuthResponse{Token: token, User: user}, nil
}

func (s *Service) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	user, err := s.store.GetUserByEmail(ctx, strings.TrimSpace(req.Email))
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrInvalidCreds
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrInvalidCreds
	}

	token, err := s.generateToken(user)
	if err != nil {
		return nil, err
	}
	user.PasswordHash = ""
	return &AuthResponse{Token: token, User: user}, nil
}

type claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

func (s *Service) generateToken(u models.User) (string, error) {
	now := s.now()
	c := claims{
		Email: u.Email,
		Role:  u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
}

// Identity is the authenticated caller.
type Identity struct {
	UserID uuid.UUID
	Email  string
	Role   string
}

// Actor is the name recorded in history for this caller.
func (id Identity) Actor() string {
	if id.Email != "" {
		return id.Email
	}
	return id.UserID.String()
}

func (s *Service) ParseToken(token string) (Identity, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Identity{}, fmt.Errorf("invalid or expired token: %w", err)
	}
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return Identity{}, fmt.Errorf("invalid user id in token: %w", err)
	}
	role := c.Role
	if role == "" {
		role = models.RoleMember
	}
	return Identity{UserID: id, Email: c.Email, Role: role}, nil
}
