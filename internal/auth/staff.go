package auth

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	pkgerrors "github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"rollcall/internal/store"
)

// Role gates what a staff member may do.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleFaculty Role = "faculty"
	RoleViewer  Role = "viewer"
)

func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleFaculty || r == RoleViewer
}

// Staff is a console user allowed to mark attendance.
type Staff struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Role         Role      `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

var (
	ErrStaffNotFound      = errors.New("staff not found")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// StaffStore persists staff accounts.
type StaffStore interface {
	StaffByEmail(ctx context.Context, email string) (Staff, error)
	CreateStaff(ctx context.Context, s Staff) (Staff, error)
}

func normalizeEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }

// HashPassword hashes a plaintext password with bcrypt.
func HashPassword(password string) (string, error) {
	if len(password) < 8 {
		return "", errors.New("password must be at least 8 characters")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// Authenticator checks credentials and issues tokens.
type Authenticator struct {
	staff StaffStore
	cfg   TokenConfig
}

func NewAuthenticator(staff StaffStore, cfg TokenConfig) *Authenticator {
	return &Authenticator{staff: staff, cfg: cfg}
}

func (a *Authenticator) Config() TokenConfig { return a.cfg }

// Login exchanges an email and password for a token pair.
func (a *Authenticator) Login(ctx context.Context, email, password string) (Staff, TokenPair, error) {
	s, err := a.staff.StaffByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, ErrStaffNotFound) {
		return Staff{}, TokenPair{}, ErrInvalidCredentials
	}
	if err != nil {
		return Staff{}, TokenPair{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(s.PasswordHash), []byte(password)) != nil {
		return Staff{}, TokenPair{}, ErrInvalidCredentials
	}
	tokens, err := Issue(s, a.cfg)
	if err != nil {
		return Staff{}, TokenPair{}, err
	}
	return s, tokens, nil
}

// Refresh exchanges a valid refresh token for a new pair.
func (a *Authenticator) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := Parse(refreshToken, a.cfg, RefreshToken)
	if err != nil {
		return TokenPair{}, err
	}
	s, err := a.staff.StaffByEmail(ctx, claims.Email)
	if err != nil {
		return TokenPair{}, ErrInvalidToken
	}
	return Issue(s, a.cfg)
}

// Bootstrap creates the first admin account unless one with that email exists.
func (a *Authenticator) Bootstrap(ctx context.Context, email, password string) (Staff, bool, error) {
	email = normalizeEmail(email)
	if s, err := a.staff.StaffByEmail(ctx, email); err == nil {
		return s, false, nil
	} else if !errors.Is(err, ErrStaffNotFound) {
		return Staff{}, false, err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return Staff{}, false, err
	}
	s, err := a.staff.CreateStaff(ctx, Staff{Email: email, Name: "Administrator", Role: RoleAdmin, PasswordHash: hash})
	return s, err == nil, err
}

// MemoryStaff keeps staff accounts in memory.
type MemoryStaff struct {
	mu      sync.RWMutex
	byEmail map[string]Staff
}

func NewMemoryStaff() *MemoryStaff { return &MemoryStaff{byEmail: make(map[string]Staff)} }

func (m *MemoryStaff) StaffByEmail(_ context.Context, email string) (Staff, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.byEmail[normalizeEmail(email)]
	if !ok {
		return Staff{}, ErrStaffNotFound
	}
	return s, nil
}

func (m *MemoryStaff) CreateStaff(_ context.Context, s Staff) (Staff, error) {
	if !s.Role.Valid() {
		return Staff{}, errors.New("invalid role " + string(s.Role))
	}
	s.Email = normalizeEmail(s.Email)
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[s.Email]; ok {
		return Staff{}, errors.New("staff email already registered")
	}
	m.byEmail[s.Email] = s
	return s, nil
}

// SQLStaff stores staff accounts in the staff table.
type SQLStaff struct {
	db *store.DB
}

func NewSQLStaff(db *store.DB) *SQLStaff { return &SQLStaff{db: db} }

func (r *SQLStaff) StaffByEmail(ctx context.Context, email string) (Staff, error) {
	row := r.db.Client.QueryRowContext(ctx, r.db.Rebind(`
		SELECT id, email, name, role, password_hash, created_at
		FROM staff WHERE email = ?`), normalizeEmail(email))
	var s Staff
	var created int64
	if err := row.Scan(&s.ID, &s.Email, &s.Name, &s.Role, &s.PasswordHash, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Staff{}, ErrStaffNotFound
		}
		return Staff{}, pkgerrors.Wrap(err, "query staff")
	}
	s.CreatedAt = store.FromMillis(created)
	return s, nil
}

func (r *SQLStaff) CreateStaff(ctx context.Context, s Staff) (Staff, error) {
	if !s.Role.Valid() {
		return Staff{}, errors.New("invalid role " + string(s.Role))
	}
	s.Email = normalizeEmail(s.Email)
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.Client.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO staff (id, email, name, role, password_hash, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		s.ID, s.Email, s.Name, string(s.Role), s.PasswordHash, store.ToMillis(s.CreatedAt))
	if err != nil {
		return Staff{}, pkgerrors.Wrap(err, "insert staff")
	}
	return s, nil
}
