package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"golang.org/x/crypto/bcrypt"

	"LIBRIS-backend/internal/platform/gateway"
	"LIBRIS-backend/internal/platform/metrics"
)

const (
	RoleAdmin = "admin"
	RoleUser  = "user"
)

var (
	ErrInvalidCredentials = errors.New("invalid-credentials")
	ErrEmailTaken         = errors.New("email-taken")
	ErrInvalidInput       = errors.New("invalid-input")
	ErrNotFound           = errors.New("not found")
	// ErrUnknown は下位（DB・profiles）の失敗を包む
	ErrUnknown = errors.New("unknown")
)

func unknown(err error) error {
	return fmt.Errorf("%w: %v", ErrUnknown, err)
}

// ValidRole: admin か user
func ValidRole(r string) bool { return r == RoleAdmin || r == RoleUser }

// Session はサインイン結果（トークン付き）
type Session struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// -------------- Clock & ID --------------

type Clock interface{ Now() time.Time }
type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

type IDGen interface{ New() (string, error) }
type ulidGen struct{}

func (ulidGen) New() (string, error) {
	id, err := ulid.New(ulid.Timestamp(time.Now().UTC()), ulid.Monotonic(rand.Reader, 0))
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// -------------- Service --------------

type Options struct {
	Secret      []byte
	TTL         time.Duration
	DefaultRole string
	BcryptCost  int // 0 なら bcrypt.DefaultCost
}

type Service struct {
	store    AccountStore
	profiles gateway.Profiles
	opt      Options
	clock    Clock
	id       IDGen
}

type AuthService interface {
	SignIn(ctx context.Context, email, password string) (*Session, error)
	SignUp(ctx context.Context, email, password, name string) (*Identity, error)
	SetRole(ctx context.Context, id, role string) error
	Profile(ctx context.Context, id string) (*gateway.Profile, error)
}

var _ AuthService = (*Service)(nil)

func NewService(store AccountStore, profiles gateway.Profiles, opt Options) *Service {
	if opt.TTL <= 0 {
		opt.TTL = 24 * time.Hour
	}
	if !ValidRole(opt.DefaultRole) {
		opt.DefaultRole = RoleUser
	}
	if opt.BcryptCost == 0 {
		opt.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		store:    store,
		profiles: profiles,
		opt:      opt,
		clock:    realClock{},
		id:       ulidGen{},
	}
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// SignIn: パスワード照合 → 初回なら profile 作成 → JWT 発行
func (s *Service) SignIn(ctx context.Context, email, password string) (*Session, error) {
	sess, err := s.signIn(ctx, normalizeEmail(email), password)
	switch {
	case err == nil:
		metrics.SignIns.WithLabelValues("ok").Inc()
	case errors.Is(err, ErrInvalidCredentials):
		metrics.SignIns.WithLabelValues("invalid-credentials").Inc()
	default:
		metrics.SignIns.WithLabelValues("unknown").Inc()
	}
	return sess, err
}

func (s *Service) signIn(ctx context.Context, email, password string) (*Session, error) {
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	acct, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		return nil, unknown(err)
	}
	if acct == nil || acct.IsDisabled {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(acct.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	p, err := s.ensureProfile(ctx, acct)
	if err != nil {
		return nil, unknown(err)
	}

	// ロールは profiles 行 → アカウントのメタデータの順
	role := p.Role
	if !ValidRole(role) {
		role = acct.Role
	}
	if !ValidRole(role) {
		role = s.opt.DefaultRole
	}

	now := s.clock.Now()
	exp := now.Add(s.opt.TTL)
	token, err := s.issue(acct.ID, acct.Email, role, now, exp)
	if err != nil {
		return nil, unknown(err)
	}
	return &Session{ID: acct.ID, Email: acct.Email, Role: role, Token: token, ExpiresAt: exp}, nil
}

// ensureProfile は profile が無ければ作る（読み取り→書き込みの2往復。原子的ではない）
func (s *Service) ensureProfile(ctx context.Context, acct *Account) (*gateway.Profile, error) {
	id := acct.ID
	rows, err := s.profiles.QueryProfiles(ctx, gateway.ProfileFilter{ID: &id})
	if err != nil {
		return nil, err
	}
	if len(rows) > 0 {
		return &rows[0], nil
	}

	role := acct.Role
	if !ValidRole(role) {
		role = s.opt.DefaultRole
	}
	p := gateway.Profile{
		ID:        acct.ID,
		Name:      displayName(acct.Email),
		Email:     acct.Email,
		Role:      role,
		CreatedAt: s.clock.Now(),
	}
	if _, err := s.profiles.InsertProfile(ctx, p); err != nil {
		// 同時サインインで先に作られた場合は読み直す
		if errors.Is(err, gateway.ErrDuplicate) {
			rows, qerr := s.profiles.QueryProfiles(ctx, gateway.ProfileFilter{ID: &id})
			if qerr == nil && len(rows) > 0 {
				return &rows[0], nil
			}
		}
		return nil, err
	}
	log.Printf("[INFO] profile created on first sign-in: id=%s", acct.ID)
	return &p, nil
}

// メールアドレスのローカル部を仮の表示名にする
func displayName(email string) string {
	if i := strings.IndexByte(email, '@'); i > 0 {
		return email[:i]
	}
	return email
}

func (s *Service) issue(sub, email, role string, now, exp time.Time) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   sub,
		"email": email,
		"role":  role,
		"iat":   now.Unix(),
		"exp":   exp.Unix(),
	})
	return token.SignedString(s.opt.Secret)
}

// SignUp: アカウント作成 → profile 作成。メール重複なら profile は作らない
func (s *Service) SignUp(ctx context.Context, email, password, name string) (*Identity, error) {
	email = normalizeEmail(email)
	name = strings.TrimSpace(name)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("%w: invalid email", ErrInvalidInput)
	}
	if len(password) < 6 {
		return nil, fmt.Errorf("%w: password must be at least 6 characters", ErrInvalidInput)
	}
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}

	exists, err := s.store.GetByEmail(ctx, email)
	if err != nil {
		return nil, unknown(err)
	}
	if exists != nil {
		return nil, ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.opt.BcryptCost)
	if err != nil {
		return nil, unknown(err)
	}
	id, err := s.id.New()
	if err != nil {
		return nil, unknown(err)
	}
	now := s.clock.Now()
	acct := &Account{
		ID:           id,
		Email:        email,
		PasswordHash: string(hash),
		Role:         s.opt.DefaultRole,
		CreatedAt:    now,
	}
	if err := s.store.Create(ctx, acct); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, ErrEmailTaken
		}
		return nil, unknown(err)
	}

	if _, err := s.profiles.InsertProfile(ctx, gateway.Profile{
		ID:        id,
		Name:      name,
		Email:     email,
		Role:      acct.Role,
		CreatedAt: now,
	}); err != nil {
		// アカウントは残る。次回サインインで profile が作られる
		log.Printf("[WARN] profile insert after sign-up failed: id=%s err=%v", id, err)
		return nil, unknown(err)
	}
	return &Identity{ID: id, Email: email}, nil
}

// SetRole はアカウントと（あれば）profile のロールを揃えて変更する
func (s *Service) SetRole(ctx context.Context, id, role string) error {
	if !ValidRole(role) {
		return fmt.Errorf("%w: role must be admin or user", ErrInvalidInput)
	}
	if err := s.store.SetRole(ctx, id, role); err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return unknown(err)
	}
	if err := s.profiles.UpdateProfile(ctx, id, gateway.ProfilePatch{Role: &role}); err != nil && !errors.Is(err, gateway.ErrNotFound) {
		return unknown(err)
	}
	return nil
}

// Profile は /me 用。profile 行が無ければ ErrNotFound
func (s *Service) Profile(ctx context.Context, id string) (*gateway.Profile, error) {
	rows, err := s.profiles.QueryProfiles(ctx, gateway.ProfileFilter{ID: &id})
	if err != nil {
		return nil, unknown(err)
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}
