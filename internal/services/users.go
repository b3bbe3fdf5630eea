package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/trentd187/puckdrop/internal/apperr"
	"github.com/trentd187/puckdrop/internal/auth"
	"github.com/trentd187/puckdrop/internal/models"
	"github.com/trentd187/puckdrop/internal/push"
)

// Users handles sign-up, login and profiles.
type Users struct {
	db     *gorm.DB
	tokens *auth.TokenIssuer
	log    *zap.Logger
}

// NewUsers wires the users service with the issuer that signs session tokens.
func NewUsers(db *gorm.DB, tokens *auth.TokenIssuer, log *zap.Logger) *Users {
	return &Users{db: db, tokens: tokens, log: log}
}

// RegisterInput is the sign-up form.
type RegisterInput struct {
	Email       string            `json:"email" validate:"required,email,max=254"`
	Password    string            `json:"password" validate:"required,min=8,max=72"`
	FirstName   string            `json:"first_name" validate:"required,max=100"`
	LastName    string            `json:"last_name" validate:"max=100"`
	Phone       *string           `json:"phone" validate:"omitempty,max=32"`
	SkillLevel  models.SkillLevel `json:"skill_level" validate:"omitempty,oneof=beginner intermediate advanced elite"`
	Position    models.Position   `json:"position" validate:"omitempty,oneof=forward defense goalie"`
	VenmoHandle *string           `json:"venmo_handle" validate:"omitempty,max=64"`
}

// Session is what the app stores after signing in.
type Session struct {
	User      models.User
	Token     string
	ExpiresAt time.Time
}

// Register creates a player account and signs it in.
func (s *Users) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := models.User{
		Email:        strings.ToLower(strings.TrimSpace(in.Email)),
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Phone:        in.Phone,
		SkillLevel:   in.SkillLevel,
		Position:     in.Position,
		VenmoHandle:  normalizeVenmo(in.VenmoHandle),
		Role:         models.UserRolePlayer,
	}
	if user.SkillLevel == "" {
		user.SkillLevel = models.SkillIntermediate
	}
	if user.Position == "" {
		user.Position = models.PositionForward
	}

	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, conflictOr(err, "an account with this email already exists")
	}
	s.log.Info("user registered", zap.String("user_id", user.ID.String()))
	return s.session(user)
}

// Login checks the password and issues a token. Unknown email and wrong password
// give the same error so the endpoint cannot be used to discover which accounts exist.
func (s *Users) Login(ctx context.Context, email, password string) (*Session, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&user).Error
	if err != nil || !auth.CheckPassword(user.PasswordHash, password) {
		return nil, fmt.Errorf("%w: invalid email or password", apperr.ErrUnauthenticated)
	}
	return s.session(user)
}

func (s *Users) session(user models.User) (*Session, error) {
	token, expires, err := s.tokens.Issue(user.ID, string(user.Role))
	if err != nil {
		return nil, err
	}
	return &Session{User: user, Token: token, ExpiresAt: expires}, nil
}

// Get loads one user by ID.
func (s *Users) Get(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "user")
	}
	return &user, nil
}

// UpdateProfileInput holds the editable profile fields. Nil means "leave unchanged".
type UpdateProfileInput struct {
	FirstName   *string            `json:"first_name" validate:"omitempty,min=1,max=100"`
	LastName    *string            `json:"last_name" validate:"omitempty,max=100"`
	Phone       *string            `json:"phone" validate:"omitempty,max=32"`
	SkillLevel  *models.SkillLevel `json:"skill_level" validate:"omitempty,oneof=beginner intermediate advanced elite"`
	Position    *models.Position   `json:"position" validate:"omitempty,oneof=forward defense goalie"`
	VenmoHandle *string            `json:"venmo_handle" validate:"omitempty,max=64"`
}

// UpdateProfile applies the non-nil fields of in to the user's profile.
func (s *Users) UpdateProfile(ctx context.Context, id uuid.UUID, in UpdateProfileInput) (*models.User, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	changes := map[string]any{}
	if in.FirstName != nil {
		changes["first_name"] = strings.TrimSpace(*in.FirstName)
	}
	if in.LastName != nil {
		changes["last_name"] = strings.TrimSpace(*in.LastName)
	}
	if in.Phone != nil {
		changes["phone"] = emptyToNil(*in.Phone)
	}
	if in.SkillLevel != nil {
		changes["skill_level"] = *in.SkillLevel
	}
	if in.Position != nil {
		changes["position"] = *in.Position
	}
	if in.VenmoHandle != nil {
		changes["venmo_handle"] = normalizeVenmo(in.VenmoHandle)
	}

	user, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(changes) == 0 {
		return user, nil
	}
	if err := s.db.WithContext(ctx).Model(user).Updates(changes).Error; err != nil {
		return nil, fmt.Errorf("update profile: %w", err)
	}
	return s.Get(ctx, id)
}

// SetPushToken stores the device's Expo push token. An empty token turns pushes off.
func (s *Users) SetPushToken(ctx context.Context, id uuid.UUID, token string) error {
	token = strings.TrimSpace(token)
	if token != "" && !push.IsExpoToken(token) {
		return invalidInput("push token must be an Expo push token")
	}
	res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", id).
		Update("expo_push_token", emptyToNil(token))
	if res.Error != nil {
		return fmt.Errorf("save push token: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: user", apperr.ErrNotFound)
	}
	return nil
}

// UserFilter narrows the admin user list.
type UserFilter struct {
	Query  string
	Role   models.UserRole
	Limit  int
	Offset int
}

// List is the admin user directory.
func (s *Users) List(ctx context.Context, actor Actor, f UserFilter) ([]models.User, int64, error) {
	if !actor.IsAdmin() {
		return nil, 0, forbidden("only admins can list users")
	}
	q := s.db.WithContext(ctx).Model(&models.User{})
	if f.Query != "" {
		like := "%" + strings.ToLower(f.Query) + "%"
		q = q.Where("lower(email) LIKE ? OR lower(first_name || ' ' || last_name) LIKE ?", like, like)
	}
	if f.Role != "" {
		q = q.Where("role = ?", f.Role)
	}
	// A new session lets the same conditions feed both the count and the page query.
	q = q.Session(&gorm.Session{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	var users []models.User
	if err := q.Order("last_name, first_name").Limit(f.Limit).Offset(f.Offset).Find(&users).Error; err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}
	return users, total, nil
}

// SetRole changes a user's global role. Admins cannot change their own role, so the
// last admin can never lock everyone out.
func (s *Users) SetRole(ctx context.Context, actor Actor, userID uuid.UUID, role models.UserRole) (*models.User, error) {
	if !actor.IsAdmin() {
		return nil, forbidden("only admins can change roles")
	}
	switch role {
	case models.UserRolePlayer, models.UserRoleOrganizer, models.UserRoleAdmin:
	default:
		return nil, invalidInput("unknown role %q", role)
	}
	if userID == actor.ID {
		return nil, invalidState("you cannot change your own role")
	}
	user, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(user).Update("role", role).Error; err != nil {
		return nil, fmt.Errorf("set role: %w", err)
	}
	user.Role = role
	s.log.Info("role changed", zap.String("user_id", userID.String()), zap.String("role", string(role)),
		zap.String("by", actor.ID.String()))
	return user, nil
}

// normalizeVenmo strips the leading "@" people tend to type.
func normalizeVenmo(handle *string) *string {
	if handle == nil {
		return nil
	}
	return emptyToNil(strings.TrimPrefix(strings.TrimSpace(*handle), "@"))
}

func emptyToNil(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
