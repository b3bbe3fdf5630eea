package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/trentd187/puckdrop/internal/models"
)

// Organizations manages organizations, their admins and their subscribers.
type Organizations struct {
	db     *gorm.DB
	notify *Notifications
	log    *zap.Logger
}

// NewOrganizations wires the organizations service.
func NewOrganizations(db *gorm.DB, notify *Notifications, log *zap.Logger) *Organizations {
	return &Organizations{db: db, notify: notify, log: log}
}

// CreateOrganizationInput is the body of POST /api/v1/organizations.
type CreateOrganizationInput struct {
	Name        string             `json:"name" validate:"required,min=2,max=120"`
	Description *string            `json:"description" validate:"omitempty,max=2000"`
	Location    *string            `json:"location" validate:"omitempty,max=200"`
	SkillLevel  *models.SkillLevel `json:"skill_level" validate:"omitempty,oneof=beginner intermediate advanced elite"`
}

// OrganizationView is an organization as seen by one viewer.
type OrganizationView struct {
	models.Organization
	SubscriberCount int64
	IsSubscribed    bool
	IsAdmin         bool
}

// Create makes a new organization. The creator becomes its first admin and is
// subscribed to it.
func (s *Organizations) Create(ctx context.Context, actor Actor, in CreateOrganizationInput) (*models.Organization, error) {
	if !actor.CanOrganize() {
		return nil, forbidden("only organizers can create organizations")
	}
	if err := validateInput(in); err != nil {
		return nil, err
	}

	org := models.Organization{
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Location:    in.Location,
		SkillLevel:  in.SkillLevel,
		IsActive:    true,
		CreatedBy:   actor.ID,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit(clause.Associations).Create(&org).Error; err != nil {
			return conflictOr(err, "an organization with this name already exists")
		}
		if err := tx.Create(&models.OrganizationAdmin{OrganizationID: org.ID, UserID: actor.ID}).Error; err != nil {
			return err
		}
		return tx.Create(&models.OrganizationSubscription{OrganizationID: org.ID, UserID: actor.ID, Notify: true}).Error
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("organization created", zap.String("organization_id", org.ID.String()))
	return &org, nil
}

// Get returns one organization with its subscriber count and what the viewer can do
// with it.
func (s *Organizations) Get(ctx context.Context, id uuid.UUID, viewer Actor) (*OrganizationView, error) {
	var org models.Organization
	if err := s.db.WithContext(ctx).Preload("Creator").First(&org, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "organization")
	}
	if !org.IsActive && !viewer.IsAdmin() {
		admin, err := isOrgAdmin(s.db.WithContext(ctx), org.ID, viewer.ID)
		if err != nil {
			return nil, err
		}
		if !admin {
			return nil, notFound(gorm.ErrRecordNotFound, "organization")
		}
	}
	views, err := s.decorate(ctx, []models.Organization{org}, viewer)
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

// OrganizationFilter narrows List.
type OrganizationFilter struct {
	Query           string
	IncludeInactive bool // Honoured for site admins only
	SubscribedOnly  bool
}

// List returns active organizations by name. Site admins can ask for inactive ones too.
func (s *Organizations) List(ctx context.Context, viewer Actor, f OrganizationFilter) ([]OrganizationView, error) {
	q := s.db.WithContext(ctx).Model(&models.Organization{})
	if !(f.IncludeInactive && viewer.IsAdmin()) {
		q = q.Where("is_active")
	}
	if f.Query != "" {
		q = q.Where("lower(name) LIKE ?", "%"+strings.ToLower(f.Query)+"%")
	}
	if f.SubscribedOnly {
		q = q.Where("id IN (?)", s.db.Model(&models.OrganizationSubscription{}).
			Select("organization_id").Where("user_id = ?", viewer.ID))
	}

	var orgs []models.Organization
	if err := q.Order("name").Find(&orgs).Error; err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}
	return s.decorate(ctx, orgs, viewer)
}

// decorate adds the subscriber count and the viewer's relationship to each organization
// with three queries in total, however many organizations there are.
func (s *Organizations) decorate(ctx context.Context, orgs []models.Organization, viewer Actor) ([]OrganizationView, error) {
	views := make([]OrganizationView, len(orgs))
	if len(orgs) == 0 {
		return views, nil
	}
	ids := make([]uuid.UUID, len(orgs))
	for i, o := range orgs {
		ids[i] = o.ID
	}

	var counts []struct {
		OrganizationID uuid.UUID
		N              int64
	}
	db := s.db.WithContext(ctx)
	if err := db.Model(&models.OrganizationSubscription{}).
		Select("organization_id, count(*) AS n").
		Where("organization_id IN ?", ids).
		Group("organization_id").Scan(&counts).Error; err != nil {
		return nil, fmt.Errorf("count subscribers: %w", err)
	}
	var subscribed, administered []uuid.UUID
	if err := db.Model(&models.OrganizationSubscription{}).
		Where("organization_id IN ? AND user_id = ?", ids, viewer.ID).
		Pluck("organization_id", &subscribed).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.OrganizationAdmin{}).
		Where("organization_id IN ? AND user_id = ?", ids, viewer.ID).
		Pluck("organization_id", &administered).Error; err != nil {
		return nil, err
	}

	countBy := map[uuid.UUID]int64{}
	for _, c := range counts {
		countBy[c.OrganizationID] = c.N
	}
	sub := setOf(subscribed)
	adm := setOf(administered)
	for i, o := range orgs {
		views[i] = OrganizationView{
			Organization:    o,
			SubscriberCount: countBy[o.ID],
			IsSubscribed:    sub[o.ID],
			IsAdmin:         adm[o.ID] || viewer.IsAdmin(),
		}
	}
	return views, nil
}

// UpdateOrganizationInput holds the editable fields. Nil means "leave unchanged".
type UpdateOrganizationInput struct {
	Name        *string            `json:"name" validate:"omitempty,min=2,max=120"`
	Description *string            `json:"description" validate:"omitempty,max=2000"`
	Location    *string            `json:"location" validate:"omitempty,max=200"`
	SkillLevel  *models.SkillLevel `json:"skill_level" validate:"omitempty,oneof=beginner intermediate advanced elite"`
}

// Update edits an organization. Org admins and site admins only.
func (s *Organizations) Update(ctx context.Context, actor Actor, id uuid.UUID, in UpdateOrganizationInput) (*models.Organization, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	org, err := s.requireAdmin(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	changes := map[string]any{}
	if in.Name != nil {
		changes["name"] = strings.TrimSpace(*in.Name)
	}
	if in.Description != nil {
		changes["description"] = emptyToNil(*in.Description)
	}
	if in.Location != nil {
		changes["location"] = emptyToNil(*in.Location)
	}
	if in.SkillLevel != nil {
		changes["skill_level"] = *in.SkillLevel
	}
	if len(changes) > 0 {
		if err := s.db.WithContext(ctx).Model(org).Updates(changes).Error; err != nil {
			return nil, conflictOr(err, "an organization with this name already exists")
		}
	}
	return s.load(ctx, id)
}

// SetActive deactivates or reactivates an organization. Inactive organizations are
// hidden from players and cannot host new events or take new subscribers.
func (s *Organizations) SetActive(ctx context.Context, actor Actor, id uuid.UUID, active bool) (*models.Organization, error) {
	org, err := s.requireAdmin(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	if org.IsActive == active {
		return org, nil
	}
	if err := s.db.WithContext(ctx).Model(org).Update("is_active", active).Error; err != nil {
		return nil, fmt.Errorf("set active: %w", err)
	}
	org.IsActive = active
	s.log.Info("organization active flag changed", zap.String("organization_id", id.String()), zap.Bool("active", active))
	return org, nil
}

// Subscribe follows an active organization so the actor hears about its new games
// and tournaments. Subscribing twice is a conflict.
func (s *Organizations) Subscribe(ctx context.Context, actor Actor, id uuid.UUID) error {
	org, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if !org.IsActive {
		return invalidState("organization is inactive")
	}
	sub := models.OrganizationSubscription{OrganizationID: id, UserID: actor.ID, Notify: true}
	if err := s.db.WithContext(ctx).Create(&sub).Error; err != nil {
		return conflictOr(err, "already subscribed")
	}
	return nil
}

// Unsubscribe stops following an organization.
func (s *Organizations) Unsubscribe(ctx context.Context, actor Actor, id uuid.UUID) error {
	res := s.db.WithContext(ctx).
		Where("organization_id = ? AND user_id = ?", id, actor.ID).
		Delete(&models.OrganizationSubscription{})
	if res.Error != nil {
		return fmt.Errorf("unsubscribe: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound(gorm.ErrRecordNotFound, "subscription")
	}
	return nil
}

// Subscribers lists the organization's subscribers for its admins.
func (s *Organizations) Subscribers(ctx context.Context, actor Actor, id uuid.UUID) ([]models.OrganizationSubscription, error) {
	if _, err := s.requireAdmin(ctx, actor, id); err != nil {
		return nil, err
	}
	var subs []models.OrganizationSubscription
	err := s.db.WithContext(ctx).Preload("User").
		Where("organization_id = ?", id).Order("created_at").Find(&subs).Error
	return subs, err
}

// Admins lists the organization's admins.
func (s *Organizations) Admins(ctx context.Context, id uuid.UUID) ([]models.OrganizationAdmin, error) {
	var admins []models.OrganizationAdmin
	err := s.db.WithContext(ctx).Preload("User").
		Where("organization_id = ?", id).Order("created_at").Find(&admins).Error
	return admins, err
}

// AddAdmin makes userID an admin of the organization.
func (s *Organizations) AddAdmin(ctx context.Context, actor Actor, id, userID uuid.UUID) error {
	if _, err := s.requireAdmin(ctx, actor, id); err != nil {
		return err
	}
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		return notFound(err, "user")
	}
	if err := s.db.WithContext(ctx).Create(&models.OrganizationAdmin{OrganizationID: id, UserID: userID}).Error; err != nil {
		return conflictOr(err, "user is already an admin")
	}
	return nil
}

// RemoveAdmin revokes admin rights. An organization always keeps at least one admin.
func (s *Organizations) RemoveAdmin(ctx context.Context, actor Actor, id, userID uuid.UUID) error {
	if _, err := s.requireAdmin(ctx, actor, id); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.OrganizationAdmin{}).Where("organization_id = ?", id).Count(&n).Error; err != nil {
			return err
		}
		res := tx.Where("organization_id = ? AND user_id = ?", id, userID).Delete(&models.OrganizationAdmin{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return notFound(gorm.ErrRecordNotFound, "admin")
		}
		if n <= 1 {
			return invalidState("an organization needs at least one admin")
		}
		return nil
	})
}

// notifySubscribers tells everyone subscribed to orgID (with notifications on) about
// something new, except the person who made it.
func (s *Organizations) notifySubscribers(ctx context.Context, orgID, except uuid.UUID, n Notice) {
	var users []uuid.UUID
	err := s.db.WithContext(ctx).Model(&models.OrganizationSubscription{}).
		Where("organization_id = ? AND notify AND user_id <> ?", orgID, except).
		Pluck("user_id", &users).Error
	if err != nil {
		s.log.Error("load subscribers", zap.String("organization_id", orgID.String()), zap.Error(err))
		return
	}
	s.notify.notifyAfter(ctx, users, n)
}

func (s *Organizations) load(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	var org models.Organization
	if err := s.db.WithContext(ctx).First(&org, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "organization")
	}
	return &org, nil
}

// requireAdmin loads the organization and checks that actor may manage it.
func (s *Organizations) requireAdmin(ctx context.Context, actor Actor, id uuid.UUID) (*models.Organization, error) {
	org, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.IsAdmin() {
		return org, nil
	}
	ok, err := isOrgAdmin(s.db.WithContext(ctx), id, actor.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, forbidden("you are not an admin of this organization")
	}
	return org, nil
}

func isOrgAdmin(db *gorm.DB, orgID, userID uuid.UUID) (bool, error) {
	var row models.OrganizationAdmin
	err := db.Where("organization_id = ? AND user_id = ?", orgID, userID).Take(&row).Error
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("check organization admin: %w", err)
	}
}

func setOf(ids []uuid.UUID) map[uuid.UUID]bool {
	m := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}
