package services

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/trentd187/puckdrop/internal/models"
)

// Rosters splits an event's registered players into light and dark jerseys.
// Rosters splits a game's registered players into light and dark teams.
type Rosters struct {
	db     *gorm.DB
	notify *Notifications
	log    *zap.Logger
	now    Clock
}

// NewRosters wires the roster service.
func NewRosters(db *gorm.DB, notify *Notifications, log *zap.Logger) *Rosters {
	return &Rosters{db: db, notify: notify, log: log, now: SystemClock}
}

// Roster is an event's line-up. Every slice is sorted by position, then name.
type Roster struct {
	Event      models.Event
	Light      []models.EventRegistration
	Dark       []models.EventRegistration
	Unassigned []models.EventRegistration
}

// TeamAssignment moves one registered player. A nil Team takes them off both teams.
type TeamAssignment struct {
	RegistrationID uuid.UUID        `json:"registration_id" validate:"required"`
	Team           *models.Team     `json:"team" validate:"omitempty,oneof=light dark"`
	Position       *models.Position `json:"position" validate:"omitempty,oneof=forward defense goalie"`
}

// Get returns the current line-up, published or not.
func (s *Rosters) Get(ctx context.Context, eventID uuid.UUID) (*Roster, error) {
	db := s.db.WithContext(ctx)
	event, err := loadEvent(db, eventID)
	if err != nil {
		return nil, err
	}
	var regs []models.EventRegistration
	if err := db.Preload("User").
		Where("event_id = ? AND status = ?", eventID, models.RegistrationRegistered).
		Find(&regs).Error; err != nil {
		return nil, fmt.Errorf("load roster: %w", err)
	}
	sort.SliceStable(regs, func(i, j int) bool {
		if a, b := positionOrder(regs[i].Position), positionOrder(regs[j].Position); a != b {
			return a < b
		}
		return regs[i].User.FullName() < regs[j].User.FullName()
	})

	r := &Roster{Event: *event}
	for _, reg := range regs {
		switch {
		case reg.Team == nil:
			r.Unassigned = append(r.Unassigned, reg)
		case *reg.Team == models.TeamLight:
			r.Light = append(r.Light, reg)
		default:
			r.Dark = append(r.Dark, reg)
		}
	}
	return r, nil
}

// AssignTeams applies an organizer's hand-made line-up changes.
func (s *Rosters) AssignTeams(ctx context.Context, actor Actor, eventID uuid.UUID, assignments []TeamAssignment) (*Roster, error) {
	for _, a := range assignments {
		if err := validateInput(a); err != nil {
			return nil, err
		}
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		event, err := requireEventManager(tx, actor, eventID)
		if err != nil {
			return err
		}
		if event.Status != models.EventStatusScheduled {
			return invalidState("event is %s", event.Status)
		}
		for _, a := range assignments {
			changes := map[string]any{"team": a.Team}
			if a.Position != nil {
				changes["position"] = *a.Position
			}
			res := tx.Model(&models.EventRegistration{}).
				Where("id = ? AND event_id = ? AND status = ?", a.RegistrationID, eventID, models.RegistrationRegistered).
				Updates(changes)
			if res.Error != nil {
				return fmt.Errorf("assign team: %w", res.Error)
			}
			if res.RowsAffected == 0 {
				return invalidInput("registration %s is not a registered player of this event", a.RegistrationID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, eventID)
}

// AutoBalance throws out the current line-up and deals every registered player
// onto a team again.
func (s *Rosters) AutoBalance(ctx context.Context, actor Actor, eventID uuid.UUID) (*Roster, error) {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		event, err := requireEventManager(tx, actor, eventID)
		if err != nil {
			return err
		}
		if event.Status != models.EventStatusScheduled {
			return invalidState("event is %s", event.Status)
		}
		return balanceTx(tx, eventID, true)
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, eventID)
}

// Publish finalises the line-up: anyone still unassigned is balanced in, and every
// registered player is told which jersey to bring.
func (s *Rosters) Publish(ctx context.Context, actor Actor, eventID uuid.UUID) (*Roster, error) {
	event, err := requireEventManager(s.db.WithContext(ctx), actor, eventID)
	if err != nil {
		return nil, err
	}
	return s.publish(ctx, event)
}

func (s *Rosters) publish(ctx context.Context, event *models.Event) (*Roster, error) {
	if event.Status != models.EventStatusScheduled {
		return nil, invalidState("event is %s", event.Status)
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := balanceTx(tx, event.ID, false); err != nil {
			return err
		}
		return tx.Model(&models.Event{}).Where("id = ?", event.ID).
			Update("roster_published_at", s.now()).Error
	})
	if err != nil {
		return nil, fmt.Errorf("publish roster: %w", err)
	}

	roster, err := s.Get(ctx, event.ID)
	if err != nil {
		return nil, err
	}
	s.log.Info("roster published",
		zap.String("event_id", event.ID.String()),
		zap.Int("light", len(roster.Light)),
		zap.Int("dark", len(roster.Dark)))

	for team, regs := range map[models.Team][]models.EventRegistration{
		models.TeamLight: roster.Light,
		models.TeamDark:  roster.Dark,
	} {
		s.notify.notifyAfter(ctx, userIDs(regs, func(r models.EventRegistration) uuid.UUID { return r.UserID }), Notice{
			Kind:  models.NotifyRosterPublished,
			Title: "Teams are up",
			Body:  fmt.Sprintf("You're on %s for %s. Bring your %s jersey.", team, event.Name, team),
			Data:  map[string]any{"event_id": event.ID.String(), "team": string(team)},
		})
	}
	return roster, nil
}

// balanceTx assigns teams to registered players. With reset every player is dealt
// again; otherwise only the unassigned ones are, around the existing line-up.
func balanceTx(tx *gorm.DB, eventID uuid.UUID, reset bool) error {
	var regs []models.EventRegistration
	if err := tx.Preload("User").
		Where("event_id = ? AND status = ?", eventID, models.RegistrationRegistered).
		Find(&regs).Error; err != nil {
		return fmt.Errorf("load registrations: %w", err)
	}

	start := map[models.Team]teamCounts{}
	var pool []balancePlayer
	for _, r := range regs {
		if r.Team != nil && !reset {
			c := start[*r.Team]
			c.Players++
			if r.Position == models.PositionGoalie {
				c.Goalies++
			}
			start[*r.Team] = c
			continue
		}
		pool = append(pool, balancePlayer{ID: r.ID, Position: r.Position, Skill: r.User.SkillLevel, RegisteredAt: r.RegisteredAt})
	}

	for id, team := range balanceTeams(pool, start) {
		if err := tx.Model(&models.EventRegistration{}).Where("id = ?", id).Update("team", team).Error; err != nil {
			return fmt.Errorf("assign team: %w", err)
		}
	}
	return nil
}

// Export renders the roster as an Excel workbook for the rink's scoresheet.
func (s *Rosters) Export(ctx context.Context, actor Actor, eventID uuid.UUID) ([]byte, error) {
	if _, err := requireEventManager(s.db.WithContext(ctx), actor, eventID); err != nil {
		return nil, err
	}
	roster, err := s.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return rosterWorkbook(roster)
}

var rosterHeader = []any{"Name", "Position", "Skill", "Payment", "Phone"}

func rosterWorkbook(r *Roster) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}

	sheets := []struct {
		name string
		regs []models.EventRegistration
	}{
		{"Light", r.Light},
		{"Dark", r.Dark},
		{"Unassigned", r.Unassigned},
	}
	for i, sh := range sheets {
		if i == 0 {
			if err := f.SetSheetName(f.GetSheetName(0), sh.name); err != nil {
				return nil, err
			}
		} else if _, err := f.NewSheet(sh.name); err != nil {
			return nil, err
		}

		if err := f.SetSheetRow(sh.name, "A1", &rosterHeader); err != nil {
			return nil, err
		}
		if err := f.SetCellStyle(sh.name, "A1", "E1", bold); err != nil {
			return nil, err
		}
		if err := f.SetColWidth(sh.name, "A", "A", 28); err != nil {
			return nil, err
		}
		for row, reg := range sh.regs {
			axis, err := excelize.CoordinatesToCellName(1, row+2)
			if err != nil {
				return nil, err
			}
			phone := ""
			if reg.User.Phone != nil {
				phone = *reg.User.Phone
			}
			cells := []any{reg.User.FullName(), string(reg.Position), string(reg.User.SkillLevel), string(reg.PaymentStatus), phone}
			if err := f.SetSheetRow(sh.name, axis, &cells); err != nil {
				return nil, err
			}
		}
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// Goalies first, then defense, then forwards, like a line-up card.
func positionOrder(p models.Position) int {
	switch p {
	case models.PositionGoalie:
		return 0
	case models.PositionDefense:
		return 1
	default:
		return 2
	}
}
