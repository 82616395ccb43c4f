package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/smallbiznis/drawline/internal/audit/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectRaffle = "raffle"
	ObjectTicket = "ticket"
	ObjectDraw   = "draw"
	ObjectPayout = "payout"
)

const (
	ActionRaffleCreate          = "raffle.create"
	ActionRaffleView            = "raffle.view"
	ActionRaffleSubmit          = "raffle.submit"
	ActionRaffleApprove         = "raffle.approve"
	ActionRaffleReject          = "raffle.reject"
	ActionRaffleActivate        = "raffle.activate"
	ActionRaffleCancel          = "raffle.cancel"
	ActionRaffleConfirmDelivery = "raffle.confirm_delivery"
	ActionRaffleAutoCancel      = "raffle.auto_cancel"

	ActionTicketReserve = "ticket.reserve"

	ActionDrawResolve  = "draw.resolve"
	ActionDrawOverride = "draw.override"

	ActionPayoutFinalize = "payout.finalize"
	ActionPayoutView     = "payout.view"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

// NewEnforcer persists policy through the gorm adapter.
func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

// NewMemoryEnforcer keeps policy in process only.
func NewMemoryEnforcer() (*casbin.SyncedEnforcer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor Actor, raffleID string, object string, action string) error {
	actor.ID = strings.TrimSpace(actor.ID)
	actor.Role = strings.ToLower(strings.TrimSpace(actor.Role))
	if actor.ID == "" || actor.Role == "" {
		return ErrInvalidActor
	}
	raffleID = strings.TrimSpace(raffleID)
	if raffleID == "" {
		return ErrInvalidRaffle
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject, roleName, err := s.resolveActor(ctx, actor, raffleID)
	if err != nil {
		s.auditDenied(ctx, actor, raffleID, object, action)
		return err
	}

	domain := fmt.Sprintf("raffle:%s", raffleID)
	if err := s.ensureGrouping(subject, roleName, domain); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, domain, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.auditDenied(ctx, actor, raffleID, object, action)
		return ErrForbidden
	}
	return nil
}

func (s *ServiceImpl) resolveActor(ctx context.Context, actor Actor, raffleID string) (string, string, error) {
	switch actor.Role {
	case RoleSystem:
		if actor.ID != "system" {
			return "", "", ErrInvalidActor
		}
		return "system", "role:system", nil
	case RoleModerator, RoleOperator, RoleParticipant:
		return "user:" + actor.ID, "role:" + actor.Role, nil
	case RoleOrganizer:
		subject := "user:" + actor.ID
		if raffleID == DomainNew {
			return subject, "role:organizer", nil
		}
		owner, err := s.raffleOrganizer(ctx, raffleID)
		if err != nil {
			return "", "", err
		}
		if owner != actor.ID {
			// Organizers of other raffles still see public state.
			return subject, "role:participant", nil
		}
		return subject, "role:organizer", nil
	default:
		return "", "", ErrInvalidActor
	}
}

func (s *ServiceImpl) raffleOrganizer(ctx context.Context, raffleID string) (string, error) {
	id, err := snowflake.ParseString(raffleID)
	if err != nil || id == 0 {
		return "", ErrInvalidRaffle
	}
	var row struct {
		OrganizerID string `gorm:"column:organizer_id"`
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT organizer_id FROM raffles WHERE id = ? LIMIT 1`,
		id,
	).Scan(&row).Error; err != nil {
		return "", err
	}
	if strings.TrimSpace(row.OrganizerID) == "" {
		return "", ErrForbidden
	}
	return row.OrganizerID, nil
}

func (s *ServiceImpl) ensureGrouping(subject string, roleName string, domain string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject, "", domain)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 || rule[1] == roleName {
			continue
		}
		params := make([]interface{}, 0, len(rule))
		for _, value := range rule {
			params = append(params, value)
		}
		_, _ = s.enforcer.RemoveGroupingPolicy(params...)
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName, domain)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName, domain)
	return err
}

func (s *ServiceImpl) auditDenied(ctx context.Context, actor Actor, raffleID string, object string, action string) {
	if s.auditSvc == nil {
		return
	}
	var raffle *snowflake.ID
	if parsed, err := snowflake.ParseString(raffleID); err == nil && parsed != 0 {
		raffle = &parsed
	}
	actorID := actor.ID
	if err := s.auditSvc.AuditLog(ctx, raffle, "user", &actorID, "authorization.denied", "authorization", &raffleID, map[string]any{
		"object": object,
		"action": action,
		"role":   actor.Role,
	}); err != nil {
		s.log.Warn("failed to audit authorization denial", zap.Error(err))
	}
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		{"role:participant", ObjectRaffle, ActionRaffleView},
		{"role:participant", ObjectTicket, ActionTicketReserve},

		{"role:organizer", ObjectRaffle, ActionRaffleCreate},
		{"role:organizer", ObjectRaffle, ActionRaffleView},
		{"role:organizer", ObjectRaffle, ActionRaffleSubmit},
		{"role:organizer", ObjectRaffle, ActionRaffleActivate},
		{"role:organizer", ObjectRaffle, ActionRaffleCancel},
		{"role:organizer", ObjectRaffle, ActionRaffleConfirmDelivery},
		{"role:organizer", ObjectPayout, ActionPayoutView},

		{"role:moderator", ObjectRaffle, ActionRaffleView},
		{"role:moderator", ObjectRaffle, ActionRaffleApprove},
		{"role:moderator", ObjectRaffle, ActionRaffleReject},
		{"role:moderator", ObjectRaffle, ActionRaffleCancel},

		{"role:operator", ObjectRaffle, ActionRaffleView},
		{"role:operator", ObjectRaffle, ActionRaffleActivate},
		{"role:operator", ObjectRaffle, ActionRaffleReject},
		{"role:operator", ObjectRaffle, ActionRaffleCancel},
		{"role:operator", ObjectRaffle, ActionRaffleConfirmDelivery},
		{"role:operator", ObjectDraw, ActionDrawResolve},
		{"role:operator", ObjectDraw, ActionDrawOverride},
		{"role:operator", ObjectPayout, ActionPayoutFinalize},
		{"role:operator", ObjectPayout, ActionPayoutView},

		{"role:system", ObjectRaffle, ActionRaffleView},
		{"role:system", ObjectRaffle, ActionRaffleCancel},
		{"role:system", ObjectRaffle, ActionRaffleAutoCancel},
		{"role:system", ObjectRaffle, ActionRaffleConfirmDelivery},
		{"role:system", ObjectDraw, ActionDrawResolve},
		{"role:system", ObjectPayout, ActionPayoutFinalize},
		{"role:system", ObjectPayout, ActionPayoutView},
	}

	for _, policy := range policies {
		has, err := enforcer.HasPolicy(policy)
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
