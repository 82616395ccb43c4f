package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/drawline/internal/audit/domain"
	"github.com/smallbiznis/drawline/internal/audit/masking"
	auditcontext "github.com/smallbiznis/drawline/internal/auditcontext"
	"github.com/smallbiznis/drawline/internal/clock"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  auditdomain.Repository
	Clock clock.Clock
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	fallback *zap.Logger
	genID    *snowflake.Node
	repo     auditdomain.Repository
	clock    clock.Clock
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("audit.service"),
		fallback: p.Log.Named("audit.fallback"),
		genID:    p.GenID,
		repo:     p.Repo,
		clock:    p.Clock,
	}
}

func (s *Service) Record(ctx context.Context, actorID string, action string, fields map[string]any) error {
	var raffleID *snowflake.ID
	targetType := "system"
	var targetID *string
	if raw, ok := fields["raffle_id"]; ok {
		if id, ok := parseRaffleID(raw); ok {
			raffleID = &id
			targetType = "raffle"
			idStr := id.String()
			targetID = &idStr
		}
	}
	actorType := string(auditdomain.ActorTypeUser)
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		actorType = ""
	}
	return s.AuditLog(ctx, raffleID, actorType, &actorID, action, targetType, targetID, fields)
}

func (s *Service) AuditLog(ctx context.Context, raffleID *snowflake.ID, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error {
	action = strings.TrimSpace(action)
	if action == "" {
		return auditdomain.ErrInvalidAction
	}

	targetType = strings.TrimSpace(targetType)
	if targetType == "" {
		targetType = "unknown"
	}
	resolvedActorType, resolvedActorID := s.resolveActor(ctx, strings.TrimSpace(actorType), actorID)

	payload := masking.MaskSensitive(metadata)
	if payload == nil {
		payload = map[string]any{}
	}
	if requestID := auditcontext.RequestIDFromContext(ctx); requestID != "" {
		payload["request_id"] = requestID
	}

	entry := auditdomain.AuditLog{
		ID:         s.genID.Generate(),
		RaffleID:   raffleID,
		ActorType:  resolvedActorType,
		ActorID:    resolvedActorID,
		Action:     action,
		TargetType: targetType,
		TargetID:   normalizePointer(targetID),
		Metadata:   datatypes.JSONMap(payload),
		CreatedAt:  s.clock.Now(),
	}
	if ip := auditcontext.IPAddressFromContext(ctx); ip != "" {
		entry.IPAddress = &ip
	}
	if ua := auditcontext.UserAgentFromContext(ctx); ua != "" {
		entry.UserAgent = &ua
	}

	if err := s.repo.Insert(ctx, s.db, &entry); err != nil {
		s.fallback.Error("audit write failed",
			zap.String("action", entry.Action),
			zap.String("actor_type", entry.ActorType),
			zap.Stringp("actor_id", entry.ActorID),
			zap.String("target_type", entry.TargetType),
			zap.Stringp("target_id", entry.TargetID),
			zap.Any("metadata", payload),
			zap.Time("created_at", entry.CreatedAt),
			zap.Error(err),
		)
		return err
	}
	return nil
}

func (s *Service) List(ctx context.Context, raffleID snowflake.ID, limit int) ([]auditdomain.AuditLog, error) {
	if raffleID == 0 {
		return nil, auditdomain.ErrInvalidRaffle
	}
	if limit <= 0 || limit > 250 {
		limit = 50
	}
	items, err := s.repo.List(ctx, s.db, auditdomain.ListFilter{RaffleID: raffleID, Limit: limit})
	if err != nil {
		return nil, err
	}
	logs := make([]auditdomain.AuditLog, 0, len(items))
	for _, item := range items {
		if item != nil {
			logs = append(logs, *item)
		}
	}
	return logs, nil
}

func (s *Service) Purge(ctx context.Context, olderThan time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = 500
	}
	deleted, err := s.repo.DeleteBefore(ctx, s.db, olderThan, limit)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		s.log.Info("purged audit logs", zap.Int64("deleted", deleted), zap.Time("cutoff", olderThan))
	}
	return deleted, nil
}

func (s *Service) resolveActor(ctx context.Context, actorType string, actorID *string) (string, *string) {
	if actorType == "" {
		if ctxType, ctxID := auditcontext.ActorFromContext(ctx); ctxType != "" {
			actorType = ctxType
			if (actorID == nil || strings.TrimSpace(*actorID) == "") && ctxID != "" {
				actorID = &ctxID
			}
		}
	}
	if actorType == "" {
		actorType = string(auditdomain.ActorTypeSystem)
	}
	return actorType, normalizePointer(actorID)
}

func parseRaffleID(raw any) (snowflake.ID, bool) {
	switch v := raw.(type) {
	case snowflake.ID:
		return v, v != 0
	case int64:
		return snowflake.ID(v), v != 0
	case string:
		id, err := snowflake.ParseString(strings.TrimSpace(v))
		return id, err == nil && id != 0
	default:
		return 0, false
	}
}

func normalizePointer(value *string) *string {
	if value == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
