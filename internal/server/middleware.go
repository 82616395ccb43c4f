package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/drawline/internal/auditcontext"
	"github.com/smallbiznis/drawline/internal/authorization"
	obscontext "github.com/smallbiznis/drawline/internal/observability/context"
	"github.com/smallbiznis/drawline/internal/observability/logger"
	"go.uber.org/zap"
)

// The identity collaborator authenticates callers upstream and asserts
// the result through these headers.
const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"

	contextActorKey = "actor"
)

// ActorRequired rejects requests without an asserted actor and binds the
// actor to the request context for logging and audit.
func (s *Server) ActorRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := authorization.Actor{
			ID:   strings.TrimSpace(c.GetHeader(HeaderActorID)),
			Role: strings.ToLower(strings.TrimSpace(c.GetHeader(HeaderActorRole))),
		}
		if actor.ID == "" || actor.Role == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		actorType := "user"
		if actor.Role == authorization.RoleSystem {
			actorType = "system"
		}
		ctx := c.Request.Context()
		ctx = obscontext.WithActor(ctx, actorType, actor.ID)
		ctx = auditcontext.WithActor(ctx, actorType, actor.ID)
		c.Request = c.Request.WithContext(ctx)

		c.Set(contextActorKey, actor)
		c.Next()
	}
}

func RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := actorFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		for _, role := range roles {
			if actor.Role == role {
				c.Next()
				return
			}
		}
		AbortWithError(c, ErrForbidden)
	}
}

// RateLimit applies the policy rule for action to the calling actor.
func (s *Server) RateLimit(action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.guard == nil {
			c.Next()
			return
		}
		actor, ok := actorFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		ctx := c.Request.Context()
		if err := s.guard.Allow(ctx, action, actor.ID); err != nil {
			logger.FromContext(ctx).Warn("request rate limited",
				zap.String("action", action),
				zap.Error(err),
			)
			c.Header("Retry-After", "60")
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func actorFromContext(c *gin.Context) (authorization.Actor, bool) {
	if c == nil {
		return authorization.Actor{}, false
	}
	value, ok := c.Get(contextActorKey)
	if !ok {
		return authorization.Actor{}, false
	}
	actor, ok := value.(authorization.Actor)
	if !ok || actor.ID == "" {
		return authorization.Actor{}, false
	}
	return actor, true
}
