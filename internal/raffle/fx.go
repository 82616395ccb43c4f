package raffle

import (
	"github.com/smallbiznis/drawline/internal/raffle/service"
	"go.uber.org/fx"
)

var Module = fx.Module("raffle.service",
	fx.Provide(service.NewService),
)
