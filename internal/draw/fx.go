package draw

import (
	"github.com/smallbiznis/drawline/internal/draw/service"
	"go.uber.org/fx"
)

var Module = fx.Module("draw.service",
	fx.Provide(service.NewService),
)
