package payment

import (
	"github.com/smallbiznis/drawline/internal/payment/adapters"
	"github.com/smallbiznis/drawline/internal/payment/adapters/stripe"
	"github.com/smallbiznis/drawline/internal/payment/repository"
	paymentservice "github.com/smallbiznis/drawline/internal/payment/service"
	"github.com/smallbiznis/drawline/internal/payment/webhook"
	"go.uber.org/fx"
)

var Module = fx.Module("payment.service",
	fx.Provide(repository.Provide),
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(
			stripe.NewFactory(),
		)
	}),
	fx.Provide(paymentservice.NewService),
	fx.Provide(webhook.NewService),
)
