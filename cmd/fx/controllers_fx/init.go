package controllers_fx

import (
	"go.uber.org/fx"

	"payorch/internal/api/controllers"
)

var Module = fx.Options(
	fx.Provide(controllers.NewWebhookController),
	fx.Provide(controllers.NewOperationsController))
