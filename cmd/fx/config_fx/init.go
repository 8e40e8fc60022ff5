package config_fx

import (
	"go.uber.org/fx"
	"go.uber.org/zap"

	"payorch/internal/infra"
	"payorch/pkg/utils"
)

var Module = fx.Provide(
	infra.LoadConfig,
	infra.NewLogger,
	provideClock,
	provideTokenIssuer,
)

func provideClock() utils.Clock {
	return utils.SystemClock()
}

func provideTokenIssuer(cfg *infra.Config, log *zap.Logger) *utils.TokenIssuer {
	if cfg.JWTSecret == "" {
		log.Warn("JWT_SECRET is empty, tenant tokens cannot be validated")
	}
	return utils.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL)
}
