package account

import (
	"github.com/glidestudio/glide/internal/account/repository"
	"github.com/glidestudio/glide/internal/account/service"
	"go.uber.org/fx"
)

var Module = fx.Module("account.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
