package project

import (
	"github.com/glidestudio/glide/internal/project/repository"
	"github.com/glidestudio/glide/internal/project/service"
	"go.uber.org/fx"
)

var Module = fx.Module("project.service",
	fx.Provide(repository.New),
	fx.Provide(service.New),
)
