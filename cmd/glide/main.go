package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/glidestudio/glide/internal/clock"
	"github.com/glidestudio/glide/internal/config"
	"github.com/glidestudio/glide/internal/dispatch"
	"github.com/glidestudio/glide/internal/generation"
	"github.com/glidestudio/glide/internal/migration"
	"github.com/glidestudio/glide/internal/observability"
	"github.com/glidestudio/glide/internal/reconcile"
	"github.com/glidestudio/glide/internal/server"
	"github.com/glidestudio/glide/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,

		dispatch.Module,
		generation.Module,
		reconcile.Module,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
