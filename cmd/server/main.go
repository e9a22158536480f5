package main

import (
	"go.uber.org/fx"

	"github.com/codeduel/duel-backend/internal/app"
	"github.com/codeduel/duel-backend/pkg/logger"
)

func main() {
	defer logger.Sync()

	fx.New(app.Module).Run()
}
