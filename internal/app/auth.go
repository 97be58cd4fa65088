package app

import (
	"admin-starter/internal/auth"
	"admin-starter/internal/common/logging"
)

func (app *App) initializeAuth() error {
	authInstance, err := auth.New(app.Config.JWTSecret, app.Config.JWTTTL)
	if err != nil {
		return err
	}
	app.Auth = authInstance
	app.Logger.Info("Authentication: JWT", logging.Duration("ttl", authInstance.TTL()))
	return nil
}
