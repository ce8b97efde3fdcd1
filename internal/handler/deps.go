package handler

import (
	"studysphere/internal/app/chat"
	"studysphere/internal/configs"
)

// AppDeps carries the collaborators shared by all handlers.
type AppDeps struct {
	Service *chat.Service
	Config  *configs.AppConfig
}
