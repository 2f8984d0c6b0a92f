package server

import (
	"github.com/hashicorp/go-hclog"
	"gorm.io/gorm"

	"github.com/jsenecal/netbox-notices/internal/composer"
	"github.com/jsenecal/netbox-notices/internal/config"
	"github.com/jsenecal/netbox-notices/internal/lifecycle"
)

// Server bundles the shared dependencies handed to every API handler.
type Server struct {
	// Config is the parsed server configuration.
	Config *config.Config

	// DB is the database for the server.
	DB *gorm.DB

	// Logger is the logger for the server.
	Logger hclog.Logger

	// Composer generates draft notifications for events.
	Composer *composer.Composer

	// Lifecycle applies status transitions to prepared notifications.
	Lifecycle *lifecycle.StateMachine
}
