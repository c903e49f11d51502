package storage

import (
	"gorm.io/gorm"

	"github.com/tphan267/pulse-relay/pkg/storage/repositories"
)

// Storage is the database storage interface
type Storage interface {
	// DB returns the underlying GORM database instance
	DB() *gorm.DB

	Users() *repositories.UserRepository
	Sessions() *repositories.SessionRepository

	Close() error
}
