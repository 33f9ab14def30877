package database

import "lumen/internal/models"

// PersistentModels lists every model that AutoMigrate manages. Order matters:
// referenced tables come before the tables that reference them.
func PersistentModels() []any {
	return []any{
		&models.User{},
		&models.RefreshToken{},
		&models.Follow{},
		&models.Post{},
		&models.Comment{},
		&models.Like{},
	}
}
