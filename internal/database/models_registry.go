package database

import "livecommerce/internal/models"

// PersistentModels returns the authoritative set of schema-managed GORM models.
func PersistentModels() []interface{} {
	return []interface{}{
		&models.Broadcast{},
		&models.Qcard{},
		&models.Product{},
		&models.BroadcastProduct{},
		&models.BroadcastResult{},
		&models.Vod{},
		&models.ViewHistory{},
		&models.Order{},
		&models.OrderItem{},
	}
}
