package entity

import "gorm.io/gorm"

// AutoMigrate 迁移MES表
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Workline{},
		&Shift{},
		&Session{},
		&SessionLine{},
		&ActivityLog{},
	)
}
