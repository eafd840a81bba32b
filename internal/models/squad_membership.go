package models

import "gorm.io/gorm"

type SquadMembership struct {
	gorm.Model

	UserID  uint   `gorm:"not null;uniqueIndex:idx_user_squad"`
	SquadID uint   `gorm:"not null;uniqueIndex:idx_user_squad"`
	Role    string `gorm:"not null;default:'member'"`

	// Relationships
	User  User  `gorm:"foreignKey:UserID;constraint:OnUpdate:Cascade,OnDelete:CASCADE"`
	Squad Squad `gorm:"foreignKey:SquadID;constraint:OnUpdate:Cascade,OnDelete:CASCADE"`
}
