package models

import (
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	SquadTierStandard = "standard"
	SquadTierPremium  = "premium"
)

type Squad struct {
	gorm.Model

	Name       string `gorm:"not null"`
	Tier       string `gorm:"not null;default:'standard'"` // "standard" or "premium"
	InviteCode string `gorm:"uniqueIndex;not null;size:64"`
	OwnerID    uint   `gorm:"not null;index"`

	// Chat webhook URL, email reminder toggle, etc. See types.NotifyConfig.
	NotifyConfig datatypes.JSON `gorm:"type:jsonb"`

	// Relationships
	Owner         User              `gorm:"foreignKey:OwnerID;constraint:OnUpdate:Cascade,OnDelete:CASCADE"`
	Memberships   []SquadMembership `gorm:"foreignKey:SquadID;constraint:OnUpdate:Cascade,OnDelete:CASCADE"`
	CallProposals []CallProposal    `gorm:"foreignKey:SquadID;constraint:OnUpdate:Cascade,OnDelete:CASCADE"`
}
