package models

import "gorm.io/gorm"

const (
	VoteYes = "yes"
	VoteNo  = "no"
)

// CallVote is the vote ledger: one row per (call, voter), overwritten on
// a change of mind, never deleted while the proposal is open.
type CallVote struct {
	gorm.Model

	CallID uint   `gorm:"not null;uniqueIndex:idx_call_voter"`
	UserID uint   `gorm:"not null;uniqueIndex:idx_call_voter"`
	Choice string `gorm:"not null"` // "yes" or "no"

	// Relationships
	Call CallProposal `gorm:"foreignKey:CallID;constraint:OnUpdate:Cascade,OnDelete:CASCADE"`
	User User         `gorm:"foreignKey:UserID;constraint:OnUpdate:Cascade,OnDelete:CASCADE"`
}
