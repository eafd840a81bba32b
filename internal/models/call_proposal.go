package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	ProposalTypeNew    = "new"
	ProposalTypeEdit   = "edit"
	ProposalTypeDelete = "delete"

	ProposalStatusPending   = "pending"
	ProposalStatusConfirmed = "confirmed"
	ProposalStatusCanceled  = "canceled"
)

// ActiveProposalStatuses are the statuses that count against the
// one-active-proposal-per-squad invariant.
var ActiveProposalStatuses = []string{ProposalStatusPending, ProposalStatusConfirmed}

type CallProposal struct {
	gorm.Model

	SquadID      uint   `gorm:"not null;index:idx_squad_status"`
	ProposalType string `gorm:"not null"`                      // "new", "edit", "delete"
	Status       string `gorm:"not null;index:idx_squad_status"` // "pending", "confirmed", "canceled"

	// Empty for delete proposals.
	StartAt  *time.Time
	Timezone string
	Location string
	Title    string

	// Confirmed call being edited or deleted; nil for new proposals.
	OriginalCallID *uint `gorm:"index"`

	YesCount int `gorm:"not null;default:0"`
	NoCount  int `gorm:"not null;default:0"`

	// Quorum frozen at creation time; later membership changes don't touch it.
	RequiredVotes int `gorm:"not null"`
	TotalMembers  int `gorm:"not null"`

	// Bumped on every tally/status write; optimistic concurrency guard.
	LockVersion uint `gorm:"not null;default:0"`

	CreatedByUserID uint `gorm:"not null;index"`
	ConfirmedAt     *time.Time

	// Relationships
	Squad     Squad      `gorm:"foreignKey:SquadID;constraint:OnUpdate:Cascade,OnDelete:CASCADE"`
	CreatedBy User       `gorm:"foreignKey:CreatedByUserID;constraint:OnUpdate:Cascade,OnDelete:CASCADE"`
	Votes     []CallVote `gorm:"foreignKey:CallID;constraint:OnUpdate:Cascade,OnDelete:CASCADE"`
}

// IsActive reports whether this record occupies the squad's single active slot.
func (p *CallProposal) IsActive() bool {
	return p.Status == ProposalStatusPending || p.Status == ProposalStatusConfirmed
}
