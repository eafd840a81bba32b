package db

import (
	"github.com/sfoufcat/slimcircle/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var DB *gorm.DB

func ConnectDatabase(dsn string) error {
	var err error

	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})

	if err != nil {
		return err
	}

	return nil
}

func MigrateDatabase() error {
	models := []interface{}{
		&models.User{},
		&models.Squad{},
		&models.SquadMembership{},
		&models.CallProposal{},
		&models.CallVote{},
	}

	migrator := DB.Migrator()

	for _, model := range models {
		if !migrator.HasTable(model) {
			if err := DB.AutoMigrate(model); err != nil {
				return err
			}
		}
	}

	return EnsureActiveProposalIndex(DB)
}

// EnsureActiveProposalIndex creates the partial unique index backing the
// at-most-one-active-proposal-per-squad invariant. Two racing suggestions
// cannot both insert an active row; the loser gets a unique violation and
// retries.
func EnsureActiveProposalIndex(db *gorm.DB) error {
	return db.Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_one_active_call_per_squad
		 ON call_proposals (squad_id)
		 WHERE status IN ('pending', 'confirmed') AND deleted_at IS NULL`,
	).Error
}
