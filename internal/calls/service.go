// Package calls implements the standard-squad call consensus state machine:
// members suggest a group call, vote on it, and propose edits or deletions
// of a confirmed call; a strict majority of the squad confirms a proposal.
//
// Every transition runs inside a single transaction so no partial mutation
// escapes a rejected operation. Side effects (reminder jobs, chat messages,
// websocket refreshes) are published as domain events after commit and
// never affect the outcome of the operation itself.
package calls

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/sfoufcat/slimcircle/internal/consensus"
	"github.com/sfoufcat/slimcircle/internal/event"
	"github.com/sfoufcat/slimcircle/internal/models"
)

// writeAttempts bounds the optimistic-concurrency retry: the initial
// attempt plus one retry, then ErrConflict.
const writeAttempts = 2

type Service struct {
	db  *gorm.DB
	bus *event.EventBus
}

func NewService(db *gorm.DB, bus *event.EventBus) *Service {
	return &Service{db: db, bus: bus}
}

// CallParams carries the user-supplied fields of a new or edit proposal.
type CallParams struct {
	StartAt  time.Time
	Timezone string
	Location string
	Title    string
}

// ActiveProposal returns the squad's single active proposal (pending or
// confirmed) together with the caller's own vote on it. Both are zero when
// the squad has no active proposal.
func (s *Service) ActiveProposal(squadID, actorID uint) (*models.CallProposal, string, error) {
	if _, err := s.squadForMember(s.db, squadID, actorID); err != nil {
		return nil, "", err
	}

	var proposal models.CallProposal

	err := s.db.
		Where("squad_id = ? AND status IN ?", squadID, models.ActiveProposalStatuses).
		First(&proposal).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, "", nil
		}
		return nil, "", err
	}

	var vote models.CallVote

	err = s.db.
		Where("call_id = ? AND user_id = ?", proposal.ID, actorID).
		First(&vote).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &proposal, "", nil
		}
		return nil, "", err
	}

	return &proposal, vote.Choice, nil
}

// Suggest creates a new-call proposal, superseding any active proposal for
// the squad. The creator's self-vote is recorded, so a single-member squad
// confirms inline before this returns.
func (s *Service) Suggest(squadID, actorID uint, params CallParams) (*models.CallProposal, error) {
	var proposal *models.CallProposal
	var squad models.Squad
	var canceledCallID *uint

	for attempt := 0; attempt < writeAttempts; attempt++ {
		proposal = nil
		canceledCallID = nil

		err := s.db.Transaction(func(tx *gorm.DB) error {
			sq, err := s.squadForMember(tx, squadID, actorID)

			if err != nil {
				return err
			}

			if err := validateCallParams(params); err != nil {
				return err
			}

			totalMembers, err := countMembers(tx, squadID)

			if err != nil {
				return err
			}

			superseded, err := supersedeActiveProposal(tx, squadID)

			if err != nil {
				return err
			}

			p, err := createProposal(tx, proposalSpec{
				squadID:      squadID,
				actorID:      actorID,
				proposalType: models.ProposalTypeNew,
				params:       &params,
				totalMembers: totalMembers,
			})

			if err != nil {
				return err
			}

			proposal = p
			squad = *sq
			canceledCallID = superseded

			return nil
		})

		if errors.Is(err, errStaleWrite) {
			continue
		}

		if err != nil {
			return nil, err
		}

		s.publishOutcome(squad, proposal, canceledCallID)

		return proposal, nil
	}

	return nil, ErrConflict
}

// ProposeChange creates an edit or delete proposal against a confirmed
// call. The referenced call is marked canceled (superseded, not erased)
// and the new proposal starts pending with the creator's self-vote.
func (s *Service) ProposeChange(squadID, actorID, originalCallID uint, proposalType string, params CallParams) (*models.CallProposal, error) {
	if proposalType != models.ProposalTypeEdit && proposalType != models.ProposalTypeDelete {
		return nil, validationErrorf("unsupported proposal type %q", proposalType)
	}

	var proposal *models.CallProposal
	var squad models.Squad

	for attempt := 0; attempt < writeAttempts; attempt++ {
		proposal = nil

		err := s.db.Transaction(func(tx *gorm.DB) error {
			sq, err := s.squadForMember(tx, squadID, actorID)

			if err != nil {
				return err
			}

			var original models.CallProposal

			err = tx.
				Where("id = ? AND squad_id = ?", originalCallID, squadID).
				First(&original).Error

			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrNotFound
				}
				return err
			}

			if original.Status != models.ProposalStatusConfirmed {
				return validationErrorf("only a confirmed call can be edited or deleted")
			}

			if original.ProposalType == models.ProposalTypeDelete {
				return validationErrorf("the squad has no scheduled call to change")
			}

			spec := proposalSpec{
				squadID:        squadID,
				actorID:        actorID,
				proposalType:   proposalType,
				originalCallID: &originalCallID,
			}

			if proposalType == models.ProposalTypeEdit {
				if err := validateCallParams(params); err != nil {
					return err
				}
				spec.params = &params
			}

			spec.totalMembers, err = countMembers(tx, squadID)

			if err != nil {
				return err
			}

			// Cancel the referenced record by its specific ID. Zero rows
			// means another proposal superseded it mid-flight; retry so the
			// precondition check runs again.
			result := tx.Model(&models.CallProposal{}).
				Where("id = ? AND status = ?", original.ID, models.ProposalStatusConfirmed).
				Updates(map[string]interface{}{
					"status":       models.ProposalStatusCanceled,
					"lock_version": gorm.Expr("lock_version + 1"),
				})

			if result.Error != nil {
				return result.Error
			}

			if result.RowsAffected == 0 {
				return errStaleWrite
			}

			proposal, err = createProposal(tx, spec)

			if err != nil {
				return err
			}

			squad = *sq

			return nil
		})

		if errors.Is(err, errStaleWrite) {
			continue
		}

		if err != nil {
			return nil, err
		}

		// The original call's reminder jobs stay in place while the change
		// is pending; the scheduler tears them down when the change
		// confirms.
		s.publishOutcome(squad, proposal, nil)

		return proposal, nil
	}

	return nil, ErrConflict
}

// Vote upserts the actor's vote on a pending proposal and updates the
// tallies transactionally with the vote write. An unchanged re-vote
// short-circuits with no writes and no events. The vote that crosses
// quorum flips the proposal to confirmed exactly once.
//
// Returns the updated proposal, whether this vote confirmed it, and
// whether the tally changed at all.
func (s *Service) Vote(squadID, actorID, callID uint, choice string) (*models.CallProposal, bool, bool, error) {
	if choice != models.VoteYes && choice != models.VoteNo {
		return nil, false, false, validationErrorf("vote must be %q or %q", models.VoteYes, models.VoteNo)
	}

	var proposal models.CallProposal
	var squad models.Squad
	var changed, becameConfirmed bool

	for attempt := 0; attempt < writeAttempts; attempt++ {
		changed = false
		becameConfirmed = false

		err := s.db.Transaction(func(tx *gorm.DB) error {
			sq, err := s.squadForMember(tx, squadID, actorID)

			if err != nil {
				return err
			}

			squad = *sq

			err = tx.
				Where("id = ? AND squad_id = ?", callID, squadID).
				First(&proposal).Error

			if err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return ErrNotFound
				}
				return err
			}

			if proposal.Status != models.ProposalStatusPending {
				return validationErrorf("voting is closed for this proposal")
			}

			var existing models.CallVote
			existingChoice := ""

			err = tx.
				Where("call_id = ? AND user_id = ?", callID, actorID).
				First(&existing).Error

			if err == nil {
				existingChoice = existing.Choice
			} else if !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}

			tally, tallyChanged := consensus.ApplyVote(existingChoice, choice, consensus.Tally{
				Yes: proposal.YesCount,
				No:  proposal.NoCount,
			})

			if !tallyChanged {
				// Idempotent re-vote: no writes, no re-notification.
				return nil
			}

			if existingChoice == "" {
				vote := models.CallVote{CallID: callID, UserID: actorID, Choice: choice}
				if err := tx.Create(&vote).Error; err != nil {
					return err
				}
			} else {
				if err := tx.Model(&existing).Update("choice", choice).Error; err != nil {
					return err
				}
			}

			updates := map[string]interface{}{
				"yes_count":    tally.Yes,
				"no_count":     tally.No,
				"lock_version": proposal.LockVersion + 1,
			}

			// A no vote never transitions state; only crossing the yes
			// quorum does.
			if consensus.Confirmed(tally.Yes, proposal.RequiredVotes) {
				now := time.Now()
				updates["status"] = models.ProposalStatusConfirmed
				updates["confirmed_at"] = now
				becameConfirmed = true
				proposal.ConfirmedAt = &now
				proposal.Status = models.ProposalStatusConfirmed
			}

			// Guarded by version and status: a concurrent voter loses the
			// race here, rolls back, and retries its whole read-modify-write.
			result := tx.Model(&models.CallProposal{}).
				Where("id = ? AND lock_version = ? AND status = ?",
					proposal.ID, proposal.LockVersion, models.ProposalStatusPending).
				Updates(updates)

			if result.Error != nil {
				return result.Error
			}

			if result.RowsAffected == 0 {
				return errStaleWrite
			}

			proposal.YesCount = tally.Yes
			proposal.NoCount = tally.No
			proposal.LockVersion++
			changed = true

			return nil
		})

		if errors.Is(err, errStaleWrite) {
			continue
		}

		if err != nil {
			return nil, false, false, err
		}

		if becameConfirmed {
			s.bus.Publish(event.TypeCallConfirmed, event.NewEvent(event.TypeCallConfirmed, event.CallConfirmedEvent{
				Proposal: proposal,
				Squad:    squad,
			}))
		}

		if changed {
			s.bus.Publish(event.TypeCallUpdated, event.NewEvent(event.TypeCallUpdated, event.CallUpdatedEvent{
				SquadID: squadID,
				CallID:  proposal.ID,
			}))
		}

		return &proposal, becameConfirmed, changed, nil
	}

	return nil, false, false, ErrConflict
}

// squadForMember loads the squad and checks the actor's standing: the
// squad must exist, be on the standard tier, and count the actor as a
// member.
func (s *Service) squadForMember(tx *gorm.DB, squadID, actorID uint) (*models.Squad, error) {
	var squad models.Squad

	if err := tx.First(&squad, squadID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if squad.Tier != models.SquadTierStandard {
		return nil, ErrPremiumSquad
	}

	var membership models.SquadMembership

	err := tx.Where("squad_id = ? AND user_id = ?", squadID, actorID).First(&membership).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrForbidden
		}
		return nil, err
	}

	return &squad, nil
}

func countMembers(tx *gorm.DB, squadID uint) (int, error) {
	var count int64

	err := tx.Model(&models.SquadMembership{}).
		Where("squad_id = ?", squadID).
		Count(&count).Error

	return int(count), err
}

func validateCallParams(params CallParams) error {
	if params.StartAt.IsZero() {
		return validationErrorf("start time is required")
	}

	if !params.StartAt.After(time.Now()) {
		return validationErrorf("start time must be in the future")
	}

	if params.Timezone == "" {
		return validationErrorf("timezone is required")
	}

	if _, err := time.LoadLocation(params.Timezone); err != nil {
		return validationErrorf("unknown timezone %q", params.Timezone)
	}

	if params.Location == "" {
		return validationErrorf("location is required")
	}

	return nil
}

// supersedeActiveProposal cancels the squad's current active proposal by
// its specific ID. Finding no active proposal, or losing the cancel race
// to another suggestion, is not an error. Returns the ID of the call whose
// reminder jobs must be torn down after commit: the superseded record
// itself when it is a confirmed scheduled call, or the confirmed call
// behind a superseded pending edit or delete proposal, whose jobs stayed
// armed while the change was open.
func supersedeActiveProposal(tx *gorm.DB, squadID uint) (*uint, error) {
	var active models.CallProposal

	err := tx.
		Where("squad_id = ? AND status IN ?", squadID, models.ActiveProposalStatuses).
		First(&active).Error

	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	result := tx.Model(&models.CallProposal{}).
		Where("id = ? AND status IN ?", active.ID, models.ActiveProposalStatuses).
		Updates(map[string]interface{}{
			"status":       models.ProposalStatusCanceled,
			"lock_version": gorm.Expr("lock_version + 1"),
		})

	if result.Error != nil {
		return nil, result.Error
	}

	if result.RowsAffected == 0 {
		return nil, nil
	}

	if active.Status == models.ProposalStatusConfirmed &&
		active.ProposalType != models.ProposalTypeDelete {
		canceledID := active.ID
		return &canceledID, nil
	}

	if active.Status == models.ProposalStatusPending && active.OriginalCallID != nil {
		return active.OriginalCallID, nil
	}

	return nil, nil
}

type proposalSpec struct {
	squadID        uint
	actorID        uint
	proposalType   string
	originalCallID *uint
	params         *CallParams
	totalMembers   int
}

// createProposal inserts the pending record with the creator's self-vote
// and confirms it inline when the frozen quorum is already met. An insert
// rejected by the one-active-per-squad unique index means another
// suggestion won the race; surfaced as a stale write so the caller
// retries.
func createProposal(tx *gorm.DB, spec proposalSpec) (*models.CallProposal, error) {
	proposal := models.CallProposal{
		SquadID:         spec.squadID,
		ProposalType:    spec.proposalType,
		Status:          models.ProposalStatusPending,
		OriginalCallID:  spec.originalCallID,
		YesCount:        1,
		NoCount:         0,
		RequiredVotes:   consensus.RequiredVotes(spec.totalMembers),
		TotalMembers:    spec.totalMembers,
		CreatedByUserID: spec.actorID,
	}

	if spec.params != nil {
		startAt := spec.params.StartAt
		proposal.StartAt = &startAt
		proposal.Timezone = spec.params.Timezone
		proposal.Location = spec.params.Location
		proposal.Title = spec.params.Title
	}

	if consensus.Confirmed(proposal.YesCount, proposal.RequiredVotes) {
		now := time.Now()
		proposal.Status = models.ProposalStatusConfirmed
		proposal.ConfirmedAt = &now
	}

	if err := tx.Create(&proposal).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, errStaleWrite
		}
		return nil, err
	}

	selfVote := models.CallVote{
		CallID: proposal.ID,
		UserID: spec.actorID,
		Choice: models.VoteYes,
	}

	if err := tx.Create(&selfVote).Error; err != nil {
		return nil, err
	}

	return &proposal, nil
}

// publishOutcome emits the post-commit events for a created proposal:
// teardown of the call canceled by supersession, inline confirmation, and
// the refresh signal.
func (s *Service) publishOutcome(squad models.Squad, proposal *models.CallProposal, canceledCallID *uint) {
	if canceledCallID != nil {
		s.bus.Publish(event.TypeCallCanceled, event.NewEvent(event.TypeCallCanceled, event.CallCanceledEvent{
			SquadID: proposal.SquadID,
			CallID:  *canceledCallID,
		}))
	}

	if proposal.Status == models.ProposalStatusConfirmed {
		s.bus.Publish(event.TypeCallConfirmed, event.NewEvent(event.TypeCallConfirmed, event.CallConfirmedEvent{
			Proposal: *proposal,
			Squad:    squad,
		}))
	}

	s.bus.Publish(event.TypeCallUpdated, event.NewEvent(event.TypeCallUpdated, event.CallUpdatedEvent{
		SquadID: proposal.SquadID,
		CallID:  proposal.ID,
	}))
}

// Global service instance wired in main; handlers go through these.
var defaultService *Service

func Initialize(db *gorm.DB, bus *event.EventBus) {
	defaultService = NewService(db, bus)
}

func Default() *Service {
	return defaultService
}
