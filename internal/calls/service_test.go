package calls_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/sfoufcat/slimcircle/db"
	"github.com/sfoufcat/slimcircle/internal/calls"
	"github.com/sfoufcat/slimcircle/internal/event"
	"github.com/sfoufcat/slimcircle/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	tdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = tdb.AutoMigrate(
		&models.User{},
		&models.Squad{},
		&models.SquadMembership{},
		&models.CallProposal{},
		&models.CallVote{},
	)
	require.NoError(t, err)

	require.NoError(t, db.EnsureActiveProposalIndex(tdb))

	return tdb
}

// seedSquad creates a standard squad with the given number of members and
// returns it along with the member user IDs.
func seedSquad(t *testing.T, tdb *gorm.DB, memberCount int) (models.Squad, []uint) {
	var memberIDs []uint

	for i := 0; i < memberCount; i++ {
		user := models.User{
			Name:         fmt.Sprintf("Member %d", i+1),
			Email:        fmt.Sprintf("member%d@example.com", i+1),
			PasswordHash: "x",
		}
		require.NoError(t, tdb.Create(&user).Error)
		memberIDs = append(memberIDs, user.ID)
	}

	squad := models.Squad{
		Name:       "Test Squad",
		Tier:       models.SquadTierStandard,
		InviteCode: fmt.Sprintf("invite-%d", time.Now().UnixNano()),
		OwnerID:    memberIDs[0],
	}
	require.NoError(t, tdb.Create(&squad).Error)

	for _, userID := range memberIDs {
		membership := models.SquadMembership{UserID: userID, SquadID: squad.ID, Role: "member"}
		require.NoError(t, tdb.Create(&membership).Error)
	}

	return squad, memberIDs
}

type testFixture struct {
	svc         *calls.Service
	db          *gorm.DB
	squad       models.Squad
	members     []uint
	confirmedCh <-chan event.Event
	canceledCh  <-chan event.Event
}

func newTestFixture(t *testing.T, memberCount int) *testFixture {
	tdb := setupTestDB(t)
	squad, memberIDs := seedSquad(t, tdb, memberCount)
	bus := event.NewEventBus()
	_, confirmedCh := bus.Subscribe(event.TypeCallConfirmed)
	_, canceledCh := bus.Subscribe(event.TypeCallCanceled)

	return &testFixture{
		svc:         calls.NewService(tdb, bus),
		db:          tdb,
		squad:       squad,
		members:     memberIDs,
		confirmedCh: confirmedCh,
		canceledCh:  canceledCh,
	}
}

// registerVersionBump arms an update hook that increments every proposal's
// lock_version just before the guarded write runs, so the write sees a
// stale version, like a concurrent voter committing first. A negative
// fires count makes every attempt lose.
func registerVersionBump(t *testing.T, tdb *gorm.DB, fires int) {
	remaining := fires

	err := tdb.Callback().Update().Before("gorm:update").Register("version_bump", func(d *gorm.DB) {
		if d.Statement.Table != "call_proposals" || remaining == 0 {
			return
		}

		if remaining > 0 {
			remaining--
		}

		_, execErr := d.Statement.ConnPool.ExecContext(d.Statement.Context,
			"UPDATE call_proposals SET lock_version = lock_version + 1")
		require.NoError(t, execErr)
	})
	require.NoError(t, err)
}

func futureCallParams() calls.CallParams {
	return calls.CallParams{
		StartAt:  time.Now().Add(48 * time.Hour).UTC(),
		Timezone: "Europe/Berlin",
		Location: "https://meet.example.com/squad",
		Title:    "Weekly check-in",
	}
}

// drainConfirmed collects the confirmation events already published.
func drainConfirmed(ch <-chan event.Event) []event.CallConfirmedEvent {
	var events []event.CallConfirmedEvent

	for {
		select {
		case evt := <-ch:
			if data, ok := evt.Data.(event.CallConfirmedEvent); ok {
				events = append(events, data)
			}
		case <-time.After(100 * time.Millisecond):
			return events
		}
	}
}

// drainCanceled collects the cancellation events already published.
func drainCanceled(ch <-chan event.Event) []event.CallCanceledEvent {
	var events []event.CallCanceledEvent

	for {
		select {
		case evt := <-ch:
			if data, ok := evt.Data.(event.CallCanceledEvent); ok {
				events = append(events, data)
			}
		case <-time.After(100 * time.Millisecond):
			return events
		}
	}
}

func TestSuggestSingleMemberConfirmsInline(t *testing.T) {
	f := newTestFixture(t, 1)

	proposal, err := f.svc.Suggest(f.squad.ID, f.members[0], futureCallParams())
	require.NoError(t, err)

	assert.Equal(t, models.ProposalStatusConfirmed, proposal.Status)
	assert.Equal(t, 1, proposal.YesCount)
	assert.Equal(t, 1, proposal.RequiredVotes)
	assert.Equal(t, 1, proposal.TotalMembers)
	require.NotNil(t, proposal.ConfirmedAt)

	events := drainConfirmed(f.confirmedCh)
	require.Len(t, events, 1)
	assert.Equal(t, proposal.ID, events[0].Proposal.ID)
}

func TestSuggestStartsPendingWithSelfVote(t *testing.T) {
	f := newTestFixture(t, 4)

	proposal, err := f.svc.Suggest(f.squad.ID, f.members[0], futureCallParams())
	require.NoError(t, err)

	assert.Equal(t, models.ProposalStatusPending, proposal.Status)
	assert.Equal(t, models.ProposalTypeNew, proposal.ProposalType)
	assert.Equal(t, 1, proposal.YesCount)
	assert.Equal(t, 0, proposal.NoCount)
	assert.Equal(t, 3, proposal.RequiredVotes)
	assert.Empty(t, drainConfirmed(f.confirmedCh))

	// The self-vote is in the ledger.
	_, myVote, err := f.svc.ActiveProposal(f.squad.ID, f.members[0])
	require.NoError(t, err)
	assert.Equal(t, models.VoteYes, myVote)
}

func TestSuggestSupersedesActiveProposal(t *testing.T) {
	f := newTestFixture(t, 4)

	first, err := f.svc.Suggest(f.squad.ID, f.members[0], futureCallParams())
	require.NoError(t, err)

	second, err := f.svc.Suggest(f.squad.ID, f.members[1], futureCallParams())
	require.NoError(t, err)

	active, _, err := f.svc.ActiveProposal(f.squad.ID, f.members[0])
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, second.ID, active.ID)

	var firstReloaded models.CallProposal
	require.NoError(t, f.db.First(&firstReloaded, first.ID).Error)
	assert.Equal(t, models.ProposalStatusCanceled, firstReloaded.Status)

	var activeCount int64
	require.NoError(t, f.db.Model(&models.CallProposal{}).
		Where("squad_id = ? AND status IN ?", f.squad.ID, models.ActiveProposalStatuses).
		Count(&activeCount).Error)
	assert.Equal(t, int64(1), activeCount)

	// A superseded pending new proposal never had reminder jobs, so no
	// teardown event is published.
	assert.Empty(t, drainCanceled(f.canceledCh))
}

func TestSuggestSupersedesConfirmedCallReleasesJobs(t *testing.T) {
	f := newTestFixture(t, 2)

	original, err := f.svc.Suggest(f.squad.ID, f.members[0], futureCallParams())
	require.NoError(t, err)

	_, confirmed, _, err := f.svc.Vote(f.squad.ID, f.members[1], original.ID, models.VoteYes)
	require.NoError(t, err)
	require.True(t, confirmed)
	require.Len(t, drainConfirmed(f.confirmedCh), 1)
	require.Empty(t, drainCanceled(f.canceledCh))

	_, err = f.svc.Suggest(f.squad.ID, f.members[1], futureCallParams())
	require.NoError(t, err)

	canceled := drainCanceled(f.canceledCh)
	require.Len(t, canceled, 1)
	assert.Equal(t, original.ID, canceled[0].CallID)
	assert.Equal(t, f.squad.ID, canceled[0].SquadID)
}

func TestSupersededPendingChangeReleasesOriginalCall(t *testing.T) {
	f := newTestFixture(t, 2)

	original, err := f.svc.Suggest(f.squad.ID, f.members[0], futureCallParams())
	require.NoError(t, err)

	_, confirmed, _, err := f.svc.Vote(f.squad.ID, f.members[1], original.ID, models.VoteYes)
	require.NoError(t, err)
	require.True(t, confirmed)
	require.Len(t, drainConfirmed(f.confirmedCh), 1)

	// The confirmed call's reminder jobs stay armed while the change is
	// pending, so proposing it publishes no teardown.
	_, err = f.svc.ProposeChange(f.squad.ID, f.members[0], original.ID, models.ProposalTypeDelete, calls.CallParams{})
	require.NoError(t, err)
	require.Empty(t, drainCanceled(f.canceledCh))

	// Superseding the pending change abandons it, and with it the last
	// path to the original call: its jobs must be torn down now.
	_, err = f.svc.Suggest(f.squad.ID, f.members[1], futureCallParams())
	require.NoError(t, err)

	canceled := drainCanceled(f.canceledCh)
	require.Len(t, canceled, 1)
	assert.Equal(t, original.ID, canceled[0].CallID)
}

func TestSuggestPastDateRejected(t *testing.T) {
	f := newTestFixture(t, 3)

	params := futureCallParams()
	params.StartAt = time.Now().Add(-time.Hour)

	_, err := f.svc.Suggest(f.squad.ID, f.members[0], params)

	var validationErr *calls.ValidationError
	require.ErrorAs(t, err, &validationErr)

	var count int64
	require.NoError(t, f.db.Model(&models.CallProposal{}).Count(&count).Error)
	assert.Equal(t, int64(0), count, "rejected suggestion must create no record")
}

func TestSuggestFieldValidation(t *testing.T) {
	f := newTestFixture(t, 3)

	var validationErr *calls.ValidationError

	params := futureCallParams()
	params.Location = ""
	_, err := f.svc.Suggest(f.squad.ID, f.members[0], params)
	require.ErrorAs(t, err, &validationErr)

	params = futureCallParams()
	params.Timezone = "Mars/Olympus_Mons"
	_, err = f.svc.Suggest(f.squad.ID, f.members[0], params)
	require.ErrorAs(t, err, &validationErr)
}

func TestSuggestRequiresMembership(t *testing.T) {
	f := newTestFixture(t, 2)

	outsider := models.User{Name: "Outsider", Email: "outsider@example.com", PasswordHash: "x"}
	require.NoError(t, f.db.Create(&outsider).Error)

	_, err := f.svc.Suggest(f.squad.ID, outsider.ID, futureCallParams())
	assert.ErrorIs(t, err, calls.ErrForbidden)
}

func TestPremiumSquadRejected(t *testing.T) {
	f := newTestFixture(t, 2)

	require.NoError(t, f.db.Model(&models.Squad{}).
		Where("id = ?", f.squad.ID).
		Update("tier", models.SquadTierPremium).Error)

	_, err := f.svc.Suggest(f.squad.ID, f.members[0], futureCallParams())
	assert.ErrorIs(t, err, calls.ErrPremiumSquad)

	_, _, err = f.svc.ActiveProposal(f.squad.ID, f.members[0])
	assert.ErrorIs(t, err, calls.ErrPremiumSquad)
}

func TestUnknownSquadRejected(t *testing.T) {
	f := newTestFixture(t, 2)

	_, err := f.svc.Suggest(f.squad.ID+1000, f.members[0], futureCallParams())
	assert.ErrorIs(t, err, calls.ErrNotFound)
}

func TestVoteIdempotentRevote(t *testing.T) {
	f := newTestFixture(t, 5)

	proposal, err := f.svc.Suggest(f.squad.ID, f.members[0], futureCallParams())
	require.NoError(t, err)

	updated, confirmed, changed, err := f.svc.Vote(f.squad.ID, f.members[1], proposal.ID, models.VoteYes)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.False(t, confirmed)
	assert.Equal(t, 2, updated.YesCount)

	// Same vote again: no tally change, no side effects.
	updated, confirmed, changed, err = f.svc.Vote(f.squad.ID, f.members[1], proposal.ID, models.VoteYes)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.False(t, confirmed)
	assert.Equal(t, 2, updated.YesCount)

	// The ledger still holds exactly one vote row for this voter.
	var voteCount int64
	require.NoError(t, f.db.Model(&models.CallVote{}).
		Where("call_id = ? AND user_id = ?", proposal.ID, f.members[1]).
		Count(&voteCount).Error)
	assert.Equal(t, int64(1), voteCount)

	assert.Empty(t, drainConfirmed(f.confirmedCh))
}

func TestVoteSwitchSides(t *testing.T) {
	f := newTestFixture(t, 5)

	proposal, err := f.svc.Suggest(f.squad.ID, f.members[0], futureCallParams())
	require.NoError(t, err)

	updated, _, _, err := f.svc.Vote(f.squad.ID, f.members[1], proposal.ID, models.VoteYes)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.YesCount)
	assert.Equal(t, 0, updated.NoCount)

	updated, confirmed, changed, err := f.svc.Vote(f.squad.ID, f.members[1], proposal.ID, models.VoteNo)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.False(t, confirmed)
	assert.Equal(t, 1, updated.YesCount)
	assert.Equal(t, 1, updated.NoCount)
}

func TestVoteConfirmationCrossing(t *testing.T) {
	f := newTestFixture(t, 4)

	proposal, err := f.svc.Suggest(f.squad.ID, f.members[0], futureCallParams())
	require.NoError(t, err)
	require.Equal(t, 3, proposal.RequiredVotes)

	_, confirmed, _, err := f.svc.Vote(f.squad.ID, f.members[1], proposal.ID, models.VoteYes)
	require.NoError(t, err)
	assert.False(t, confirmed, "second yes must not confirm at quorum 3")
	assert.Empty(t, drainConfirmed(f.confirmedCh))

	updated, confirmed, _, err := f.svc.Vote(f.squad.ID, f.members[2], proposal.ID, models.VoteYes)
	require.NoError(t, err)
	assert.True(t, confirmed, "third yes crosses quorum")
	assert.Equal(t, 3, updated.YesCount)
	assert.Equal(t, models.ProposalStatusConfirmed, updated.Status)
	require.NotNil(t, updated.ConfirmedAt)

	events := drainConfirmed(f.confirmedCh)
	require.Len(t, events, 1, "confirmation side effects dispatch exactly once")

	// Voting on a confirmed proposal is closed; no second confirmation.
	var validationErr *calls.ValidationError
	_, _, _, err = f.svc.Vote(f.squad.ID, f.members[3], proposal.ID, models.VoteYes)
	require.ErrorAs(t, err, &validationErr)
	assert.Empty(t, drainConfirmed(f.confirmedCh))
}

func TestNoVotesNeverTransitionState(t *testing.T) {
	f := newTestFixture(t, 4)

	proposal, err := f.svc.Suggest(f.squad.ID, f.members[0], futureCallParams())
	require.NoError(t, err)

	for _, voter := range f.members[1:] {
		updated, confirmed, _, err := f.svc.Vote(f.squad.ID, voter, proposal.ID, models.VoteNo)
		require.NoError(t, err)
		assert.False(t, confirmed)
		assert.Equal(t, models.ProposalStatusPending, updated.Status)
	}

	assert.Empty(t, drainConfirmed(f.confirmedCh))
}

func TestVoteValidation(t *testing.T) {
	f := newTestFixture(t, 3)

	proposal, err := f.svc.Suggest(f.squad.ID, f.members[0], futureCallParams())
	require.NoError(t, err)

	var validationErr *calls.ValidationError
	_, _, _, err = f.svc.Vote(f.squad.ID, f.members[1], proposal.ID, "maybe")
	require.ErrorAs(t, err, &validationErr)

	_, _, _, err = f.svc.Vote(f.squad.ID, f.members[1], proposal.ID+1000, models.VoteYes)
	assert.ErrorIs(t, err, calls.ErrNotFound)
}

func TestVoteRetriesWhenGuardedWriteLosesRace(t *testing.T) {
	f := newTestFixture(t, 4)

	proposal, err := f.svc.Suggest(f.squad.ID, f.members[0], futureCallParams())
	require.NoError(t, err)

	// The first guarded write loses to a concurrent version bump; the
	// retried transaction runs the whole read-modify-write again.
	registerVersionBump(t, f.db, 1)

	updated, confirmed, changed, err := f.svc.Vote(f.squad.ID, f.members[1], proposal.ID, models.VoteYes)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.False(t, confirmed)
	assert.Equal(t, 2, updated.YesCount)

	// The rolled-back first attempt left no duplicate vote row behind.
	var voteCount int64
	require.NoError(t, f.db.Model(&models.CallVote{}).
		Where("call_id = ? AND user_id = ?", proposal.ID, f.members[1]).
		Count(&voteCount).Error)
	assert.Equal(t, int64(1), voteCount)

	var reloaded models.CallProposal
	require.NoError(t, f.db.First(&reloaded, proposal.ID).Error)
	assert.Equal(t, 2, reloaded.YesCount)
}

func TestVoteConflictWhenRetriesExhausted(t *testing.T) {
	f := newTestFixture(t, 4)

	proposal, err := f.svc.Suggest(f.squad.ID, f.members[0], futureCallParams())
	require.NoError(t, err)

	registerVersionBump(t, f.db, -1)

	_, _, _, err = f.svc.Vote(f.squad.ID, f.members[1], proposal.ID, models.VoteYes)
	assert.ErrorIs(t, err, calls.ErrConflict)

	// Both attempts rolled back; the proposal is untouched.
	var reloaded models.CallProposal
	require.NoError(t, f.db.First(&reloaded, proposal.ID).Error)
	assert.Equal(t, 1, reloaded.YesCount)
	assert.Equal(t, models.ProposalStatusPending, reloaded.Status)
	assert.Equal(t, uint(0), reloaded.LockVersion)

	var voteCount int64
	require.NoError(t, f.db.Model(&models.CallVote{}).
		Where("call_id = ? AND user_id = ?", proposal.ID, f.members[1]).
		Count(&voteCount).Error)
	assert.Equal(t, int64(0), voteCount)
}

func TestProposeEditSupersedesOriginal(t *testing.T) {
	f := newTestFixture(t, 2)

	original, err := f.svc.Suggest(f.squad.ID, f.members[0], futureCallParams())
	require.NoError(t, err)

	confirmedOriginal, confirmed, _, err := f.svc.Vote(f.squad.ID, f.members[1], original.ID, models.VoteYes)
	require.NoError(t, err)
	require.True(t, confirmed)
	require.Len(t, drainConfirmed(f.confirmedCh), 1)

	editParams := futureCallParams()
	editParams.StartAt = time.Now().Add(72 * time.Hour).UTC()

	edit, err := f.svc.ProposeChange(f.squad.ID, f.members[0], confirmedOriginal.ID, models.ProposalTypeEdit, editParams)
	require.NoError(t, err)

	assert.Equal(t, models.ProposalStatusPending, edit.Status)
	assert.Equal(t, models.ProposalTypeEdit, edit.ProposalType)
	require.NotNil(t, edit.OriginalCallID)
	assert.Equal(t, confirmedOriginal.ID, *edit.OriginalCallID)

	var originalReloaded models.CallProposal
	require.NoError(t, f.db.First(&originalReloaded, confirmedOriginal.ID).Error)
	assert.Equal(t, models.ProposalStatusCanceled, originalReloaded.Status)

	// Quorum on the edit produces a confirmed record referencing the
	// original, which stays canceled history.
	confirmedEdit, confirmed, _, err := f.svc.Vote(f.squad.ID, f.members[1], edit.ID, models.VoteYes)
	require.NoError(t, err)
	require.True(t, confirmed)
	assert.Equal(t, models.ProposalStatusConfirmed, confirmedEdit.Status)

	events := drainConfirmed(f.confirmedCh)
	require.Len(t, events, 1)
	assert.Equal(t, models.ProposalTypeEdit, events[0].Proposal.ProposalType)
}

func TestProposeDeleteConfirmsAndDispatchesOnce(t *testing.T) {
	f := newTestFixture(t, 1)

	original, err := f.svc.Suggest(f.squad.ID, f.members[0], futureCallParams())
	require.NoError(t, err)
	require.Len(t, drainConfirmed(f.confirmedCh), 1)

	// Single member: the delete proposal confirms inline on the self-vote.
	deletion, err := f.svc.ProposeChange(f.squad.ID, f.members[0], original.ID, models.ProposalTypeDelete, calls.CallParams{})
	require.NoError(t, err)

	assert.Equal(t, models.ProposalStatusConfirmed, deletion.Status)
	assert.Equal(t, models.ProposalTypeDelete, deletion.ProposalType)
	assert.Nil(t, deletion.StartAt)
	assert.Empty(t, deletion.Location)

	events := drainConfirmed(f.confirmedCh)
	require.Len(t, events, 1, "delete confirmation dispatches exactly once")
	assert.Equal(t, models.ProposalTypeDelete, events[0].Proposal.ProposalType)
	require.NotNil(t, events[0].Proposal.OriginalCallID)
	assert.Equal(t, original.ID, *events[0].Proposal.OriginalCallID)
}

func TestProposeChangeRequiresConfirmedOriginal(t *testing.T) {
	f := newTestFixture(t, 3)

	pending, err := f.svc.Suggest(f.squad.ID, f.members[0], futureCallParams())
	require.NoError(t, err)

	var validationErr *calls.ValidationError
	_, err = f.svc.ProposeChange(f.squad.ID, f.members[1], pending.ID, models.ProposalTypeDelete, calls.CallParams{})
	require.ErrorAs(t, err, &validationErr)

	_, err = f.svc.ProposeChange(f.squad.ID, f.members[1], pending.ID+1000, models.ProposalTypeDelete, calls.CallParams{})
	assert.ErrorIs(t, err, calls.ErrNotFound)

	_, err = f.svc.ProposeChange(f.squad.ID, f.members[1], pending.ID, "replace", calls.CallParams{})
	require.ErrorAs(t, err, &validationErr)
}

func TestQuorumFrozenAtCreation(t *testing.T) {
	f := newTestFixture(t, 3)

	proposal, err := f.svc.Suggest(f.squad.ID, f.members[0], futureCallParams())
	require.NoError(t, err)
	require.Equal(t, 2, proposal.RequiredVotes)

	// Two more members join after creation; quorum stays 2.
	for i := 0; i < 2; i++ {
		user := models.User{
			Name:         fmt.Sprintf("Late joiner %d", i+1),
			Email:        fmt.Sprintf("late%d@example.com", i+1),
			PasswordHash: "x",
		}
		require.NoError(t, f.db.Create(&user).Error)
		require.NoError(t, f.db.Create(&models.SquadMembership{
			UserID: user.ID, SquadID: f.squad.ID, Role: "member",
		}).Error)
	}

	_, confirmed, _, err := f.svc.Vote(f.squad.ID, f.members[1], proposal.ID, models.VoteYes)
	require.NoError(t, err)
	assert.True(t, confirmed)
	require.Len(t, drainConfirmed(f.confirmedCh), 1)
}

func TestActiveProposalEmptySquad(t *testing.T) {
	f := newTestFixture(t, 2)

	proposal, myVote, err := f.svc.ActiveProposal(f.squad.ID, f.members[0])
	require.NoError(t, err)
	assert.Nil(t, proposal)
	assert.Empty(t, myVote)
}
