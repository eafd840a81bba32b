package event

import "github.com/sfoufcat/slimcircle/internal/models"

const (
	// TypeCallConfirmed fires when a proposal crosses quorum, exactly once
	// per proposal.
	TypeCallConfirmed EventType = "call.confirmed"

	// TypeCallCanceled fires when a previously confirmed call is superseded,
	// so its reminder jobs can be torn down.
	TypeCallCanceled EventType = "call.canceled"

	// TypeCallUpdated fires after any successful proposal mutation; consumed
	// by the websocket broadcaster.
	TypeCallUpdated EventType = "call.updated"
)

type CallConfirmedEvent struct {
	Proposal models.CallProposal
	Squad    models.Squad
}

type CallCanceledEvent struct {
	SquadID uint
	CallID  uint
}

type CallUpdatedEvent struct {
	SquadID uint
	CallID  uint
}
