package handlers

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sfoufcat/slimcircle/internal/calls"
	"github.com/sfoufcat/slimcircle/internal/models"
	"github.com/sfoufcat/slimcircle/internal/utils"
)

type SuggestCallRequest struct {
	StartAt  string `json:"start_at" binding:"required"` // RFC3339
	Timezone string `json:"timezone" binding:"required"`
	Location string `json:"location" binding:"required"`
	Title    string `json:"title"`
}

type ProposeCallChangeRequest struct {
	OriginalCallID uint   `json:"original_call_id" binding:"required"`
	ProposalType   string `json:"proposal_type" binding:"required"` // "edit" or "delete"
	StartAt        string `json:"start_at"`
	Timezone       string `json:"timezone"`
	Location       string `json:"location"`
	Title          string `json:"title"`
}

type VoteRequest struct {
	CallID uint   `json:"call_id" binding:"required"`
	Vote   string `json:"vote" binding:"required"` // "yes" or "no"
}

type CallProposalResponse struct {
	ID             uint       `json:"id"`
	SquadID        uint       `json:"squad_id"`
	ProposalType   string     `json:"proposal_type"`
	Status         string     `json:"status"`
	Active         bool       `json:"active"`
	StartAt        *time.Time `json:"start_at"`
	Timezone       string     `json:"timezone"`
	Location       string     `json:"location"`
	Title          string     `json:"title"`
	OriginalCallID *uint      `json:"original_call_id"`
	YesCount       int        `json:"yes_count"`
	NoCount        int        `json:"no_count"`
	RequiredVotes  int        `json:"required_votes"`
	TotalMembers   int        `json:"total_members"`
	CreatedBy      uint       `json:"created_by"`
	ConfirmedAt    *time.Time `json:"confirmed_at"`
}

func callProposalResponse(proposal *models.CallProposal) CallProposalResponse {
	return CallProposalResponse{
		ID:             proposal.ID,
		SquadID:        proposal.SquadID,
		ProposalType:   proposal.ProposalType,
		Status:         proposal.Status,
		Active:         proposal.IsActive(),
		StartAt:        proposal.StartAt,
		Timezone:       proposal.Timezone,
		Location:       proposal.Location,
		Title:          proposal.Title,
		OriginalCallID: proposal.OriginalCallID,
		YesCount:       proposal.YesCount,
		NoCount:        proposal.NoCount,
		RequiredVotes:  proposal.RequiredVotes,
		TotalMembers:   proposal.TotalMembers,
		CreatedBy:      proposal.CreatedByUserID,
		ConfirmedAt:    proposal.ConfirmedAt,
	}
}

// respondCallError maps the consensus core's error taxonomy onto HTTP
// statuses.
func respondCallError(ctx *gin.Context, err error) {
	var validationErr *calls.ValidationError

	switch {
	case errors.As(err, &validationErr):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": validationErr.Reason})
	case errors.Is(err, calls.ErrForbidden):
		ctx.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, calls.ErrNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, calls.ErrConflict):
		ctx.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, calls.ErrPremiumSquad):
		ctx.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		log.Printf("Call operation failed: %v", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func GetActiveCall(ctx *gin.Context) {
	userID, err := utils.GetCurrentUserID(ctx)

	if err != nil {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	squadID, err := utils.GetSquadID(ctx)

	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	proposal, myVote, err := calls.Default().ActiveProposal(squadID, userID)

	if err != nil {
		respondCallError(ctx, err)
		return
	}

	if proposal == nil {
		ctx.JSON(http.StatusOK, gin.H{"proposal": nil, "my_vote": nil})
		return
	}

	response := gin.H{"proposal": callProposalResponse(proposal)}

	if myVote == "" {
		response["my_vote"] = nil
	} else {
		response["my_vote"] = myVote
	}

	ctx.JSON(http.StatusOK, response)
}

func SuggestCall(ctx *gin.Context) {
	userID, err := utils.GetCurrentUserID(ctx)

	if err != nil {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	squadID, err := utils.GetSquadID(ctx)

	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var body SuggestCallRequest

	if err := ctx.ShouldBindJSON(&body); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	params, err := parseCallParams(body.StartAt, body.Timezone, body.Location, body.Title)

	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	proposal, err := calls.Default().Suggest(squadID, userID, params)

	if err != nil {
		respondCallError(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{
		"proposal":  callProposalResponse(proposal),
		"confirmed": proposal.Status == models.ProposalStatusConfirmed,
	})
}

func ProposeCallChange(ctx *gin.Context) {
	userID, err := utils.GetCurrentUserID(ctx)

	if err != nil {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	squadID, err := utils.GetSquadID(ctx)

	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var body ProposeCallChangeRequest

	if err := ctx.ShouldBindJSON(&body); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var params calls.CallParams

	if body.ProposalType == models.ProposalTypeEdit {
		params, err = parseCallParams(body.StartAt, body.Timezone, body.Location, body.Title)

		if err != nil {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	proposal, err := calls.Default().ProposeChange(squadID, userID, body.OriginalCallID, body.ProposalType, params)

	if err != nil {
		respondCallError(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, gin.H{
		"proposal":  callProposalResponse(proposal),
		"confirmed": proposal.Status == models.ProposalStatusConfirmed,
	})
}

func VoteOnCall(ctx *gin.Context) {
	userID, err := utils.GetCurrentUserID(ctx)

	if err != nil {
		ctx.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	squadID, err := utils.GetSquadID(ctx)

	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var body VoteRequest

	if err := ctx.ShouldBindJSON(&body); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	proposal, confirmed, changed, err := calls.Default().Vote(squadID, userID, body.CallID, body.Vote)

	if err != nil {
		respondCallError(ctx, err)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{
		"proposal":  callProposalResponse(proposal),
		"confirmed": confirmed,
		"changed":   changed,
	})
}

func parseCallParams(startAt, timezone, location, title string) (calls.CallParams, error) {
	parsed, err := time.Parse(time.RFC3339, startAt)

	if err != nil {
		return calls.CallParams{}, errors.New("start_at must be a valid RFC3339 timestamp")
	}

	return calls.CallParams{
		StartAt:  parsed.UTC(),
		Timezone: timezone,
		Location: location,
		Title:    title,
	}, nil
}
