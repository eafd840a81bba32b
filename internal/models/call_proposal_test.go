package models_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sfoufcat/slimcircle/internal/models"
)

func TestCallProposalIsActive(t *testing.T) {
	testCases := map[string]bool{
		models.ProposalStatusPending:   true,
		models.ProposalStatusConfirmed: true,
		models.ProposalStatusCanceled:  false,
	}

	for status, expected := range testCases {
		proposal := models.CallProposal{Status: status}
		assert.Equal(t, expected, proposal.IsActive(), "status %s", status)
	}
}
