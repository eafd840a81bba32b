package consensus_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sfoufcat/slimcircle/internal/consensus"
)

func TestRequiredVotes(t *testing.T) {
	testCases := map[int]int{
		1:  1,
		2:  2,
		3:  2,
		4:  3,
		5:  3,
		10: 6,
	}

	for members, expected := range testCases {
		assert.Equal(
			t,
			expected,
			consensus.RequiredVotes(members),
			"quorum for %d members",
			members,
		)
	}
}

func TestApplyVoteFirstVote(t *testing.T) {
	tally, changed := consensus.ApplyVote("", "yes", consensus.Tally{Yes: 1, No: 0})
	assert.True(t, changed)
	assert.Equal(t, consensus.Tally{Yes: 2, No: 0}, tally)

	tally, changed = consensus.ApplyVote("", "no", consensus.Tally{Yes: 1, No: 0})
	assert.True(t, changed)
	assert.Equal(t, consensus.Tally{Yes: 1, No: 1}, tally)
}

func TestApplyVoteIdempotentRevote(t *testing.T) {
	start := consensus.Tally{Yes: 2, No: 1}

	tally, changed := consensus.ApplyVote("yes", "yes", start)
	assert.False(t, changed)
	assert.Equal(t, start, tally)

	tally, changed = consensus.ApplyVote("no", "no", start)
	assert.False(t, changed)
	assert.Equal(t, start, tally)
}

func TestApplyVoteSwitchSides(t *testing.T) {
	tally, changed := consensus.ApplyVote("yes", "no", consensus.Tally{Yes: 2, No: 0})
	assert.True(t, changed)
	assert.Equal(t, consensus.Tally{Yes: 1, No: 1}, tally)

	tally, changed = consensus.ApplyVote("no", "yes", consensus.Tally{Yes: 1, No: 1})
	assert.True(t, changed)
	assert.Equal(t, consensus.Tally{Yes: 2, No: 0}, tally)
}

func TestConfirmed(t *testing.T) {
	assert.False(t, consensus.Confirmed(2, 3))
	assert.True(t, consensus.Confirmed(3, 3))
	assert.True(t, consensus.Confirmed(4, 3))
	// Single-member squad confirms on the self-vote.
	assert.True(t, consensus.Confirmed(1, consensus.RequiredVotes(1)))
}
