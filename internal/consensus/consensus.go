// Package consensus holds the pure decision logic for squad call voting:
// quorum arithmetic, tally transitions and the confirmation predicate.
// It performs no I/O so the lifecycle controller can call it inside a
// transaction and tests can table-drive it.
package consensus

// Tally is the denormalized vote count carried on a proposal.
type Tally struct {
	Yes int
	No  int
}

// RequiredVotes returns the strict majority of the squad size:
// floor(totalMembers/2) + 1. A single-member squad has quorum 1, so a
// proposal there confirms on creation via the creator's self-vote.
func RequiredVotes(totalMembers int) int {
	return totalMembers/2 + 1
}

// ApplyVote transitions a tally for a voter whose previous choice was
// existing ("" when they have not voted yet) and whose new choice is vote.
// The second return value is false when the vote is an idempotent re-vote
// and the tally is unchanged.
func ApplyVote(existing, vote string, t Tally) (Tally, bool) {
	if existing == vote {
		return t, false
	}

	switch existing {
	case "yes":
		t.Yes--
	case "no":
		t.No--
	}

	switch vote {
	case "yes":
		t.Yes++
	case "no":
		t.No++
	}

	return t, true
}

// Confirmed reports whether the yes tally has reached quorum.
func Confirmed(yesCount, requiredVotes int) bool {
	return yesCount >= requiredVotes
}
