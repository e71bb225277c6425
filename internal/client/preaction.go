package client

import (
	"time"

	"tablesync/session"
)

// PreAction is one action chosen ahead of the viewer's turn. At most
// one is live; a new one replaces it, and resolution or teardown
// destroys it.
type PreAction struct {
	Kind      session.ActionKind
	Amount    int64
	CreatedAt time.Time
}

// resolvePreAction validates a queued action against the live betting
// parameters and maps it to the concrete action to submit. ok=false
// means the pre-action went stale and is silently dropped.
func resolvePreAction(s *session.Session, viewer *session.Participant, pre *PreAction) (session.ActionKind, int64, bool) {
	owed := s.CallAmount(viewer)
	switch pre.Kind {
	case session.ActionCheckOrFold:
		if owed > 0 {
			return session.ActionFold, 0, true
		}
		return session.ActionCheck, 0, true
	case session.ActionCall:
		if owed <= 0 {
			return "", 0, false
		}
		return session.ActionCall, owed, true
	case session.ActionCheck:
		if owed > 0 {
			return "", 0, false
		}
		return session.ActionCheck, 0, true
	case session.ActionFold:
		return session.ActionFold, 0, true
	case session.ActionBet:
		if s.CurrentBet != 0 || pre.Amount < s.MinOpeningBet() {
			return "", 0, false
		}
		return session.ActionBet, pre.Amount, true
	case session.ActionRaise:
		if s.CurrentBet <= 0 || pre.Amount < s.MinRaiseTo() {
			return "", 0, false
		}
		return session.ActionRaise, pre.Amount, true
	default:
		return "", 0, false
	}
}
