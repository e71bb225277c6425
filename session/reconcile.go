package session

// Apply merges an inbound snapshot against local knowledge and reports
// the events the transition implies. It is pure: neither argument is
// mutated, and the push and poll paths call it identically, so the
// result does not depend on which path observes an update first.
//
// The inbound payload is authoritative for every field except one:
// private cards the client has already seen in the current hand are
// carried forward when a later payload omits them. The server stops
// echoing hole cards once the client no longer strictly needs them, but
// the viewer must keep seeing them for the remainder of the hand.
func Apply(inbound, local *Session) (*Session, []Event) {
	if inbound == nil {
		return local.Clone(), nil
	}
	merged := inbound.Clone()

	if local != nil && inbound.HandCount == local.HandCount {
		for i := range merged.Participants {
			p := &merged.Participants[i]
			if len(p.Cards) > 0 {
				continue
			}
			if lp := local.Participant(p.ID); lp != nil && len(lp.Cards) > 0 {
				p.Cards = append(CardList(nil), lp.Cards...)
			}
		}
	}

	var events []Event
	if hc, ok := detectHandCompletion(inbound, local); ok {
		events = append(events, hc)
	}
	if detectSessionEnd(inbound, local) {
		events = append(events, SessionEnded{SessionID: inbound.ID})
	}
	return merged, events
}

// detectHandCompletion fires when winner info appears, changes by value,
// or the hand counter advances while winner info is present. A counter
// jump without winner info is not a completion: there is no outcome to
// show, and synthesizing an empty one would surface a winnerless popup.
func detectHandCompletion(inbound, local *Session) (HandCompletion, bool) {
	if inbound.WinnerInfo == nil {
		return HandCompletion{}, false
	}
	changed := local == nil ||
		local.WinnerInfo == nil ||
		!winnerInfoEqual(inbound.WinnerInfo, local.WinnerInfo) ||
		inbound.HandCount > local.HandCount
	if !changed {
		return HandCompletion{}, false
	}
	hc := HandCompletion{
		HandNumber:   inbound.HandCount,
		Winners:      append([]Winner(nil), inbound.WinnerInfo.Winners...),
		PotAmount:    inbound.WinnerInfo.PotAmount,
		Type:         inbound.WinnerInfo.Type,
		Participants: make([]Participant, len(inbound.Participants)),
	}
	for i, p := range inbound.Participants {
		p.Cards = append(CardList(nil), p.Cards...)
		hc.Participants[i] = p
	}
	return hc, true
}

func detectSessionEnd(inbound, local *Session) bool {
	if !sessionOver(inbound) {
		return false
	}
	// Re-applying a snapshot that already looked finished must not
	// re-emit.
	return local == nil || !sessionOver(local)
}

func sessionOver(s *Session) bool {
	return s != nil && s.Status == StatusFinished && s.AllCashedOut()
}

func winnerInfoEqual(a, b *WinnerInfo) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.PotAmount != b.PotAmount || a.Type != b.Type || len(a.Winners) != len(b.Winners) {
		return false
	}
	for i := range a.Winners {
		if a.Winners[i] != b.Winners[i] {
			return false
		}
	}
	return true
}
