package client

import (
	"time"

	"go.uber.org/zap"

	"tablesync/session"
)

// popupSequencer decides whether a hand outcome becomes a visible
// result overlay. It enforces at most one display per completed hand,
// with one exception: a split pot always (re)shows, even over a
// currently displayed result for a different hand, so multi-winner
// outcomes survive push/poll races.
type popupSequencer struct {
	viewerUserID string
	log          *zap.Logger
	now          func() time.Time
	emit         func(*HandResult)

	active *HandResult
}

func (p *popupSequencer) handleCompletion(hc session.HandCompletion) {
	if viewer := participantByUser(hc.Participants, p.viewerUserID); viewer != nil {
		// Flags as of the completing hand, not as of display time.
		if viewer.ReadyForNextHand || viewer.CashedOut {
			p.log.Debug("result suppressed, viewer already moved on",
				zap.Int("hand", hc.HandNumber))
			return
		}
	}

	split := len(hc.Winners) > 1
	if !split && p.active != nil && p.active.HandNumber == hc.HandNumber {
		return
	}

	hr := &HandResult{
		HandNumber: hc.HandNumber,
		Winners:    append([]session.Winner(nil), hc.Winners...),
		PotAmount:  hc.PotAmount,
		Type:       hc.Type,
		ShownAt:    p.now(),
	}
	p.active = hr
	p.log.Debug("showing result", zap.Int("hand", hc.HandNumber), zap.Bool("split", split))
	if p.emit != nil {
		p.emit(hr)
	}
}

// dismiss clears the active result unconditionally.
func (p *popupSequencer) dismiss() {
	if p.active == nil {
		return
	}
	p.active = nil
	if p.emit != nil {
		p.emit(nil)
	}
}

func participantByUser(participants []session.Participant, userID string) *session.Participant {
	for i := range participants {
		if participants[i].UserID == userID {
			return &participants[i]
		}
	}
	return nil
}
