package client

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"tablesync/session"
)

type popupLog struct {
	shown []*HandResult
}

func newTestSequencer(viewer string) (*popupSequencer, *popupLog) {
	pl := &popupLog{}
	p := &popupSequencer{
		viewerUserID: viewer,
		log:          zap.NewNop(),
		now:          func() time.Time { return time.Unix(1000, 0) },
		emit:         func(hr *HandResult) { pl.shown = append(pl.shown, hr) },
	}
	return p, pl
}

func completion(hand int, winners ...session.Winner) session.HandCompletion {
	return session.HandCompletion{
		HandNumber: hand,
		Winners:    winners,
		PotAmount:  40,
		Type:       "showdown",
		Participants: []session.Participant{
			{ID: "p1", UserID: "u1", Active: true},
			{ID: "p2", UserID: "u2", Active: true},
		},
	}
}

func TestPopup_AtMostOncePerHand(t *testing.T) {
	p, pl := newTestSequencer("u1")

	hc := completion(3, session.Winner{ParticipantID: "p2", Amount: 40})
	p.handleCompletion(hc)
	p.handleCompletion(hc) // push/poll race duplicate

	if len(pl.shown) != 1 {
		t.Fatalf("expected exactly one visible popup, got %d", len(pl.shown))
	}
	if pl.shown[0].HandNumber != 3 {
		t.Fatalf("hand = %d", pl.shown[0].HandNumber)
	}
	if pl.shown[0].ShownAt.IsZero() {
		t.Fatal("ShownAt not stamped")
	}
}

func TestPopup_SplitPotOverridesDifferentHand(t *testing.T) {
	p, pl := newTestSequencer("u1")

	p.handleCompletion(completion(3, session.Winner{ParticipantID: "p2", Amount: 40}))
	split := completion(4,
		session.Winner{ParticipantID: "p1", Amount: 20},
		session.Winner{ParticipantID: "p2", Amount: 20})
	p.handleCompletion(split)

	if len(pl.shown) != 2 {
		t.Fatalf("split pot must override the displayed result, got %d emissions", len(pl.shown))
	}
	if got := pl.shown[1]; got.HandNumber != 4 || len(got.Winners) != 2 {
		t.Fatalf("unexpected override result: %+v", got)
	}
}

func TestPopup_SplitPotReshowsSameHand(t *testing.T) {
	p, pl := newTestSequencer("u1")

	split := completion(4,
		session.Winner{ParticipantID: "p1", Amount: 20},
		session.Winner{ParticipantID: "p2", Amount: 20})
	p.handleCompletion(split)
	p.handleCompletion(split)

	if len(pl.shown) != 2 {
		t.Fatalf("split pot must always reshow, got %d emissions", len(pl.shown))
	}
}

func TestPopup_SuppressedWhenViewerReadyOrCashedOut(t *testing.T) {
	for _, tc := range []struct {
		name  string
		ready bool
		out   bool
	}{
		{"ready", true, false},
		{"cashedOut", false, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			p, pl := newTestSequencer("u1")
			hc := completion(3, session.Winner{ParticipantID: "p2", Amount: 40})
			hc.Participants[0].ReadyForNextHand = tc.ready
			hc.Participants[0].CashedOut = tc.out
			p.handleCompletion(hc)
			if len(pl.shown) != 0 {
				t.Fatalf("expected suppression, got %d emissions", len(pl.shown))
			}
		})
	}
}

func TestPopup_DismissClearsOnce(t *testing.T) {
	p, pl := newTestSequencer("u1")
	p.handleCompletion(completion(3, session.Winner{ParticipantID: "p2", Amount: 40}))
	p.dismiss()
	p.dismiss()

	if len(pl.shown) != 2 {
		t.Fatalf("expected show + single clear, got %d emissions", len(pl.shown))
	}
	if pl.shown[1] != nil {
		t.Fatalf("dismiss must emit nil, got %+v", pl.shown[1])
	}
}

func TestPopup_NewHandShowsAfterDismiss(t *testing.T) {
	p, pl := newTestSequencer("u1")
	p.handleCompletion(completion(3, session.Winner{ParticipantID: "p2", Amount: 40}))
	p.dismiss()
	p.handleCompletion(completion(4, session.Winner{ParticipantID: "p1", Amount: 40}))

	if len(pl.shown) != 3 {
		t.Fatalf("expected show, clear, show; got %d emissions", len(pl.shown))
	}
	if pl.shown[2] == nil || pl.shown[2].HandNumber != 4 {
		t.Fatalf("unexpected final emission: %+v", pl.shown[2])
	}
}
