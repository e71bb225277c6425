package session

// Event is emitted by Apply when a reconciled snapshot crosses a
// boundary the rest of the client reacts to.
type Event interface {
	isEvent()
}

// HandCompletion is emitted once per observed hand outcome. Participants
// is the seat list as of the completing snapshot, so consumers can read
// the viewer's flags at that moment rather than at display time.
type HandCompletion struct {
	HandNumber   int
	Winners      []Winner
	PotAmount    int64
	Type         string
	Participants []Participant
}

// SessionEnded is emitted when the session is finished and every
// participant has settled up.
type SessionEnded struct {
	SessionID string
}

func (HandCompletion) isEvent() {}
func (SessionEnded) isEvent()   {}
