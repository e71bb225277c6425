package session

import "time"

// Status is the server-reported lifecycle state of a session.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusPlaying  Status = "playing"
	StatusFinished Status = "finished"
)

// Phase is the betting street of the current hand.
type Phase string

const (
	PhasePreflop  Phase = "preflop"
	PhaseFlop     Phase = "flop"
	PhaseTurn     Phase = "turn"
	PhaseRiver    Phase = "river"
	PhaseShowdown Phase = "showdown"
	PhaseInterim  Phase = "interim"
)

// ActionKind names a betting action the viewer can take or queue ahead
// of their turn. CheckOrFold never reaches the server; it resolves to
// check or fold at turn arrival.
type ActionKind string

const (
	ActionCheckOrFold ActionKind = "checkOrFold"
	ActionCall        ActionKind = "call"
	ActionCheck       ActionKind = "check"
	ActionFold        ActionKind = "fold"
	ActionBet         ActionKind = "bet"
	ActionRaise       ActionKind = "raise"
)

// Winner is one payout line of a completed hand.
type Winner struct {
	ParticipantID string `json:"participantId"`
	Amount        int64  `json:"amount"`
}

// WinnerInfo describes the outcome of the most recently completed hand.
// It stays on the session until the next hand starts.
type WinnerInfo struct {
	Winners   []Winner `json:"winners"`
	PotAmount int64    `json:"potAmount"`
	Type      string   `json:"type"`
}

// Participant is a seat occupant, human or automated.
type Participant struct {
	ID               string   `json:"id"`
	UserID           string   `json:"userId"`
	Stack            int64    `json:"stack"`
	CurrentBet       int64    `json:"currentBet"`
	Active           bool     `json:"isActive"`
	CashedOut        bool     `json:"cashedOut"`
	ReadyForNextHand bool     `json:"readyForNextHand"`
	Cards            CardList `json:"cards"`
}

// Session is one full point-in-time view of a play instance. Inbound
// payloads replace it wholesale; Apply carries a few fields forward.
type Session struct {
	ID              string        `json:"id"`
	Status          Status        `json:"status"`
	Phase           Phase         `json:"phase"`
	Pot             int64         `json:"pot"`
	CurrentBet      int64         `json:"currentBet"`
	MinRaiseDelta   int64         `json:"minRaiseDelta"`
	BigBlind        int64         `json:"bigBlind"`
	CurrentHolderID string        `json:"currentHolderId"`
	DealerSeat      int           `json:"dealerSeat"`
	CommunityCards  CardList      `json:"communityCards"`
	HandCount       int           `json:"handCount"`
	WinnerInfo      *WinnerInfo   `json:"winnerInfo,omitempty"`
	Participants    []Participant `json:"participants"`
}

// HandRecord is one entry of the hand-history collaborator response.
type HandRecord struct {
	HandNumber  int       `json:"handNumber"`
	Winners     []Winner  `json:"winners"`
	PotAmount   int64     `json:"potAmount"`
	Type        string    `json:"type"`
	CompletedAt time.Time `json:"completedAt"`
}

// Clone returns a deep copy. Callers hand clones across goroutine
// boundaries so the reconciled state is never shared mutable.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.CommunityCards = append(CardList(nil), s.CommunityCards...)
	if s.WinnerInfo != nil {
		wi := *s.WinnerInfo
		wi.Winners = append([]Winner(nil), s.WinnerInfo.Winners...)
		out.WinnerInfo = &wi
	}
	out.Participants = make([]Participant, len(s.Participants))
	for i, p := range s.Participants {
		p.Cards = append(CardList(nil), p.Cards...)
		out.Participants[i] = p
	}
	return &out
}

// Participant returns the participant with the given id, or nil.
func (s *Session) Participant(id string) *Participant {
	if s == nil {
		return nil
	}
	for i := range s.Participants {
		if s.Participants[i].ID == id {
			return &s.Participants[i]
		}
	}
	return nil
}

// ParticipantByUser returns the participant seated for the given user, or nil.
func (s *Session) ParticipantByUser(userID string) *Participant {
	if s == nil {
		return nil
	}
	for i := range s.Participants {
		if s.Participants[i].UserID == userID {
			return &s.Participants[i]
		}
	}
	return nil
}

// CallAmount is what p still owes to match the current street bet.
func (s *Session) CallAmount(p *Participant) int64 {
	if p == nil {
		return 0
	}
	owed := s.CurrentBet - p.CurrentBet
	if owed < 0 {
		owed = 0
	}
	return owed
}

// MinOpeningBet is the smallest legal opening bet when nothing is outstanding.
func (s *Session) MinOpeningBet() int64 {
	return s.BigBlind
}

// MinRaiseTo is the smallest legal total a raise must reach against an
// outstanding bet.
func (s *Session) MinRaiseTo() int64 {
	byDelta := s.CurrentBet + s.MinRaiseDelta
	byDouble := 2 * s.CurrentBet
	if byDouble > byDelta {
		return byDouble
	}
	return byDelta
}

// AllCashedOut reports whether every participant has cashed out.
// False for an empty seat list.
func (s *Session) AllCashedOut() bool {
	if len(s.Participants) == 0 {
		return false
	}
	for i := range s.Participants {
		if !s.Participants[i].CashedOut {
			return false
		}
	}
	return true
}
