package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pterm/pterm"

	"tablesync/internal/client"
	"tablesync/internal/transport"
	"tablesync/session"
)

// renderer turns client callbacks into terminal output. All callbacks
// arrive from the client's event loop one at a time, so it keeps no
// locks.
type renderer struct {
	viewerUserID string
}

func (r *renderer) connectionState(state transport.ConnState) {
	switch state {
	case transport.StateConnected:
		pterm.Success.Println("Live stream connected")
	case transport.StateConnecting:
		pterm.Info.Println("Connecting...")
	case transport.StateDisconnected:
		pterm.Warning.Println("Live stream disconnected, refreshing by polling")
	case transport.StateError:
		pterm.Warning.Println("Live stream trouble, refreshing by polling")
	}
}

func (r *renderer) transientMessage(text string, severity client.Severity, _ time.Duration) {
	if severity == client.SeverityError {
		pterm.Error.Println(text)
		return
	}
	pterm.Info.Println(text)
}

func (r *renderer) navigate(dest transport.Destination) {
	switch dest {
	case transport.DestSummary:
		pterm.Info.Println("Session over, see you at the summary.")
	case transport.DestListing:
		pterm.Info.Println("Back to the session listing.")
	}
}

func (r *renderer) handResult(hr *client.HandResult) {
	if hr == nil {
		return
	}
	lines := make([]string, 0, len(hr.Winners)+1)
	for _, w := range hr.Winners {
		lines = append(lines, pterm.Sprintf("%s wins %d", pterm.LightCyan(w.ParticipantID), w.Amount))
	}
	lines = append(lines, pterm.Sprintf("pot %d (%s)", hr.PotAmount, hr.Type))
	title := pterm.LightGreen(fmt.Sprintf("| HAND %d |", hr.HandNumber))
	pterm.DefaultBox.
		WithTitle(title).
		WithTitleTopCenter().
		WithLeftPadding(2).
		WithRightPadding(2).
		Println(strings.Join(lines, "\n"))
}

func (r *renderer) sessionUpdate(s *session.Session) {
	header := pterm.Sprintf("%s  hand %d  phase %s  pot %d",
		statusLabel(s.Status), s.HandCount, s.Phase, s.Pot)
	if len(s.CommunityCards) > 0 {
		header += "  board " + strings.Join(s.CommunityCards, " ")
	}
	pterm.Println()
	pterm.DefaultSection.WithLevel(2).Println(header)

	data := pterm.TableData{{"", "Participant", "Stack", "Bet", "Cards", "State"}}
	for _, p := range s.Participants {
		data = append(data, r.participantRow(s, p))
	}
	if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
		pterm.Error.Println(err.Error())
	}

	if viewer := s.ParticipantByUser(r.viewerUserID); viewer != nil &&
		s.CurrentHolderID == viewer.ID && viewer.Active {
		r.printTurnPrompt(s, viewer)
	}
}

func (r *renderer) participantRow(s *session.Session, p session.Participant) []string {
	marker := " "
	if p.ID == s.CurrentHolderID {
		marker = pterm.LightYellow(">")
	}
	name := p.UserID
	if p.UserID == r.viewerUserID {
		name = pterm.LightCyan(name + " (you)")
	}
	cards := strings.Join(p.Cards, " ")
	if cards == "" {
		cards = "--"
	}
	return []string{
		marker,
		name,
		strconv.FormatInt(p.Stack, 10),
		strconv.FormatInt(p.CurrentBet, 10),
		cards,
		participantState(p),
	}
}

func (r *renderer) printTurnPrompt(s *session.Session, viewer *session.Participant) {
	owed := s.CallAmount(viewer)
	var choices []string
	if owed > 0 {
		choices = append(choices,
			pterm.Sprintf("call %d", owed),
			pterm.Sprintf("raise to >= %d", s.MinRaiseTo()),
			"fold")
	} else {
		choices = append(choices, "check")
		if s.CurrentBet == 0 {
			choices = append(choices, pterm.Sprintf("bet >= %d", s.MinOpeningBet()))
		}
		choices = append(choices, "fold")
	}
	pterm.Info.Printfln("Your turn: %s", strings.Join(choices, " / "))
}

func statusLabel(status session.Status) string {
	switch status {
	case session.StatusWaiting:
		return pterm.Gray("waiting")
	case session.StatusPlaying:
		return pterm.LightGreen("playing")
	case session.StatusFinished:
		return pterm.LightRed("finished")
	}
	return string(status)
}

func participantState(p session.Participant) string {
	switch {
	case p.CashedOut:
		return "cashed out"
	case !p.Active:
		return "folded"
	case p.ReadyForNextHand:
		return "ready"
	}
	return ""
}
