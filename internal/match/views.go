package match

import (
	"cmp"
	"context"
	"slices"

	"github.com/DoyleJ11/cards-party-backend/internal/domain"
	"github.com/DoyleJ11/cards-party-backend/internal/engine"
	"github.com/DoyleJ11/cards-party-backend/pkg/types"
)

// Status is a pure read of the match as seen by viewer.
func (m *Match) Status(viewer *Participant) types.Status {
	pickerName := ""
	if p := m.Picker(); p != nil {
		pickerName = p.Name()
	}
	s := types.Status{
		MatchID:     m.m.ID,
		Phase:       string(m.m.Phase),
		Timer:       max(0, m.SecondsToNextPhase()),
		StatusText:  engine.StatusText(m.m.Phase, pickerName),
		Ending:      m.m.Phase == engine.PhaseEnding,
		HasCard:     m.card != nil,
		Gaps:        m.CardGapCount(),
		IsPicker:    viewer.Picking() && !viewer.Spectator(),
		AllowChoose: m.AllowChoose(viewer),
		AllowPick:   m.AllowPick(viewer),
		IsSpectator: viewer.Spectator(),
		CanSkip:     m.CanSkip(viewer),
	}
	if m.card != nil {
		s.CardText = m.card.Text
	}
	return s
}

func (m *Match) ParticipantViews() []types.ParticipantView {
	out := make([]types.ParticipantView, 0, len(m.roster))
	for _, p := range m.roster {
		out = append(out, types.ParticipantView{
			ID:        p.ID(),
			Name:      p.Name(),
			Score:     p.Score(),
			Picking:   p.Picking() && !p.Spectator(),
			Spectator: p.Spectator(),
		})
	}
	return out
}

// PlayedSets lists the cards players submitted this round in shuffled
// order. Other players' sets stay redacted until choosing is over.
func (m *Match) PlayedSets(ctx context.Context, viewer *Participant) ([]types.PlayedSet, error) {
	visible := engine.ChoicesVisible(m.m.Phase)
	var sets []types.PlayedSet
	for _, p := range m.Players() {
		if p.Picking() {
			continue
		}
		h, err := p.Hand(ctx)
		if err != nil {
			return nil, err
		}
		if h.ChosenCount() == 0 {
			continue
		}
		own := p == viewer
		sets = append(sets, types.PlayedSet{
			ID:    p.OrderKey(),
			Own:   own,
			Cards: h.ChoiceData(!visible && !own),
		})
	}
	slices.SortFunc(sets, func(a, b types.PlayedSet) int { return cmp.Compare(a.ID, b.ID) })
	return sets, nil
}

// CardsView is the viewer's hand grouped by type plus the played sets.
func (m *Match) CardsView(ctx context.Context, viewer *Participant) (types.CardsView, error) {
	v := types.CardsView{Hand: map[string][]types.HandCardView{}}
	if !viewer.Spectator() {
		h, err := viewer.Hand(ctx)
		if err != nil {
			return v, err
		}
		for _, t := range engine.FillTypes {
			views := []types.HandCardView{}
			for _, hc := range h.ByType(t) {
				views = append(views, handCardView(hc))
			}
			v.Hand[string(t)] = views
		}
	}
	played, err := m.PlayedSets(ctx, viewer)
	if err != nil {
		return v, err
	}
	v.Played = played
	return v, nil
}

func handCardView(hc domain.HandCard) types.HandCardView {
	return types.HandCardView{
		ID:         hc.ID,
		Text:       hc.Card.Text,
		Type:       string(hc.Card.Type),
		ChoiceSlot: hc.ChoiceSlot,
	}
}

func ChatViews(msgs []domain.ChatMessage, offset uint) types.ChatView {
	v := types.ChatView{Messages: make([]types.ChatMessage, 0, len(msgs)), Offset: offset}
	for _, msg := range msgs {
		v.Messages = append(v.Messages, types.ChatMessage{
			ID:        msg.ID,
			Kind:      string(msg.Kind),
			Author:    msg.Author,
			Text:      msg.Text,
			CreatedAt: msg.CreatedAt,
		})
		v.Offset = max(v.Offset, msg.ID)
	}
	return v
}

func sortSummaries(s []types.MatchSummary) {
	slices.SortStableFunc(s, func(a, b types.MatchSummary) int {
		ap, bp := a.Phase == string(engine.PhasePending), b.Phase == string(engine.PhasePending)
		if ap != bp {
			if ap {
				return -1
			}
			return 1
		}
		return cmp.Compare(a.Timer, b.Timer)
	})
}
