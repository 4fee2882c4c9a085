package match

import (
	"cmp"
	"context"
	"slices"

	"github.com/DoyleJ11/cards-party-backend/internal/domain"
	"github.com/DoyleJ11/cards-party-backend/internal/engine"
	"github.com/DoyleJ11/cards-party-backend/pkg/types"
)

// Hand is the set of fill cards a participant holds. Choice slots of the
// chosen cards always form the range 0..k-1.
type Hand struct {
	part   *Participant
	cards  []domain.HandCard
	loaded bool
}

func (h *Hand) load(ctx context.Context) error {
	if h.loaded {
		return nil
	}
	cards, err := h.part.match.reg.tx.HandCards(ctx, h.part.p.ID)
	if err != nil {
		return err
	}
	h.cards = cards
	h.loaded = true
	return nil
}

// Cards returns a copy of the hand in draw order.
func (h *Hand) Cards() []domain.HandCard {
	return slices.Clone(h.cards)
}

func (h *Hand) ByType(t engine.CardType) []domain.HandCard {
	var out []domain.HandCard
	for _, hc := range h.cards {
		if hc.Card.Type == t {
			out = append(out, hc)
		}
	}
	return out
}

// Replenish tops the hand up to HandCardsByType cards of every fill type,
// drawing cards not already on the hand.
func (h *Hand) Replenish(ctx context.Context) error {
	tx := h.part.match.reg.tx
	exclude := make([]uint, 0, len(h.cards))
	for _, hc := range h.cards {
		exclude = append(exclude, hc.CardID)
	}

	for _, t := range engine.FillTypes {
		need := engine.HandCardsByType - len(h.ByType(t))
		if need <= 0 {
			continue
		}
		drawn, err := tx.RandomCards(ctx, h.part.match.ID(), t, need, exclude)
		if err != nil {
			return err
		}
		if len(drawn) == 0 {
			continue
		}
		fresh := make([]domain.HandCard, len(drawn))
		for i, c := range drawn {
			fresh[i] = domain.HandCard{ParticipantID: h.part.p.ID, CardID: c.ID, Card: c}
			exclude = append(exclude, c.ID)
		}
		if err := tx.CreateHandCards(ctx, fresh); err != nil {
			return err
		}
		h.cards = append(h.cards, fresh...)
	}
	return nil
}

func (h *Hand) ChosenCount() int {
	n := 0
	for _, hc := range h.cards {
		if hc.ChoiceSlot != nil {
			n++
		}
	}
	return n
}

// Chosen returns the chosen cards ordered by slot.
func (h *Hand) Chosen() []domain.HandCard {
	var out []domain.HandCard
	for _, hc := range h.cards {
		if hc.ChoiceSlot != nil {
			out = append(out, hc)
		}
	}
	slices.SortFunc(out, func(a, b domain.HandCard) int { return cmp.Compare(*a.ChoiceSlot, *b.ChoiceSlot) })
	return out
}

// ToggleChosen chooses or un-chooses the hand card with the given id.
// allowance caps the number of chosen cards. Unknown ids are ignored.
func (h *Hand) ToggleChosen(ctx context.Context, handID uint, allowance int) (bool, error) {
	idx := slices.IndexFunc(h.cards, func(hc domain.HandCard) bool { return hc.ID == handID })
	if idx < 0 {
		return false, nil
	}

	slots := make([]*int, len(h.cards))
	for i, hc := range h.cards {
		slots[i] = hc.ChoiceSlot
	}
	if !engine.ToggleChoice(slots, idx, allowance) {
		return false, nil
	}

	for i := range h.cards {
		if slotEqual(h.cards[i].ChoiceSlot, slots[i]) {
			continue
		}
		h.cards[i].ChoiceSlot = slots[i]
		if err := h.part.match.reg.tx.UpdateHandCard(ctx, &h.cards[i]); err != nil {
			return false, storeErr(err)
		}
	}
	return true, nil
}

func slotEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// UnchooseAll returns every chosen card to the hand.
func (h *Hand) UnchooseAll(ctx context.Context) error {
	for i := range h.cards {
		if h.cards[i].ChoiceSlot == nil {
			continue
		}
		h.cards[i].ChoiceSlot = nil
		if err := h.part.match.reg.tx.UpdateHandCard(ctx, &h.cards[i]); err != nil {
			return storeErr(err)
		}
	}
	return nil
}

// DeleteChosen discards the chosen cards, they were played.
func (h *Hand) DeleteChosen(ctx context.Context) error {
	var ids []uint
	kept := h.cards[:0:0]
	for _, hc := range h.cards {
		if hc.ChoiceSlot != nil {
			ids = append(ids, hc.ID)
			continue
		}
		kept = append(kept, hc)
	}
	if len(ids) == 0 {
		return nil
	}
	if err := h.part.match.reg.tx.DeleteHandCards(ctx, ids); err != nil {
		return err
	}
	h.cards = kept
	return nil
}

// ChoiceData returns the chosen cards ordered by slot. Redacted data keeps
// the count but hides the text.
func (h *Hand) ChoiceData(redacted bool) []types.PlayedCard {
	chosen := h.Chosen()
	out := make([]types.PlayedCard, len(chosen))
	for i, hc := range chosen {
		if redacted {
			out[i] = types.PlayedCard{Redacted: true}
			continue
		}
		out[i] = types.PlayedCard{Text: hc.Card.Text}
	}
	return out
}
