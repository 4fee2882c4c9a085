// Package memstore is an in-process store.Store.
//
// A unit of work holds the store mutex for its whole lifetime and works on
// a copy of the data, so units are serializable and a failed unit leaves
// nothing behind.
package memstore

import (
	"cmp"
	"context"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/DoyleJ11/cards-party-backend/internal/domain"
	"github.com/DoyleJ11/cards-party-backend/internal/engine"
	"github.com/DoyleJ11/cards-party-backend/internal/store"
)

type data struct {
	nextID       uint
	matches      map[uint]domain.Match
	cards        map[uint]domain.Card
	participants map[uint]domain.Participant
	hands        map[uint]domain.HandCard
	chat         map[uint]domain.ChatMessage
}

func newData() *data {
	return &data{
		matches:      map[uint]domain.Match{},
		cards:        map[uint]domain.Card{},
		participants: map[uint]domain.Participant{},
		hands:        map[uint]domain.HandCard{},
		chat:         map[uint]domain.ChatMessage{},
	}
}

func (d *data) clone() *data {
	c := &data{
		nextID:       d.nextID,
		matches:      make(map[uint]domain.Match, len(d.matches)),
		cards:        d.cards, // cards are insert-only, see tx.CreateCards
		participants: make(map[uint]domain.Participant, len(d.participants)),
		hands:        make(map[uint]domain.HandCard, len(d.hands)),
		chat:         d.chat,
	}
	for k, v := range d.matches {
		v.CurrentCardID = clonePtr(v.CurrentCardID)
		c.matches[k] = v
	}
	for k, v := range d.participants {
		v.OrderKey = clonePtr(v.OrderKey)
		c.participants[k] = v
	}
	for k, v := range d.hands {
		v.ChoiceSlot = clonePtr(v.ChoiceSlot)
		c.hands[k] = v
	}
	return c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

type Store struct {
	mu   sync.Mutex
	data *data
	rng  *rand.Rand
}

func New() *Store {
	return &Store{data: newData(), rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
}

// NewSeeded returns a store with deterministic card sampling.
func NewSeeded(seed uint64) *Store {
	return &Store{data: newData(), rng: rand.New(rand.NewPCG(seed, seed))}
}

func (s *Store) Migrate(context.Context) error { return nil }
func (s *Store) Close() error                  { return nil }

func (s *Store) WithinTx(ctx context.Context, fn func(store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &tx{d: s.data.clone(), rng: s.rng}
	if err := fn(t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	t.commitCopies()
	s.data = t.d
	return nil
}

type tx struct {
	d   *data
	rng *rand.Rand

	// Cards and chat are shared with the committed state and only ever
	// appended to; pending appends are applied on commit.
	newCards []domain.Card
	newChat  []domain.ChatMessage
	dropped  map[uint]bool
}

func (t *tx) id() uint {
	t.d.nextID++
	return t.d.nextID
}

func (t *tx) commitCopies() {
	if len(t.newCards) > 0 || len(t.dropped) > 0 {
		cards := make(map[uint]domain.Card, len(t.d.cards)+len(t.newCards))
		for k, v := range t.d.cards {
			if !t.dropped[v.MatchID] {
				cards[k] = v
			}
		}
		for _, c := range t.newCards {
			cards[c.ID] = c
		}
		t.d.cards = cards
	}
	if len(t.newChat) > 0 || len(t.dropped) > 0 {
		chat := make(map[uint]domain.ChatMessage, len(t.d.chat)+len(t.newChat))
		for k, v := range t.d.chat {
			if !t.dropped[v.MatchID] {
				chat[k] = v
			}
		}
		for _, m := range t.newChat {
			chat[m.ID] = m
		}
		t.d.chat = chat
	}
}

func (t *tx) card(id uint) (domain.Card, bool) {
	if c, ok := t.d.cards[id]; ok && !t.dropped[c.MatchID] {
		return c, true
	}
	for _, c := range t.newCards {
		if c.ID == id {
			return c, true
		}
	}
	return domain.Card{}, false
}

func (t *tx) CreateMatch(_ context.Context, m *domain.Match) error {
	m.ID = t.id()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	t.d.matches[m.ID] = *m
	return nil
}

func (t *tx) GetMatch(_ context.Context, id uint) (*domain.Match, error) {
	m, ok := t.d.matches[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	m.CurrentCardID = clonePtr(m.CurrentCardID)
	return &m, nil
}

func (t *tx) UpdateMatch(_ context.Context, m *domain.Match) error {
	if _, ok := t.d.matches[m.ID]; !ok {
		return store.ErrNotFound
	}
	c := *m
	c.CurrentCardID = clonePtr(m.CurrentCardID)
	t.d.matches[m.ID] = c
	return nil
}

func (t *tx) DeleteMatch(_ context.Context, id uint) error {
	delete(t.d.matches, id)
	for pid, p := range t.d.participants {
		if p.MatchID == id {
			t.deleteHand(pid)
			delete(t.d.participants, pid)
		}
	}
	if t.dropped == nil {
		t.dropped = map[uint]bool{}
	}
	t.dropped[id] = true
	t.newCards = slices.DeleteFunc(t.newCards, func(c domain.Card) bool { return c.MatchID == id })
	t.newChat = slices.DeleteFunc(t.newChat, func(m domain.ChatMessage) bool { return m.MatchID == id })
	return nil
}

func (t *tx) ListMatches(context.Context) ([]domain.Match, error) {
	out := make([]domain.Match, 0, len(t.d.matches))
	for _, m := range t.d.matches {
		m.CurrentCardID = clonePtr(m.CurrentCardID)
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b domain.Match) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (t *tx) EmptyMatchIDs(context.Context) ([]uint, error) {
	used := map[uint]bool{}
	for _, p := range t.d.participants {
		used[p.MatchID] = true
	}
	var ids []uint
	for id := range t.d.matches {
		if !used[id] {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (t *tx) CreateCards(_ context.Context, cards []domain.Card) error {
	for i := range cards {
		cards[i].ID = t.id()
		t.newCards = append(t.newCards, cards[i])
	}
	return nil
}

func (t *tx) GetCard(_ context.Context, id uint) (*domain.Card, error) {
	c, ok := t.card(id)
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (t *tx) RandomCards(_ context.Context, matchID uint, ct engine.CardType, n int, exclude []uint) ([]domain.Card, error) {
	if n <= 0 {
		return nil, nil
	}
	var pool []domain.Card
	add := func(c domain.Card) {
		if c.MatchID == matchID && c.Type == ct && !slices.Contains(exclude, c.ID) {
			pool = append(pool, c)
		}
	}
	if !t.dropped[matchID] {
		for _, c := range t.d.cards {
			add(c)
		}
	}
	for _, c := range t.newCards {
		add(c)
	}
	// Map iteration order is random but not uniform; sort then shuffle.
	slices.SortFunc(pool, func(a, b domain.Card) int { return cmp.Compare(a.ID, b.ID) })
	t.rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	if len(pool) > n {
		pool = pool[:n]
	}
	return pool, nil
}

func (t *tx) CreateParticipant(_ context.Context, p *domain.Participant) error {
	for _, other := range t.d.participants {
		if other.PlayerID == p.PlayerID {
			return store.ErrConflict
		}
	}
	p.ID = t.id()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	c := *p
	c.OrderKey = clonePtr(p.OrderKey)
	t.d.participants[p.ID] = c
	return nil
}

func (t *tx) Participants(_ context.Context, matchID uint) ([]domain.Participant, error) {
	var out []domain.Participant
	for _, p := range t.d.participants {
		if p.MatchID == matchID {
			p.OrderKey = clonePtr(p.OrderKey)
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b domain.Participant) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (t *tx) ParticipantByPlayer(_ context.Context, playerID string) (*domain.Participant, error) {
	for _, p := range t.d.participants {
		if p.PlayerID == playerID {
			p.OrderKey = clonePtr(p.OrderKey)
			return &p, nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *tx) UpdateParticipant(_ context.Context, p *domain.Participant) error {
	cur, ok := t.d.participants[p.ID]
	if !ok {
		return store.ErrNotFound
	}
	cur.Name = p.Name
	cur.Score = p.Score
	cur.Picking = p.Picking
	cur.AFKRounds = p.AFKRounds
	cur.TimeoutAt = p.TimeoutAt
	cur.OrderKey = clonePtr(p.OrderKey)
	t.d.participants[p.ID] = cur
	return nil
}

func (t *tx) DeleteParticipant(_ context.Context, id uint) error {
	t.deleteHand(id)
	delete(t.d.participants, id)
	return nil
}

func (t *tx) deleteHand(participantID uint) {
	for id, hc := range t.d.hands {
		if hc.ParticipantID == participantID {
			delete(t.d.hands, id)
		}
	}
}

func (t *tx) ExpiredParticipants(_ context.Context, now time.Time) ([]domain.Participant, error) {
	var out []domain.Participant
	for _, p := range t.d.participants {
		if p.TimeoutAt.Before(now) {
			p.OrderKey = clonePtr(p.OrderKey)
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b domain.Participant) int {
		return cmp.Or(cmp.Compare(a.MatchID, b.MatchID), cmp.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (t *tx) HandCards(_ context.Context, participantID uint) ([]domain.HandCard, error) {
	var out []domain.HandCard
	for _, hc := range t.d.hands {
		if hc.ParticipantID != participantID {
			continue
		}
		hc.ChoiceSlot = clonePtr(hc.ChoiceSlot)
		hc.Card, _ = t.card(hc.CardID)
		out = append(out, hc)
	}
	slices.SortFunc(out, func(a, b domain.HandCard) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (t *tx) CreateHandCards(_ context.Context, cards []domain.HandCard) error {
	for i := range cards {
		cards[i].ID = t.id()
		c := cards[i]
		c.Card = domain.Card{}
		c.ChoiceSlot = clonePtr(c.ChoiceSlot)
		t.d.hands[c.ID] = c
	}
	return nil
}

func (t *tx) UpdateHandCard(_ context.Context, hc *domain.HandCard) error {
	cur, ok := t.d.hands[hc.ID]
	if !ok {
		return store.ErrNotFound
	}
	cur.ChoiceSlot = clonePtr(hc.ChoiceSlot)
	t.d.hands[hc.ID] = cur
	return nil
}

func (t *tx) DeleteHandCards(_ context.Context, ids []uint) error {
	for _, id := range ids {
		delete(t.d.hands, id)
	}
	return nil
}

func (t *tx) AppendChat(_ context.Context, msg *domain.ChatMessage) error {
	msg.ID = t.id()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	t.newChat = append(t.newChat, *msg)
	return nil
}

func (t *tx) ChatSince(_ context.Context, matchID, afterID uint, limit int) ([]domain.ChatMessage, error) {
	var out []domain.ChatMessage
	if !t.dropped[matchID] {
		for _, m := range t.d.chat {
			if m.MatchID == matchID && m.ID > afterID {
				out = append(out, m)
			}
		}
	}
	for _, m := range t.newChat {
		if m.MatchID == matchID && m.ID > afterID {
			out = append(out, m)
		}
	}
	slices.SortFunc(out, func(a, b domain.ChatMessage) int { return cmp.Compare(a.ID, b.ID) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
