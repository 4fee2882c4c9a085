package gormstore

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/DoyleJ11/cards-party-backend/internal/domain"
	"github.com/DoyleJ11/cards-party-backend/internal/engine"
)

type tx struct {
	db *gorm.DB
}

func (t *tx) CreateMatch(ctx context.Context, m *domain.Match) error {
	return translate(t.db.WithContext(ctx).Create(m).Error, "create match")
}

func (t *tx) GetMatch(ctx context.Context, id uint) (*domain.Match, error) {
	var m domain.Match
	err := t.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&m, id).Error
	if err != nil {
		return nil, translate(err, "get match")
	}
	return &m, nil
}

func (t *tx) UpdateMatch(ctx context.Context, m *domain.Match) error {
	err := t.db.WithContext(ctx).Model(m).
		Select("Phase", "TimerExpiresAt", "CurrentCardID").
		Updates(m).Error
	return translate(err, "update match")
}

func (t *tx) DeleteMatch(ctx context.Context, id uint) error {
	db := t.db.WithContext(ctx)
	parts := db.Model(&domain.Participant{}).Select("id").Where("match_id = ?", id)
	steps := []struct {
		op string
		fn func() error
	}{
		{"delete hands", func() error {
			return db.Where("participant_id IN (?)", parts).Delete(&domain.HandCard{}).Error
		}},
		{"delete participants", func() error { return db.Where("match_id = ?", id).Delete(&domain.Participant{}).Error }},
		{"delete chat", func() error { return db.Where("match_id = ?", id).Delete(&domain.ChatMessage{}).Error }},
		{"delete cards", func() error { return db.Where("match_id = ?", id).Delete(&domain.Card{}).Error }},
		{"delete match", func() error { return db.Delete(&domain.Match{}, id).Error }},
	}
	for _, s := range steps {
		if err := s.fn(); err != nil {
			return translate(err, s.op)
		}
	}
	return nil
}

func (t *tx) ListMatches(ctx context.Context) ([]domain.Match, error) {
	var ms []domain.Match
	err := t.db.WithContext(ctx).Order("id").Find(&ms).Error
	return ms, translate(err, "list matches")
}

func (t *tx) EmptyMatchIDs(ctx context.Context) ([]uint, error) {
	var ids []uint
	err := t.db.WithContext(ctx).Model(&domain.Match{}).
		Where("NOT EXISTS (?)",
			t.db.Model(&domain.Participant{}).Select("1").Where("participants.match_id = matches.id")).
		Order("id").
		Pluck("id", &ids).Error
	return ids, translate(err, "empty matches")
}

func (t *tx) CreateCards(ctx context.Context, cards []domain.Card) error {
	if len(cards) == 0 {
		return nil
	}
	return translate(t.db.WithContext(ctx).CreateInBatches(&cards, 500).Error, "create cards")
}

func (t *tx) GetCard(ctx context.Context, id uint) (*domain.Card, error) {
	var c domain.Card
	if err := t.db.WithContext(ctx).First(&c, id).Error; err != nil {
		return nil, translate(err, "get card")
	}
	return &c, nil
}

func (t *tx) RandomCards(ctx context.Context, matchID uint, ct engine.CardType, n int, exclude []uint) ([]domain.Card, error) {
	if n <= 0 {
		return nil, nil
	}
	q := t.db.WithContext(ctx).Where("match_id = ? AND type = ?", matchID, ct)
	if len(exclude) > 0 {
		q = q.Where("id NOT IN ?", exclude)
	}
	var cards []domain.Card
	err := q.Order("RANDOM()").Limit(n).Find(&cards).Error
	return cards, translate(err, "random cards")
}

func (t *tx) CreateParticipant(ctx context.Context, p *domain.Participant) error {
	return translate(t.db.WithContext(ctx).Create(p).Error, "create participant")
}

func (t *tx) Participants(ctx context.Context, matchID uint) ([]domain.Participant, error) {
	var ps []domain.Participant
	err := t.db.WithContext(ctx).Where("match_id = ?", matchID).Order("id").Find(&ps).Error
	return ps, translate(err, "participants")
}

func (t *tx) ParticipantByPlayer(ctx context.Context, playerID string) (*domain.Participant, error) {
	var p domain.Participant
	if err := t.db.WithContext(ctx).Where("player_id = ?", playerID).First(&p).Error; err != nil {
		return nil, translate(err, "participant by player")
	}
	return &p, nil
}

func (t *tx) UpdateParticipant(ctx context.Context, p *domain.Participant) error {
	err := t.db.WithContext(ctx).Model(p).
		Select("Name", "Score", "Picking", "AFKRounds", "TimeoutAt", "OrderKey").
		Updates(p).Error
	return translate(err, "update participant")
}

func (t *tx) DeleteParticipant(ctx context.Context, id uint) error {
	db := t.db.WithContext(ctx)
	if err := db.Where("participant_id = ?", id).Delete(&domain.HandCard{}).Error; err != nil {
		return translate(err, "delete hand")
	}
	return translate(db.Delete(&domain.Participant{}, id).Error, "delete participant")
}

func (t *tx) ExpiredParticipants(ctx context.Context, now time.Time) ([]domain.Participant, error) {
	var ps []domain.Participant
	err := t.db.WithContext(ctx).Where("timeout_at < ?", now).Order("match_id, id").Find(&ps).Error
	return ps, translate(err, "expired participants")
}

func (t *tx) HandCards(ctx context.Context, participantID uint) ([]domain.HandCard, error) {
	var hcs []domain.HandCard
	err := t.db.WithContext(ctx).Preload("Card").
		Where("participant_id = ?", participantID).Order("id").Find(&hcs).Error
	return hcs, translate(err, "hand cards")
}

func (t *tx) CreateHandCards(ctx context.Context, cards []domain.HandCard) error {
	if len(cards) == 0 {
		return nil
	}
	err := t.db.WithContext(ctx).Omit(clause.Associations).Create(&cards).Error
	return translate(err, "create hand cards")
}

func (t *tx) UpdateHandCard(ctx context.Context, hc *domain.HandCard) error {
	err := t.db.WithContext(ctx).Model(hc).Select("ChoiceSlot").Updates(hc).Error
	return translate(err, "update hand card")
}

func (t *tx) DeleteHandCards(ctx context.Context, ids []uint) error {
	if len(ids) == 0 {
		return nil
	}
	return translate(t.db.WithContext(ctx).Delete(&domain.HandCard{}, ids).Error, "delete hand cards")
}

func (t *tx) AppendChat(ctx context.Context, msg *domain.ChatMessage) error {
	return translate(t.db.WithContext(ctx).Create(msg).Error, "append chat")
}

func (t *tx) ChatSince(ctx context.Context, matchID, afterID uint, limit int) ([]domain.ChatMessage, error) {
	var msgs []domain.ChatMessage
	q := t.db.WithContext(ctx).Where("match_id = ? AND id > ?", matchID, afterID).Order("id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&msgs).Error
	return msgs, translate(err, "chat since")
}
