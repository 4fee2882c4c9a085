package engine

import (
	"bufio"
	"fmt"
	"html"
	"io"
	"regexp"
	"strings"
	"unicode/utf8"
)

var gapPattern = regexp.MustCompile(`_+`)

// CountGaps returns the number of gap markers (runs of underscores) in text.
func CountGaps(text string) int {
	return len(gapPattern.FindAllStringIndex(text, -1))
}

// GapCount is the number of fill cards a prompt requires, at least 1.
func GapCount(text string) int {
	return max(1, CountGaps(text))
}

// ParseCardType maps a deck file type column to a card type.
func ParseCardType(s string) (CardType, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "STATEMENT", "PROMPT":
		return CardPrompt, true
	case "OBJECT":
		return CardObject, true
	case "VERB", "ACTION":
		return CardAction, true
	}
	return "", false
}

type DeckCard struct {
	Text string
	Type CardType
}

type Deck struct {
	Cards     []DeckCard
	Shortfall map[CardType]int
	Skipped   int
}

// Insufficient reports whether any card type is below MinimumCards.
func (d Deck) Insufficient() bool {
	for _, n := range d.Shortfall {
		if n > 0 {
			return true
		}
	}
	return false
}

// Placeholders returns generated cards covering every shortfall.
func (d Deck) Placeholders() []DeckCard {
	var out []DeckCard
	for _, t := range CardTypes {
		n := d.Shortfall[t]
		for i := 0; i < n; i++ {
			text := fmt.Sprintf("Your deck needs at least %d more %s cards", n, t)
			if t == CardPrompt {
				text += ": ____."
			}
			out = append(out, DeckCard{Text: text, Type: t})
		}
	}
	return out
}

// All returns the parsed cards followed by placeholders.
func (d Deck) All() []DeckCard {
	return append(append([]DeckCard{}, d.Cards...), d.Placeholders()...)
}

// ParseDeck reads a tab separated deck file of "text<TAB>type" rows.
// Only the first MaxDeckLines lines are considered and malformed rows are
// skipped. A read error aborts the whole import.
func ParseDeck(r io.Reader) (Deck, error) {
	d := Deck{Shortfall: map[CardType]int{}}
	counts := map[CardType]int{}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for lines := 0; lines < MaxDeckLines && sc.Scan(); lines++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		card, ok := parseRow(line)
		if !ok {
			d.Skipped++
			continue
		}
		d.Cards = append(d.Cards, card)
		counts[card.Type]++
	}
	if err := sc.Err(); err != nil {
		return Deck{}, fmt.Errorf("read deck: %w", err)
	}

	for _, t := range CardTypes {
		d.Shortfall[t] = max(0, MinimumCards-counts[t])
	}
	return d, nil
}

func parseRow(line string) (DeckCard, bool) {
	cols := strings.Split(line, "\t")
	if len(cols) != 2 {
		return DeckCard{}, false
	}
	t, ok := ParseCardType(cols[1])
	if !ok {
		return DeckCard{}, false
	}

	text := strings.TrimSpace(cols[0])
	if text == "" || !utf8.ValidString(text) {
		return DeckCard{}, false
	}
	// Gaps are counted on the stored text.
	text = Truncate(text, MaxCardTextLen)
	gaps := CountGaps(text)
	switch {
	case gaps > 0 && t != CardPrompt:
		return DeckCard{}, false
	case gaps > MaxGaps:
		return DeckCard{}, false
	case gaps == 0 && t == CardPrompt:
		return DeckCard{}, false
	}
	return DeckCard{Text: html.EscapeString(text), Type: t}, true
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
