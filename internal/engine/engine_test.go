package engine

import (
	"errors"
	"math/rand/v2"
	"slices"
	"strings"
	"testing"
	"testing/iotest"
)

func intp(v int) *int { return &v }

func occupied(slots []*int) []int {
	var out []int
	for _, s := range slots {
		if s != nil {
			out = append(out, *s)
		}
	}
	slices.Sort(out)
	return out
}

func TestGapCount(t *testing.T) {
	cases := []struct {
		name string
		text string
		want int
	}{
		{name: "no gaps clamps to one", text: "Why not?", want: 1},
		{name: "single underscore", text: "I like _.", want: 1},
		{name: "run counts once", text: "I like ____.", want: 1},
		{name: "two runs", text: "_ and ___ walk into a bar", want: 2},
		{name: "three runs", text: "_, _ and _", want: 3},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := GapCount(tc.text); got != tc.want {
				t.Fatalf("GapCount(%q): got %d, want %d", tc.text, got, tc.want)
			}
		})
	}
}

func TestParseDeck_RowRules(t *testing.T) {
	cases := []struct {
		name     string
		line     string
		wantType CardType
		wantText string
		ok       bool
	}{
		{name: "prompt with gap", line: "I like _.\tSTATEMENT", wantType: CardPrompt, wantText: "I like _.", ok: true},
		{name: "object", line: "A cat\tOBJECT", wantType: CardObject, wantText: "A cat", ok: true},
		{name: "verb", line: "dancing\tVERB", wantType: CardAction, wantText: "dancing", ok: true},
		{name: "escapes html", line: "<b>bold</b>\tOBJECT", wantType: CardObject, wantText: "&lt;b&gt;bold&lt;/b&gt;", ok: true},
		{name: "prompt without gap", line: "No gaps here\tSTATEMENT", ok: false},
		{name: "gap on fill card", line: "a _ cat\tOBJECT", ok: false},
		{name: "too many gaps", line: "_ _ _ _\tSTATEMENT", ok: false},
		{name: "gap cut off by truncation", line: strings.Repeat("a", MaxCardTextLen+45) + " ____\tSTATEMENT", ok: false},
		{name: "underscore cut off by truncation", line: strings.Repeat("b", MaxCardTextLen+45) + " _\tOBJECT", wantType: CardObject, wantText: strings.Repeat("b", MaxCardTextLen), ok: true},
		{name: "unknown type", line: "Hello\tNOUN", ok: false},
		{name: "three columns", line: "a\tOBJECT\textra", ok: false},
		{name: "one column", line: "just text", ok: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := ParseDeck(strings.NewReader(tc.line + "\n"))
			if err != nil {
				t.Fatalf("unexpected err: %v", err)
			}
			if !tc.ok {
				if len(d.Cards) != 0 || d.Skipped != 1 {
					t.Fatalf("expected row to be skipped, got %+v", d.Cards)
				}
				return
			}
			if len(d.Cards) != 1 {
				t.Fatalf("expected one card, got %d", len(d.Cards))
			}
			if d.Cards[0].Type != tc.wantType || d.Cards[0].Text != tc.wantText {
				t.Fatalf("got %#v, want %s %q", d.Cards[0], tc.wantType, tc.wantText)
			}
		})
	}
}

func TestParseDeck_TruncatesText(t *testing.T) {
	long := strings.Repeat("é", MaxCardTextLen+40)
	d, err := ParseDeck(strings.NewReader(long + "\tOBJECT"))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got := len([]rune(d.Cards[0].Text)); got != MaxCardTextLen {
		t.Fatalf("got %d runes, want %d", got, MaxCardTextLen)
	}
}

func TestParseDeck_LineLimit(t *testing.T) {
	var b strings.Builder
	for i := 0; i < MaxDeckLines+50; i++ {
		b.WriteString("card\tOBJECT\n")
	}
	d, err := ParseDeck(strings.NewReader(b.String()))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(d.Cards) != MaxDeckLines {
		t.Fatalf("got %d cards, want %d", len(d.Cards), MaxDeckLines)
	}
}

func TestParseDeck_EmptyDeckIsPaddedPerType(t *testing.T) {
	d, err := ParseDeck(strings.NewReader("garbage\nmore garbage\tNOPE\n"))
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !d.Insufficient() {
		t.Fatalf("expected insufficient deck")
	}

	byType := map[CardType]int{}
	for _, c := range d.Placeholders() {
		byType[c.Type]++
		if c.Type == CardPrompt && CountGaps(c.Text) != 1 {
			t.Fatalf("placeholder prompt needs one gap: %q", c.Text)
		}
	}
	for _, ct := range CardTypes {
		if byType[ct] != MinimumCards {
			t.Fatalf("%s: got %d placeholders, want %d", ct, byType[ct], MinimumCards)
		}
	}
}

func TestParseDeck_ReadErrorIsFatal(t *testing.T) {
	boom := errors.New("boom")
	_, err := ParseDeck(iotest.ErrReader(boom))
	if !errors.Is(err, boom) {
		t.Fatalf("want wrapped read error, got %v", err)
	}
}

func TestNextPicker(t *testing.T) {
	cases := []struct {
		name    string
		picking []bool
		want    int
	}{
		{name: "nobody picking defaults to first", picking: []bool{false, false, false}, want: 0},
		{name: "advances to successor", picking: []bool{false, true, false}, want: 2},
		{name: "wraps to first", picking: []bool{false, false, true}, want: 0},
		{name: "empty roster", picking: nil, want: -1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NextPicker(tc.picking); got != tc.want {
				t.Fatalf("got %d, want %d", got, tc.want)
			}
		})
	}
}

func TestNextPicker_RoundRobinFairness(t *testing.T) {
	const m = 5
	picking := make([]bool, m)
	counts := make([]int, m)
	var order []int
	for round := 0; round < 3*m; round++ {
		next := NextPicker(picking)
		for i := range picking {
			picking[i] = i == next
		}
		counts[next]++
		order = append(order, next)
	}
	for i, c := range counts {
		if c != 3 {
			t.Fatalf("participant %d picked %d times, want 3", i, c)
		}
	}
	for i, idx := range order {
		if idx != i%m {
			t.Fatalf("round %d: got picker %d, want %d", i, idx, i%m)
		}
	}
}

func TestShuffledOrderIsPermutation(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	order := ShuffledOrder(6, rng)
	slices.Sort(order)
	if !slices.Equal(order, []int{1, 2, 3, 4, 5, 6}) {
		t.Fatalf("not a permutation of 1..6: %v", order)
	}
}

func TestToggleChoice(t *testing.T) {
	slots := make([]*int, 6)

	if !ToggleChoice(slots, 2, 2) || !ToggleChoice(slots, 4, 2) {
		t.Fatalf("expected both cards to be chosen")
	}
	if *slots[2] != 0 || *slots[4] != 1 {
		t.Fatalf("got slots %v, want card 2 in slot 0 and card 4 in slot 1", occupied(slots))
	}
	if ToggleChoice(slots, 1, 2) {
		t.Fatalf("choosing beyond allowance must be rejected")
	}

	// Un-choosing the first slot cascades over every later slot.
	if !ToggleChoice(slots, 2, 2) {
		t.Fatalf("expected un-choose")
	}
	if ChosenCount(slots) != 0 {
		t.Fatalf("cascading un-choose left %v", occupied(slots))
	}

	if ToggleChoice(slots, 99, 2) {
		t.Fatalf("unknown index must be a no-op")
	}
}

func TestToggleChoice_ContiguityProperty(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	for trial := 0; trial < 200; trial++ {
		slots := make([]*int, 12)
		allowance := 1 + rng.IntN(MaxGaps)
		for step := 0; step < 40; step++ {
			ToggleChoice(slots, rng.IntN(len(slots)), allowance)

			got := occupied(slots)
			for i, s := range got {
				if s != i {
					t.Fatalf("trial %d step %d: slots not contiguous: %v", trial, step, got)
				}
			}
			if len(got) > allowance {
				t.Fatalf("trial %d: %d chosen exceeds allowance %d", trial, len(got), allowance)
			}
		}
	}
}

func TestAdvance(t *testing.T) {
	cases := []struct {
		from Phase
		to   Phase
		ok   bool
	}{
		{PhasePending, PhaseChoosing, true},
		{PhaseChoosing, PhasePicking, true},
		{PhasePicking, PhaseCooldown, true},
		{PhaseCooldown, PhaseChoosing, true},
		{PhaseEnding, PhaseEnding, false},
	}
	for _, tc := range cases {
		t.Run(string(tc.from), func(t *testing.T) {
			to, ok := Advance(tc.from)
			if to != tc.to || ok != tc.ok {
				t.Fatalf("got %s/%v, want %s/%v", to, ok, tc.to, tc.ok)
			}
		})
	}
}

func TestEventMessage(t *testing.T) {
	if got := (Event{Type: EvtTimedOut, Name: "bob"}).Message(); got != "bob timed out." {
		t.Fatalf("got %q", got)
	}
	if got := (Event{Type: EvtMatchEnding}).Message(); got != "Match is ending." {
		t.Fatalf("got %q", got)
	}
}
