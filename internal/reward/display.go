package reward

import (
	"slices"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// displayRank orders categories for presentation: troops, tickets, rubies,
// gifts, tokens and sceattas first, everything else after by name.
var displayRank = map[string]int{
	CategoryShieldmaiden:       0,
	CategoryValkyrieSharpshoot: 0,
	CategoryDefenderOfTheNorth: 0,
	CategoryValkyrieRanger:     0,
	CategoryTickets:            1,
	CategoryRubies:             2,
	CategoryLudwigGifts:        3,
	CategoryUlrichGifts:        4,
	CategoryBeatriceGifts:      5,
	CategoryUpgradeTokens:      6,
	CategoryConstructionTokens: 7,
	CategorySceattas:           8,
}

const defaultRank = 99

// Line is one category total in display order.
type Line struct {
	Category string `json:"category"`
	Amount   int64  `json:"amount"`
}

// Lines returns the snapshot sorted for display.
func (s Snapshot) Lines() []Line {
	lines := make([]Line, 0, len(s))
	for category, amount := range s {
		lines = append(lines, Line{Category: category, Amount: amount})
	}
	slices.SortFunc(lines, func(a, b Line) int {
		if ra, rb := rank(a.Category), rank(b.Category); ra != rb {
			return ra - rb
		}
		return strings.Compare(a.Category, b.Category)
	})
	return lines
}

func rank(category string) int {
	if r, ok := displayRank[category]; ok {
		return r
	}
	return defaultRank
}

// Format renders the snapshot one category per line with grouped digits.
func (s Snapshot) Format() string {
	if len(s) == 0 {
		return "No rewards available."
	}
	p := message.NewPrinter(language.English)
	var b strings.Builder
	for i, line := range s.Lines() {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(p.Sprintf("%s: %d", line.Category, line.Amount))
	}
	return b.String()
}

// Preview is a fixed sample ledger covering every known category.
func Preview() Snapshot {
	return Snapshot{
		CategoryTools:              3000,
		CategoryEquipment:          2,
		CategoryConstructions:      1,
		CategoryChests:             3,
		CategoryDecorations:        1,
		CategoryMultiwavers:        1,
		CategorySceattas:           610,
		CategoryBeatriceGifts:      5,
		CategoryUlrichGifts:        7,
		CategoryLudwigGifts:        6,
		CategoryConstructionTokens: 672,
		CategoryUpgradeTokens:      6592,
		CategoryRubies:             100000,
		CategoryTickets:            120,
		CategoryDefenderOfTheNorth: 126000,
		CategoryShieldmaiden:       300000,
		CategoryValkyrieSharpshoot: 114000,
		CategoryValkyrieRanger:     197500,
	}
}
