package reward

// Categories produced by the classifier.
const (
	CategoryTools              = "Tools"
	CategoryEquipment          = "Equipment/Gems"
	CategoryConstructions      = "Constructions"
	CategoryChests             = "Chests"
	CategoryDecorations        = "Decorations"
	CategoryMultiwavers        = "Multiwavers"
	CategorySceattas           = "Sceattas"
	CategoryBeatriceGifts      = "Beatrice Gifts"
	CategoryUlrichGifts        = "Ulrich Gifts"
	CategoryLudwigGifts        = "Ludwig Gifts"
	CategoryConstructionTokens = "Construction Tokens"
	CategoryUpgradeTokens      = "Upgrade Tokens"
	CategoryRubies             = "Rubies"
	CategoryTickets            = "Tickets"

	CategoryShieldmaiden       = "Shieldmaiden"
	CategoryValkyrieSharpshoot = "Valkyrie Sharpshooter"
	CategoryDefenderOfTheNorth = "Defender of the North"
	CategoryValkyrieRanger     = "Valkyrie Ranger"

	// UnknownPrefix starts the category of any tag missing from the table.
	UnknownPrefix = "Unknown_"
)

// Shape is the payload layout a tag is expected to carry.
type Shape int

const (
	// ShapeCount is a bare integer amount. Anything else yields nothing.
	ShapeCount Shape = iota
	// ShapeCountOrOne is a bare integer amount, 1 otherwise.
	ShapeCountOrOne
	// ShapeSingle is a single unit whatever the payload.
	ShapeSingle
	// ShapeLookup is [id, amount] with the category looked up by id.
	ShapeLookup
	// ShapeSecond is [x, amount] or a bare integer, 1 otherwise.
	ShapeSecond
)

type rule struct {
	shape    Shape
	category string
	lookup   map[int64]string
}

var troops = map[int64]string{
	215: CategoryShieldmaiden,
	238: CategoryValkyrieSharpshoot,
	227: CategoryDefenderOfTheNorth,
	216: CategoryValkyrieRanger,
}

// rules is read-only after init.
var rules = map[string]rule{
	"U":    {shape: ShapeLookup, category: CategoryTools, lookup: troops},
	"RI":   {shape: ShapeSingle, category: CategoryEquipment},
	"CI":   {shape: ShapeSingle, category: CategoryConstructions},
	"UE":   {shape: ShapeSingle, category: CategoryMultiwavers},
	"D":    {shape: ShapeSingle, category: CategoryDecorations},
	"LM":   {shape: ShapeCount, category: CategoryUpgradeTokens},
	"LT":   {shape: ShapeCount, category: CategoryConstructionTokens},
	"STP":  {shape: ShapeCount, category: CategorySceattas},
	"C2":   {shape: ShapeCount, category: CategoryRubies},
	"FKT":  {shape: ShapeCount, category: CategoryLudwigGifts},
	"PTK":  {shape: ShapeCount, category: CategoryBeatriceGifts},
	"KTK":  {shape: ShapeCount, category: CategoryUlrichGifts},
	"SLWT": {shape: ShapeCountOrOne, category: CategoryTickets},
	"LB":   {shape: ShapeSecond, category: CategoryChests},
}

// Known reports whether tag has a classification rule.
func Known(tag string) bool {
	_, ok := rules[tag]
	return ok
}

// Reward is a classified amount.
type Reward struct {
	Category string
	Amount   int64
	// Fallback is set when the amount or category had to be guessed.
	Fallback bool
}

// Classify maps an item to a category and amount. It returns false when the
// item contributes nothing, either because its payload carries no usable
// amount or because the amount is not positive.
func Classify(item Item) (Reward, bool) {
	r, ok := rules[item.Tag]
	if !ok {
		amount, _ := secondOrCount(item.Data)
		return positive(Reward{Category: UnknownPrefix + item.Tag, Amount: amount, Fallback: true})
	}

	switch r.shape {
	case ShapeCount:
		n, ok := intValue(item.Data)
		if !ok {
			return Reward{}, false
		}
		return positive(Reward{Category: r.category, Amount: n})
	case ShapeCountOrOne:
		n, ok := intValue(item.Data)
		if !ok {
			return positive(Reward{Category: r.category, Amount: 1, Fallback: true})
		}
		return positive(Reward{Category: r.category, Amount: n})
	case ShapeSingle:
		return Reward{Category: r.category, Amount: 1}, true
	case ShapeLookup:
		return positive(lookup(r, item.Data))
	case ShapeSecond:
		amount, exact := secondOrCount(item.Data)
		return positive(Reward{Category: r.category, Amount: amount, Fallback: !exact})
	}
	return Reward{}, false
}

func lookup(r rule, data any) Reward {
	t, ok := tuple(data)
	if !ok || len(t) < 2 {
		return Reward{Category: r.category, Amount: 1, Fallback: true}
	}
	out := Reward{Category: r.category}
	if id, ok := intValue(t[0]); ok {
		if name, found := r.lookup[id]; found {
			out.Category = name
		}
	} else {
		out.Fallback = true
	}
	if n, ok := intValue(t[1]); ok {
		out.Amount = n
	} else {
		out.Amount = 1
		out.Fallback = true
	}
	return out
}

// secondOrCount reads a bare integer, else the second element of a tuple,
// else 1. exact is false when it fell back to 1.
func secondOrCount(data any) (amount int64, exact bool) {
	if n, ok := intValue(data); ok {
		return n, true
	}
	if t, ok := tuple(data); ok && len(t) > 1 {
		if n, ok := intValue(t[1]); ok {
			return n, true
		}
	}
	return 1, false
}

func positive(r Reward) (Reward, bool) {
	if r.Amount <= 0 {
		return Reward{}, false
	}
	return r, true
}
