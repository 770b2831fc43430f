// Package cardid generates the human-friendly identifiers used in card URLs.
package cardid

import (
	"math/rand/v2"
	"strings"
)

// Words is the heraldic vocabulary. Hyphenated entries count as several words.
var Words = []string{
	"annulet", "argent", "bar", "barbed", "barry", "basilisk", "bezant", "billet", "bottony",
	"cabossed", "cadency", "canting", "canton", "charge", "chevron", "chief", "cinquefoil",
	"conjoined", "cotised", "couchant", "counter-change", "counter-compony", "couped", "courant",
	"crescent", "crest", "crosses", "cross-crosslet", "cross-flory", "cross-moline", "cross-paty",
	"tau-cross", "crusily", "dancetty", "dexter", "diaper", "differencing", "embattled",
	"engrailed", "ensign", "en-soleil", "erased", "erect", "ermine", "escallop", "escutcheon",
	"estoille", "fess", "fess-point", "field", "fitchy", "fleur-de-lis", "fleury", "flory",
	"foliated", "fret", "fretty", "fusil", "garb", "gorget", "griffin", "guardant", "gules",
	"gyron", "gyronny", "hauriant", "helm", "impaled", "in-bend", "indented", "in-fess",
	"in-orle", "in-pale", "invected", "jessant", "label", "langued", "lozenge", "lozengy", "luce",
	"mantling", "marshalling", "martlet", "mascle", "maunch", "membered", "mullet", "naiant",
	"nebuly", "nimbus", "octofoil", "ogress", "or", "ordinaries", "orle", "pale", "pall",
	"pallet", "party", "passant", "paty", "pellet", "per-bend", "per-chevron", "per-fess",
	"per-pale", "per-saltire", "pheon", "pierced", "pile", "plate", "proper", "purpure",
	"quarterly", "quatrefoil", "queue-fourche", "raguly", "rampant", "roundel", "sable",
	"salient", "saltire", "scallop", "seeded", "segreant", "semee", "sinister", "sixfoil",
	"slipped", "statant", "sun", "talbot", "tau", "tincture", "torteau", "trefoil", "trippant",
	"tun", "undy", "vair", "vert", "vested", "volant", "water-bouget", "wavy", "wreath", "wyvern",
}

// DefaultLength is the number of words in a card id.
const DefaultLength = 3

// Generator builds ids such as "argent-fess-wyvern" from Words.
type Generator struct {
	words  []string
	length int
	intn   func(n int) int
}

// New returns a generator producing ids of DefaultLength words.
func New() *Generator {
	return &Generator{words: Words, length: DefaultLength, intn: rand.IntN}
}

// NewWithSource is New with a deterministic source, for tests.
func NewWithSource(src rand.Source) *Generator {
	r := rand.New(src)
	return &Generator{words: Words, length: DefaultLength, intn: r.IntN}
}

// Generate returns an id of exactly the configured number of words.
// Entries that would overflow the word count are skipped.
func (g *Generator) Generate() string {
	var b strings.Builder
	n := 0
	for n < g.length {
		w := g.words[g.intn(len(g.words))]
		wc := strings.Count(w, "-") + 1
		if n+wc > g.length {
			continue
		}
		if n > 0 {
			b.WriteByte('-')
		}
		b.WriteString(w)
		n += wc
	}
	return b.String()
}

// WordCount returns how many vocabulary words an id spans.
func WordCount(id string) int {
	if id == "" {
		return 0
	}
	return strings.Count(id, "-") + 1
}
