package momo

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the calendar-date format used throughout: provider rows,
// store keys and user input.
const DateLayout = "2006-01-02"

// ScopeKind mirrors the "ambito" column of the MoMo dataset.
type ScopeKind string

const (
	ScopeNational ScopeKind = "nacional"
	ScopeCCAA     ScopeKind = "ccaa"
	ScopeProvince ScopeKind = "provincia"
)

// Scope identifies one geographic series of the surveillance data.
// Name is empty for the national scope.
type Scope struct {
	Kind ScopeKind `json:"kind"`
	Name string    `json:"name,omitempty"`
}

// Key returns a canonical string key for indexing this scope in stores
// and lock tables.
func (s Scope) Key() string {
	if s.Kind == ScopeNational {
		return string(ScopeNational)
	}
	return string(s.Kind) + ":" + s.Name
}

// ScopeFromKey is the inverse of Key; store rows round-trip through it.
func ScopeFromKey(key string) (Scope, error) {
	if key == string(ScopeNational) {
		return Scope{Kind: ScopeNational}, nil
	}
	kind, name, ok := strings.Cut(key, ":")
	if !ok || name == "" {
		return Scope{}, fmt.Errorf("malformed scope key %q", key)
	}
	switch ScopeKind(kind) {
	case ScopeCCAA, ScopeProvince:
		return Scope{Kind: ScopeKind(kind), Name: name}, nil
	}
	return Scope{}, fmt.Errorf("unknown scope kind in key %q", key)
}

func (s Scope) String() string {
	if s.Kind == ScopeNational {
		return "Nacional"
	}
	return s.Name
}

// ccaaNames are the autonomous communities as named in the dataset.
// Anything else with a name is treated as a province.
var ccaaNames = map[string]string{
	"andalucia":          "Andalucía",
	"aragon":             "Aragón",
	"asturias":           "Asturias",
	"baleares":           "Baleares",
	"canarias":           "Canarias",
	"cantabria":          "Cantabria",
	"castilla la mancha": "Castilla-La Mancha",
	"castilla y leon":    "Castilla y León",
	"cataluna":           "Cataluña",
	"ceuta":              "Ceuta",
	"comunidad valenciana": "Comunitat Valenciana",
	"extremadura":        "Extremadura",
	"galicia":            "Galicia",
	"la rioja":           "La Rioja",
	"madrid":             "Madrid",
	"melilla":            "Melilla",
	"murcia":             "Murcia",
	"navarra":            "Navarra",
	"pais vasco":         "País Vasco",
}

// ParseScope interprets user-supplied scope text. "nacional" (or
// "national") selects the national series; a known autonomous community
// name selects its ccaa series; any other non-empty name is assumed to
// be a province.
func ParseScope(text string) (Scope, error) {
	cleaned := strings.TrimSpace(text)
	if cleaned == "" {
		return Scope{}, fmt.Errorf("empty scope")
	}
	lowered := foldName(cleaned)
	if lowered == "nacional" || lowered == "national" || lowered == "espana" {
		return Scope{Kind: ScopeNational}, nil
	}
	if canonical, ok := ccaaNames[lowered]; ok {
		return Scope{Kind: ScopeCCAA, Name: canonical}, nil
	}
	return Scope{Kind: ScopeProvince, Name: titleCase(cleaned)}, nil
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		r := []rune(w)
		r[0] = []rune(strings.ToUpper(string(r[0])))[0]
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

// MatchesRow reports whether a dataset row with the given ambito and
// nombre_ambito columns belongs to this scope's series.
func (s Scope) MatchesRow(ambito, nombre string) bool {
	if ScopeKind(strings.TrimSpace(ambito)) != s.Kind {
		return false
	}
	if s.Kind == ScopeNational {
		return true
	}
	return foldName(nombre) == foldName(s.Name)
}

// foldName lowercases and strips the accents that appear in Spanish
// administrative names, so user input matches the catalogue loosely.
func foldName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	replacer := strings.NewReplacer(
		"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ü", "u", "ñ", "n", "-", " ",
	)
	return replacer.Replace(s)
}

// Observation is one day of one scope's mortality series. Excess is
// always derived from the stored fields, never persisted on its own.
type Observation struct {
	Scope    Scope     `json:"scope"`
	Date     time.Time `json:"date"` // midnight UTC
	Observed int       `json:"observed"`
	Expected float64   `json:"expected"`
}

// Excess returns observed deaths minus the modeled baseline.
func (o Observation) Excess() float64 {
	return float64(o.Observed) - o.Expected
}

// ScopeFreshness records how far a scope's cached series reaches and
// when it was last refreshed. One row per scope.
type ScopeFreshness struct {
	Scope           Scope
	LastRefreshedAt time.Time
	LastCoveredDate time.Time
}

// Day truncates t to midnight UTC.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
