// Package triage holds the fixed vocabularies shared by every pipeline stage:
// need categories and the four severity levels used for both urgency and
// priority.
package triage

import (
	"slices"
	"strings"
)

type Category string

const (
	Rescue    Category = "rescue"
	Medical   Category = "medical"
	Water     Category = "water"
	Food      Category = "food"
	Shelter   Category = "shelter"
	Transport Category = "transport"
	Other     Category = "other"
)

// Categories lists the vocabulary in dispatch precedence: life safety first.
var Categories = []Category{Rescue, Medical, Water, Food, Shelter, Transport, Other}

func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if slices.Contains(Categories, c) {
		return c, true
	}
	return "", false
}

func (c Category) precedence() int {
	if i := slices.Index(Categories, c); i >= 0 {
		return i
	}
	return len(Categories)
}

// NormalizeCategories maps free-form labels onto the vocabulary. Labels that
// do not map become Other; duplicates collapse; the result is ordered by
// dispatch precedence. An empty input yields an empty result.
func NormalizeCategories(labels []string) []Category {
	seen := make(map[Category]bool, len(labels))
	out := make([]Category, 0, len(labels))
	for _, l := range labels {
		c, ok := ParseCategory(l)
		if !ok {
			c = Other
		}
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	SortCategories(out)
	return out
}

func SortCategories(cs []Category) {
	slices.SortStableFunc(cs, func(a, b Category) int {
		return a.precedence() - b.precedence()
	})
}

type Level string

const (
	Critical Level = "critical"
	High     Level = "high"
	Medium   Level = "medium"
	Low      Level = "low"
)

var Levels = []Level{Critical, High, Medium, Low}

func ParseLevel(s string) (Level, bool) {
	l := Level(strings.ToLower(strings.TrimSpace(s)))
	if slices.Contains(Levels, l) {
		return l, true
	}
	return "", false
}

// Rank orders levels for scheduling: Critical is 0. Unknown levels sort after Low.
func (l Level) Rank() int {
	if i := slices.Index(Levels, l); i >= 0 {
		return i
	}
	return len(Levels)
}

func (l Level) Valid() bool {
	return l.Rank() < len(Levels)
}

// Raise returns the more severe of l and floor.
func (l Level) Raise(floor Level) Level {
	if floor.Rank() < l.Rank() {
		return floor
	}
	return l
}

// Band is the inclusive score range a priority label occupies on the 0-100 scale.
func (l Level) Band() (lo, hi int) {
	switch l {
	case Critical:
		return 75, 100
	case High:
		return 50, 74
	case Medium:
		return 25, 49
	default:
		return 0, 24
	}
}
