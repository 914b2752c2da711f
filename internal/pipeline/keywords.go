package pipeline

import (
	"regexp"
	"strings"

	"github.com/OutllierRejects/reliefops/internal/triage"
)

// keywordConfidence is reported by the keyword classifier. It sits below the
// review threshold, so keyword results always reach an operator.
const keywordConfidence = 0.3

var needKeywords = map[triage.Category][]string{
	triage.Food:      {"food", "hungry", "meal", "meals", "eat", "nutrition", "bread", "rice", "starving"},
	triage.Water:     {"water", "thirsty", "drink", "dehydrated", "bottle", "bottled"},
	triage.Medical:   {"medical", "medicine", "medication", "doctor", "hospital", "injury", "injured", "wound", "bleeding", "sick", "pain", "insulin", "emergency"},
	triage.Shelter:   {"shelter", "homeless", "roof", "house", "cold", "rain", "tent", "place to stay"},
	triage.Rescue:    {"rescue", "trapped", "stuck", "stranded", "debris", "collapsed", "danger", "fire", "emergency"},
	triage.Transport: {"transport", "vehicle", "car", "bus", "evacuation", "evacuate", "move", "ride"},
}

var urgencyKeywords = []struct {
	level    triage.Level
	keywords []string
}{
	{triage.Critical, []string{"emergency", "urgent", "critical", "dying", "fire", "explosion", "trapped", "not breathing"}},
	{triage.High, []string{"serious", "injured", "injury", "bleeding", "unconscious", "severe"}},
	{triage.Medium, []string{"hurt", "pain", "sick", "need help"}},
	{triage.Low, []string{"whenever", "not urgent", "no rush"}},
}

var vulnerableKeywords = []string{"elderly", "child", "children", "baby", "infant", "pregnant", "disabled", "wheelchair", "alone", "sick"}

var wordPatterns = map[string]*regexp.Regexp{}

func init() {
	add := func(kw string) {
		if _, ok := wordPatterns[kw]; !ok {
			wordPatterns[kw] = regexp.MustCompile(`\b` + regexp.QuoteMeta(kw) + `\b`)
		}
	}
	for _, kws := range needKeywords {
		for _, kw := range kws {
			add(kw)
		}
	}
	for _, u := range urgencyKeywords {
		for _, kw := range u.keywords {
			add(kw)
		}
	}
	for _, kw := range vulnerableKeywords {
		add(kw)
	}
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if wordPatterns[kw].MatchString(text) {
			return true
		}
	}
	return false
}

// classifyNeeds maps text onto need categories by keyword. Text matching no
// category yields Other.
func classifyNeeds(text string) []triage.Category {
	text = strings.ToLower(text)
	var labels []string
	for c, kws := range needKeywords {
		if containsAny(text, kws) {
			labels = append(labels, string(c))
		}
	}
	if len(labels) == 0 {
		return []triage.Category{triage.Other}
	}
	return triage.NormalizeCategories(labels)
}

// classifyUrgency returns the most severe level whose keywords occur, and
// medium when the text carries no signal.
func classifyUrgency(text string) triage.Level {
	text = strings.ToLower(text)
	for _, u := range urgencyKeywords {
		if containsAny(text, u.keywords) {
			return u.level
		}
	}
	return triage.Medium
}

func mentionsVulnerable(text string) bool {
	return containsAny(strings.ToLower(text), vulnerableKeywords)
}
