package pipeline

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/OutllierRejects/reliefops/internal/llm"
	"github.com/OutllierRejects/reliefops/internal/request"
	"github.com/OutllierRejects/reliefops/internal/resource"
	"github.com/OutllierRejects/reliefops/internal/triage"
	"github.com/OutllierRejects/reliefops/pkg/cerr"
)

var severityByLevel = map[triage.Level]float64{
	triage.Critical: 1.0,
	triage.High:     0.75,
	triage.Medium:   0.5,
	triage.Low:      0.25,
}

var responseTimeByLevel = map[triage.Level]string{
	triage.Critical: "immediate",
	triage.High:     "1-2 hours",
	triage.Medium:   "4-6 hours",
	triage.Low:      "next day",
}

const (
	vulnerableScore    = 0.8
	notVulnerableScore = 0.2
	ageWeightPerHour   = 0.05
	maxAgeWeight       = 0.3
)

type PriorityInput struct {
	Intake      *request.IntakeResult
	Description string
	CreatedAt   time.Time
}

// Prioritizer labels a request and scores it within the label's band.
// Urgency decides the label; the model, when configured, only refines the
// vulnerability and time sensitivity factors.
type Prioritizer struct {
	llm llm.Client
	now func() time.Time
}

func NewPrioritizer(c llm.Client) *Prioritizer {
	return &Prioritizer{llm: c, now: time.Now}
}

type priorityAnswer struct {
	Vulnerability   float64 `json:"vulnerability"`
	TimeSensitivity float64 `json:"time_sensitivity"`
	Reasoning       string  `json:"reasoning"`
}

var prioritySchema = llm.Object(map[string]jsonschema.Definition{
	"vulnerability":    llm.Number("how vulnerable the people involved are, 0 to 1"),
	"time_sensitivity": llm.Number("how quickly the situation gets worse without help, 0 to 1"),
	"reasoning":        llm.String("one or two sentences explaining the assessment"),
})

const prioritySystemPrompt = `You assess emergency help requests after a disaster.
Rate the vulnerability of the people involved (children, elderly, pregnant,
disabled, alone) and how time sensitive the situation is, both between 0 and 1.
Answer with JSON only.`

func (p *Prioritizer) Run(ctx context.Context, in PriorityInput, snap resource.Snapshot) (*request.PriorityResult, error) {
	if in.Intake == nil {
		return nil, cerr.NewValidationError("intake", "intake result is missing")
	}
	if len(in.Intake.Needs) == 0 {
		return nil, cerr.NewValidationError("intake.needs", "intake result has no needs")
	}
	if !in.Intake.Urgency.Valid() {
		return nil, cerr.NewValidationError("intake.urgency",
			fmt.Sprintf("unknown urgency %q", in.Intake.Urgency))
	}

	now := p.now()
	severity := severityByLevel[in.Intake.Urgency]
	factors := request.Factors{Severity: severity}
	text := in.Description + " " + strings.Join(in.Intake.SpecialRequirements, " ")

	assessed := severity
	reasoning := ""
	if p.llm != nil {
		var ans priorityAnswer
		err := llm.Generate(ctx, p.llm, llm.Request{
			Name:   "prioritization",
			System: prioritySystemPrompt,
			Prompt: fmt.Sprintf("Needs: %s\nUrgency: %s\nSummary: %s\nDescription: %s",
				joinCategories(in.Intake.Needs), in.Intake.Urgency, in.Intake.Summary, in.Description),
			Schema: prioritySchema,
		}, &ans)
		if err != nil {
			return nil, err
		}
		if !unit(ans.Vulnerability) || !unit(ans.TimeSensitivity) {
			return nil, cerr.NewValidationError("assessment", "model assessment is outside [0,1]")
		}
		factors.Vulnerability = ans.Vulnerability
		assessed = ans.TimeSensitivity
		reasoning = ans.Reasoning
	} else if mentionsVulnerable(text) {
		factors.Vulnerability = vulnerableScore
	} else {
		factors.Vulnerability = notVulnerableScore
	}

	hours := 0.0
	if !in.CreatedAt.IsZero() && now.After(in.CreatedAt) {
		hours = now.Sub(in.CreatedAt).Hours()
	}
	factors.TimeSensitivity = clamp01(assessed*0.7 + math.Min(hours*ageWeightPerHour, maxAgeWeight))

	matching := snap.Matching(in.Intake.Needs)
	assignable := snap.Assignable(in.Intake.Needs)
	if matching > 0 {
		factors.ResourceAvailability = float64(assignable) / float64(matching)
	}

	label := in.Intake.Urgency
	downgraded := false
	if label == triage.Critical && snap.Total > 0 && matching == 0 {
		label = triage.High
		downgraded = true
	}

	lo, hi := label.Band()
	weight := clamp01(0.6*factors.TimeSensitivity + 0.4*factors.Vulnerability)
	score := lo + int(math.Round(weight*float64(hi-lo)))

	if reasoning == "" {
		reasoning = fmt.Sprintf("urgency %s, %d of %d matching resources available", in.Intake.Urgency, assignable, matching)
	}
	if downgraded {
		reasoning += "; no resource in the pool serves these needs"
	}

	return &request.PriorityResult{
		Priority: label,
		Score:    score,
		Rationale: request.Rationale{
			Factors:           factors,
			MatchingResources: matching,
			TotalResources:    snap.Total,
			Downgraded:        downgraded,
			Reasoning:         reasoning,
		},
		EstimatedResponseTime: responseTimeByLevel[label],
		CompletedAt:           now,
	}, nil
}

func unit(v float64) bool { return v >= 0 && v <= 1 }

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func joinCategories(cs []triage.Category) string {
	names := make([]string, len(cs))
	for i, c := range cs {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}
