package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/OutllierRejects/reliefops/internal/geo"
	"github.com/OutllierRejects/reliefops/internal/llm"
	"github.com/OutllierRejects/reliefops/internal/request"
	"github.com/OutllierRejects/reliefops/internal/triage"
	"github.com/OutllierRejects/reliefops/pkg/cerr"
)

const (
	sourceLLM     = "llm"
	sourceKeyword = "keyword"
)

type IntakeInput struct {
	Title       string
	Description string
	RawLocation string
}

// Intake turns the free text of a request into needs, location and urgency.
// Without a language model it falls back to keyword classification.
type Intake struct {
	llm       llm.Client
	extractor geo.Extractor
	resolver  geo.Resolver
	minLength int
	now       func() time.Time
}

type IntakeOption func(*Intake)

func WithIntakeLLM(c llm.Client) IntakeOption { return func(s *Intake) { s.llm = c } }

func WithLocationExtractor(e geo.Extractor) IntakeOption {
	return func(s *Intake) { s.extractor = e }
}

func WithGeocoder(r geo.Resolver) IntakeOption { return func(s *Intake) { s.resolver = r } }

func NewIntake(minLength int, opts ...IntakeOption) *Intake {
	s := &Intake{minLength: minLength, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

type intakeAnswer struct {
	Needs               []string `json:"needs"`
	Urgency             string   `json:"urgency"`
	Location            string   `json:"location"`
	Confidence          float64  `json:"confidence"`
	SpecialRequirements []string `json:"special_requirements"`
	Summary             string   `json:"summary"`
}

func categoryNames() []string {
	names := make([]string, len(triage.Categories))
	for i, c := range triage.Categories {
		names[i] = string(c)
	}
	return names
}

func levelNames() []string {
	names := make([]string, len(triage.Levels))
	for i, l := range triage.Levels {
		names[i] = string(l)
	}
	return names
}

var intakeSchema = llm.Object(map[string]jsonschema.Definition{
	"needs":                llm.Array("needs of the people involved", llm.String("need category", categoryNames()...)),
	"urgency":              llm.String("how urgent the situation is", levelNames()...),
	"location":             llm.String("location mentioned in the text, empty when none"),
	"confidence":           llm.Number("confidence in this classification between 0 and 1"),
	"special_requirements": llm.Array("vulnerable people or special needs", llm.String("requirement")),
	"summary":              llm.String("one sentence summary"),
})

const intakeSystemPrompt = `You triage emergency help requests after a disaster.
Classify the needs using only the allowed categories, use "other" when nothing fits.
Rate urgency as critical for immediate danger to life, high for serious injury or
vulnerable people at risk, medium when help is needed soon, low otherwise.
Answer with JSON only.`

func (s *Intake) Run(ctx context.Context, in IntakeInput) (*request.IntakeResult, error) {
	text := strings.TrimSpace(in.Description)
	if len([]rune(text)) < s.minLength {
		return nil, cerr.NewValidationError("description",
			fmt.Sprintf("description must be at least %d characters", s.minLength))
	}

	res := &request.IntakeResult{}
	location := ""
	if s.llm != nil {
		var ans intakeAnswer
		err := llm.Generate(ctx, s.llm, llm.Request{
			Name:   "intake",
			System: intakeSystemPrompt,
			Prompt: fmt.Sprintf("Title: %s\nDescription: %s\nReported location: %s", in.Title, text, in.RawLocation),
			Schema: intakeSchema,
		}, &ans)
		if err != nil {
			return nil, err
		}
		if ans.Confidence < 0 || ans.Confidence > 1 {
			return nil, cerr.NewValidationError("confidence",
				fmt.Sprintf("model confidence %v is outside [0,1]", ans.Confidence))
		}
		urgency, ok := triage.ParseLevel(ans.Urgency)
		if !ok {
			if strings.TrimSpace(ans.Urgency) != "" {
				return nil, cerr.NewValidationError("urgency", fmt.Sprintf("unknown urgency %q", ans.Urgency))
			}
			urgency = triage.Medium
		}
		res.Needs = triage.NormalizeCategories(ans.Needs)
		res.Urgency = urgency
		res.Confidence = ans.Confidence
		res.SpecialRequirements = ans.SpecialRequirements
		res.Summary = ans.Summary
		res.Source = sourceLLM
		location = strings.TrimSpace(ans.Location)
	} else {
		full := in.Title + ". " + text
		res.Needs = classifyNeeds(full)
		res.Urgency = classifyUrgency(full)
		res.Confidence = keywordConfidence
		res.Source = sourceKeyword
	}
	if len(res.Needs) == 0 {
		res.Needs = []triage.Category{triage.Other}
	}
	if res.Urgency.Rank() > triage.High.Rank() && (hasNeed(res.Needs, triage.Medical) || hasNeed(res.Needs, triage.Rescue)) {
		res.Urgency = triage.High
	}

	res.Location = s.resolveLocation(ctx, in.RawLocation, location, text)
	if res.Location != "" && s.resolver != nil {
		place, err := s.resolver.Resolve(ctx, res.Location)
		if err != nil {
			slog.WarnContext(ctx, "intake: geocoding failed", "location", res.Location, "error", err)
		} else {
			res.Point = &place.Point
		}
	}
	res.CompletedAt = s.now()
	return res, nil
}

// resolveLocation prefers what the requester typed, then what the model
// found, then entity extraction over the text.
func (s *Intake) resolveLocation(ctx context.Context, raw, fromModel, text string) string {
	if loc := strings.TrimSpace(raw); loc != "" {
		return loc
	}
	if fromModel != "" {
		return fromModel
	}
	if s.extractor == nil {
		return ""
	}
	loc, err := s.extractor.ExtractLocation(ctx, text)
	if err != nil {
		slog.WarnContext(ctx, "intake: location extraction failed", "error", err)
		return ""
	}
	return loc
}

func hasNeed(needs []triage.Category, c triage.Category) bool {
	for _, n := range needs {
		if n == c {
			return true
		}
	}
	return false
}
