package pipeline_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OutllierRejects/reliefops/internal/geo"
	"github.com/OutllierRejects/reliefops/internal/llm"
	"github.com/OutllierRejects/reliefops/internal/pipeline"
	"github.com/OutllierRejects/reliefops/internal/request"
	"github.com/OutllierRejects/reliefops/internal/resource"
	"github.com/OutllierRejects/reliefops/internal/triage"
	"github.com/OutllierRejects/reliefops/pkg/cerr"
)

type fakeResolver struct {
	point geo.Point
	err   error
	calls []string
}

func (f *fakeResolver) Resolve(_ context.Context, location string) (*geo.Place, error) {
	f.calls = append(f.calls, location)
	if f.err != nil {
		return nil, f.err
	}
	return &geo.Place{Address: location, Point: f.point}, nil
}

func staticModel(answer string) (llm.Func, *int) {
	calls := 0
	return func(context.Context, llm.Request) (string, error) {
		calls++
		return answer, nil
	}, &calls
}

func TestIntake_RejectsShortDescription(t *testing.T) {
	model, calls := staticModel(`{}`)
	s := pipeline.NewIntake(10, pipeline.WithIntakeLLM(model))

	_, err := s.Run(context.Background(), pipeline.IntakeInput{Title: "help", Description: "  help  "})
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))
	assert.Equal(t, "description", cerr.FieldOf(err))
	assert.Zero(t, *calls)
}

func TestIntake_KeywordFallback(t *testing.T) {
	resolver := &fakeResolver{point: geo.Point{Lat: 40.1, Lng: -74.2}}
	s := pipeline.NewIntake(10, pipeline.WithGeocoder(resolver))

	res, err := s.Run(context.Background(), pipeline.IntakeInput{
		Title:       "Help",
		Description: "Person trapped under debris, leg injury",
		RawLocation: "12 Elm St",
	})
	require.NoError(t, err)
	assert.Subset(t, res.Needs, []triage.Category{triage.Rescue, triage.Medical})
	assert.Equal(t, triage.Critical, res.Urgency)
	assert.Equal(t, "12 Elm St", res.Location)
	assert.Equal(t, "keyword", res.Source)
	assert.Less(t, res.Confidence, 0.5)
	require.NotNil(t, res.Point)
	assert.Equal(t, 40.1, res.Point.Lat)
	assert.Equal(t, []string{"12 Elm St"}, resolver.calls)
}

func TestIntake_ModelAnswer(t *testing.T) {
	model, _ := staticModel("```json\n" + `{
		"needs": ["medical"],
		"urgency": "low",
		"location": "Main Square",
		"confidence": 0.9,
		"special_requirements": ["wheelchair user"],
		"summary": "Injured person needs a doctor"
	}` + "\n```")
	resolver := &fakeResolver{err: cerr.NewError(cerr.Unavailable, "geocoder down", nil)}
	s := pipeline.NewIntake(10, pipeline.WithIntakeLLM(model), pipeline.WithGeocoder(resolver))

	res, err := s.Run(context.Background(), pipeline.IntakeInput{
		Title:       "Injury",
		Description: "My father hurt his leg badly and cannot walk",
	})
	require.NoError(t, err)
	want := &request.IntakeResult{
		Needs:               []triage.Category{triage.Medical},
		Urgency:             triage.High,
		Location:            "Main Square",
		Confidence:          0.9,
		SpecialRequirements: []string{"wheelchair user"},
		Summary:             "Injured person needs a doctor",
		Source:              "llm",
	}
	// Medical needs are raised to at least high; geocoding failures leave Point nil.
	if diff := cmp.Diff(want, res, cmpopts.IgnoreFields(request.IntakeResult{}, "CompletedAt")); diff != "" {
		t.Errorf("intake result mismatch (-want +got):\n%s", diff)
	}
}

func TestIntake_LocationFromExtractor(t *testing.T) {
	s := pipeline.NewIntake(10, pipeline.WithLocationExtractor(geo.KeywordExtractor{}))

	res, err := s.Run(context.Background(), pipeline.IntakeInput{
		Title:       "Water",
		Description: "We ran out of water near the old mill, please help",
	})
	require.NoError(t, err)
	assert.Equal(t, "the old mill", res.Location)
}

func TestIntake_SchemaMismatchIsNotRetryable(t *testing.T) {
	model, _ := staticModel(`{"needs": ["rescue"], "urgency": "apocalyptic"}`)
	s := pipeline.NewIntake(10, pipeline.WithIntakeLLM(model))

	_, err := s.Run(context.Background(), pipeline.IntakeInput{Description: "Flood water entering the house"})
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))
	assert.False(t, cerr.IsRetryable(err))
}

func TestIntake_RejectsConfidenceOutOfRange(t *testing.T) {
	model, _ := staticModel(`{"needs": ["food"], "urgency": "medium", "location": "", "confidence": 1.7,
		"special_requirements": [], "summary": "food"}`)
	s := pipeline.NewIntake(10, pipeline.WithIntakeLLM(model))

	_, err := s.Run(context.Background(), pipeline.IntakeInput{Description: "No food left for three days"})
	assert.Equal(t, "confidence", cerr.FieldOf(err))
}

func intakeResult(urgency triage.Level, needs ...triage.Category) *request.IntakeResult {
	return &request.IntakeResult{Needs: needs, Urgency: urgency, Confidence: 0.9}
}

func pool(now time.Time, specs ...resource.Resource) resource.Snapshot {
	var rs []*resource.Resource
	for i := range specs {
		r := specs[i]
		if r.Status == "" {
			r.Status = resource.StatusAvailable
		}
		rs = append(rs, &r)
	}
	return resource.NewSnapshot(rs, now)
}

func TestPrioritizer_Run(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	p := pipeline.NewPrioritizer(nil)

	t.Run("critical stays critical with an empty pool", func(t *testing.T) {
		res, err := p.Run(ctx, pipeline.PriorityInput{
			Intake:    intakeResult(triage.Critical, triage.Rescue, triage.Medical),
			CreatedAt: now,
		}, pool(now))
		require.NoError(t, err)
		assert.Equal(t, triage.Critical, res.Priority)
		assert.GreaterOrEqual(t, res.Score, 75)
		assert.LessOrEqual(t, res.Score, 100)
		assert.False(t, res.Rationale.Downgraded)
		assert.Equal(t, "immediate", res.EstimatedResponseTime)
	})

	t.Run("critical is downgraded when nothing matches", func(t *testing.T) {
		res, err := p.Run(ctx, pipeline.PriorityInput{
			Intake:    intakeResult(triage.Critical, triage.Rescue),
			CreatedAt: now,
		}, pool(now, resource.Resource{ID: "w1", Capabilities: []triage.Category{triage.Water}}))
		require.NoError(t, err)
		assert.Equal(t, triage.High, res.Priority)
		assert.True(t, res.Rationale.Downgraded)
		assert.Equal(t, 0, res.Rationale.MatchingResources)
		assert.Equal(t, 1, res.Rationale.TotalResources)
	})

	t.Run("busy matching resources do not downgrade", func(t *testing.T) {
		res, err := p.Run(ctx, pipeline.PriorityInput{
			Intake:    intakeResult(triage.Critical, triage.Rescue),
			CreatedAt: now,
		}, pool(now, resource.Resource{ID: "b1", Capabilities: []triage.Category{triage.Rescue}, Status: resource.StatusOffline}))
		require.NoError(t, err)
		assert.Equal(t, triage.Critical, res.Priority)
		assert.Equal(t, 1, res.Rationale.MatchingResources)
		assert.Zero(t, res.Rationale.Factors.ResourceAvailability)
	})

	t.Run("vulnerability moves the score within the band", func(t *testing.T) {
		plain, err := p.Run(ctx, pipeline.PriorityInput{
			Intake: intakeResult(triage.Medium, triage.Food), Description: "we need food", CreatedAt: now,
		}, pool(now))
		require.NoError(t, err)
		vulnerable, err := p.Run(ctx, pipeline.PriorityInput{
			Intake: intakeResult(triage.Medium, triage.Food), Description: "an elderly couple needs food", CreatedAt: now,
		}, pool(now))
		require.NoError(t, err)
		assert.Equal(t, triage.Medium, vulnerable.Priority)
		assert.Greater(t, vulnerable.Score, plain.Score)
		assert.LessOrEqual(t, vulnerable.Score, 49)
		assert.GreaterOrEqual(t, plain.Score, 25)
	})

	t.Run("older requests are more time sensitive", func(t *testing.T) {
		fresh, err := p.Run(ctx, pipeline.PriorityInput{Intake: intakeResult(triage.Low, triage.Shelter), CreatedAt: now}, pool(now))
		require.NoError(t, err)
		old, err := p.Run(ctx, pipeline.PriorityInput{Intake: intakeResult(triage.Low, triage.Shelter), CreatedAt: now.Add(-5 * time.Hour)}, pool(now))
		require.NoError(t, err)
		assert.Greater(t, old.Rationale.Factors.TimeSensitivity, fresh.Rationale.Factors.TimeSensitivity)
		assert.Equal(t, triage.Low, old.Priority)
	})

	t.Run("invalid intake", func(t *testing.T) {
		_, err := p.Run(ctx, pipeline.PriorityInput{}, pool(now))
		assert.Equal(t, "intake", cerr.FieldOf(err))

		_, err = p.Run(ctx, pipeline.PriorityInput{Intake: intakeResult(triage.High)}, pool(now))
		assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))
		assert.Equal(t, "intake.needs", cerr.FieldOf(err))
	})
}

func TestPrioritizer_ModelAssessment(t *testing.T) {
	model, calls := staticModel(`{"vulnerability": 1, "time_sensitivity": 1, "reasoning": "child alone"}`)
	p := pipeline.NewPrioritizer(model)
	now := time.Now()

	res, err := p.Run(context.Background(), pipeline.PriorityInput{
		Intake: intakeResult(triage.High, triage.Medical), CreatedAt: now,
	}, pool(now))
	require.NoError(t, err)
	assert.Equal(t, 1, *calls)
	assert.Equal(t, triage.High, res.Priority)
	assert.Equal(t, "child alone", res.Rationale.Reasoning)
	assert.Equal(t, 1.0, res.Rationale.Factors.Vulnerability)

	bad, _ := staticModel(`{"vulnerability": 3, "time_sensitivity": 0.5, "reasoning": ""}`)
	_, err = pipeline.NewPrioritizer(bad).Run(context.Background(), pipeline.PriorityInput{
		Intake: intakeResult(triage.High, triage.Medical), CreatedAt: now,
	}, pool(now))
	assert.True(t, cerr.IsCode(err, cerr.InvalidArgument))
}
