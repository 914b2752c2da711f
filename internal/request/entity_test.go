package request

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OutllierRejects/reliefops/internal/triage"
	"github.com/OutllierRejects/reliefops/pkg/cerr"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusSubmitted, StatusProcessing, true},
		{StatusProcessing, StatusPrioritized, true},
		{StatusPrioritized, StatusProcessing, true},
		{StatusProcessing, StatusAssigned, true},
		{StatusAssigned, StatusInProgress, true},
		{StatusInProgress, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusAssigned, StatusCancelled, true},
		{StatusAssigned, StatusProcessing, false},
		{StatusPrioritized, StatusSubmitted, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusFailed, StatusProcessing, false},
		{StatusCancelled, StatusProcessing, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestRequest_Transition(t *testing.T) {
	r := &Request{Status: StatusCompleted}
	err := r.Transition(StatusCancelled)
	require.Error(t, err)
	assert.True(t, cerr.IsCode(err, cerr.FailedPrecondition))
	assert.Equal(t, StatusCompleted, r.Status)
}

func TestRequest_NextStage(t *testing.T) {
	r := &Request{}
	stage, ok := r.NextStage()
	assert.True(t, ok)
	assert.Equal(t, StageIntake, stage)

	r.Intake = &IntakeResult{Needs: []triage.Category{triage.Rescue}, Urgency: triage.High}
	stage, _ = r.NextStage()
	assert.Equal(t, StagePrioritization, stage)

	r.Priority = &PriorityResult{Priority: triage.High}
	r.Assignment = &AssignmentResult{}
	stage, _ = r.NextStage()
	assert.Equal(t, StageCommunication, stage)

	r.Communication = &CommunicationResult{}
	_, ok = r.NextStage()
	assert.False(t, ok)
}

func TestRequest_Reopen(t *testing.T) {
	r := &Request{
		Status:  StatusFailed,
		Stage:   StagePrioritization,
		Intake:  &IntakeResult{Needs: []triage.Category{triage.Medical}},
		Failure: &Failure{Stage: StagePrioritization, Reason: "upstream timeout"},
	}
	require.NoError(t, r.Reopen())
	assert.Equal(t, StatusProcessing, r.Status)
	assert.Equal(t, StagePrioritization, r.Stage)
	assert.Nil(t, r.Failure)
	assert.NotNil(t, r.Intake)

	assert.Error(t, (&Request{Status: StatusAssigned}).Reopen())
}

func TestBefore(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	lowEarly := &Request{ID: "a", CreatedAt: base, Priority: &PriorityResult{Priority: triage.Low}}
	criticalLate := &Request{ID: "b", CreatedAt: base.Add(time.Hour), Priority: &PriorityResult{Priority: triage.Critical}}
	criticalEarly := &Request{ID: "c", CreatedAt: base, Priority: &PriorityResult{Priority: triage.Critical}}
	unprioritized := &Request{ID: "d", CreatedAt: base}

	assert.True(t, Before(criticalLate, lowEarly))
	assert.True(t, Before(criticalEarly, criticalLate))
	assert.False(t, Before(criticalLate, criticalEarly))
	assert.True(t, Before(unprioritized, lowEarly), "unprioritized requests schedule as medium")
}
