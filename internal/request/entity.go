package request

import (
	"fmt"
	"slices"
	"time"

	"github.com/OutllierRejects/reliefops/internal/geo"
	"github.com/OutllierRejects/reliefops/internal/notification"
	"github.com/OutllierRejects/reliefops/internal/triage"
	"github.com/OutllierRejects/reliefops/pkg/cerr"
)

type Status string

const (
	StatusSubmitted   Status = "submitted"
	StatusProcessing  Status = "processing"
	StatusPrioritized Status = "prioritized"
	StatusAssigned    Status = "assigned"
	StatusInProgress  Status = "in_progress"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
	StatusFailed      Status = "failed"
)

var Statuses = []Status{
	StatusSubmitted, StatusProcessing, StatusPrioritized, StatusAssigned,
	StatusInProgress, StatusCompleted, StatusCancelled, StatusFailed,
}

func (s Status) Valid() bool {
	return slices.Contains(Statuses, s)
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

// transitions lists the forward moves. Leaving failed is only possible
// through Reopen.
var transitions = map[Status][]Status{
	StatusSubmitted:   {StatusProcessing, StatusCancelled},
	StatusProcessing:  {StatusProcessing, StatusPrioritized, StatusAssigned, StatusFailed, StatusCancelled},
	StatusPrioritized: {StatusProcessing, StatusFailed, StatusCancelled},
	StatusAssigned:    {StatusInProgress, StatusCompleted, StatusFailed, StatusCancelled},
	StatusInProgress:  {StatusCompleted, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

type Stage string

const (
	StageIntake         Stage = "intake"
	StagePrioritization Stage = "prioritization"
	StageAssignment     Stage = "assignment"
	StageCommunication  Stage = "communication"
)

// Stages in pipeline order.
var Stages = []Stage{StageIntake, StagePrioritization, StageAssignment, StageCommunication}

type IntakeResult struct {
	Needs               []triage.Category `yaml:"needs" json:"needs"`
	Location            string            `yaml:"location" json:"location"`
	Point               *geo.Point        `yaml:"point,omitempty" json:"point,omitempty"`
	Urgency             triage.Level      `yaml:"urgency" json:"urgency"`
	Confidence          float64           `yaml:"confidence" json:"confidence"`
	SpecialRequirements []string          `yaml:"special_requirements,omitempty" json:"special_requirements,omitempty"`
	Summary             string            `yaml:"summary,omitempty" json:"summary,omitempty"`
	Source              string            `yaml:"source" json:"source"`
	CompletedAt         time.Time         `yaml:"completed_at" json:"completed_at"`
}

// Factors are the normalized (0..1) inputs of the priority decision.
type Factors struct {
	Severity             float64 `yaml:"severity" json:"severity"`
	Vulnerability        float64 `yaml:"vulnerability" json:"vulnerability"`
	TimeSensitivity      float64 `yaml:"time_sensitivity" json:"time_sensitivity"`
	ResourceAvailability float64 `yaml:"resource_availability" json:"resource_availability"`
}

type Rationale struct {
	Factors           Factors `yaml:"factors" json:"factors"`
	MatchingResources int     `yaml:"matching_resources" json:"matching_resources"`
	TotalResources    int     `yaml:"total_resources" json:"total_resources"`
	Downgraded        bool    `yaml:"downgraded,omitempty" json:"downgraded,omitempty"`
	Reasoning         string  `yaml:"reasoning,omitempty" json:"reasoning,omitempty"`
}

type PriorityResult struct {
	Priority              triage.Level `yaml:"priority" json:"priority"`
	Score                 int          `yaml:"score" json:"score"`
	Rationale             Rationale    `yaml:"rationale" json:"rationale"`
	EstimatedResponseTime string       `yaml:"estimated_response_time" json:"estimated_response_time"`
	CompletedAt           time.Time    `yaml:"completed_at" json:"completed_at"`
}

type AssignmentResult struct {
	TaskIDs          []string          `yaml:"task_ids" json:"task_ids"`
	UnfulfilledNeeds []triage.Category `yaml:"unfulfilled_needs,omitempty" json:"unfulfilled_needs,omitempty"`
	CompletedAt      time.Time         `yaml:"completed_at" json:"completed_at"`
}

func (a *AssignmentResult) Fulfilled() bool {
	return len(a.UnfulfilledNeeds) == 0
}

type CommunicationResult struct {
	NotificationIDs []string  `yaml:"notification_ids" json:"notification_ids"`
	CompletedAt     time.Time `yaml:"completed_at" json:"completed_at"`
}

// Failure is the user-visible record of a stage error. Reason never carries
// internal causes.
type Failure struct {
	Stage    Stage     `yaml:"stage" json:"stage"`
	Code     string    `yaml:"code" json:"code"`
	Reason   string    `yaml:"reason" json:"reason"`
	Field    string    `yaml:"field,omitempty" json:"field,omitempty"`
	Attempts int       `yaml:"attempts" json:"attempts"`
	FailedAt time.Time `yaml:"failed_at" json:"failed_at"`
}

type Request struct {
	ID          string               `yaml:"id"`
	CreatorID   string               `yaml:"creator_id"`
	Title       string               `yaml:"title"`
	Description string               `yaml:"description"`
	RawLocation string               `yaml:"raw_location,omitempty"`
	Contact     notification.Contact `yaml:"contact"`

	Status Status `yaml:"status"`
	// Stage is the stage in progress or the one that failed.
	Stage          Stage `yaml:"stage,omitempty"`
	ReviewRequired bool  `yaml:"review_required,omitempty"`
	Approved       bool  `yaml:"approved,omitempty"`

	Intake        *IntakeResult        `yaml:"intake,omitempty"`
	Priority      *PriorityResult      `yaml:"priority,omitempty"`
	Assignment    *AssignmentResult    `yaml:"assignment,omitempty"`
	Communication *CommunicationResult `yaml:"communication,omitempty"`
	Failure       *Failure             `yaml:"failure,omitempty"`
	CancelReason  string               `yaml:"cancel_reason,omitempty"`

	Version   int       `yaml:"version"`
	CreatedAt time.Time `yaml:"created_at"`
	UpdatedAt time.Time `yaml:"updated_at"`
}

func (r *Request) RecordID() string       { return r.ID }
func (r *Request) RecordVersion() int     { return r.Version }
func (r *Request) SetRecordVersion(v int) { r.Version = v }

// Transition moves the request to status to, or fails with FailedPrecondition
// when the move is not a forward one.
func (r *Request) Transition(to Status) error {
	if !CanTransition(r.Status, to) {
		return cerr.NewError(cerr.FailedPrecondition,
			fmt.Sprintf("request cannot move from %s to %s", r.Status, to), nil)
	}
	r.Status = to
	r.UpdatedAt = time.Now()
	return nil
}

// Reopen takes a failed request back to processing for another run. Outputs
// of the stages that succeeded are kept.
func (r *Request) Reopen() error {
	if r.Status != StatusFailed {
		return cerr.NewError(cerr.FailedPrecondition,
			fmt.Sprintf("only failed requests can be resubmitted, request is %s", r.Status), nil)
	}
	r.Status = StatusProcessing
	r.Stage, _ = r.NextStage()
	r.Failure = nil
	r.UpdatedAt = time.Now()
	return nil
}

// HasOutput reports whether stage already produced its result.
func (r *Request) HasOutput(stage Stage) bool {
	switch stage {
	case StageIntake:
		return r.Intake != nil
	case StagePrioritization:
		return r.Priority != nil
	case StageAssignment:
		return r.Assignment != nil
	case StageCommunication:
		return r.Communication != nil
	}
	return false
}

// NextStage is the first stage without output. ok is false once every stage
// has run.
func (r *Request) NextStage() (stage Stage, ok bool) {
	for _, s := range Stages {
		if !r.HasOutput(s) {
			return s, true
		}
	}
	return "", false
}

// Level is the scheduling level: the priority once known, else the intake
// urgency, else medium.
func (r *Request) Level() triage.Level {
	switch {
	case r.Priority != nil:
		return r.Priority.Priority
	case r.Intake != nil:
		return r.Intake.Urgency
	}
	return triage.Medium
}

// Before orders requests by level and then FIFO by creation time.
func Before(a, b *Request) bool {
	ra, rb := a.Level().Rank(), b.Level().Rank()
	if ra != rb {
		return ra < rb
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

// StageStatus is the outcome of one stage within a processing run.
type StageStatus string

const (
	StageSucceeded StageStatus = "succeeded"
	StageSkipped   StageStatus = "skipped"
	StageFailed    StageStatus = "failed"
	StageHalted    StageStatus = "halted"
)

type StageOutcome struct {
	Stage    Stage         `json:"stage"`
	Status   StageStatus   `json:"status"`
	Attempts int           `json:"attempts"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// ProcessingResult is what one coordinator run did to a request.
type ProcessingResult struct {
	Request  *Request       `json:"request"`
	Outcomes []StageOutcome `json:"outcomes"`
	// Halted names why the run stopped early without failing: "cancelled",
	// "review_required", "interrupted" or "".
	Halted string `json:"halted,omitempty"`
}

// Failed reports whether a stage failed during the run.
func (p *ProcessingResult) Failed() bool {
	for _, o := range p.Outcomes {
		if o.Status == StageFailed {
			return true
		}
	}
	return false
}
