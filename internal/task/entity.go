package task

import (
	"slices"
	"time"

	"github.com/OutllierRejects/reliefops/internal/notification"
	"github.com/OutllierRejects/reliefops/internal/triage"
)

type Status string

const (
	StatusAssigned   Status = "assigned"
	StatusAccepted   Status = "accepted"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusAssigned:   {StatusAccepted, StatusInProgress, StatusCancelled},
	StatusAccepted:   {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// Task is the work one assignee does for one request.
type Task struct {
	ID                string               `yaml:"id" json:"id"`
	RequestID         string               `yaml:"request_id" json:"request_id"`
	ResourceID        string               `yaml:"resource_id" json:"resource_id"`
	AssigneeName      string               `yaml:"assignee_name" json:"assignee_name"`
	AssigneeContact   notification.Contact `yaml:"assignee_contact" json:"-"`
	Needs             []triage.Category    `yaml:"needs" json:"needs"`
	Requirements      []string             `yaml:"requirements,omitempty" json:"requirements,omitempty"`
	Instructions      string               `yaml:"instructions" json:"instructions"`
	EstimatedDuration time.Duration        `yaml:"estimated_duration" json:"estimated_duration"`
	Priority          triage.Level         `yaml:"priority" json:"priority"`
	DistanceKm        *float64             `yaml:"distance_km,omitempty" json:"distance_km,omitempty"`
	Status            Status               `yaml:"status" json:"status"`
	Version           int                  `yaml:"version" json:"version"`
	CreatedAt         time.Time            `yaml:"created_at" json:"created_at"`
	UpdatedAt         time.Time            `yaml:"updated_at" json:"updated_at"`
	CompletedAt       *time.Time           `yaml:"completed_at,omitempty" json:"completed_at,omitempty"`
}

func (t *Task) RecordID() string       { return t.ID }
func (t *Task) RecordVersion() int     { return t.Version }
func (t *Task) SetRecordVersion(v int) { t.Version = v }
