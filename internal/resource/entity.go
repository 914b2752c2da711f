package resource

import (
	"slices"
	"time"

	"github.com/OutllierRejects/reliefops/internal/geo"
	"github.com/OutllierRejects/reliefops/internal/notification"
	"github.com/OutllierRejects/reliefops/internal/triage"
)

type Kind string

const (
	KindPersonnel Kind = "personnel"
	KindEquipment Kind = "equipment"
)

type Status string

const (
	StatusAvailable Status = "available"
	StatusOffline   Status = "offline"
)

const DefaultMaxConcurrentTasks = 3

// Resource is a responder or a piece of equipment that can be assigned to
// requests. Equipment is usually exclusive: one task at a time.
type Resource struct {
	ID                 string               `yaml:"id" json:"id"`
	Name               string               `yaml:"name" json:"name"`
	Kind               Kind                 `yaml:"kind" json:"kind"`
	Capabilities       []triage.Category    `yaml:"capabilities" json:"capabilities"`
	Location           string               `yaml:"location,omitempty" json:"location,omitempty"`
	Point              *geo.Point           `yaml:"point,omitempty" json:"point,omitempty"`
	Exclusive          bool                 `yaml:"exclusive,omitempty" json:"exclusive,omitempty"`
	MaxConcurrentTasks int                  `yaml:"max_concurrent_tasks,omitempty" json:"max_concurrent_tasks,omitempty"`
	ActiveTasks        int                  `yaml:"active_tasks" json:"active_tasks"`
	AvailableFrom      *time.Time           `yaml:"available_from,omitempty" json:"available_from,omitempty"`
	AvailableUntil     *time.Time           `yaml:"available_until,omitempty" json:"available_until,omitempty"`
	Contact            notification.Contact `yaml:"contact" json:"contact"`
	Status             Status               `yaml:"status" json:"status"`
	Version            int                  `yaml:"version" json:"version"`
	CreatedAt          time.Time            `yaml:"created_at" json:"created_at"`
	UpdatedAt          time.Time            `yaml:"updated_at" json:"updated_at"`
}

func (r *Resource) RecordID() string       { return r.ID }
func (r *Resource) RecordVersion() int     { return r.Version }
func (r *Resource) SetRecordVersion(v int) { r.Version = v }

// Capacity is the number of tasks the resource may hold at once.
func (r *Resource) Capacity() int {
	if r.Exclusive {
		return 1
	}
	if r.MaxConcurrentTasks <= 0 {
		return DefaultMaxConcurrentTasks
	}
	return r.MaxConcurrentTasks
}

func (r *Resource) HasCapacity() bool {
	return r.ActiveTasks < r.Capacity()
}

// AvailableAt reports whether the resource is online and inside its
// availability window at t.
func (r *Resource) AvailableAt(t time.Time) bool {
	if r.Status != StatusAvailable {
		return false
	}
	if r.AvailableFrom != nil && t.Before(*r.AvailableFrom) {
		return false
	}
	if r.AvailableUntil != nil && !t.Before(*r.AvailableUntil) {
		return false
	}
	return true
}

// Assignable is AvailableAt plus free capacity.
func (r *Resource) Assignable(t time.Time) bool {
	return r.AvailableAt(t) && r.HasCapacity()
}

func (r *Resource) Serves(c triage.Category) bool {
	return slices.Contains(r.Capabilities, c)
}

// RemainingWindow is how long the resource stays available after t. Open
// ended windows report the maximum duration.
func (r *Resource) RemainingWindow(t time.Time) time.Duration {
	if r.AvailableUntil == nil {
		return time.Duration(1<<63 - 1)
	}
	return r.AvailableUntil.Sub(t)
}

// Snapshot is a point-in-time view of the pool used for prioritization.
type Snapshot struct {
	Total   int
	TakenAt time.Time

	capabilities [][]triage.Category
	assignable   []bool
}

func NewSnapshot(resources []*Resource, now time.Time) Snapshot {
	s := Snapshot{
		Total:        len(resources),
		TakenAt:      now,
		capabilities: make([][]triage.Category, len(resources)),
		assignable:   make([]bool, len(resources)),
	}
	for i, r := range resources {
		s.capabilities[i] = r.Capabilities
		s.assignable[i] = r.Assignable(now)
	}
	return s
}

// Matching counts resources serving at least one of needs, whatever their
// current availability.
func (s Snapshot) Matching(needs []triage.Category) int {
	return s.count(needs, false)
}

// Assignable counts resources serving at least one of needs that could take
// a task at the snapshot time.
func (s Snapshot) Assignable(needs []triage.Category) int {
	return s.count(needs, true)
}

func (s Snapshot) count(needs []triage.Category, onlyAssignable bool) int {
	n := 0
	for i, caps := range s.capabilities {
		if onlyAssignable && !s.assignable[i] {
			continue
		}
		if slices.ContainsFunc(caps, func(c triage.Category) bool { return slices.Contains(needs, c) }) {
			n++
		}
	}
	return n
}
