// Package models defines the control-plane persistence models: registered
// data-plane nodes and migration jobs.
package models

import (
	"errors"
	"time"
)

// Job status values. Transitions are queued -> running -> succeeded | failed;
// terminal states never change.
const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusSucceeded = "succeeded"
	JobStatusFailed    = "failed"
)

// JobKindMigrate is the only job kind currently scheduled.
const JobKindMigrate = "migrate"

var (
	// ErrJobNotFound is returned when no job exists with the given id.
	ErrJobNotFound = errors.New("job not found")

	// ErrNodeNotFound is returned when no node is registered under a name.
	ErrNodeNotFound = errors.New("node not found")

	// ErrConflict is returned when an optimistic status transition loses
	// the race: the job is no longer in the expected source status.
	ErrConflict = errors.New("job status conflict")
)

// NodeStatusHealthy is the only node status currently assigned; registration
// and re-registration both refresh the heartbeat.
const NodeStatusHealthy = "healthy"

// Node is a registered data-plane endpoint, addressed by unique name.
type Node struct {
	ID            uint      `gorm:"primaryKey" json:"-"`
	Name          string    `gorm:"uniqueIndex;size:255;not null" json:"name"`
	BaseURL       string    `gorm:"size:1024;not null" json:"base_url"`
	Status        string    `gorm:"size:32;not null" json:"status"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Job is one unit of replication work. Retries counts transient failures
// survived so far; LastError holds the most recent failure message.
type Job struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Kind      string    `gorm:"size:64;not null;index" json:"kind"`
	SrcNode   string    `gorm:"size:255;not null" json:"src_node"`
	DstNode   string    `gorm:"size:255;not null" json:"dst_node"`
	ObjectID  string    `gorm:"size:256;not null" json:"object_id"`
	Status    string    `gorm:"size:32;not null;index" json:"status"`
	Retries   int       `gorm:"not null;default:0" json:"retries"`
	LastError string    `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsTerminal reports whether the job reached a final status.
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusSucceeded || j.Status == JobStatusFailed
}

// ValidStatus reports whether s is one of the four job statuses.
func ValidStatus(s string) bool {
	switch s {
	case JobStatusQueued, JobStatusRunning, JobStatusSucceeded, JobStatusFailed:
		return true
	}
	return false
}

// AllModels returns every model to auto-migrate.
func AllModels() []any {
	return []any{&Node{}, &Job{}}
}
