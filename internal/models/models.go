// Package models provides canonical type definitions for issue tracker API entities.
// These types flow through the store, the remote source and the CLI output.
package models

import (
	"strconv"
	"time"
)

// Person represents an issue author or assignee reference.
type Person struct {
	ID    int64  `json:"id"`
	Login string `json:"login"`
}

// Issue represents a single issue in a repository.
// Identity is ID; issues are grouped by RepositoryID.
type Issue struct {
	ID           int64     `json:"id" yaml:"id"`
	RepositoryID int64     `json:"repository_id" yaml:"repository_id"`
	Number       int       `json:"number" yaml:"number"`
	Title        string    `json:"title" yaml:"title"`
	Body         string    `json:"body,omitempty" yaml:"body,omitempty"`
	State        string    `json:"state" yaml:"state"`
	User         Person    `json:"user" yaml:"user"`
	Labels       []string  `json:"labels,omitempty" yaml:"labels,omitempty"`
	Comments     int       `json:"comments" yaml:"comments"`
	CreatedAt    time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" yaml:"updated_at"`
}

// Issue states.
const (
	StateOpen   = "open"
	StateClosed = "closed"
)

// Key returns the identity key.
func (i Issue) Key() int64 { return i.ID }

// Group returns the repository the issue belongs to.
func (i Issue) Group() int64 { return i.RepositoryID }

// Open reports whether the issue is open.
func (i Issue) Open() bool { return i.State == StateOpen }

// Ref returns the short human reference, e.g. "#42".
func (i Issue) Ref() string { return "#" + strconv.Itoa(i.Number) }
