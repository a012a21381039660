// Package board holds the domain model for the kanban board: projects,
// tickets, their closed type/state/priority enumerations, and the services
// that enforce the board's rules on top of a Store.
package board

import (
	"time"
)

// State is the workflow stage of a ticket.
type State string

const (
	StateBacklog    State = "backlog"
	StateInProgress State = "in progress"
	StateReview     State = "review"
	StateDone       State = "done"
	StateArchived   State = "archived"
)

// States lists every state in board-column order. The set is closed: states
// are not creatable through the API.
func States() []State {
	return []State{StateBacklog, StateInProgress, StateReview, StateDone, StateArchived}
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateBacklog, StateInProgress, StateReview, StateDone, StateArchived:
		return true
	}
	return false
}

// Type classifies a ticket.
type Type string

const (
	TypeBug   Type = "bug"
	TypeStory Type = "story"
	TypeTask  Type = "task"
	TypeSpike Type = "spike"
)

// Types lists every ticket type.
func Types() []Type {
	return []Type{TypeBug, TypeStory, TypeTask, TypeSpike}
}

// Valid reports whether t is a known ticket type.
func (t Type) Valid() bool {
	switch t {
	case TypeBug, TypeStory, TypeTask, TypeSpike:
		return true
	}
	return false
}

// Priority orders tickets by urgency.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Priorities lists every priority level.
func Priorities() []Priority {
	return []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical}
}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Project is a collection of related tickets.
type Project struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`

	// Populated on fetch.
	TicketCount int `json:"ticketCount"`
}

// TicketRef is a lightweight reference to another ticket, used when listing
// dependencies without pulling in the full row.
type TicketRef struct {
	ID    string `json:"id"`
	What  string `json:"what"`
	State State  `json:"state"`
}

// Ticket is a single unit of work on the board.
type Ticket struct {
	ID        string   `json:"id"`
	ProjectID string   `json:"projectId"`
	Type      Type     `json:"type"`
	Priority  Priority `json:"priority"`
	State     State    `json:"state"`

	What               string `json:"what"`
	Why                string `json:"why,omitempty"`
	AcceptanceCriteria string `json:"acceptanceCriteria,omitempty"`
	TestSteps          string `json:"testSteps,omitempty"`

	// Position orders the ticket within its board column.
	Position int `json:"position"`

	CreatedAt   time.Time  `json:"createdAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	// Populated on single-ticket fetch.
	Dependencies []TicketRef `json:"dependencies,omitempty"`
	Dependents   []TicketRef `json:"dependents,omitempty"`
}

// LeadTime returns the elapsed time between creation and completion.
// The second return is false for tickets that have not been completed.
func (t *Ticket) LeadTime() (time.Duration, bool) {
	if t.CompletedAt == nil {
		return 0, false
	}
	return t.CompletedAt.Sub(t.CreatedAt), true
}

// DependenciesResolved reports whether every dependency is done. A ticket
// with no dependencies counts as resolved.
func (t *Ticket) DependenciesResolved() bool {
	for _, dep := range t.Dependencies {
		if dep.State != StateDone {
			return false
		}
	}
	return true
}

// Comment is a note attached to a ticket.
type Comment struct {
	ID        string     `json:"id"`
	TicketID  string     `json:"ticketId"`
	Content   string     `json:"content"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// Metric is the per-ticket DORA record written when a ticket first reaches
// done, and updated when a failure is reported against it.
type Metric struct {
	ID                 string     `json:"id"`
	TicketID           string     `json:"ticketId"`
	LeadTimeMinutes    *int       `json:"leadTimeMinutes,omitempty"`
	ChangeFailure      bool       `json:"changeFailure"`
	DeploymentDate     *time.Time `json:"deploymentDate,omitempty"`
	RestorationMinutes *int       `json:"restorationMinutes,omitempty"`
	RecordDate         time.Time  `json:"recordDate"`
}

// Store is the persistence interface the services run on. The SQLite
// implementation lives in internal/db.
type Store interface {
	// Projects
	CreateProject(p *Project) error
	GetProject(id string) (*Project, bool)
	GetAllProjects() ([]Project, error)
	UpdateProject(p *Project) error
	DeleteProject(id string) error

	// Tickets
	CreateTicket(t *Ticket) error
	GetTicket(id string) (*Ticket, bool)
	GetTickets(projectID string, state State) ([]Ticket, error)
	UpdateTicket(t *Ticket) error
	MoveTicket(t *Ticket, position int) error
	DeleteTicket(id string) error
	NextPosition(projectID string, state State) (int, error)
	CountTicketsByState(projectID string) (map[State]int, error)

	// Comments
	CreateComment(c *Comment) error
	GetComment(id string) (*Comment, bool)
	GetComments(ticketID string) ([]Comment, error)
	UpdateComment(c *Comment) error
	DeleteComment(id string) error

	// Dependencies
	AddDependency(ticketID, dependsOn string) error
	RemoveDependency(ticketID, dependsOn string) error
	GetDependencies(ticketID string) ([]TicketRef, error)
	GetDependents(ticketID string) ([]TicketRef, error)
	HasDependency(ticketID, dependsOn string) (bool, error)

	// Metrics
	CreateMetric(m *Metric) error
	GetMetricByTicket(ticketID string) (*Metric, bool)
	UpdateMetric(m *Metric) error
	GetMetrics(projectID string) ([]Metric, error)
}
