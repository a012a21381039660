package board

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// ProjectService implements project CRUD on top of a Store.
type ProjectService struct {
	store Store
}

// NewProjectService creates a project service.
func NewProjectService(store Store) *ProjectService {
	return &ProjectService{store: store}
}

// ProjectUpdate carries partial project changes; nil fields are untouched.
type ProjectUpdate struct {
	Name        *string
	Description *string
}

// Create creates a project. Name is required.
func (s *ProjectService) Create(name, description string) (*Project, error) {
	if name == "" {
		return nil, Validationf("project name is required")
	}
	p := &Project{
		ID:          uuid.New().String(),
		Name:        name,
		Description: description,
		CreatedAt:   time.Now(),
	}
	if err := s.store.CreateProject(p); err != nil {
		return nil, storagef("create project", err)
	}
	return p, nil
}

// Get returns a project by ID.
func (s *ProjectService) Get(id string) (*Project, error) {
	p, ok := s.store.GetProject(id)
	if !ok {
		return nil, &NotFoundError{Resource: "project", ID: id}
	}
	return p, nil
}

// List returns all projects.
func (s *ProjectService) List() ([]Project, error) {
	projects, err := s.store.GetAllProjects()
	if err != nil {
		return nil, storagef("list projects", err)
	}
	return projects, nil
}

// Update applies a partial update to a project.
func (s *ProjectService) Update(id string, upd ProjectUpdate) (*Project, error) {
	p, ok := s.store.GetProject(id)
	if !ok {
		return nil, &NotFoundError{Resource: "project", ID: id}
	}
	if upd.Name != nil {
		if *upd.Name == "" {
			return nil, Validationf("project name is required")
		}
		p.Name = *upd.Name
	}
	if upd.Description != nil {
		p.Description = *upd.Description
	}
	if err := s.store.UpdateProject(p); err != nil {
		return nil, storagef("update project", err)
	}
	return p, nil
}

// Delete removes a project and, by cascade, its tickets.
func (s *ProjectService) Delete(id string) error {
	if _, ok := s.store.GetProject(id); !ok {
		return &NotFoundError{Resource: "project", ID: id}
	}
	if err := s.store.DeleteProject(id); err != nil {
		return storagef("delete project", err)
	}
	return nil
}

// TicketService implements ticket operations: creation, partial updates,
// board moves, comments, and dependencies. State transitions into done stamp
// the completion timestamp and record a DORA metric row.
type TicketService struct {
	store Store
	now   func() time.Time
}

// NewTicketService creates a ticket service.
func NewTicketService(store Store) *TicketService {
	return &TicketService{store: store, now: time.Now}
}

// CreateTicketInput is the input for creating a ticket.
type CreateTicketInput struct {
	ProjectID          string
	Type               Type
	Priority           Priority // defaults to medium
	State              State    // defaults to backlog
	What               string
	Why                string
	AcceptanceCriteria string
	TestSteps          string
}

// Create validates the input and creates a ticket. New tickets land at the
// end of their column.
func (s *TicketService) Create(in CreateTicketInput) (*Ticket, error) {
	if in.ProjectID == "" {
		return nil, Validationf("project id is required")
	}
	if in.What == "" {
		return nil, Validationf("ticket description (what) is required")
	}
	if !in.Type.Valid() {
		return nil, Validationf("invalid ticket type %q", in.Type)
	}
	if in.Priority == "" {
		in.Priority = PriorityMedium
	}
	if !in.Priority.Valid() {
		return nil, Validationf("invalid ticket priority %q", in.Priority)
	}
	if in.State == "" {
		in.State = StateBacklog
	}
	if !in.State.Valid() {
		return nil, Validationf("invalid ticket state %q", in.State)
	}
	if _, ok := s.store.GetProject(in.ProjectID); !ok {
		return nil, &NotFoundError{Resource: "project", ID: in.ProjectID}
	}

	pos, err := s.store.NextPosition(in.ProjectID, in.State)
	if err != nil {
		return nil, storagef("next position", err)
	}

	t := &Ticket{
		ID:                 uuid.New().String(),
		ProjectID:          in.ProjectID,
		Type:               in.Type,
		Priority:           in.Priority,
		State:              in.State,
		What:               in.What,
		Why:                in.Why,
		AcceptanceCriteria: in.AcceptanceCriteria,
		TestSteps:          in.TestSteps,
		Position:           pos,
		CreatedAt:          s.now(),
	}
	if err := s.store.CreateTicket(t); err != nil {
		return nil, storagef("create ticket", err)
	}
	return t, nil
}

// Get returns a ticket with its dependencies and dependents populated.
func (s *TicketService) Get(id string) (*Ticket, error) {
	t, ok := s.store.GetTicket(id)
	if !ok {
		return nil, &NotFoundError{Resource: "ticket", ID: id}
	}
	if err := s.loadRelations(t); err != nil {
		return nil, err
	}
	return t, nil
}

// List returns tickets ordered by board position, optionally filtered by
// project and state. Tickets never leak across projects.
func (s *TicketService) List(projectID string, state State) ([]Ticket, error) {
	if state != "" && !state.Valid() {
		return nil, Validationf("invalid ticket state %q", state)
	}
	tickets, err := s.store.GetTickets(projectID, state)
	if err != nil {
		return nil, storagef("list tickets", err)
	}
	return tickets, nil
}

// ListArchived returns archived tickets, most recently completed first.
func (s *TicketService) ListArchived(projectID string) ([]Ticket, error) {
	tickets, err := s.store.GetTickets(projectID, StateArchived)
	if err != nil {
		return nil, storagef("list archived tickets", err)
	}
	sort.SliceStable(tickets, func(i, j int) bool {
		a, b := tickets[i].CompletedAt, tickets[j].CompletedAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.After(*b)
		}
	})
	return tickets, nil
}

// TicketUpdate carries partial ticket changes; nil fields are untouched.
type TicketUpdate struct {
	ProjectID          *string
	Type               *Type
	Priority           *Priority
	State              *State
	What               *string
	Why                *string
	AcceptanceCriteria *string
	TestSteps          *string
}

// Update applies a partial update. A state change runs through the
// transition rules: the first move into done stamps the completion timestamp
// and records a metric row; moving out of done clears the timestamp, except
// done to archived which preserves it so archived tickets keep their history.
func (s *TicketService) Update(id string, upd TicketUpdate) (*Ticket, error) {
	t, ok := s.store.GetTicket(id)
	if !ok {
		return nil, &NotFoundError{Resource: "ticket", ID: id}
	}

	if upd.ProjectID != nil {
		if _, ok := s.store.GetProject(*upd.ProjectID); !ok {
			return nil, &NotFoundError{Resource: "project", ID: *upd.ProjectID}
		}
		t.ProjectID = *upd.ProjectID
	}
	if upd.Type != nil {
		if !upd.Type.Valid() {
			return nil, Validationf("invalid ticket type %q", *upd.Type)
		}
		t.Type = *upd.Type
	}
	if upd.Priority != nil {
		if !upd.Priority.Valid() {
			return nil, Validationf("invalid ticket priority %q", *upd.Priority)
		}
		t.Priority = *upd.Priority
	}
	if upd.What != nil {
		if *upd.What == "" {
			return nil, Validationf("ticket description (what) is required")
		}
		t.What = *upd.What
	}
	if upd.Why != nil {
		t.Why = *upd.Why
	}
	if upd.AcceptanceCriteria != nil {
		t.AcceptanceCriteria = *upd.AcceptanceCriteria
	}
	if upd.TestSteps != nil {
		t.TestSteps = *upd.TestSteps
	}

	var completed bool
	if upd.State != nil && *upd.State != t.State {
		if !upd.State.Valid() {
			return nil, Validationf("invalid ticket state %q", *upd.State)
		}
		var err error
		completed, err = s.transition(t, *upd.State)
		if err != nil {
			return nil, err
		}
	}

	if err := s.store.UpdateTicket(t); err != nil {
		return nil, storagef("update ticket", err)
	}
	if completed {
		if err := s.recordCompletion(t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Move places a ticket at a position within a state column, shifting the
// column's other tickets down. State changes follow the same transition
// rules as Update.
func (s *TicketService) Move(id string, state State, position int) (*Ticket, error) {
	if !state.Valid() {
		return nil, Validationf("invalid ticket state %q", state)
	}
	if position < 0 {
		return nil, Validationf("position must not be negative")
	}
	t, ok := s.store.GetTicket(id)
	if !ok {
		return nil, &NotFoundError{Resource: "ticket", ID: id}
	}

	var completed bool
	if state != t.State {
		var err error
		completed, err = s.transition(t, state)
		if err != nil {
			return nil, err
		}
	}

	if err := s.store.MoveTicket(t, position); err != nil {
		return nil, storagef("move ticket", err)
	}
	if completed {
		if err := s.recordCompletion(t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Delete removes a ticket; comments, dependencies, and metrics cascade.
func (s *TicketService) Delete(id string) error {
	if _, ok := s.store.GetTicket(id); !ok {
		return &NotFoundError{Resource: "ticket", ID: id}
	}
	if err := s.store.DeleteTicket(id); err != nil {
		return storagef("delete ticket", err)
	}
	return nil
}

// transition mutates the ticket's state and completion timestamp. The
// returned flag is true when this change completed the ticket for the first
// time, in which case the caller records a metric after persisting.
func (s *TicketService) transition(t *Ticket, newState State) (completed bool, err error) {
	oldState := t.State
	t.State = newState

	switch {
	case newState == StateDone:
		if t.CompletedAt == nil {
			now := s.now()
			t.CompletedAt = &now
			completed = true
		}
	case newState == StateArchived && oldState == StateDone:
		// Keep the completion timestamp: the archive is sorted by it.
	default:
		t.CompletedAt = nil
	}
	return completed, nil
}

// recordCompletion writes the DORA metric row for a ticket that just reached
// done. Bugs count as change failures, with the lead time doubling as the
// restoration time.
func (s *TicketService) recordCompletion(t *Ticket) error {
	lead, ok := t.LeadTime()
	if !ok {
		return nil
	}
	minutes := int(lead.Minutes())
	now := s.now()

	m, exists := s.store.GetMetricByTicket(t.ID)
	if !exists {
		m = &Metric{
			ID:         uuid.New().String(),
			TicketID:   t.ID,
			RecordDate: now,
		}
	}
	m.LeadTimeMinutes = &minutes
	m.DeploymentDate = &now
	if t.Type == TypeBug {
		m.ChangeFailure = true
		m.RestorationMinutes = &minutes
	}

	if exists {
		return storagef("update metric", s.store.UpdateMetric(m))
	}
	return storagef("create metric", s.store.CreateMetric(m))
}

// loadRelations fills in the ticket's dependency references.
func (s *TicketService) loadRelations(t *Ticket) error {
	deps, err := s.store.GetDependencies(t.ID)
	if err != nil {
		return storagef("load dependencies", err)
	}
	dependents, err := s.store.GetDependents(t.ID)
	if err != nil {
		return storagef("load dependents", err)
	}
	t.Dependencies = deps
	t.Dependents = dependents
	return nil
}

// --- Comments ---

// AddComment attaches a comment to a ticket.
func (s *TicketService) AddComment(ticketID, content string) (*Comment, error) {
	if content == "" {
		return nil, Validationf("comment content is required")
	}
	if _, ok := s.store.GetTicket(ticketID); !ok {
		return nil, &NotFoundError{Resource: "ticket", ID: ticketID}
	}
	c := &Comment{
		ID:        uuid.New().String(),
		TicketID:  ticketID,
		Content:   content,
		CreatedAt: s.now(),
	}
	if err := s.store.CreateComment(c); err != nil {
		return nil, storagef("create comment", err)
	}
	return c, nil
}

// Comments returns a ticket's comments, oldest first.
func (s *TicketService) Comments(ticketID string) ([]Comment, error) {
	if _, ok := s.store.GetTicket(ticketID); !ok {
		return nil, &NotFoundError{Resource: "ticket", ID: ticketID}
	}
	comments, err := s.store.GetComments(ticketID)
	if err != nil {
		return nil, storagef("list comments", err)
	}
	return comments, nil
}

// UpdateComment replaces a comment's content and stamps the update time.
func (s *TicketService) UpdateComment(id, content string) (*Comment, error) {
	if content == "" {
		return nil, Validationf("comment content is required")
	}
	c, ok := s.store.GetComment(id)
	if !ok {
		return nil, &NotFoundError{Resource: "comment", ID: id}
	}
	now := s.now()
	c.Content = content
	c.UpdatedAt = &now
	if err := s.store.UpdateComment(c); err != nil {
		return nil, storagef("update comment", err)
	}
	return c, nil
}

// DeleteComment removes a comment.
func (s *TicketService) DeleteComment(id string) error {
	if _, ok := s.store.GetComment(id); !ok {
		return &NotFoundError{Resource: "comment", ID: id}
	}
	if err := s.store.DeleteComment(id); err != nil {
		return storagef("delete comment", err)
	}
	return nil
}

// --- Dependencies ---

// AddDependency records that ticketID depends on dependsOn. Self-references
// and direct cycles are rejected.
func (s *TicketService) AddDependency(ticketID, dependsOn string) (*Ticket, error) {
	t, ok := s.store.GetTicket(ticketID)
	if !ok {
		return nil, &NotFoundError{Resource: "ticket", ID: ticketID}
	}
	if _, ok := s.store.GetTicket(dependsOn); !ok {
		return nil, &NotFoundError{Resource: "ticket", ID: dependsOn}
	}
	if ticketID == dependsOn {
		return nil, Validationf("a ticket cannot depend on itself")
	}
	reverse, err := s.store.HasDependency(dependsOn, ticketID)
	if err != nil {
		return nil, storagef("check dependency", err)
	}
	if reverse {
		return nil, Validationf("adding this dependency would create a cycle")
	}
	already, err := s.store.HasDependency(ticketID, dependsOn)
	if err != nil {
		return nil, storagef("check dependency", err)
	}
	if !already {
		if err := s.store.AddDependency(ticketID, dependsOn); err != nil {
			return nil, storagef("add dependency", err)
		}
	}
	if err := s.loadRelations(t); err != nil {
		return nil, err
	}
	return t, nil
}

// RemoveDependency deletes a dependency edge.
func (s *TicketService) RemoveDependency(ticketID, dependsOn string) (*Ticket, error) {
	t, ok := s.store.GetTicket(ticketID)
	if !ok {
		return nil, &NotFoundError{Resource: "ticket", ID: ticketID}
	}
	if _, ok := s.store.GetTicket(dependsOn); !ok {
		return nil, &NotFoundError{Resource: "ticket", ID: dependsOn}
	}
	if err := s.store.RemoveDependency(ticketID, dependsOn); err != nil {
		return nil, storagef("remove dependency", err)
	}
	if err := s.loadRelations(t); err != nil {
		return nil, err
	}
	return t, nil
}

// CountByState returns ticket counts per state, optionally scoped to a
// project.
func (s *TicketService) CountByState(projectID string) (map[State]int, error) {
	counts, err := s.store.CountTicketsByState(projectID)
	if err != nil {
		return nil, storagef("count tickets", err)
	}
	return counts, nil
}
