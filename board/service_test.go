package board

import (
	"errors"
	"sort"
	"testing"
	"time"
)

// fakeStore is an in-memory Store for exercising the services without a
// database.
type fakeStore struct {
	projects map[string]Project
	tickets  map[string]Ticket
	comments map[string]Comment
	deps     map[string][]string // ticket id -> depends-on ids
	metrics  map[string]Metric   // keyed by metric id
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		projects: make(map[string]Project),
		tickets:  make(map[string]Ticket),
		comments: make(map[string]Comment),
		deps:     make(map[string][]string),
		metrics:  make(map[string]Metric),
	}
}

func (f *fakeStore) CreateProject(p *Project) error {
	f.projects[p.ID] = *p
	return nil
}

func (f *fakeStore) GetProject(id string) (*Project, bool) {
	p, ok := f.projects[id]
	if !ok {
		return nil, false
	}
	for _, t := range f.tickets {
		if t.ProjectID == id {
			p.TicketCount++
		}
	}
	return &p, true
}

func (f *fakeStore) GetAllProjects() ([]Project, error) {
	var out []Project
	for id := range f.projects {
		p, _ := f.GetProject(id)
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeStore) UpdateProject(p *Project) error {
	f.projects[p.ID] = *p
	return nil
}

func (f *fakeStore) DeleteProject(id string) error {
	delete(f.projects, id)
	for tid, t := range f.tickets {
		if t.ProjectID == id {
			f.DeleteTicket(tid)
		}
	}
	return nil
}

func (f *fakeStore) CreateTicket(t *Ticket) error {
	f.tickets[t.ID] = *t
	return nil
}

func (f *fakeStore) GetTicket(id string) (*Ticket, bool) {
	t, ok := f.tickets[id]
	if !ok {
		return nil, false
	}
	return &t, true
}

func (f *fakeStore) GetTickets(projectID string, state State) ([]Ticket, error) {
	var out []Ticket
	for _, t := range f.tickets {
		if projectID != "" && t.ProjectID != projectID {
			continue
		}
		if state != "" && t.State != state {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (f *fakeStore) UpdateTicket(t *Ticket) error {
	f.tickets[t.ID] = *t
	return nil
}

func (f *fakeStore) MoveTicket(t *Ticket, position int) error {
	for id, other := range f.tickets {
		if id == t.ID {
			continue
		}
		if other.ProjectID == t.ProjectID && other.State == t.State && other.Position >= position {
			other.Position++
			f.tickets[id] = other
		}
	}
	t.Position = position
	f.tickets[t.ID] = *t
	return nil
}

func (f *fakeStore) DeleteTicket(id string) error {
	delete(f.tickets, id)
	delete(f.deps, id)
	for cid, c := range f.comments {
		if c.TicketID == id {
			delete(f.comments, cid)
		}
	}
	for mid, m := range f.metrics {
		if m.TicketID == id {
			delete(f.metrics, mid)
		}
	}
	return nil
}

func (f *fakeStore) NextPosition(projectID string, state State) (int, error) {
	next := 0
	for _, t := range f.tickets {
		if t.ProjectID == projectID && t.State == state && t.Position >= next {
			next = t.Position + 1
		}
	}
	return next, nil
}

func (f *fakeStore) CountTicketsByState(projectID string) (map[State]int, error) {
	counts := make(map[State]int)
	for _, t := range f.tickets {
		if projectID != "" && t.ProjectID != projectID {
			continue
		}
		counts[t.State]++
	}
	return counts, nil
}

func (f *fakeStore) CreateComment(c *Comment) error {
	f.comments[c.ID] = *c
	return nil
}

func (f *fakeStore) GetComment(id string) (*Comment, bool) {
	c, ok := f.comments[id]
	if !ok {
		return nil, false
	}
	return &c, true
}

func (f *fakeStore) GetComments(ticketID string) ([]Comment, error) {
	var out []Comment
	for _, c := range f.comments {
		if c.TicketID == ticketID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeStore) UpdateComment(c *Comment) error {
	f.comments[c.ID] = *c
	return nil
}

func (f *fakeStore) DeleteComment(id string) error {
	delete(f.comments, id)
	return nil
}

func (f *fakeStore) AddDependency(ticketID, dependsOn string) error {
	for _, d := range f.deps[ticketID] {
		if d == dependsOn {
			return nil
		}
	}
	f.deps[ticketID] = append(f.deps[ticketID], dependsOn)
	return nil
}

func (f *fakeStore) RemoveDependency(ticketID, dependsOn string) error {
	edges := f.deps[ticketID]
	for i, d := range edges {
		if d == dependsOn {
			f.deps[ticketID] = append(edges[:i], edges[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeStore) GetDependencies(ticketID string) ([]TicketRef, error) {
	var refs []TicketRef
	for _, id := range f.deps[ticketID] {
		if t, ok := f.tickets[id]; ok {
			refs = append(refs, TicketRef{ID: t.ID, What: t.What, State: t.State})
		}
	}
	return refs, nil
}

func (f *fakeStore) GetDependents(ticketID string) ([]TicketRef, error) {
	var refs []TicketRef
	for id, edges := range f.deps {
		for _, d := range edges {
			if d == ticketID {
				if t, ok := f.tickets[id]; ok {
					refs = append(refs, TicketRef{ID: t.ID, What: t.What, State: t.State})
				}
			}
		}
	}
	return refs, nil
}

func (f *fakeStore) HasDependency(ticketID, dependsOn string) (bool, error) {
	for _, d := range f.deps[ticketID] {
		if d == dependsOn {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) CreateMetric(m *Metric) error {
	f.metrics[m.ID] = *m
	return nil
}

func (f *fakeStore) GetMetricByTicket(ticketID string) (*Metric, bool) {
	for _, m := range f.metrics {
		if m.TicketID == ticketID {
			return &m, true
		}
	}
	return nil, false
}

func (f *fakeStore) UpdateMetric(m *Metric) error {
	f.metrics[m.ID] = *m
	return nil
}

func (f *fakeStore) GetMetrics(projectID string) ([]Metric, error) {
	var out []Metric
	for _, m := range f.metrics {
		if projectID != "" {
			t, ok := f.tickets[m.TicketID]
			if !ok || t.ProjectID != projectID {
				continue
			}
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RecordDate.Before(out[j].RecordDate) })
	return out, nil
}

var _ Store = (*fakeStore)(nil)

func testProject(t *testing.T, store *fakeStore) *Project {
	t.Helper()
	svc := NewProjectService(store)
	p, err := svc.Create("website", "")
	if err != nil {
		t.Fatalf("failed to create project: %v", err)
	}
	return p
}

func strPtr(s string) *string          { return &s }
func statePtr(s State) *State          { return &s }
func priorityPtr(p Priority) *Priority { return &p }

func TestProjectServiceValidation(t *testing.T) {
	svc := NewProjectService(newFakeStore())
	if _, err := svc.Create("", "desc"); err == nil {
		t.Fatal("expected error for empty name")
	} else {
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("expected ValidationError, got %T", err)
		}
	}
}

func TestProjectServiceNotFound(t *testing.T) {
	svc := NewProjectService(newFakeStore())
	_, err := svc.Get("missing")
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
	if err := svc.Delete("missing"); !errors.As(err, &nf) {
		t.Errorf("expected NotFoundError on delete, got %v", err)
	}
}

func TestProjectServicePartialUpdate(t *testing.T) {
	store := newFakeStore()
	p := testProject(t, store)
	svc := NewProjectService(store)

	got, err := svc.Update(p.ID, ProjectUpdate{Description: strPtr("new desc")})
	if err != nil {
		t.Fatalf("failed to update: %v", err)
	}
	if got.Name != "website" {
		t.Errorf("name should be untouched, got %q", got.Name)
	}
	if got.Description != "new desc" {
		t.Errorf("expected updated description, got %q", got.Description)
	}

	if _, err := svc.Update(p.ID, ProjectUpdate{Name: strPtr("")}); err == nil {
		t.Error("expected error blanking the name")
	}
}

func TestTicketCreateDefaults(t *testing.T) {
	store := newFakeStore()
	p := testProject(t, store)
	svc := NewTicketService(store)

	before := time.Now()
	tk, err := svc.Create(CreateTicketInput{
		ProjectID: p.ID,
		Type:      TypeBug,
		What:      "login broken",
	})
	if err != nil {
		t.Fatalf("failed to create ticket: %v", err)
	}
	if tk.State != StateBacklog {
		t.Errorf("expected default state backlog, got %s", tk.State)
	}
	if tk.Priority != PriorityMedium {
		t.Errorf("expected default priority medium, got %s", tk.Priority)
	}
	if tk.CreatedAt.Before(before) || tk.CreatedAt.After(time.Now()) {
		t.Errorf("createdAt out of range: %v", tk.CreatedAt)
	}
	if tk.CompletedAt != nil {
		t.Error("new ticket should not be completed")
	}
}

func TestTicketCreateValidation(t *testing.T) {
	store := newFakeStore()
	p := testProject(t, store)
	svc := NewTicketService(store)

	cases := []struct {
		name string
		in   CreateTicketInput
	}{
		{"missing project", CreateTicketInput{Type: TypeTask, What: "x"}},
		{"missing what", CreateTicketInput{ProjectID: p.ID, Type: TypeTask}},
		{"bad type", CreateTicketInput{ProjectID: p.ID, Type: "epic", What: "x"}},
		{"bad priority", CreateTicketInput{ProjectID: p.ID, Type: TypeTask, Priority: "urgent", What: "x"}},
		{"bad state", CreateTicketInput{ProjectID: p.ID, Type: TypeTask, State: "doing", What: "x"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(tc.in)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("expected ValidationError, got %v", err)
			}
		})
	}

	_, err := svc.Create(CreateTicketInput{ProjectID: "ghost", Type: TypeTask, What: "x"})
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("expected NotFoundError for unknown project, got %v", err)
	}
}

func TestTicketDoneStampsCompletion(t *testing.T) {
	store := newFakeStore()
	p := testProject(t, store)
	svc := NewTicketService(store)

	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	completed := created.Add(90 * time.Minute)
	svc.now = func() time.Time { return created }

	tk, err := svc.Create(CreateTicketInput{ProjectID: p.ID, Type: TypeTask, What: "ship it"})
	if err != nil {
		t.Fatalf("failed to create ticket: %v", err)
	}

	svc.now = func() time.Time { return completed }
	tk, err = svc.Update(tk.ID, TicketUpdate{State: statePtr(StateDone)})
	if err != nil {
		t.Fatalf("failed to update: %v", err)
	}
	if tk.CompletedAt == nil || !tk.CompletedAt.Equal(completed) {
		t.Fatalf("expected completedAt %v, got %v", completed, tk.CompletedAt)
	}

	m, ok := store.GetMetricByTicket(tk.ID)
	if !ok {
		t.Fatal("expected a metric row on first completion")
	}
	if m.LeadTimeMinutes == nil || *m.LeadTimeMinutes != 90 {
		t.Errorf("expected lead time 90 minutes, got %v", m.LeadTimeMinutes)
	}
	if m.ChangeFailure {
		t.Error("task completion should not be a change failure")
	}

	// Re-applying done keeps the original timestamp and does not add rows.
	svc.now = func() time.Time { return completed.Add(time.Hour) }
	tk, err = svc.Update(tk.ID, TicketUpdate{Priority: priorityPtr(PriorityHigh)})
	if err != nil {
		t.Fatalf("failed to update: %v", err)
	}
	if !tk.CompletedAt.Equal(completed) {
		t.Errorf("completedAt should be unchanged, got %v", tk.CompletedAt)
	}
	if len(store.metrics) != 1 {
		t.Errorf("expected a single metric row, got %d", len(store.metrics))
	}
}

func TestTicketBugCompletionIsFailure(t *testing.T) {
	store := newFakeStore()
	p := testProject(t, store)
	svc := NewTicketService(store)

	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return created }
	tk, _ := svc.Create(CreateTicketInput{ProjectID: p.ID, Type: TypeBug, What: "crash on save"})

	svc.now = func() time.Time { return created.Add(2 * time.Hour) }
	if _, err := svc.Update(tk.ID, TicketUpdate{State: statePtr(StateDone)}); err != nil {
		t.Fatalf("failed to update: %v", err)
	}

	m, ok := store.GetMetricByTicket(tk.ID)
	if !ok {
		t.Fatal("expected a metric row")
	}
	if !m.ChangeFailure {
		t.Error("bug completion should count as a change failure")
	}
	if m.RestorationMinutes == nil || *m.RestorationMinutes != 120 {
		t.Errorf("expected restoration 120 minutes, got %v", m.RestorationMinutes)
	}
}

func TestTicketLeavingDoneClearsCompletion(t *testing.T) {
	store := newFakeStore()
	p := testProject(t, store)
	svc := NewTicketService(store)

	tk, _ := svc.Create(CreateTicketInput{ProjectID: p.ID, Type: TypeTask, What: "x"})
	if _, err := svc.Update(tk.ID, TicketUpdate{State: statePtr(StateDone)}); err != nil {
		t.Fatalf("failed to complete: %v", err)
	}

	got, err := svc.Update(tk.ID, TicketUpdate{State: statePtr(StateInProgress)})
	if err != nil {
		t.Fatalf("failed to reopen: %v", err)
	}
	if got.CompletedAt != nil {
		t.Error("reopening should clear completedAt")
	}
}

func TestTicketArchivePreservesCompletion(t *testing.T) {
	store := newFakeStore()
	p := testProject(t, store)
	svc := NewTicketService(store)

	tk, _ := svc.Create(CreateTicketInput{ProjectID: p.ID, Type: TypeTask, What: "x"})
	done, err := svc.Update(tk.ID, TicketUpdate{State: statePtr(StateDone)})
	if err != nil {
		t.Fatalf("failed to complete: %v", err)
	}
	stamp := *done.CompletedAt

	archived, err := svc.Update(tk.ID, TicketUpdate{State: statePtr(StateArchived)})
	if err != nil {
		t.Fatalf("failed to archive: %v", err)
	}
	if archived.CompletedAt == nil || !archived.CompletedAt.Equal(stamp) {
		t.Errorf("archiving should preserve completedAt, got %v", archived.CompletedAt)
	}
}

func TestTicketMoveRunsTransitions(t *testing.T) {
	store := newFakeStore()
	p := testProject(t, store)
	svc := NewTicketService(store)

	tk, _ := svc.Create(CreateTicketInput{ProjectID: p.ID, Type: TypeTask, What: "x"})
	moved, err := svc.Move(tk.ID, StateDone, 0)
	if err != nil {
		t.Fatalf("failed to move: %v", err)
	}
	if moved.State != StateDone {
		t.Errorf("expected state done, got %s", moved.State)
	}
	if moved.CompletedAt == nil {
		t.Error("moving into done should stamp completedAt")
	}
	if _, ok := store.GetMetricByTicket(tk.ID); !ok {
		t.Error("moving into done should record a metric")
	}

	if _, err := svc.Move(tk.ID, "nowhere", 0); err == nil {
		t.Error("expected error for invalid state")
	}
	if _, err := svc.Move(tk.ID, StateBacklog, -1); err == nil {
		t.Error("expected error for negative position")
	}
}

func TestListArchivedOrdering(t *testing.T) {
	store := newFakeStore()
	p := testProject(t, store)
	svc := NewTicketService(store)

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		svc.now = func() time.Time { return base }
		tk, _ := svc.Create(CreateTicketInput{ProjectID: p.ID, Type: TypeTask, What: "x"})
		done := base.Add(time.Duration(i+1) * time.Hour)
		svc.now = func() time.Time { return done }
		if _, err := svc.Update(tk.ID, TicketUpdate{State: statePtr(StateDone)}); err != nil {
			t.Fatalf("failed to complete: %v", err)
		}
		if _, err := svc.Update(tk.ID, TicketUpdate{State: statePtr(StateArchived)}); err != nil {
			t.Fatalf("failed to archive: %v", err)
		}
		ids = append(ids, tk.ID)
	}

	archived, err := svc.ListArchived(p.ID)
	if err != nil {
		t.Fatalf("failed to list archived: %v", err)
	}
	if len(archived) != 3 {
		t.Fatalf("expected 3 archived, got %d", len(archived))
	}
	// Most recently completed first.
	if archived[0].ID != ids[2] || archived[2].ID != ids[0] {
		t.Errorf("unexpected archive order: %v", archived)
	}
}

func TestCommentsLifecycle(t *testing.T) {
	store := newFakeStore()
	p := testProject(t, store)
	svc := NewTicketService(store)
	tk, _ := svc.Create(CreateTicketInput{ProjectID: p.ID, Type: TypeTask, What: "x"})

	if _, err := svc.AddComment(tk.ID, ""); err == nil {
		t.Error("expected error for empty comment")
	}
	if _, err := svc.AddComment("ghost", "hi"); err == nil {
		t.Error("expected error for unknown ticket")
	}

	c, err := svc.AddComment(tk.ID, "looks good")
	if err != nil {
		t.Fatalf("failed to add comment: %v", err)
	}
	if c.UpdatedAt != nil {
		t.Error("new comment should have nil updatedAt")
	}

	c, err = svc.UpdateComment(c.ID, "actually needs work")
	if err != nil {
		t.Fatalf("failed to update comment: %v", err)
	}
	if c.UpdatedAt == nil {
		t.Error("updated comment should stamp updatedAt")
	}

	comments, err := svc.Comments(tk.ID)
	if err != nil {
		t.Fatalf("failed to list comments: %v", err)
	}
	if len(comments) != 1 || comments[0].Content != "actually needs work" {
		t.Errorf("unexpected comments: %v", comments)
	}

	if err := svc.DeleteComment(c.ID); err != nil {
		t.Fatalf("failed to delete comment: %v", err)
	}
	if err := svc.DeleteComment(c.ID); err == nil {
		t.Error("expected error deleting twice")
	}
}

func TestDependencyRules(t *testing.T) {
	store := newFakeStore()
	p := testProject(t, store)
	svc := NewTicketService(store)

	a, _ := svc.Create(CreateTicketInput{ProjectID: p.ID, Type: TypeTask, What: "schema"})
	b, _ := svc.Create(CreateTicketInput{ProjectID: p.ID, Type: TypeTask, What: "endpoint"})

	if _, err := svc.AddDependency(a.ID, a.ID); err == nil {
		t.Error("expected error for self dependency")
	}

	got, err := svc.AddDependency(b.ID, a.ID)
	if err != nil {
		t.Fatalf("failed to add dependency: %v", err)
	}
	if len(got.Dependencies) != 1 || got.Dependencies[0].ID != a.ID {
		t.Errorf("unexpected dependencies: %v", got.Dependencies)
	}
	if got.DependenciesResolved() {
		t.Error("dependency on a backlog ticket should not be resolved")
	}

	if _, err := svc.AddDependency(a.ID, b.ID); err == nil {
		t.Error("expected error for reverse cycle")
	}

	// Idempotent re-add.
	if _, err := svc.AddDependency(b.ID, a.ID); err != nil {
		t.Fatalf("re-add should be a no-op: %v", err)
	}

	if _, err := svc.Update(a.ID, TicketUpdate{State: statePtr(StateDone)}); err != nil {
		t.Fatalf("failed to complete: %v", err)
	}
	got, _ = svc.Get(b.ID)
	if !got.DependenciesResolved() {
		t.Error("dependency on a done ticket should be resolved")
	}

	got, err = svc.RemoveDependency(b.ID, a.ID)
	if err != nil {
		t.Fatalf("failed to remove dependency: %v", err)
	}
	if len(got.Dependencies) != 0 {
		t.Errorf("expected no dependencies, got %v", got.Dependencies)
	}
}

func TestTicketUpdateMovesProjects(t *testing.T) {
	store := newFakeStore()
	p := testProject(t, store)
	svc := NewTicketService(store)

	other, err := NewProjectService(store).Create("api", "")
	if err != nil {
		t.Fatalf("failed to create project: %v", err)
	}
	tk, _ := svc.Create(CreateTicketInput{ProjectID: p.ID, Type: TypeTask, What: "x"})

	got, err := svc.Update(tk.ID, TicketUpdate{ProjectID: &other.ID})
	if err != nil {
		t.Fatalf("failed to move project: %v", err)
	}
	if got.ProjectID != other.ID {
		t.Errorf("expected project %s, got %s", other.ID, got.ProjectID)
	}

	if _, err := svc.Update(tk.ID, TicketUpdate{ProjectID: strPtr("ghost")}); err == nil {
		t.Error("expected error moving to unknown project")
	}
}
