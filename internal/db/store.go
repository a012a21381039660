package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/mwaldron/kanban/board"
)

// Store implements board.Store using SQLite.
type Store struct {
	db *DB
}

// NewStore creates a new SQLite-backed store.
func NewStore(db *DB) *Store {
	return &Store{db: db}
}

var _ board.Store = (*Store)(nil)

// --- Projects ---

// CreateProject inserts a new project.
func (s *Store) CreateProject(p *board.Project) error {
	_, err := s.db.Exec(`
		INSERT INTO projects (id, name, description, created_at)
		VALUES (?, ?, ?, ?)
	`, p.ID, p.Name, nullString(p.Description), p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

// GetProject retrieves a project by ID, with its ticket count.
func (s *Store) GetProject(id string) (*board.Project, bool) {
	row := s.db.QueryRow(`
		SELECT p.id, p.name, p.description, p.created_at,
			(SELECT COUNT(*) FROM tickets t WHERE t.project_id = p.id)
		FROM projects p WHERE p.id = ?
	`, id)

	p, err := scanProject(row)
	if err != nil {
		return nil, false
	}
	return p, true
}

// GetAllProjects retrieves all projects ordered by creation time.
func (s *Store) GetAllProjects() ([]board.Project, error) {
	rows, err := s.db.Query(`
		SELECT p.id, p.name, p.description, p.created_at,
			(SELECT COUNT(*) FROM tickets t WHERE t.project_id = p.id)
		FROM projects p ORDER BY p.created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer rows.Close()

	var projects []board.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		projects = append(projects, *p)
	}
	return projects, rows.Err()
}

// UpdateProject updates a project's name and description.
func (s *Store) UpdateProject(p *board.Project) error {
	_, err := s.db.Exec(`
		UPDATE projects SET name = ?, description = ? WHERE id = ?
	`, p.Name, nullString(p.Description), p.ID)
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	return nil
}

// DeleteProject deletes a project; its tickets cascade.
func (s *Store) DeleteProject(id string) error {
	_, err := s.db.Exec("DELETE FROM projects WHERE id = ?", id)
	return err
}

// --- Tickets ---

const ticketColumns = `id, project_id, type, priority, state, what, why,
	acceptance_criteria, test_steps, position, created_at, completed_at`

// CreateTicket inserts a new ticket.
func (s *Store) CreateTicket(t *board.Ticket) error {
	_, err := s.db.Exec(`
		INSERT INTO tickets (
			id, project_id, type, priority, state, what, why,
			acceptance_criteria, test_steps, position, created_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.ID, t.ProjectID, t.Type, t.Priority, t.State, t.What, nullString(t.Why),
		nullString(t.AcceptanceCriteria), nullString(t.TestSteps),
		t.Position, t.CreatedAt, nullTime(t.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create ticket: %w", err)
	}
	return nil
}

// GetTicket retrieves a ticket by ID.
func (s *Store) GetTicket(id string) (*board.Ticket, bool) {
	row := s.db.QueryRow(`SELECT `+ticketColumns+` FROM tickets WHERE id = ?`, id)
	t, err := scanTicket(row)
	if err != nil {
		return nil, false
	}
	return t, true
}

// GetTickets retrieves tickets ordered by board position then creation time.
// Empty projectID or state skips that filter.
func (s *Store) GetTickets(projectID string, state board.State) ([]board.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets`
	var (
		where []string
		args  []any
	)
	if projectID != "" {
		where = append(where, "project_id = ?")
		args = append(args, projectID)
	}
	if state != "" {
		where = append(where, "state = ?")
		args = append(args, state)
	}
	for i, cond := range where {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}
	query += " ORDER BY position, created_at"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tickets: %w", err)
	}
	defer rows.Close()

	var tickets []board.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, *t)
	}
	return tickets, rows.Err()
}

// UpdateTicket updates every mutable field of a ticket.
func (s *Store) UpdateTicket(t *board.Ticket) error {
	_, err := s.db.Exec(`
		UPDATE tickets SET
			project_id = ?, type = ?, priority = ?, state = ?, what = ?, why = ?,
			acceptance_criteria = ?, test_steps = ?, position = ?, completed_at = ?
		WHERE id = ?
	`,
		t.ProjectID, t.Type, t.Priority, t.State, t.What, nullString(t.Why),
		nullString(t.AcceptanceCriteria), nullString(t.TestSteps),
		t.Position, nullTime(t.CompletedAt), t.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update ticket: %w", err)
	}
	return nil
}

// MoveTicket places the ticket at the given position in its (possibly new)
// state column, shifting the column's other tickets down to make room. The
// ticket struct carries the target state and completion timestamp; its
// Position field is updated on success.
func (s *Store) MoveTicket(t *board.Ticket, position int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		UPDATE tickets SET position = position + 1
		WHERE project_id = ? AND state = ? AND position >= ? AND id != ?
	`, t.ProjectID, t.State, position, t.ID)
	if err != nil {
		return fmt.Errorf("failed to shift positions: %w", err)
	}

	_, err = tx.Exec(`
		UPDATE tickets SET state = ?, position = ?, completed_at = ? WHERE id = ?
	`, t.State, position, nullTime(t.CompletedAt), t.ID)
	if err != nil {
		return fmt.Errorf("failed to move ticket: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	t.Position = position
	return nil
}

// DeleteTicket deletes a ticket; comments, dependencies, and metrics cascade.
func (s *Store) DeleteTicket(id string) error {
	_, err := s.db.Exec("DELETE FROM tickets WHERE id = ?", id)
	return err
}

// NextPosition returns the position after the last ticket in a column.
func (s *Store) NextPosition(projectID string, state board.State) (int, error) {
	var pos int
	err := s.db.QueryRow(`
		SELECT COALESCE(MAX(position) + 1, 0) FROM tickets
		WHERE project_id = ? AND state = ?
	`, projectID, state).Scan(&pos)
	if err != nil {
		return 0, fmt.Errorf("failed to compute next position: %w", err)
	}
	return pos, nil
}

// CountTicketsByState returns ticket counts grouped by state, optionally
// scoped to a project.
func (s *Store) CountTicketsByState(projectID string) (map[board.State]int, error) {
	query := "SELECT state, COUNT(*) FROM tickets"
	var args []any
	if projectID != "" {
		query += " WHERE project_id = ?"
		args = append(args, projectID)
	}
	query += " GROUP BY state"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count tickets: %w", err)
	}
	defer rows.Close()

	counts := make(map[board.State]int)
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, err
		}
		counts[board.State(state)] = count
	}
	return counts, rows.Err()
}

// --- Comments ---

// CreateComment inserts a new comment.
func (s *Store) CreateComment(c *board.Comment) error {
	_, err := s.db.Exec(`
		INSERT INTO comments (id, ticket_id, content, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, c.ID, c.TicketID, c.Content, c.CreatedAt, nullTime(c.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to create comment: %w", err)
	}
	return nil
}

// GetComment retrieves a comment by ID.
func (s *Store) GetComment(id string) (*board.Comment, bool) {
	row := s.db.QueryRow(`
		SELECT id, ticket_id, content, created_at, updated_at
		FROM comments WHERE id = ?
	`, id)

	var (
		c         board.Comment
		updatedAt sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.TicketID, &c.Content, &c.CreatedAt, &updatedAt); err != nil {
		return nil, false
	}
	if updatedAt.Valid {
		c.UpdatedAt = &updatedAt.Time
	}
	return &c, true
}

// GetComments retrieves a ticket's comments, oldest first.
func (s *Store) GetComments(ticketID string) ([]board.Comment, error) {
	rows, err := s.db.Query(`
		SELECT id, ticket_id, content, created_at, updated_at
		FROM comments WHERE ticket_id = ? ORDER BY created_at
	`, ticketID)
	if err != nil {
		return nil, fmt.Errorf("failed to query comments: %w", err)
	}
	defer rows.Close()

	var comments []board.Comment
	for rows.Next() {
		var (
			c         board.Comment
			updatedAt sql.NullTime
		)
		if err := rows.Scan(&c.ID, &c.TicketID, &c.Content, &c.CreatedAt, &updatedAt); err != nil {
			return nil, err
		}
		if updatedAt.Valid {
			c.UpdatedAt = &updatedAt.Time
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

// UpdateComment updates a comment's content and update timestamp.
func (s *Store) UpdateComment(c *board.Comment) error {
	_, err := s.db.Exec(`
		UPDATE comments SET content = ?, updated_at = ? WHERE id = ?
	`, c.Content, nullTime(c.UpdatedAt), c.ID)
	if err != nil {
		return fmt.Errorf("failed to update comment: %w", err)
	}
	return nil
}

// DeleteComment deletes a comment.
func (s *Store) DeleteComment(id string) error {
	_, err := s.db.Exec("DELETE FROM comments WHERE id = ?", id)
	return err
}

// --- Dependencies ---

// AddDependency records that ticketID depends on dependsOn.
func (s *Store) AddDependency(ticketID, dependsOn string) error {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO ticket_dependencies (ticket_id, depends_on, created_at)
		VALUES (?, ?, ?)
	`, ticketID, dependsOn, time.Now())
	if err != nil {
		return fmt.Errorf("failed to add dependency: %w", err)
	}
	return nil
}

// RemoveDependency deletes a dependency edge.
func (s *Store) RemoveDependency(ticketID, dependsOn string) error {
	_, err := s.db.Exec(`
		DELETE FROM ticket_dependencies WHERE ticket_id = ? AND depends_on = ?
	`, ticketID, dependsOn)
	return err
}

// GetDependencies returns references to the tickets ticketID depends on.
func (s *Store) GetDependencies(ticketID string) ([]board.TicketRef, error) {
	return s.queryRefs(`
		SELECT t.id, t.what, t.state
		FROM tickets t
		INNER JOIN ticket_dependencies d ON t.id = d.depends_on
		WHERE d.ticket_id = ? ORDER BY d.created_at
	`, ticketID)
}

// GetDependents returns references to the tickets that depend on ticketID.
func (s *Store) GetDependents(ticketID string) ([]board.TicketRef, error) {
	return s.queryRefs(`
		SELECT t.id, t.what, t.state
		FROM tickets t
		INNER JOIN ticket_dependencies d ON t.id = d.ticket_id
		WHERE d.depends_on = ? ORDER BY d.created_at
	`, ticketID)
}

// HasDependency reports whether the edge ticketID -> dependsOn exists.
func (s *Store) HasDependency(ticketID, dependsOn string) (bool, error) {
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM ticket_dependencies
		WHERE ticket_id = ? AND depends_on = ?
	`, ticketID, dependsOn).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check dependency: %w", err)
	}
	return count > 0, nil
}

func (s *Store) queryRefs(query, id string) ([]board.TicketRef, error) {
	rows, err := s.db.Query(query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query dependencies: %w", err)
	}
	defer rows.Close()

	var refs []board.TicketRef
	for rows.Next() {
		var ref board.TicketRef
		if err := rows.Scan(&ref.ID, &ref.What, &ref.State); err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// --- Metrics ---

// CreateMetric inserts a new metric row.
func (s *Store) CreateMetric(m *board.Metric) error {
	_, err := s.db.Exec(`
		INSERT INTO metrics (
			id, ticket_id, lead_time_minutes, change_failure,
			deployment_date, restoration_minutes, record_date
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		m.ID, m.TicketID, nullInt(m.LeadTimeMinutes), m.ChangeFailure,
		nullTime(m.DeploymentDate), nullInt(m.RestorationMinutes), m.RecordDate,
	)
	if err != nil {
		return fmt.Errorf("failed to create metric: %w", err)
	}
	return nil
}

// GetMetricByTicket retrieves the metric row for a ticket, if any.
func (s *Store) GetMetricByTicket(ticketID string) (*board.Metric, bool) {
	row := s.db.QueryRow(`
		SELECT id, ticket_id, lead_time_minutes, change_failure,
			deployment_date, restoration_minutes, record_date
		FROM metrics WHERE ticket_id = ? ORDER BY record_date LIMIT 1
	`, ticketID)

	m, err := scanMetric(row)
	if err != nil {
		return nil, false
	}
	return m, true
}

// UpdateMetric updates an existing metric row.
func (s *Store) UpdateMetric(m *board.Metric) error {
	_, err := s.db.Exec(`
		UPDATE metrics SET
			lead_time_minutes = ?, change_failure = ?,
			deployment_date = ?, restoration_minutes = ?
		WHERE id = ?
	`,
		nullInt(m.LeadTimeMinutes), m.ChangeFailure,
		nullTime(m.DeploymentDate), nullInt(m.RestorationMinutes), m.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update metric: %w", err)
	}
	return nil
}

// GetMetrics retrieves metric rows, optionally scoped to a project.
func (s *Store) GetMetrics(projectID string) ([]board.Metric, error) {
	query := `
		SELECT m.id, m.ticket_id, m.lead_time_minutes, m.change_failure,
			m.deployment_date, m.restoration_minutes, m.record_date
		FROM metrics m
	`
	var args []any
	if projectID != "" {
		query += " INNER JOIN tickets t ON t.id = m.ticket_id WHERE t.project_id = ?"
		args = append(args, projectID)
	}
	query += " ORDER BY m.record_date"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query metrics: %w", err)
	}
	defer rows.Close()

	var metrics []board.Metric
	for rows.Next() {
		m, err := scanMetric(rows)
		if err != nil {
			return nil, err
		}
		metrics = append(metrics, *m)
	}
	return metrics, rows.Err()
}

// --- Scan helpers ---

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanProject(sc scanner) (*board.Project, error) {
	var (
		p           board.Project
		description sql.NullString
	)
	if err := sc.Scan(&p.ID, &p.Name, &description, &p.CreatedAt, &p.TicketCount); err != nil {
		return nil, err
	}
	p.Description = description.String
	return &p, nil
}

func scanTicket(sc scanner) (*board.Ticket, error) {
	var (
		t                          board.Ticket
		why, criteria, testSteps   sql.NullString
		completedAt                sql.NullTime
	)
	err := sc.Scan(
		&t.ID, &t.ProjectID, &t.Type, &t.Priority, &t.State, &t.What, &why,
		&criteria, &testSteps, &t.Position, &t.CreatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Why = why.String
	t.AcceptanceCriteria = criteria.String
	t.TestSteps = testSteps.String
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return &t, nil
}

func scanMetric(sc scanner) (*board.Metric, error) {
	var (
		m                 board.Metric
		leadTime, restore sql.NullInt64
		deployment        sql.NullTime
	)
	err := sc.Scan(
		&m.ID, &m.TicketID, &leadTime, &m.ChangeFailure,
		&deployment, &restore, &m.RecordDate,
	)
	if err != nil {
		return nil, err
	}
	if leadTime.Valid {
		v := int(leadTime.Int64)
		m.LeadTimeMinutes = &v
	}
	if restore.Valid {
		v := int(restore.Int64)
		m.RestorationMinutes = &v
	}
	if deployment.Valid {
		m.DeploymentDate = &deployment.Time
	}
	return &m, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
