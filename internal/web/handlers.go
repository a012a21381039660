package web

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mwaldron/kanban/board"
)

// Column is one board column: a state and its tickets in position order.
type Column struct {
	State   board.State
	Tickets []board.Ticket
}

// handleBoard renders the main kanban board view.
func (s *Server) handleBoard(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("project_id")

	projects, err := s.projects.List()
	if err != nil {
		s.logger.Error("Failed to get projects", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	tickets, err := s.tickets.List(projectID, "")
	if err != nil {
		s.logger.Error("Failed to get tickets", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	data := map[string]interface{}{
		"Title":     "Kanban Board",
		"Projects":  projects,
		"ProjectID": projectID,
		"Columns":   groupTicketsByState(tickets),
	}

	s.render(w, "board.html", data)
}

// handleProjects renders the project list view.
func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.projects.List()
	if err != nil {
		s.logger.Error("Failed to get projects", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	data := map[string]interface{}{
		"Title":    "Projects",
		"Projects": projects,
	}

	s.render(w, "projects.html", data)
}

// handleTicketDetail renders a single ticket's detail view.
func (s *Server) handleTicketDetail(w http.ResponseWriter, r *http.Request) {
	ticket, err := s.tickets.Get(mux.Vars(r)["id"])
	if err != nil {
		http.NotFound(w, r)
		return
	}

	comments, err := s.tickets.Comments(ticket.ID)
	if err != nil {
		s.logger.Error("Failed to get comments", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	data := map[string]interface{}{
		"Title":    ticket.What,
		"Ticket":   ticket,
		"Comments": comments,
	}

	s.render(w, "ticket.html", data)
}

// handleMetrics renders the metrics dashboard.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("project_id")

	overview, err := s.metrics.Overview(projectID)
	if err != nil {
		s.logger.Error("Failed to compute metrics", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	projects, err := s.projects.List()
	if err != nil {
		s.logger.Error("Failed to get projects", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	data := map[string]interface{}{
		"Title":     "Metrics",
		"Overview":  overview,
		"Projects":  projects,
		"ProjectID": projectID,
	}

	s.render(w, "metrics.html", data)
}

// handleArchived renders the archive, most recently completed first.
func (s *Server) handleArchived(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("project_id")

	tickets, err := s.tickets.ListArchived(projectID)
	if err != nil {
		s.logger.Error("Failed to get archived tickets", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	data := map[string]interface{}{
		"Title":     "Archive",
		"Tickets":   tickets,
		"ProjectID": projectID,
	}

	s.render(w, "archived.html", data)
}

// groupTicketsByState splits tickets into board columns. Archived tickets
// live on their own page and are excluded here.
func groupTicketsByState(tickets []board.Ticket) []Column {
	byState := make(map[board.State][]board.Ticket)
	for _, t := range tickets {
		byState[t.State] = append(byState[t.State], t)
	}

	var columns []Column
	for _, state := range board.States() {
		if state == board.StateArchived {
			continue
		}
		columns = append(columns, Column{State: state, Tickets: byState[state]})
	}
	return columns
}
