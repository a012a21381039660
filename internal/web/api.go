package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/mwaldron/kanban/board"
)

// --- Projects ---

func (s *Server) apiListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.projects.List()
	if err != nil {
		s.serviceError(w, err)
		return
	}
	if projects == nil {
		projects = []board.Project{}
	}
	s.jsonResponse(w, projects)
}

func (s *Server) apiCreateProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	project, err := s.projects.Create(req.Name, req.Description)
	if err != nil {
		s.serviceError(w, err)
		return
	}

	s.Broadcast("board-update")
	s.jsonCreated(w, project)
}

func (s *Server) apiGetProject(w http.ResponseWriter, r *http.Request) {
	project, err := s.projects.Get(mux.Vars(r)["id"])
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.jsonResponse(w, project)
}

func (s *Server) apiUpdateProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        *string `json:"name"`
		Description *string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	project, err := s.projects.Update(mux.Vars(r)["id"], board.ProjectUpdate{
		Name:        req.Name,
		Description: req.Description,
	})
	if err != nil {
		s.serviceError(w, err)
		return
	}

	s.Broadcast("board-update")
	s.jsonResponse(w, project)
}

func (s *Server) apiDeleteProject(w http.ResponseWriter, r *http.Request) {
	if err := s.projects.Delete(mux.Vars(r)["id"]); err != nil {
		s.serviceError(w, err)
		return
	}
	s.Broadcast("board-update")
	s.jsonResponse(w, map[string]string{"status": "deleted"})
}

// --- Tickets ---

func (s *Server) apiListTickets(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("project_id")
	state := board.State(r.URL.Query().Get("state"))

	tickets, err := s.tickets.List(projectID, state)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	if tickets == nil {
		tickets = []board.Ticket{}
	}
	s.jsonResponse(w, tickets)
}

type createTicketRequest struct {
	ProjectID          string `json:"projectId"`
	Type               string `json:"type"`
	Priority           string `json:"priority"`
	State              string `json:"state"`
	What               string `json:"what"`
	Why                string `json:"why"`
	AcceptanceCriteria string `json:"acceptanceCriteria"`
	TestSteps          string `json:"testSteps"`
}

func (s *Server) apiCreateTicket(w http.ResponseWriter, r *http.Request) {
	var req createTicketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	ticket, err := s.tickets.Create(board.CreateTicketInput{
		ProjectID:          req.ProjectID,
		Type:               board.Type(req.Type),
		Priority:           board.Priority(req.Priority),
		State:              board.State(req.State),
		What:               req.What,
		Why:                req.Why,
		AcceptanceCriteria: req.AcceptanceCriteria,
		TestSteps:          req.TestSteps,
	})
	if err != nil {
		s.serviceError(w, err)
		return
	}

	s.Broadcast("board-update")
	s.jsonCreated(w, ticket)
}

func (s *Server) apiGetTicket(w http.ResponseWriter, r *http.Request) {
	ticket, err := s.tickets.Get(mux.Vars(r)["id"])
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.jsonResponse(w, ticket)
}

type updateTicketRequest struct {
	ProjectID          *string `json:"projectId"`
	Type               *string `json:"type"`
	Priority           *string `json:"priority"`
	State              *string `json:"state"`
	What               *string `json:"what"`
	Why                *string `json:"why"`
	AcceptanceCriteria *string `json:"acceptanceCriteria"`
	TestSteps          *string `json:"testSteps"`
}

func (s *Server) apiUpdateTicket(w http.ResponseWriter, r *http.Request) {
	var req updateTicketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	upd := board.TicketUpdate{
		ProjectID:          req.ProjectID,
		What:               req.What,
		Why:                req.Why,
		AcceptanceCriteria: req.AcceptanceCriteria,
		TestSteps:          req.TestSteps,
	}
	if req.Type != nil {
		t := board.Type(*req.Type)
		upd.Type = &t
	}
	if req.Priority != nil {
		p := board.Priority(*req.Priority)
		upd.Priority = &p
	}
	if req.State != nil {
		st := board.State(*req.State)
		upd.State = &st
	}

	ticket, err := s.tickets.Update(mux.Vars(r)["id"], upd)
	if err != nil {
		s.serviceError(w, err)
		return
	}

	s.Broadcast("board-update")
	s.jsonResponse(w, ticket)
}

func (s *Server) apiDeleteTicket(w http.ResponseWriter, r *http.Request) {
	if err := s.tickets.Delete(mux.Vars(r)["id"]); err != nil {
		s.serviceError(w, err)
		return
	}
	s.Broadcast("board-update")
	s.jsonResponse(w, map[string]string{"status": "deleted"})
}

// apiMoveTicket handles board drag-and-drop: a state column and a position
// within it.
func (s *Server) apiMoveTicket(w http.ResponseWriter, r *http.Request) {
	var req struct {
		State    string `json:"state"`
		Position int    `json:"position"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	ticket, err := s.tickets.Move(mux.Vars(r)["id"], board.State(req.State), req.Position)
	if err != nil {
		s.serviceError(w, err)
		return
	}

	s.Broadcast("board-update")
	s.jsonResponse(w, ticket)
}

// --- Comments ---

func (s *Server) apiListComments(w http.ResponseWriter, r *http.Request) {
	comments, err := s.tickets.Comments(mux.Vars(r)["id"])
	if err != nil {
		s.serviceError(w, err)
		return
	}
	if comments == nil {
		comments = []board.Comment{}
	}
	s.jsonResponse(w, comments)
}

func (s *Server) apiAddComment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	comment, err := s.tickets.AddComment(mux.Vars(r)["id"], req.Content)
	if err != nil {
		s.serviceError(w, err)
		return
	}

	s.Broadcast("board-update")
	s.jsonCreated(w, comment)
}

func (s *Server) apiUpdateComment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	comment, err := s.tickets.UpdateComment(mux.Vars(r)["id"], req.Content)
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.jsonResponse(w, comment)
}

func (s *Server) apiDeleteComment(w http.ResponseWriter, r *http.Request) {
	if err := s.tickets.DeleteComment(mux.Vars(r)["id"]); err != nil {
		s.serviceError(w, err)
		return
	}
	s.jsonResponse(w, map[string]string{"status": "deleted"})
}

// --- Dependencies ---

func (s *Server) apiAddDependency(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DependsOn string `json:"dependsOn"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	ticket, err := s.tickets.AddDependency(mux.Vars(r)["id"], req.DependsOn)
	if err != nil {
		s.serviceError(w, err)
		return
	}

	s.Broadcast("board-update")
	s.jsonResponse(w, ticket)
}

func (s *Server) apiRemoveDependency(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	ticket, err := s.tickets.RemoveDependency(vars["id"], vars["depID"])
	if err != nil {
		s.serviceError(w, err)
		return
	}

	s.Broadcast("board-update")
	s.jsonResponse(w, ticket)
}

// --- Enumerations ---

func (s *Server) apiListStates(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, board.States())
}

func (s *Server) apiListTypes(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, board.Types())
}

func (s *Server) apiListPriorities(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, board.Priorities())
}

// --- Metrics ---

func (s *Server) apiMetricsOverview(w http.ResponseWriter, r *http.Request) {
	overview, err := s.metrics.Overview(r.URL.Query().Get("project_id"))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.jsonResponse(w, overview)
}

func (s *Server) apiLeadTime(w http.ResponseWriter, r *http.Request) {
	stats, err := s.metrics.LeadTime(r.URL.Query().Get("project_id"))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.jsonResponse(w, stats)
}

func (s *Server) apiDeploymentFrequency(w http.ResponseWriter, r *http.Request) {
	freq, err := s.metrics.DeploymentFrequency(r.URL.Query().Get("project_id"))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.jsonResponse(w, freq)
}

func (s *Server) apiChangeFailureRate(w http.ResponseWriter, r *http.Request) {
	rate, err := s.metrics.ChangeFailureRate(r.URL.Query().Get("project_id"))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.jsonResponse(w, rate)
}

func (s *Server) apiTimeToRestore(w http.ResponseWriter, r *http.Request) {
	stats, err := s.metrics.TimeToRestore(r.URL.Query().Get("project_id"))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.jsonResponse(w, stats)
}

func (s *Server) apiCompletion(w http.ResponseWriter, r *http.Request) {
	completion, err := s.metrics.Completion(r.URL.Query().Get("project_id"))
	if err != nil {
		s.serviceError(w, err)
		return
	}
	s.jsonResponse(w, completion)
}

func (s *Server) apiReportFailure(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RestorationMinutes *int       `json:"restorationMinutes"`
		DeploymentDate     *time.Time `json:"deploymentDate"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.jsonError(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}

	metric, err := s.metrics.ReportFailure(mux.Vars(r)["id"], board.FailureReport{
		RestorationMinutes: req.RestorationMinutes,
		DeploymentDate:     req.DeploymentDate,
	})
	if err != nil {
		s.serviceError(w, err)
		return
	}

	s.Broadcast("board-update")
	s.jsonResponse(w, metric)
}
