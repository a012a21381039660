// Package relay exposes the board's operations as named tools over the Model
// Context Protocol, so coding agents can drive the board from the command
// line.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/mwaldron/kanban/board"
)

// Relay serves board tools over MCP stdio.
type Relay struct {
	projects *board.ProjectService
	tickets  *board.TicketService
	metrics  *board.MetricsService
	logger   *slog.Logger
	srv      *server.MCPServer
}

// New creates a relay over the given store.
func New(store board.Store, logger *slog.Logger) *Relay {
	r := &Relay{
		projects: board.NewProjectService(store),
		tickets:  board.NewTicketService(store),
		metrics:  board.NewMetricsService(store),
		logger:   logger,
	}

	srv := server.NewMCPServer("kanban", "1.0.0", server.WithToolCapabilities(false))

	srv.AddTool(mcp.NewTool("get_kanban_status",
		mcp.WithDescription("Get an overview of the board: ticket counts per state and key delivery metrics."),
		mcp.WithString("project_id", mcp.Description("Optional project to scope the overview to.")),
	), r.getStatus)

	srv.AddTool(mcp.NewTool("list_projects",
		mcp.WithDescription("List all projects with their ticket counts."),
	), r.listProjects)

	srv.AddTool(mcp.NewTool("get_project_id_by_name",
		mcp.WithDescription("Resolve a project name to its ID. Close matches are accepted."),
		mcp.WithString("name", mcp.Required(), mcp.Description("The project name to look up.")),
	), r.getProjectID)

	srv.AddTool(mcp.NewTool("list_tickets",
		mcp.WithDescription("List tickets, optionally filtered by project and state."),
		mcp.WithString("project_id", mcp.Description("Optional project filter.")),
		mcp.WithString("state", mcp.Description("Optional state filter: backlog, in progress, review, done, archived.")),
	), r.listTickets)

	srv.AddTool(mcp.NewTool("create_ticket",
		mcp.WithDescription("Create a ticket on a project's backlog."),
		mcp.WithString("project_id", mcp.Required(), mcp.Description("The project the ticket belongs to.")),
		mcp.WithString("type", mcp.Required(), mcp.Description("Ticket type: bug, story, task, or spike.")),
		mcp.WithString("what", mcp.Required(), mcp.Description("What needs doing.")),
		mcp.WithString("why", mcp.Description("Why it matters.")),
		mcp.WithString("priority", mcp.Description("Priority: low, medium, high, or critical. Defaults to medium.")),
		mcp.WithString("acceptance_criteria", mcp.Description("How to tell the work is finished.")),
		mcp.WithString("test_steps", mcp.Description("How to verify the work.")),
	), r.createTicket)

	srv.AddTool(mcp.NewTool("update_ticket_state",
		mcp.WithDescription("Move a ticket to a new state. Completing a ticket records its delivery metrics."),
		mcp.WithString("ticket_id", mcp.Required(), mcp.Description("The ticket to move.")),
		mcp.WithString("state", mcp.Required(), mcp.Description("Target state: backlog, in progress, review, done, archived.")),
	), r.updateTicketState)

	srv.AddTool(mcp.NewTool("add_comment",
		mcp.WithDescription("Add a comment to a ticket."),
		mcp.WithString("ticket_id", mcp.Required(), mcp.Description("The ticket to comment on.")),
		mcp.WithString("content", mcp.Required(), mcp.Description("The comment text. Markdown is rendered in the UI.")),
	), r.addComment)

	r.srv = srv
	return r
}

// ServeStdio runs the relay over stdin/stdout until the client disconnects.
func (r *Relay) ServeStdio() error {
	r.logger.Info("Starting relay on stdio")
	return server.ServeStdio(r.srv)
}

func (r *Relay) getStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID := req.GetString("project_id", "")

	overview, err := r.metrics.Overview(projectID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatStatus(overview)), nil
}

func (r *Relay) listProjects(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projects, err := r.projects.List()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatProjects(projects)), nil
}

func (r *Relay) getProjectID(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	projects, err := r.projects.List()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	match, ok := closestProject(projects, name)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("no project matching %q", name)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("%s (%s)", match.ID, match.Name)), nil
}

func (r *Relay) listTickets(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID := req.GetString("project_id", "")
	state := board.State(req.GetString("state", ""))

	tickets, err := r.tickets.List(projectID, state)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatTickets(tickets)), nil
}

func (r *Relay) createTicket(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	projectID, err := req.RequireString("project_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	ticketType, err := req.RequireString("type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	what, err := req.RequireString("what")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	ticket, err := r.tickets.Create(board.CreateTicketInput{
		ProjectID:          projectID,
		Type:               board.Type(ticketType),
		Priority:           board.Priority(req.GetString("priority", "")),
		What:               what,
		Why:                req.GetString("why", ""),
		AcceptanceCriteria: req.GetString("acceptance_criteria", ""),
		TestSteps:          req.GetString("test_steps", ""),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Created %s ticket %s in %s: %s",
		ticket.Type, ticket.ID, ticket.State, ticket.What)), nil
}

func (r *Relay) updateTicketState(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ticketID, err := req.RequireString("ticket_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	state, err := req.RequireString("state")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	st := board.State(state)
	ticket, err := r.tickets.Update(ticketID, board.TicketUpdate{State: &st})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	msg := fmt.Sprintf("Ticket %s is now %s", ticket.ID, ticket.State)
	if ticket.State == board.StateDone && ticket.CompletedAt != nil {
		if lead, ok := ticket.LeadTime(); ok {
			msg += fmt.Sprintf(" (lead time %d minutes)", int(lead.Minutes()))
		}
	}
	return mcp.NewToolResultText(msg), nil
}

func (r *Relay) addComment(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ticketID, err := req.RequireString("ticket_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	comment, err := r.tickets.AddComment(ticketID, content)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Added comment %s to ticket %s", comment.ID, comment.TicketID)), nil
}

// --- Formatting ---

func formatStatus(o board.Overview) string {
	var b strings.Builder
	b.WriteString("Board status:\n")
	for _, state := range board.States() {
		b.WriteString(fmt.Sprintf("  %-12s %d\n", state, o.TicketsByState[state]))
	}
	b.WriteString(fmt.Sprintf("\nLead time: median %.0f min over %d tickets\n",
		o.LeadTime.Median, o.LeadTime.SampleSize))
	b.WriteString(fmt.Sprintf("Deployments: %d today, %d this week, %d this month\n",
		o.DeploymentFrequency.Daily, o.DeploymentFrequency.Weekly, o.DeploymentFrequency.Monthly))
	b.WriteString(fmt.Sprintf("Change failure rate: %.1f%% (%d of %d)\n",
		o.ChangeFailureRate.FailureRatePercent, o.ChangeFailureRate.Failures, o.ChangeFailureRate.TotalDeployments))
	b.WriteString(fmt.Sprintf("Completion: %.1f%% (%d of %d tickets)",
		o.Completion.CompletionRatePercent, o.Completion.CompletedTickets, o.Completion.TotalTickets))
	return b.String()
}

func formatProjects(projects []board.Project) string {
	if len(projects) == 0 {
		return "No projects."
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%d project(s):\n", len(projects)))
	for _, p := range projects {
		b.WriteString(fmt.Sprintf("  %s  %s (%d tickets)\n", p.ID, p.Name, p.TicketCount))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatTickets(tickets []board.Ticket) string {
	if len(tickets) == 0 {
		return "No tickets."
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("%d ticket(s):\n", len(tickets)))
	for _, t := range tickets {
		b.WriteString(fmt.Sprintf("  %s  [%s/%s] %s - %s\n", t.ID, t.Type, t.Priority, t.State, t.What))
	}
	return strings.TrimRight(b.String(), "\n")
}

// closestProject finds the project whose name best matches the query:
// exact (case-insensitive) first, then substring, then edit-distance
// similarity with a 0.6 cutoff.
func closestProject(projects []board.Project, name string) (*board.Project, bool) {
	query := strings.ToLower(strings.TrimSpace(name))
	if query == "" {
		return nil, false
	}

	for i := range projects {
		if strings.ToLower(projects[i].Name) == query {
			return &projects[i], true
		}
	}
	for i := range projects {
		if strings.Contains(strings.ToLower(projects[i].Name), query) {
			return &projects[i], true
		}
	}

	type scored struct {
		idx   int
		score float64
	}
	var candidates []scored
	for i := range projects {
		score := similarity(query, strings.ToLower(projects[i].Name))
		if score >= 0.6 {
			candidates = append(candidates, scored{idx: i, score: score})
		}
	}
	if len(candidates) == 0 {
		return nil, false
	}
	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	return &projects[candidates[0].idx], true
}

// similarity is 1 minus the normalized Levenshtein distance.
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := max(len(a), len(b))
	if longest == 0 {
		return 0
	}
	return 1 - float64(levenshtein(a, b))/float64(longest)
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)

	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(min(curr[j-1]+1, prev[j]+1), prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}
