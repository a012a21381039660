package board

import (
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/montanaflynn/stats"
)

// DurationStats summarizes a sample of durations in minutes.
type DurationStats struct {
	Mean       float64 `json:"mean"`
	Median     float64 `json:"median"`
	P90        float64 `json:"p90"`
	Min        int     `json:"min"`
	Max        int     `json:"max"`
	Unit       string  `json:"unit"`
	SampleSize int     `json:"sampleSize"`
}

// DeploymentFrequency counts deployments over trailing windows.
type DeploymentFrequency struct {
	Daily      int     `json:"daily"`
	Weekly     int     `json:"weekly"`
	Monthly    int     `json:"monthly"`
	DailyAvg   float64 `json:"dailyAvg"`
	WeeklyAvg  float64 `json:"weeklyAvg"`
	MonthlyAvg float64 `json:"monthlyAvg"`
}

// ChangeFailureRate is the share of deployments flagged as failures.
type ChangeFailureRate struct {
	TotalDeployments   int     `json:"totalDeployments"`
	Failures           int     `json:"failures"`
	FailureRatePercent float64 `json:"failureRatePercent"`
}

// CompletionStats is the share of tickets that reached done.
type CompletionStats struct {
	TotalTickets          int     `json:"totalTickets"`
	CompletedTickets      int     `json:"completedTickets"`
	CompletionRatePercent float64 `json:"completionRatePercent"`
}

// Overview bundles every rollup for the metrics dashboard.
type Overview struct {
	LeadTime            DurationStats       `json:"leadTime"`
	DeploymentFrequency DeploymentFrequency `json:"deploymentFrequency"`
	ChangeFailureRate   ChangeFailureRate   `json:"changeFailureRate"`
	TimeToRestore       DurationStats       `json:"timeToRestore"`
	Completion          CompletionStats     `json:"completion"`
	TicketsByState      map[State]int       `json:"ticketsByState"`
}

// MetricsService computes DORA-style rollups from the per-ticket metric
// rows. Everything is recomputed on each call; nothing is cached.
type MetricsService struct {
	store Store
	now   func() time.Time
}

// NewMetricsService creates a metrics service.
func NewMetricsService(store Store) *MetricsService {
	return &MetricsService{store: store, now: time.Now}
}

// LeadTime summarizes lead times of completed tickets, optionally scoped to
// a project.
func (s *MetricsService) LeadTime(projectID string) (DurationStats, error) {
	metrics, err := s.metrics(projectID)
	if err != nil {
		return DurationStats{}, err
	}
	var sample []float64
	for _, m := range metrics {
		if m.LeadTimeMinutes != nil {
			sample = append(sample, float64(*m.LeadTimeMinutes))
		}
	}
	return summarize(sample), nil
}

// DeploymentFrequency counts deployments over the last day, week, and month.
func (s *MetricsService) DeploymentFrequency(projectID string) (DeploymentFrequency, error) {
	metrics, err := s.metrics(projectID)
	if err != nil {
		return DeploymentFrequency{}, err
	}
	now := s.now()
	var freq DeploymentFrequency
	for _, m := range metrics {
		if m.DeploymentDate == nil {
			continue
		}
		age := now.Sub(*m.DeploymentDate)
		if age <= 24*time.Hour {
			freq.Daily++
		}
		if age <= 7*24*time.Hour {
			freq.Weekly++
		}
		if age <= 30*24*time.Hour {
			freq.Monthly++
		}
	}
	freq.DailyAvg = round2(float64(freq.Daily))
	freq.WeeklyAvg = round2(float64(freq.Weekly) / 7)
	freq.MonthlyAvg = round2(float64(freq.Monthly) / 30)
	return freq, nil
}

// ChangeFailureRate computes failures over deployments as a percentage.
func (s *MetricsService) ChangeFailureRate(projectID string) (ChangeFailureRate, error) {
	metrics, err := s.metrics(projectID)
	if err != nil {
		return ChangeFailureRate{}, err
	}
	var rate ChangeFailureRate
	for _, m := range metrics {
		if m.DeploymentDate != nil {
			rate.TotalDeployments++
		}
		if m.ChangeFailure {
			rate.Failures++
		}
	}
	if rate.TotalDeployments > 0 {
		rate.FailureRatePercent = round2(float64(rate.Failures) / float64(rate.TotalDeployments) * 100)
	}
	return rate, nil
}

// TimeToRestore summarizes restoration times of failed changes.
func (s *MetricsService) TimeToRestore(projectID string) (DurationStats, error) {
	metrics, err := s.metrics(projectID)
	if err != nil {
		return DurationStats{}, err
	}
	var sample []float64
	for _, m := range metrics {
		if m.ChangeFailure && m.RestorationMinutes != nil {
			sample = append(sample, float64(*m.RestorationMinutes))
		}
	}
	return summarize(sample), nil
}

// Completion computes the share of tickets in done or archived.
func (s *MetricsService) Completion(projectID string) (CompletionStats, error) {
	counts, err := s.store.CountTicketsByState(projectID)
	if err != nil {
		return CompletionStats{}, storagef("count tickets", err)
	}
	var c CompletionStats
	for state, n := range counts {
		c.TotalTickets += n
		if state == StateDone || state == StateArchived {
			c.CompletedTickets += n
		}
	}
	if c.TotalTickets > 0 {
		c.CompletionRatePercent = round2(float64(c.CompletedTickets) / float64(c.TotalTickets) * 100)
	}
	return c, nil
}

// Overview computes every rollup in one call for the dashboard.
func (s *MetricsService) Overview(projectID string) (Overview, error) {
	var (
		o   Overview
		err error
	)
	if o.LeadTime, err = s.LeadTime(projectID); err != nil {
		return o, err
	}
	if o.DeploymentFrequency, err = s.DeploymentFrequency(projectID); err != nil {
		return o, err
	}
	if o.ChangeFailureRate, err = s.ChangeFailureRate(projectID); err != nil {
		return o, err
	}
	if o.TimeToRestore, err = s.TimeToRestore(projectID); err != nil {
		return o, err
	}
	if o.Completion, err = s.Completion(projectID); err != nil {
		return o, err
	}
	counts, err := s.store.CountTicketsByState(projectID)
	if err != nil {
		return o, storagef("count tickets", err)
	}
	o.TicketsByState = counts
	return o, nil
}

// FailureReport carries the optional details of a reported change failure.
type FailureReport struct {
	RestorationMinutes *int
	DeploymentDate     *time.Time
}

// ReportFailure flags a ticket's metric row as a change failure, creating
// the row if the ticket has none yet.
func (s *MetricsService) ReportFailure(ticketID string, report FailureReport) (*Metric, error) {
	if _, ok := s.store.GetTicket(ticketID); !ok {
		return nil, &NotFoundError{Resource: "ticket", ID: ticketID}
	}

	m, exists := s.store.GetMetricByTicket(ticketID)
	if !exists {
		now := s.now()
		m = &Metric{
			ID:             uuid.New().String(),
			TicketID:       ticketID,
			DeploymentDate: &now,
			RecordDate:     now,
		}
	}
	m.ChangeFailure = true
	if report.RestorationMinutes != nil {
		m.RestorationMinutes = report.RestorationMinutes
	}
	if report.DeploymentDate != nil {
		m.DeploymentDate = report.DeploymentDate
	}

	if exists {
		if err := s.store.UpdateMetric(m); err != nil {
			return nil, storagef("update metric", err)
		}
	} else {
		if err := s.store.CreateMetric(m); err != nil {
			return nil, storagef("create metric", err)
		}
	}
	return m, nil
}

func (s *MetricsService) metrics(projectID string) ([]Metric, error) {
	metrics, err := s.store.GetMetrics(projectID)
	if err != nil {
		return nil, storagef("load metrics", err)
	}
	return metrics, nil
}

// summarize computes mean/median/p90/min/max over a minutes sample. An
// empty sample yields zeros rather than an error.
func summarize(sample []float64) DurationStats {
	ds := DurationStats{Unit: "minutes", SampleSize: len(sample)}
	if len(sample) == 0 {
		return ds
	}
	mean, _ := stats.Mean(sample)
	median, _ := stats.Median(sample)
	p90, _ := stats.Percentile(sample, 90)
	min, _ := stats.Min(sample)
	max, _ := stats.Max(sample)
	ds.Mean = round2(mean)
	ds.Median = round2(median)
	ds.P90 = round2(p90)
	ds.Min = int(min)
	ds.Max = int(max)
	return ds
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
