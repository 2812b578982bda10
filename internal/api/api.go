// Package api provides HTTP handlers and the main API server logic for StudyPipe.
//
// It exposes RESTful endpoints for computing a participant's scheduled
// activities, recording activity events, managing schedule plans, and sending
// SMS reminders. The API is thin glue over the scheduling engine, the store,
// and the messaging modules.
package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/BTreeMap/StudyPipe/internal/messaging"
	"github.com/BTreeMap/StudyPipe/internal/models"
	"github.com/BTreeMap/StudyPipe/internal/sched"
	"github.com/BTreeMap/StudyPipe/internal/scheduler"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

// PlanStore is the schedule plan persistence the API manages directly; the
// engine only ever reads plans.
type PlanStore interface {
	SaveSchedulePlan(plan models.SchedulePlan) error
	ListSchedulePlans(studyKey string) ([]models.SchedulePlan, error)
	DeleteSchedulePlan(studyKey, guid string) error
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr string
	// DefaultReminderCron, when set, runs a recurring reminder sweep over all
	// participants registered through POST /v1/reminders.
	DefaultReminderCron string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

func WithDefaultReminderCron(expr string) Option {
	return func(o *Opts) { o.DefaultReminderCron = expr }
}

// Server wires the scheduling engine, plan storage, and messaging together
// behind the HTTP surface.
type Server struct {
	addr         string
	reminderCron string
	svc          *sched.Service
	plans        PlanStore
	msgService   messaging.Service
	timer        *scheduler.Scheduler

	mu        sync.Mutex
	reminders map[string]reminderRequest
}

// NewServer creates an API server over its collaborators.
func NewServer(svc *sched.Service, plans PlanStore, msgService messaging.Service, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewServer configured", "addr", cfg.Addr, "reminderCron", cfg.DefaultReminderCron)
	return &Server{
		addr:         cfg.Addr,
		reminderCron: cfg.DefaultReminderCron,
		svc:          svc,
		plans:        plans,
		msgService:   msgService,
		reminders:    make(map[string]reminderRequest),
	}
}

// Handler returns the route table for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/activities", s.activitiesHandler)
	mux.HandleFunc("/v1/events", s.eventsHandler)
	mux.HandleFunc("/v1/plans", s.plansHandler)
	mux.HandleFunc("/v1/plans/", s.plansHandler)
	mux.HandleFunc("/v1/reminders", s.remindersHandler)
	mux.HandleFunc("/health", s.healthHandler)
	return mux
}

// Run starts the reminder sweep (when configured) and serves HTTP until the
// listener fails.
func (s *Server) Run() error {
	if s.reminderCron != "" {
		s.timer = scheduler.NewScheduler()
		if err := s.timer.AddJob(s.reminderCron, s.reminderSweep); err != nil {
			return fmt.Errorf("failed to schedule reminder sweep: %w", err)
		}
		slog.Info("Reminder sweep scheduled", "cron", s.reminderCron)
	}
	slog.Info("StudyPipe API running", "addr", s.addr)
	return http.ListenAndServe(s.addr, s.Handler())
}

// Stop halts background jobs. The HTTP listener is owned by Run's caller.
func (s *Server) Stop() {
	if s.timer != nil {
		s.timer.Stop()
	}
}
