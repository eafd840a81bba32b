package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/sfoufcat/slimcircle/db"
	"github.com/sfoufcat/slimcircle/internal/event"
	"github.com/sfoufcat/slimcircle/internal/models"
	"github.com/sfoufcat/slimcircle/internal/types"
)

var stageOffsets = []struct {
	Stage  string
	Before time.Duration
}{
	{types.StageDayBefore, 24 * time.Hour},
	{types.StageHourBefore, time.Hour},
	{types.StageStart, 0},
}

// Notifier receives the scheduler's outbound messages. Failures are the
// notifier's to log; the scheduler never retries or unwinds state over
// them.
type Notifier interface {
	CallScheduled(squad models.Squad, call models.CallProposal)
	CallDeleted(squad models.Squad)
	CallReminder(squad models.Squad, call models.CallProposal, stage string)
}

type Scheduler struct {
	db       *gorm.DB
	notifier Notifier
	jobs     map[uint]*CallJob // call ID -> job
	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
}

type CallJob struct {
	call   models.CallProposal
	squad  models.Squad
	timers []*time.Timer
}

// NewScheduler initializes a new Scheduler instance
func NewScheduler(database *gorm.DB, notifier Notifier) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		db:       database,
		notifier: notifier,
		jobs:     make(map[uint]*CallJob),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start reloads reminder jobs for every confirmed forward-looking call,
// so a restart does not lose scheduled reminders.
func (s *Scheduler) Start() error {
	log.Println("Starting call scheduler...")

	var calls []models.CallProposal

	err := s.db.Preload("Squad").
		Where("status = ? AND proposal_type <> ? AND start_at > ?",
			models.ProposalStatusConfirmed, models.ProposalTypeDelete, time.Now()).
		Find(&calls).Error

	if err != nil {
		return err
	}

	for _, call := range calls {
		s.ScheduleCallJobs(call, call.Squad)
	}

	log.Printf("Call scheduler started with %d calls", len(calls))
	return nil
}

// Stop gracefully shuts down all reminder jobs
func (s *Scheduler) Stop() {
	log.Println("Stopping call scheduler...")
	s.cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, job := range s.jobs {
		for _, timer := range job.timers {
			timer.Stop()
		}
	}

	s.jobs = make(map[uint]*CallJob)
	log.Println("Call scheduler stopped")
}

// ScheduleCallJobs arms the reminder timers for a confirmed call. Stages
// already in the past are skipped; a call confirmed less than an hour out
// simply has fewer reminders. Rescheduling an already-known call replaces
// its timers.
func (s *Scheduler) ScheduleCallJobs(call models.CallProposal, squad models.Squad) {
	if call.StartAt == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked(call.ID)

	job := &CallJob{call: call, squad: squad}

	for _, fireAt := range StageTimes(*call.StartAt, time.Now()) {
		stage := fireAt.Stage

		timer := time.AfterFunc(time.Until(fireAt.At), func() {
			if s.ctx.Err() != nil {
				return
			}
			s.notifier.CallReminder(squad, call, stage)
		})

		job.timers = append(job.timers, timer)
	}

	s.jobs[call.ID] = job

	log.Printf("Scheduled %d reminder jobs for call %d (squad %d)",
		len(job.timers), call.ID, call.SquadID)
}

// CancelCallJobs disarms and forgets the reminder timers for a call.
// Unknown call IDs are a no-op.
func (s *Scheduler) CancelCallJobs(callID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelLocked(callID)
}

func (s *Scheduler) cancelLocked(callID uint) {
	job, exists := s.jobs[callID]

	if !exists {
		return
	}

	for _, timer := range job.timers {
		timer.Stop()
	}

	delete(s.jobs, callID)
	log.Printf("Canceled reminder jobs for call %d", callID)
}

// ActiveJobs returns the number of calls with armed reminders.
func (s *Scheduler) ActiveJobs() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.jobs)
}

// StageTime is a reminder stage with its absolute firing instant.
type StageTime struct {
	Stage string
	At    time.Time
}

// StageTimes computes the reminder instants for a call starting at
// startAt, dropping stages that are not strictly in the future of now.
func StageTimes(startAt, now time.Time) []StageTime {
	var stages []StageTime

	for _, offset := range stageOffsets {
		fireAt := startAt.Add(-offset.Before)

		if fireAt.After(now) {
			stages = append(stages, StageTime{Stage: offset.Stage, At: fireAt})
		}
	}

	return stages
}

// HandleCallConfirmed consumes a call.confirmed event: a new or edited
// call gets announced and its reminders armed (an edit first tears down
// the original call's jobs); a confirmed deletion tears down the original
// call's jobs and leaves the squad with no forward-looking call.
func (s *Scheduler) HandleCallConfirmed(evt event.Event) {
	data, ok := evt.Data.(event.CallConfirmedEvent)

	if !ok {
		log.Printf("Unexpected call.confirmed payload: %T", evt.Data)
		return
	}

	switch data.Proposal.ProposalType {
	case models.ProposalTypeDelete:
		if data.Proposal.OriginalCallID != nil {
			s.CancelCallJobs(*data.Proposal.OriginalCallID)
		}
		s.notifier.CallDeleted(data.Squad)
	case models.ProposalTypeEdit:
		if data.Proposal.OriginalCallID != nil {
			s.CancelCallJobs(*data.Proposal.OriginalCallID)
		}
		s.ScheduleCallJobs(data.Proposal, data.Squad)
		s.notifier.CallScheduled(data.Squad, data.Proposal)
	case models.ProposalTypeNew:
		s.ScheduleCallJobs(data.Proposal, data.Squad)
		s.notifier.CallScheduled(data.Squad, data.Proposal)
	default:
		log.Printf("Unsupported proposal type: %s", data.Proposal.ProposalType)
	}
}

// HandleCallCanceled consumes a call.canceled event (a confirmed call
// superseded by a newer suggestion) and tears down its jobs.
func (s *Scheduler) HandleCallCanceled(evt event.Event) {
	data, ok := evt.Data.(event.CallCanceledEvent)

	if !ok {
		log.Printf("Unexpected call.canceled payload: %T", evt.Data)
		return
	}

	s.CancelCallJobs(data.CallID)
}

// Subscribe attaches the scheduler to the domain event bus.
func (s *Scheduler) Subscribe(bus *event.EventBus) {
	bus.SubscribeFunc(event.TypeCallConfirmed, s.HandleCallConfirmed)
	bus.SubscribeFunc(event.TypeCallCanceled, s.HandleCallCanceled)
}

// Global scheduler instance
var globalScheduler *Scheduler

// Initialize creates the global scheduler, attaches it to the event bus
// and reloads jobs for confirmed calls.
func Initialize(bus *event.EventBus, notifier Notifier) error {
	globalScheduler = NewScheduler(db.DB, notifier)
	globalScheduler.Subscribe(bus)
	return globalScheduler.Start()
}

// Shutdown stops the global scheduler
func Shutdown() {
	if globalScheduler != nil {
		globalScheduler.Stop()
	}
}
