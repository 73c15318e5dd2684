package supervision

import (
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is a named unit of background work run on a cron cadence, such as
// the websocket health broadcast registered in cmd/engine/main.go.
type Job interface {
	Run() error
	Name() string
}

// Scheduler drives periodic background jobs (the health broadcast)
// outside the main tick loop, so a slow job never blocks order
// placement. Adoption scans and metrics flushes are not scheduled here;
// the tick loop requests them.
type Scheduler struct {
	cron *cron.Cron
	log  *zap.Logger
}

// New builds a scheduler using second-resolution cron expressions.
func New(log *zap.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		log:  log.Named("scheduler"),
	}
}

// Start begins running registered jobs on their schedules.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started")
}

// Stop waits for any in-flight job to finish, then stops the scheduler.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info("scheduler stopped")
}

// AddJob registers job on the given cron schedule, e.g. "@every 20s".
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		if err := job.Run(); err != nil {
			s.log.Error("job failed", zap.String("job", job.Name()), zap.Error(err))
			return
		}
		s.log.Debug("job completed", zap.String("job", job.Name()))
	})
	if err != nil {
		return err
	}
	s.log.Info("job registered", zap.String("schedule", schedule), zap.String("job", job.Name()))
	return nil
}

// RunNow executes job immediately, outside its schedule.
func (s *Scheduler) RunNow(job Job) error {
	s.log.Info("running job immediately", zap.String("job", job.Name()))
	return job.Run()
}

// FuncJob adapts a plain function into a Job, for one-off jobs that don't
// warrant their own named type.
type FuncJob struct {
	JobName string
	Fn      func() error
}

func (f FuncJob) Name() string { return f.JobName }
func (f FuncJob) Run() error   { return f.Fn() }
