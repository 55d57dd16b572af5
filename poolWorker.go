package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"
)

var retryLimit = 3

// PoolWorker dispatches queued jobs to a fixed set of workers. Each
// worker runs one pipeline at a time, stages inside a run are strictly
// sequential.
type PoolWorker struct {
	ctx        context.Context
	queue      *Queue
	db         *Sqlite
	config     *Config
	hub        *Hub
	waitGroup  *sync.WaitGroup
	logger     *logrus.Entry
	activeJobs atomic.Int32
}

func NewPoolWorker(ctx context.Context, queue *Queue, db *Sqlite, config *Config, hub *Hub, waitGroup *sync.WaitGroup) *PoolWorker {
	return &PoolWorker{
		ctx:       ctx,
		queue:     queue,
		db:        db,
		config:    config,
		hub:       hub,
		waitGroup: waitGroup,
		logger:    CreateLogger("pool"),
	}
}

func (p *PoolWorker) ActiveJobs() int32 {
	return p.activeJobs.Load()
}

func (p *PoolWorker) RunDispatcher() {
	workChannel := make(chan Job, p.config.Workers)

	for i := 0; i < p.config.Workers; i++ {
		go p.worker(i, workChannel)
	}

	for {
		select {
		case <-p.ctx.Done():
			return
		default:
			job, ok := p.queue.Dequeue()
			if ok {
				workChannel <- job
			} else {
				time.Sleep(100 * time.Millisecond)
			}
		}
	}
}

// Make sure to call waitGroup.Done() on every path,
// otherwise the shutdown path gets stuck waiting
func (p *PoolWorker) worker(id int, workChannel <-chan Job) {
	logger := CreateLogger(fmt.Sprintf("worker_%d", id))
	pipeline := NewPipeline(p.config, logger)

	for job := range workChannel {
		p.waitGroup.Add(1)
		p.activeJobs.Inc()

		err := p.processJob(pipeline, id, &job)

		p.activeJobs.Dec()
		if p.ctx.Err() != nil {
			logger.Debug("Ctx error is: ", p.ctx.Err())
			if p.ctx.Err() == context.Canceled {
				logger.Debug("Ctx was canceled, worker exiting")
				p.waitGroup.Done()
				return
			}
		}

		if err != nil {
			p.handleJobError(logger, &job, err)
		} else {
			if err := p.db.MarkJobAsDone(&job); err != nil {
				logger.WithFields(StructFields(job)).Error("Failed to mark job as done: ", err)
			}
			p.announceFinished(&job, nil)
			logger.WithFields(StructFields(job)).Info("Finished processing job")
		}

		p.waitGroup.Done()
	}
}

func (p *PoolWorker) processJob(pipeline *Pipeline, id int, job *Job) error {
	progress := func(stage string, fraction float64) {
		p.hub.BroadcastMessage(WsWorkerProgress{
			WsBaseMessage: WsBaseMessage{Type: "worker_progress"},
			WorkerID:      id,
			JobID:         job.ID,
			Stage:         stage,
			Progress:      fraction,
		})
	}

	switch job.Mode {
	case ModeSlowMotion:
		return pipeline.ProcessVideo(p.ctx, job.Path, job.OutputPath, job.Multiplier, progress)
	case ModeContinuation:
		opts := ContinuationOptions{
			Prompt:          job.Prompt,
			DurationSeconds: job.DurationSeconds,
			NoConcat:        job.NoConcat,
		}
		return pipeline.ContinueVideo(p.ctx, job.Path, job.OutputPath, opts, progress)
	default:
		return &ConfigError{Msg: fmt.Sprintf("unknown job mode %q", job.Mode)}
	}
}

// handleJobError requeues the job until the retry limit, then archives
// it with the captured tool diagnostics.
func (p *PoolWorker) handleJobError(logger *logrus.Entry, job *Job, jobErr error) {
	logger.WithFields(StructFields(*job)).Error("Error processing job: ", jobErr)
	if output := toolOutput(jobErr); output != "" {
		logger.Debug("Tool output: ", output)
	}

	retries, err := p.db.GetJobRetries(job)
	if err != nil {
		logger.WithFields(StructFields(*job)).Error("Failed to get retries: ", err)
		return
	}

	if retries >= retryLimit {
		if err := p.db.FailJob(job, toolOutput(jobErr), jobErr.Error()); err != nil {
			logger.WithFields(StructFields(*job)).Error("Failed to archive failed job: ", err)
			return
		}

		p.announceFinished(job, jobErr)
		logger.WithFields(StructFields(*job)).Info("Job failed, removed from queue")
		return
	}

	retries++
	if err := p.db.UpdateJobRetries(job, retries); err != nil {
		logger.WithFields(StructFields(*job)).Error("Failed to update job retries: ", err)
		return
	}

	p.queue.Enqueue(*job)
	logger.WithFields(StructFields(*job)).Info("Requeued job (back of the queue, retrying)")
}

func (p *PoolWorker) announceFinished(job *Job, jobErr error) {
	packet := WsJobFinished{
		WsBaseMessage: WsBaseMessage{Type: "job_finished"},
		JobID:         job.ID,
		Failed:        jobErr != nil,
	}
	if jobErr != nil {
		packet.Error = jobErr.Error()
	}

	p.hub.BroadcastMessage(packet)
}
