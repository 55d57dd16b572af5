package main

import (
	"sync"
)

type JobMode string

const (
	ModeSlowMotion   JobMode = "slowmo"
	ModeContinuation JobMode = "continue"
)

// Job is one queued pipeline run.
type Job struct {
	ID              int64   `json:"id"`
	Mode            JobMode `json:"mode" binding:"required"`
	Path            string  `json:"path" binding:"required"`
	OutputPath      string  `json:"outputPath" binding:"required"`
	Multiplier      int     `json:"multiplier"`
	Prompt          string  `json:"prompt"`
	DurationSeconds float64 `json:"durationSeconds"`
	NoConcat        bool    `json:"noConcat"`
	Done            bool    `json:"done"`
	Failed          bool    `json:"failed"`
}

// FailedJob archives a job together with the diagnostics of its last
// attempt.
type FailedJob struct {
	ID         int64  `json:"id"`
	ToolOutput string `json:"toolOutput"`
	Error      string `json:"error"`
	Job        Job    `json:"job"`
}

// Queue is the in-memory view of pending jobs. Persistence lives in
// sqlite, the queue mirrors it and pushes updates to websocket clients.
type Queue struct {
	jobs []Job
	hub  *Hub
	lock sync.Mutex
}

func NewQueue(jobs []Job, hub *Hub) Queue {
	return Queue{
		jobs: jobs,
		hub:  hub,
	}
}

func (q *Queue) GetJobs() []Job {
	q.lock.Lock()
	defer q.lock.Unlock()

	jobs := make([]Job, len(q.jobs))
	copy(jobs, q.jobs)
	return jobs
}

func (q *Queue) Len() int {
	q.lock.Lock()
	defer q.lock.Unlock()

	return len(q.jobs)
}

func (q *Queue) Enqueue(job Job) {
	q.lock.Lock()
	defer q.lock.Unlock()

	q.jobs = append(q.jobs, job)
	q.sendUpdate()
}

func (q *Queue) Peek() (Job, bool) {
	q.lock.Lock()
	defer q.lock.Unlock()

	if len(q.jobs) == 0 {
		return Job{}, false
	}

	return q.jobs[0], true
}

func (q *Queue) Dequeue() (Job, bool) {
	q.lock.Lock()
	defer q.lock.Unlock()

	if len(q.jobs) == 0 {
		return Job{}, false
	}

	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	q.sendUpdate()
	return job, true
}

func (q *Queue) RemoveByID(id int64) (Job, bool) {
	q.lock.Lock()
	defer q.lock.Unlock()

	job, index := q.findByIDInternal(id)
	if index == -1 {
		return Job{}, false
	}

	q.jobs = append(q.jobs[:index], q.jobs[index+1:]...)
	q.sendUpdate()
	return job, true
}

func (q *Queue) FindByID(id int64) (Job, int) {
	q.lock.Lock()
	defer q.lock.Unlock()

	return q.findByIDInternal(id)
}

func (q *Queue) findByIDInternal(id int64) (Job, int) {
	for i, job := range q.jobs {
		if job.ID == id {
			return job, i
		}
	}

	return Job{}, -1
}

func (q *Queue) sendUpdate() {
	if q.hub == nil {
		return
	}

	packet := WsQueueUpdate{
		WsBaseMessage: WsBaseMessage{
			Type: "queue_update",
		},
		Jobs: q.jobs,
	}

	q.hub.BroadcastMessage(packet)
}
