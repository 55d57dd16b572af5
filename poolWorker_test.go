package main

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T) (*PoolWorker, *Queue, *Sqlite) {
	t.Helper()

	db := newTestDB(t)
	hub := NewHub()
	queue := NewQueue(nil, hub)

	var waitGroup sync.WaitGroup
	pool := NewPoolWorker(context.Background(), &queue, db, testConfig(t), hub, &waitGroup)
	return pool, &queue, db
}

func TestHandleJobErrorRequeuesUntilRetryLimit(t *testing.T) {
	pool, queue, db := newTestPool(t)

	job := sampleJob(ModeSlowMotion)
	_, err := db.InsertJob(&job)
	require.NoError(t, err)

	jobErr := &PipelineError{Stage: StageInterpolate, Err: errors.New("interpolation failed")}

	for attempt := 1; attempt <= retryLimit; attempt++ {
		pool.handleJobError(pool.logger, &job, jobErr)

		assert.Equal(t, 1, queue.Len(), "attempt %d should requeue", attempt)

		retries, err := db.GetJobRetries(&job)
		require.NoError(t, err)
		assert.Equal(t, attempt, retries)

		// Drain the requeued copy so the next attempt starts clean
		_, ok := queue.Dequeue()
		require.True(t, ok)
	}

	// Retry budget exhausted, the job is archived instead of requeued
	pool.handleJobError(pool.logger, &job, jobErr)
	assert.Equal(t, 0, queue.Len())

	failed, err := db.GetFailedJobs()
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, job.ID, failed[0].Job.ID)
	assert.Contains(t, failed[0].Error, "interpolation failed")

	pending, err := db.GetPendingJobs()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestHandleJobErrorArchivesToolOutput(t *testing.T) {
	pool, _, db := newTestPool(t)

	job := sampleJob(ModeSlowMotion)
	_, err := db.InsertJob(&job)
	require.NoError(t, err)
	require.NoError(t, db.UpdateJobRetries(&job, retryLimit))

	jobErr := &PipelineError{
		Stage: StageReassemble,
		Err:   &EncodingError{Output: "encoder exploded", Err: errors.New("exit status 1")},
	}
	pool.handleJobError(pool.logger, &job, jobErr)

	failed, err := db.GetFailedJobs()
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "encoder exploded", failed[0].ToolOutput)
}

func TestProcessJobUnknownMode(t *testing.T) {
	pool, _, _ := newTestPool(t)
	pipeline := NewPipeline(pool.config, pool.logger)

	err := pool.processJob(pipeline, 0, &Job{ID: 1, Mode: "transmogrify"})

	var configErr *ConfigError
	assert.True(t, errors.As(err, &configErr))
}
