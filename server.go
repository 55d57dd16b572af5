package main

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Server is the service-mode HTTP surface: job CRUD over the queue plus
// a websocket endpoint for progress updates.
type Server struct {
	queue  *Queue
	db     *Sqlite
	hub    *Hub
	pool   *PoolWorker
	logger *logrus.Entry
}

func NewServer(queue *Queue, db *Sqlite, hub *Hub, pool *PoolWorker) *Server {
	return &Server{
		queue:  queue,
		db:     db,
		hub:    hub,
		pool:   pool,
		logger: CreateLogger("http"),
	}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(s.logger))

	r.GET("/ping", s.ping)
	r.GET("/status", s.status)
	r.GET("/jobs", s.listJobs)
	r.POST("/jobs", s.addJob)
	r.DELETE("/jobs/:id", s.removeJob)
	r.GET("/jobs/failed", s.listFailedJobs)
	r.GET("/ws", s.hub.HandleConnections)

	return r
}

func (s *Server) ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "pong",
	})
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"activeJobs": s.pool.ActiveJobs(),
		"queuedJobs": s.queue.Len(),
	})
}

func (s *Server) listJobs(c *gin.Context) {
	c.JSON(http.StatusOK, s.queue.GetJobs())
}

func (s *Server) addJob(c *gin.Context) {
	var job Job

	if err := c.ShouldBindJSON(&job); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	switch job.Mode {
	case ModeSlowMotion:
		if err := validateMultiplier(job.Multiplier); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	case ModeContinuation:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "mode must be slowmo or continue"})
		return
	}

	if _, err := s.db.InsertJob(&job); err != nil {
		s.logger.Error("Failed to insert job: ", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist job"})
		return
	}

	s.logger.WithFields(StructFields(job)).Debug("Job added")
	s.queue.Enqueue(job)

	c.JSON(http.StatusCreated, job)
}

func (s *Server) removeJob(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, found := s.queue.RemoveByID(id)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not queued"})
		return
	}

	if err := s.db.DeleteJobByID(job.ID); err != nil {
		s.logger.Error("Failed to delete job: ", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete job"})
		return
	}

	c.JSON(http.StatusOK, job)
}

func (s *Server) listFailedJobs(c *gin.Context) {
	jobs, err := s.db.GetFailedJobs()
	if err != nil {
		s.logger.Error("Failed to list failed jobs: ", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list failed jobs"})
		return
	}

	c.JSON(http.StatusOK, jobs)
}
