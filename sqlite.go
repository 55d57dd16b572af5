package main

import (
	"context"
	"database/sql"
	"embed"
	"io/fs"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

type Sqlite struct {
	pool *sql.DB
}

func NewSqlite(path string) (Sqlite, error) {
	pool, err := sql.Open("sqlite", path)
	if err != nil {
		return Sqlite{}, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	if err := pool.PingContext(ctx); err != nil {
		return Sqlite{}, err
	}

	return Sqlite{
		pool: pool,
	}, nil
}

//go:embed migrations/*.sql
var embedMigrations embed.FS

func (s *Sqlite) RunMigrations() error {
	migrationFs, err := fs.Sub(embedMigrations, "migrations")
	if err != nil {
		return err
	}

	d, err := iofs.New(migrationFs, ".")
	if err != nil {
		return err
	}

	driver, err := sqlite3.WithInstance(s.pool, &sqlite3.Config{})
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance("iofs", d, "sqlite3", driver)
	if err != nil {
		return err
	}

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return err
	}

	return nil
}

func (s *Sqlite) Close() error {
	return s.pool.Close()
}

// GetPendingJobs loads the jobs that still need a pipeline run, in
// insertion order.
func (s *Sqlite) GetPendingJobs() ([]Job, error) {
	querySQL := `SELECT id, mode, path, output_path, multiplier, prompt, duration_seconds, no_concat
				FROM jobs WHERE done = false AND failed = false ORDER BY id`
	rows, err := s.pool.Query(querySQL)
	if err != nil {
		return []Job{}, err
	}

	defer rows.Close()
	jobs := []Job{}
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.ID, &j.Mode, &j.Path, &j.OutputPath, &j.Multiplier, &j.Prompt, &j.DurationSeconds, &j.NoConcat); err != nil {
			return jobs, err
		}
		jobs = append(jobs, j)
	}

	if err := rows.Err(); err != nil {
		return []Job{}, err
	}

	return jobs, nil
}

func (s *Sqlite) InsertJob(job *Job) (int64, error) {
	insertSQL := `INSERT INTO jobs (mode, path, output_path, multiplier, prompt, duration_seconds, no_concat, done)
				VALUES (?, ?, ?, ?, ?, ?, ?, false)`
	statement, err := s.pool.Prepare(insertSQL)
	if err != nil {
		return 0, err
	}

	defer statement.Close()
	result, err := statement.Exec(job.Mode, job.Path, job.OutputPath, job.Multiplier, job.Prompt, job.DurationSeconds, job.NoConcat)
	if err != nil {
		return 0, err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}

	job.ID = id
	return id, nil
}

func (s *Sqlite) MarkJobAsDone(job *Job) error {
	updateSQL := `UPDATE jobs SET done = true WHERE id = ?`
	statement, err := s.pool.Prepare(updateSQL)
	if err != nil {
		return err
	}
	defer statement.Close()

	_, err = statement.Exec(job.ID)
	return err
}

func (s *Sqlite) GetJobRetries(job *Job) (int, error) {
	getRetrySQL := `SELECT retries FROM jobs WHERE id = ?`
	statement, err := s.pool.Prepare(getRetrySQL)
	if err != nil {
		return 0, err
	}
	defer statement.Close()

	retries := 0
	err = statement.QueryRow(job.ID).Scan(&retries)
	if err != nil {
		return 0, err
	}

	return retries, nil
}

func (s *Sqlite) UpdateJobRetries(job *Job, retries int) error {
	updateSQL := `UPDATE jobs SET retries = ? WHERE id = ?`
	statement, err := s.pool.Prepare(updateSQL)
	if err != nil {
		return err
	}
	defer statement.Close()

	_, err = statement.Exec(retries, job.ID)
	return err
}

// FailJob archives the job's diagnostics and marks it failed, in one
// transaction.
func (s *Sqlite) FailJob(job *Job, output string, jobErr string) error {
	tx, err := s.pool.Begin()
	if err != nil {
		return err
	}

	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	insertSQL := `INSERT INTO failed_jobs (job_id, tool_output, error) VALUES (?, ?, ?)`
	statement, err := tx.Prepare(insertSQL)
	if err != nil {
		return err
	}

	defer statement.Close()
	if _, err = statement.Exec(job.ID, output, jobErr); err != nil {
		return err
	}

	markFailedSQL := `UPDATE jobs SET failed = true WHERE id = ?`
	markStatement, err := tx.Prepare(markFailedSQL)
	if err != nil {
		return err
	}
	defer markStatement.Close()

	if _, err = markStatement.Exec(job.ID); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *Sqlite) DeleteJobByID(id int64) error {
	deleteSQL := `DELETE FROM jobs WHERE id = ?`
	statement, err := s.pool.Prepare(deleteSQL)
	if err != nil {
		return err
	}

	defer statement.Close()
	_, err = statement.Exec(id)
	return err
}

func (s *Sqlite) GetFailedJobs() ([]FailedJob, error) {
	querySQL := `SELECT f.id, f.tool_output, f.error, j.id, j.mode, j.path, j.output_path, j.multiplier, j.prompt
				FROM failed_jobs f
				INNER JOIN jobs j ON j.id = f.job_id`
	rows, err := s.pool.Query(querySQL)
	if err != nil {
		return []FailedJob{}, err
	}

	defer rows.Close()
	jobs := []FailedJob{}
	for rows.Next() {
		var f FailedJob
		if err := rows.Scan(&f.ID, &f.ToolOutput, &f.Error, &f.Job.ID, &f.Job.Mode, &f.Job.Path, &f.Job.OutputPath, &f.Job.Multiplier, &f.Job.Prompt); err != nil {
			return jobs, err
		}
		jobs = append(jobs, f)
	}

	if err := rows.Err(); err != nil {
		return []FailedJob{}, err
	}

	return jobs, nil
}
