package main

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Pipeline stage names used for error tagging and progress reporting.
const (
	StageDependencies = "dependencies"
	StageProbe        = "probe"
	StageExtract      = "extract"
	StageInterpolate  = "interpolate"
	StageReassemble   = "reassemble"
	StageLastFrame    = "last_frame"
	StageGenerate     = "generate"
	StageReencode     = "reencode"
	StageConcat       = "concat"
	StageFinalize     = "finalize"
)

// ConfigError signals bad or missing arguments, caught before any
// subprocess is started.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string {
	return "config: " + e.Msg
}

// DependencyError lists external binaries or directories that could not
// be resolved.
type DependencyError struct {
	Missing []string
}

func (e *DependencyError) Error() string {
	return "missing dependencies: " + strings.Join(e.Missing, "; ")
}

// ProbeError wraps a failed or unparseable ffprobe invocation.
type ProbeError struct {
	Output string
	Err    error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probing video: %v", e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// ExtractionError wraps a failed ffmpeg frame extraction.
type ExtractionError struct {
	Output string
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extracting frames: %v", e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// InterpolationError wraps a failed interpolation binary invocation.
type InterpolationError struct {
	Output string
	Err    error
}

func (e *InterpolationError) Error() string {
	return fmt.Sprintf("interpolation pass: %v", e.Err)
}

func (e *InterpolationError) Unwrap() error { return e.Err }

// EncodingError wraps a failed ffmpeg encode, concat or re-encode, or an
// encode that returned success but produced no usable output file.
type EncodingError struct {
	Output string
	Err    error
}

func (e *EncodingError) Error() string {
	return fmt.Sprintf("encoding video: %v", e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// SubmissionError is a non-2xx response to a remote job submission.
type SubmissionError struct {
	StatusCode int
	Body       string
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("job submission rejected with status %d: %s", e.StatusCode, e.Body)
}

// RemoteJobError is a remote job that reached a failed terminal state.
type RemoteJobError struct {
	Status  JobStatus
	Message string
}

func (e *RemoteJobError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote job ended with status %s", e.Status)
	}
	return fmt.Sprintf("remote job ended with status %s: %s", e.Status, e.Message)
}

// TimeoutError is a remote job that did not reach a terminal state
// within the configured bound.
type TimeoutError struct {
	Waited time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("remote job did not finish within %s", e.Waited)
}

// DownloadError is a result asset that could not be fetched or decoded.
type DownloadError struct {
	Reason string
	Err    error
}

func (e *DownloadError) Error() string {
	if e.Err == nil {
		return "downloading result: " + e.Reason
	}
	return fmt.Sprintf("downloading result: %s: %v", e.Reason, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// PipelineError tags a stage failure with the stage that produced it.
// Orchestrators wrap and propagate the underlying error unchanged.
type PipelineError struct {
	Stage string
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// toolOutput digs the captured subprocess output out of an error chain,
// for archiving alongside failed jobs.
func toolOutput(err error) string {
	var probeErr *ProbeError
	if errors.As(err, &probeErr) {
		return probeErr.Output
	}

	var extractErr *ExtractionError
	if errors.As(err, &extractErr) {
		return extractErr.Output
	}

	var interpErr *InterpolationError
	if errors.As(err, &interpErr) {
		return interpErr.Output
	}

	var encodeErr *EncodingError
	if errors.As(err, &encodeErr) {
		return encodeErr.Output
	}

	return ""
}
