package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// JobStatus is the remote job state as reported by the serverless
// endpoint.
type JobStatus string

const (
	StatusInQueue    JobStatus = "IN_QUEUE"
	StatusInProgress JobStatus = "IN_PROGRESS"
	StatusCompleted  JobStatus = "COMPLETED"
	StatusFailed     JobStatus = "FAILED"
	StatusCancelled  JobStatus = "CANCELLED"
	StatusTimedOut   JobStatus = "TIMED_OUT"
)

func (s JobStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	default:
		return false
	}
}

const defaultNegativePrompt = "blurry, low quality, distorted, inconsistent"

// GenerationParams are the conditioning parameters sent with a
// continuation job.
type GenerationParams struct {
	Prompt         string
	NegativePrompt string
	NumFrames      int
	InferenceSteps int
	GuidanceScale  float64
	Seed           *int64
}

type generationInput struct {
	Image             string  `json:"image"`
	Prompt            string  `json:"prompt"`
	NegativePrompt    string  `json:"negative_prompt"`
	NumFrames         int     `json:"num_frames"`
	NumInferenceSteps int     `json:"num_inference_steps"`
	GuidanceScale     float64 `json:"guidance_scale"`
	Seed              *int64  `json:"seed,omitempty"`
}

type submitRequest struct {
	Input generationInput `json:"input"`
}

type jobResponse struct {
	ID     string          `json:"id"`
	Status JobStatus       `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  string          `json:"error"`
}

type jobOutput struct {
	VideoURL string `json:"video_url"`
	Video    string `json:"video"`
}

type StatusProgressFunc func(status string)

// RunPodClient talks to a RunPod style serverless job queue: submit a
// payload, poll the job id, fetch the result asset.
type RunPodClient struct {
	baseURL      string
	apiKey       string
	endpointID   string
	pollInterval time.Duration
	timeout      time.Duration
	http         *http.Client
	logger       *logrus.Entry
}

func NewRunPodClient(config RunPodConfig) *RunPodClient {
	return &RunPodClient{
		baseURL:      config.BaseURL,
		apiKey:       config.APIKey,
		endpointID:   config.EndpointID,
		pollInterval: time.Duration(config.PollIntervalSeconds) * time.Second,
		timeout:      time.Duration(config.TimeoutSeconds) * time.Second,
		http:         &http.Client{Timeout: 60 * time.Second},
		logger:       CreateLogger("runpod"),
	}
}

func (c *RunPodClient) endpointURL(operation string) string {
	return fmt.Sprintf("%s/v2/%s/%s", c.baseURL, c.endpointID, operation)
}

func (c *RunPodClient) doJSON(ctx context.Context, method string, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.http.Do(req)
}

// Submit sends the conditioning image and generation parameters to the
// job queue and returns the remote job id.
func (c *RunPodClient) Submit(ctx context.Context, imagePath string, params GenerationParams) (string, error) {
	imageData, err := os.ReadFile(imagePath)
	if err != nil {
		return "", &SubmissionError{Body: fmt.Sprintf("reading conditioning image: %v", err)}
	}

	if params.NegativePrompt == "" {
		params.NegativePrompt = defaultNegativePrompt
	}

	payload := submitRequest{
		Input: generationInput{
			Image:             base64.StdEncoding.EncodeToString(imageData),
			Prompt:            params.Prompt,
			NegativePrompt:    params.NegativePrompt,
			NumFrames:         params.NumFrames,
			NumInferenceSteps: params.InferenceSteps,
			GuidanceScale:     params.GuidanceScale,
			Seed:              params.Seed,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	resp, err := c.doJSON(ctx, http.MethodPost, c.endpointURL("run"), bytes.NewReader(body))
	if err != nil {
		return "", &SubmissionError{Body: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &SubmissionError{StatusCode: resp.StatusCode, Body: fmt.Sprintf("reading response: %v", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &SubmissionError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var job jobResponse
	if err := json.Unmarshal(respBody, &job); err != nil {
		return "", &SubmissionError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if job.ID == "" {
		return "", &SubmissionError{StatusCode: resp.StatusCode, Body: "response carried no job id"}
	}

	c.logger.WithField("jobId", job.ID).Info("Submitted continuation job")
	return job.ID, nil
}

// PollStatus fetches the current state of a remote job.
func (c *RunPodClient) PollStatus(ctx context.Context, jobID string) (*jobResponse, error) {
	resp, err := c.doJSON(ctx, http.MethodGet, c.endpointURL("status/"+jobID), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status poll returned %d: %s", resp.StatusCode, respBody)
	}

	var job jobResponse
	if err := json.Unmarshal(respBody, &job); err != nil {
		return nil, fmt.Errorf("parsing status response: %v", err)
	}

	return &job, nil
}

// WaitForCompletion polls the job at a fixed interval until it reaches a
// terminal state or the configured bound elapses. The progress callback
// gets the raw status string on every poll so callers can show liveness.
func (c *RunPodClient) WaitForCompletion(ctx context.Context, jobID string, progress StatusProgressFunc) (*jobResponse, error) {
	deadline := time.Now().Add(c.timeout)

	for {
		job, err := c.PollStatus(ctx, jobID)
		if err != nil {
			return nil, err
		}

		if progress != nil {
			progress(string(job.Status))
		}

		switch job.Status {
		case StatusCompleted:
			return job, nil
		case StatusFailed, StatusCancelled, StatusTimedOut:
			return nil, &RemoteJobError{Status: job.Status, Message: job.Error}
		}

		if time.Now().After(deadline) {
			return nil, &TimeoutError{Waited: c.timeout}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
}

// SaveResult writes the completed job's video asset to outputPath. The
// endpoint returns either a download URL or the video inline as base64.
func (c *RunPodClient) SaveResult(ctx context.Context, job *jobResponse, outputPath string) error {
	if len(job.Output) == 0 {
		return &DownloadError{Reason: "completed job carried no output"}
	}

	var structured jobOutput
	if err := json.Unmarshal(job.Output, &structured); err == nil {
		if structured.VideoURL != "" {
			return c.downloadFromURL(ctx, structured.VideoURL, outputPath)
		}
		if structured.Video != "" {
			return writeBase64Video(structured.Video, outputPath)
		}
	}

	// Some handlers return the base64 payload as a bare string
	var inline string
	if err := json.Unmarshal(job.Output, &inline); err == nil && inline != "" {
		return writeBase64Video(inline, outputPath)
	}

	return &DownloadError{Reason: "unrecognized output payload"}
}

func (c *RunPodClient) downloadFromURL(ctx context.Context, url string, outputPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &DownloadError{Reason: "building download request", Err: err}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &DownloadError{Reason: "fetching result asset", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &DownloadError{Reason: fmt.Sprintf("result fetch returned %d", resp.StatusCode)}
	}

	file, err := os.Create(outputPath)
	if err != nil {
		return &DownloadError{Reason: "creating output file", Err: err}
	}
	defer file.Close()

	written, err := io.Copy(file, resp.Body)
	if err != nil {
		return &DownloadError{Reason: "transfer interrupted", Err: err}
	}

	if written == 0 {
		return &DownloadError{Reason: "result asset is empty"}
	}

	return file.Sync()
}

func writeBase64Video(encoded string, outputPath string) error {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return &DownloadError{Reason: "decoding inline video payload", Err: err}
	}

	if len(data) == 0 {
		return &DownloadError{Reason: "inline video payload is empty"}
	}

	if err := os.WriteFile(outputPath, data, 0o644); err != nil {
		return &DownloadError{Reason: "writing output file", Err: err}
	}

	return nil
}

// GenerateContinuation runs the full remote round trip: submit the
// conditioning image, wait for a terminal state, download the asset.
func (c *RunPodClient) GenerateContinuation(ctx context.Context, imagePath string, params GenerationParams, outputPath string, progress StatusProgressFunc) error {
	jobID, err := c.Submit(ctx, imagePath, params)
	if err != nil {
		return err
	}

	job, err := c.WaitForCompletion(ctx, jobID, progress)
	if err != nil {
		return err
	}

	return c.SaveResult(ctx, job, outputPath)
}
