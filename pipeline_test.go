package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertProcessFolderEmpty(t *testing.T, config *Config) {
	t.Helper()

	entries, err := os.ReadDir(config.ProcessFolder)
	require.NoError(t, err)
	assert.Empty(t, entries, "working directories must be removed")
}

func TestProcessVideoSuccess(t *testing.T) {
	config := testConfig(t)
	inputPath := makeInputVideo(t)
	outputPath := filepath.Join(t.TempDir(), "out.mp4")

	var stages []string
	progress := func(stage string, fraction float64) {
		assert.GreaterOrEqual(t, fraction, 0.0)
		assert.LessOrEqual(t, fraction, 1.0)
		stages = append(stages, stage)
	}

	pipeline := NewPipeline(config, CreateLogger("test"))
	err := pipeline.ProcessVideo(context.Background(), inputPath, outputPath, 4, progress)
	require.NoError(t, err)

	exist, err := FileExist(outputPath)
	require.NoError(t, err)
	assert.True(t, exist)

	assert.Equal(t, 2, callCount(t, config.RifeBinary), "4x needs exactly two passes")
	assertProcessFolderEmpty(t, config)

	assert.Contains(t, stages, StageProbe)
	assert.Contains(t, stages, StageExtract)
	assert.Contains(t, stages, StageInterpolate)
	assert.Contains(t, stages, StageReassemble)
	assert.Equal(t, StageFinalize, stages[len(stages)-1])
}

func TestProcessVideoReassembleFailure(t *testing.T) {
	t.Setenv("FAKE_FFMPEG_FAIL_ENCODE", "1")

	config := testConfig(t)
	inputPath := makeInputVideo(t)
	outputPath := filepath.Join(t.TempDir(), "out.mp4")

	pipeline := NewPipeline(config, CreateLogger("test"))
	err := pipeline.ProcessVideo(context.Background(), inputPath, outputPath, 2, nil)
	require.Error(t, err)

	var pipelineErr *PipelineError
	require.True(t, errors.As(err, &pipelineErr))
	assert.Equal(t, StageReassemble, pipelineErr.Stage)

	var encodeErr *EncodingError
	require.True(t, errors.As(err, &encodeErr))
	assert.Contains(t, encodeErr.Output, "encoder exploded")

	assertProcessFolderEmpty(t, config)

	exist, err := FileExist(outputPath)
	require.NoError(t, err)
	assert.False(t, exist, "a failed run must not leave a final output file")
}

func TestProcessVideoInvalidMultiplierRunsNothing(t *testing.T) {
	config := testConfig(t)
	inputPath := makeInputVideo(t)

	pipeline := NewPipeline(config, CreateLogger("test"))
	err := pipeline.ProcessVideo(context.Background(), inputPath, filepath.Join(t.TempDir(), "out.mp4"), 3, nil)

	var configErr *ConfigError
	require.True(t, errors.As(err, &configErr))

	assert.Equal(t, 0, callCount(t, config.FfmpegBinary))
	assert.Equal(t, 0, callCount(t, config.FfprobeBinary))
	assert.Equal(t, 0, callCount(t, config.RifeBinary))
}

func TestProcessVideoMissingInput(t *testing.T) {
	config := testConfig(t)

	pipeline := NewPipeline(config, CreateLogger("test"))
	err := pipeline.ProcessVideo(context.Background(), "/nowhere/input.mp4", filepath.Join(t.TempDir(), "out.mp4"), 2, nil)

	var configErr *ConfigError
	assert.True(t, errors.As(err, &configErr))
}

func TestProcessVideoMissingDependency(t *testing.T) {
	config := testConfig(t)
	config.RifeBinary = filepath.Join(t.TempDir(), "missing-rife")

	pipeline := NewPipeline(config, CreateLogger("test"))
	err := pipeline.ProcessVideo(context.Background(), makeInputVideo(t), filepath.Join(t.TempDir(), "out.mp4"), 2, nil)

	var pipelineErr *PipelineError
	require.True(t, errors.As(err, &pipelineErr))
	assert.Equal(t, StageDependencies, pipelineErr.Stage)

	var depErr *DependencyError
	assert.True(t, errors.As(err, &depErr))
}

func newContinuationServer(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/v2/test-endpoint/run", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"id": "job-1", "status": "IN_QUEUE"})
	})
	mux.HandleFunc("/v2/test-endpoint/status/job-1", func(w http.ResponseWriter, r *http.Request) {
		video := base64.StdEncoding.EncodeToString([]byte("fakevideo"))
		fmt.Fprintf(w, `{"id":"job-1","status":"COMPLETED","output":{"video":"%s"}}`, video)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestContinueVideoSuccess(t *testing.T) {
	server := newContinuationServer(t)

	config := testConfig(t)
	config.RunPod = RunPodConfig{
		APIKey:              "test-key",
		EndpointID:          "test-endpoint",
		BaseURL:             server.URL,
		PollIntervalSeconds: 1,
		TimeoutSeconds:      5,
	}

	inputPath := makeInputVideo(t)
	outputPath := filepath.Join(t.TempDir(), "extended.mp4")

	pipeline := NewPipeline(config, CreateLogger("test"))
	err := pipeline.ContinueVideo(context.Background(), inputPath, outputPath, ContinuationOptions{
		Prompt:          "the camera keeps panning",
		DurationSeconds: 2,
	}, nil)
	require.NoError(t, err)

	exist, err := FileExist(outputPath)
	require.NoError(t, err)
	assert.True(t, exist)

	assertProcessFolderEmpty(t, config)
}

func TestContinueVideoNoConcatCopiesGeneratedClip(t *testing.T) {
	server := newContinuationServer(t)

	config := testConfig(t)
	config.RunPod = RunPodConfig{
		APIKey:              "test-key",
		EndpointID:          "test-endpoint",
		BaseURL:             server.URL,
		PollIntervalSeconds: 1,
		TimeoutSeconds:      5,
	}

	outputPath := filepath.Join(t.TempDir(), "generated.mp4")

	pipeline := NewPipeline(config, CreateLogger("test"))
	err := pipeline.ContinueVideo(context.Background(), makeInputVideo(t), outputPath, ContinuationOptions{
		NoConcat: true,
	}, nil)
	require.NoError(t, err)

	data, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	assert.Equal(t, "fakevideo", string(data), "no-concat output is the generated clip itself")

	assertProcessFolderEmpty(t, config)
}

func TestContinueVideoRemoteFailureCleansUp(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/test-endpoint/run", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"id": "job-1", "status": "IN_QUEUE"})
	})
	mux.HandleFunc("/v2/test-endpoint/status/job-1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"id": "job-1", "status": "FAILED", "error": "out of VRAM"})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	config := testConfig(t)
	config.RunPod = RunPodConfig{
		APIKey:              "test-key",
		EndpointID:          "test-endpoint",
		BaseURL:             server.URL,
		PollIntervalSeconds: 1,
		TimeoutSeconds:      5,
	}

	outputPath := filepath.Join(t.TempDir(), "extended.mp4")

	pipeline := NewPipeline(config, CreateLogger("test"))
	err := pipeline.ContinueVideo(context.Background(), makeInputVideo(t), outputPath, ContinuationOptions{
		DurationSeconds: 2,
	}, nil)
	require.Error(t, err)

	var pipelineErr *PipelineError
	require.True(t, errors.As(err, &pipelineErr))
	assert.Equal(t, StageGenerate, pipelineErr.Stage)

	var remoteErr *RemoteJobError
	require.True(t, errors.As(err, &remoteErr))
	assert.Contains(t, remoteErr.Message, "out of VRAM")

	// The conditioning frame's working directory is gone and no partial
	// output was left behind
	assertProcessFolderEmpty(t, config)

	exist, err := FileExist(outputPath)
	require.NoError(t, err)
	assert.False(t, exist)
}

func TestContinueVideoMissingCredentials(t *testing.T) {
	config := testConfig(t)

	pipeline := NewPipeline(config, CreateLogger("test"))
	err := pipeline.ContinueVideo(context.Background(), makeInputVideo(t), filepath.Join(t.TempDir(), "out.mp4"), ContinuationOptions{}, nil)

	var configErr *ConfigError
	assert.True(t, errors.As(err, &configErr))
}

func TestDefaultOutputPath(t *testing.T) {
	assert.Equal(t, "/videos/clip_slomo4x.mp4", defaultOutputPath("/videos/clip.mp4", false, 4))
	assert.Equal(t, "/videos/clip_extended.mp4", defaultOutputPath("/videos/clip.mp4", true, 0))
}
