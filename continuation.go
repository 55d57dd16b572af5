package main

import (
	"context"
	"math"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// ContinuationOptions control one AI-continuation run.
type ContinuationOptions struct {
	Prompt          string
	NegativePrompt  string
	DurationSeconds float64
	NoConcat        bool
	InferenceSteps  int
	GuidanceScale   float64
	Seed            *int64
}

// Generated clips come back at a fixed 8 fps, and the endpoint caps a
// single job at 49 frames.
const (
	generatedFPS       = 8.0
	maxGeneratedFrames = 49
	minGeneratedFrames = 9
)

// framesForDuration converts the requested continuation length into the
// frame count asked of the remote model, clamped to its limits.
func framesForDuration(seconds float64) int {
	if seconds <= 0 {
		return maxGeneratedFrames
	}

	frames := int(math.Round(seconds*generatedFPS)) + 1
	if frames > maxGeneratedFrames {
		return maxGeneratedFrames
	}
	if frames < minGeneratedFrames {
		return minGeneratedFrames
	}
	return frames
}

// codecMatches reports whether two clips can be stream-copy
// concatenated without re-encoding.
func codecMatches(a *VideoInfo, b *VideoInfo) bool {
	return a.Codec == b.Codec &&
		a.Width == b.Width &&
		a.Height == b.Height &&
		math.Abs(a.FPS-b.FPS) < 0.01
}

// ContinueVideo extends the input video with AI-generated footage: the
// last frame conditions a remote generation job, and the generated clip
// is appended to the original unless NoConcat is set. The conditioning
// frame and every other temp file live in the run's working directory,
// which is removed regardless of outcome.
func (p *Pipeline) ContinueVideo(ctx context.Context, inputPath string, outputPath string, opts ContinuationOptions, progress ProgressFunc) (err error) {
	if err := requireCredentials(&p.config.RunPod); err != nil {
		return err
	}

	if exist, statErr := FileExist(inputPath); statErr != nil || !exist {
		return &ConfigError{Msg: "input file not found: " + inputPath}
	}

	if err := CheckDependencies(p.config, false); err != nil {
		return &PipelineError{Stage: StageDependencies, Err: err}
	}

	workDir := p.newWorkDir()
	defer func() {
		p.cleanupRun(workDir, outputPath, err != nil)
	}()

	report(progress, StageProbe, 0.0)
	info, err := ProbeVideo(ctx, p.config.FfprobeBinary, inputPath)
	if err != nil {
		return &PipelineError{Stage: StageProbe, Err: err}
	}

	p.logger.WithFields(logrus.Fields{
		"resolution": info.Resolution(),
		"fps":        info.FPS,
		"duration":   info.Duration,
	}).Info("Continuing video")

	report(progress, StageLastFrame, 0.05)
	conditioningFrame := filepath.Join(workDir, "last_frame.png")
	if err := ExtractLastFrame(ctx, p.config.FfmpegBinary, inputPath, conditioningFrame); err != nil {
		return &PipelineError{Stage: StageLastFrame, Err: err}
	}

	report(progress, StageGenerate, 0.1)
	params := GenerationParams{
		Prompt:         opts.Prompt,
		NegativePrompt: opts.NegativePrompt,
		NumFrames:      framesForDuration(opts.DurationSeconds),
		InferenceSteps: opts.InferenceSteps,
		GuidanceScale:  opts.GuidanceScale,
		Seed:           opts.Seed,
	}
	if params.InferenceSteps == 0 {
		params.InferenceSteps = 50
	}
	if params.GuidanceScale == 0 {
		params.GuidanceScale = 6.0
	}

	client := NewRunPodClient(p.config.RunPod)
	generated := filepath.Join(workDir, "continuation_raw.mp4")
	statusProgress := func(status string) {
		p.logger.WithField("status", status).Debug("Remote job status")
		report(progress, StageGenerate, 0.1)
	}

	if err := client.GenerateContinuation(ctx, conditioningFrame, params, generated, statusProgress); err != nil {
		return &PipelineError{Stage: StageGenerate, Err: err}
	}

	// Re-encode only when the generated clip does not already match the
	// original's codec parameters
	matched := generated
	generatedInfo, err := ProbeVideo(ctx, p.config.FfprobeBinary, generated)
	if err != nil {
		return &PipelineError{Stage: StageGenerate, Err: err}
	}

	if !opts.NoConcat && !codecMatches(info, generatedInfo) {
		report(progress, StageReencode, 0.8)
		matched = filepath.Join(workDir, "continuation_matched.mp4")
		if err := ReencodeVideo(ctx, p.config.FfmpegBinary, generated, matched, info.FPS, info.Width, info.Height); err != nil {
			return &PipelineError{Stage: StageReencode, Err: err}
		}
	}

	if opts.NoConcat {
		report(progress, StageFinalize, 0.9)
		if err := CopyFile(matched, outputPath); err != nil {
			return &PipelineError{Stage: StageFinalize, Err: err}
		}
	} else {
		report(progress, StageConcat, 0.9)
		if err := ConcatVideos(ctx, p.config.FfmpegBinary, inputPath, matched, outputPath); err != nil {
			return &PipelineError{Stage: StageConcat, Err: err}
		}
	}

	report(progress, StageFinalize, 1.0)
	p.logger.WithField("output", outputPath).Info("Continuation video written")
	return nil
}
