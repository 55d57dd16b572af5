package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// ProgressFunc reports the current stage and an overall completion
// fraction in [0, 1].
type ProgressFunc func(stage string, fraction float64)

func report(progress ProgressFunc, stage string, fraction float64) {
	if progress != nil {
		progress(stage, fraction)
	}
}

// Pipeline sequences the external tools for one video at a time. Each
// run owns a working directory under the process folder exclusively and
// removes it on both success and failure.
type Pipeline struct {
	config *Config
	logger *logrus.Entry
}

func NewPipeline(config *Config, logger *logrus.Entry) *Pipeline {
	return &Pipeline{
		config: config,
		logger: logger,
	}
}

func (p *Pipeline) newWorkDir() string {
	return filepath.Join(p.config.ProcessFolder, uuid.NewString())
}

// cleanupRun removes the run's working directory and, after a failure,
// any partial final output. Cleanup problems are logged, never allowed
// to mask the stage error.
func (p *Pipeline) cleanupRun(workDir string, outputPath string, failed bool) {
	var merr *multierror.Error

	if err := os.RemoveAll(workDir); err != nil {
		merr = multierror.Append(merr, err)
	}

	if failed && outputPath != "" {
		if exist, _ := FileExist(outputPath); exist {
			if err := os.Remove(outputPath); err != nil {
				merr = multierror.Append(merr, err)
			}
		}
	}

	if err := merr.ErrorOrNil(); err != nil {
		p.logger.Warn("Cleanup after run failed: ", err)
	}
}

// ProcessVideo runs the slow-motion pipeline: probe, extract frames,
// chain interpolation passes, reassemble at the probed frame rate. The
// slow-motion effect comes purely from the increased frame count at a
// constant playback rate.
func (p *Pipeline) ProcessVideo(ctx context.Context, inputPath string, outputPath string, multiplier int, progress ProgressFunc) (err error) {
	// Argument validation happens before anything touches the system
	if err := validateMultiplier(multiplier); err != nil {
		return err
	}

	if exist, statErr := FileExist(inputPath); statErr != nil || !exist {
		return &ConfigError{Msg: "input file not found: " + inputPath}
	}

	if err := CheckDependencies(p.config, true); err != nil {
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
		"frames":     info.FrameCount,
		"multiplier": multiplier,
	}).Info("Processing video")

	report(progress, StageExtract, 0.05)
	inputFrames := filepath.Join(workDir, "input_frames")
	extracted, err := ExtractFrames(ctx, p.config.FfmpegBinary, inputPath, inputFrames)
	if err != nil {
		return &PipelineError{Stage: StageExtract, Err: err}
	}
	p.logger.WithField("frames", extracted).Debug("Frames extracted")

	report(progress, StageInterpolate, 0.3)
	outputFrames := filepath.Join(workDir, "output_frames")
	passProgress := func(pass, totalPasses int) {
		p.logger.WithFields(logrus.Fields{"pass": pass, "totalPasses": totalPasses}).Info("Interpolation pass finished")
		report(progress, StageInterpolate, 0.3+0.6*float64(pass)/float64(totalPasses))
	}

	if err := RunMultiPass(ctx, p.config, inputFrames, outputFrames, multiplier, p.config.Model, passProgress); err != nil {
		return &PipelineError{Stage: StageInterpolate, Err: err}
	}

	report(progress, StageReassemble, 0.9)
	if err := ReassembleVideo(ctx, p.config.FfmpegBinary, outputFrames, info.FPS, outputPath); err != nil {
		return &PipelineError{Stage: StageReassemble, Err: err}
	}

	report(progress, StageFinalize, 1.0)
	p.logger.WithField("output", outputPath).Info("Slow-motion video written")
	return nil
}
