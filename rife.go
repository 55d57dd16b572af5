package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// passesForMultiplier maps the requested slow-motion multiplier to the
// number of interpolation passes. The binary only doubles frames per
// invocation, higher multipliers chain passes.
var passesForMultiplier = map[int]int{
	2: 1,
	4: 2,
	8: 3,
}

func validateMultiplier(multiplier int) error {
	if _, ok := passesForMultiplier[multiplier]; !ok {
		return &ConfigError{Msg: fmt.Sprintf("unsupported multiplier %d, must be one of 2, 4 or 8", multiplier)}
	}
	return nil
}

type PassProgressFunc func(pass int, totalPasses int)

// RunSinglePass invokes the interpolation binary once over a directory
// of numbered frames, roughly doubling the frame count.
func RunSinglePass(ctx context.Context, config *Config, inputDir string, outputDir string, model string) error {
	cmd := NewCommandContext(ctx, config.RifeBinary,
		"-i", inputDir,
		"-o", outputDir,
		"-m", model,
		"-g", strconv.Itoa(config.GPUID),
		"-f", framePattern)

	// Models are resolved relative to the binary's directory
	if dir := filepath.Dir(config.RifeBinary); dir != "." {
		cmd.SetDir(dir)
	}

	output, err := cmd.CombinedOutput()
	if err != nil {
		return &InterpolationError{Output: output, Err: err}
	}

	return nil
}

// RunMultiPass chains interpolation passes until the multiplier is
// reached. Intermediate pass directories live next to the final output
// directory and are deleted as soon as their successor pass completes,
// bounding disk usage to two frame generations at a time.
func RunMultiPass(ctx context.Context, config *Config, inputDir string, outputDir string, multiplier int, model string, progress PassProgressFunc) error {
	if err := validateMultiplier(multiplier); err != nil {
		return err
	}

	passes := passesForMultiplier[multiplier]
	current := inputDir

	for pass := 0; pass < passes; pass++ {
		target := outputDir
		if pass < passes-1 {
			target = filepath.Join(filepath.Dir(outputDir), fmt.Sprintf("pass_%d", pass))
		}

		if err := os.MkdirAll(target, os.ModePerm); err != nil {
			return &InterpolationError{Err: err}
		}

		if err := RunSinglePass(ctx, config, current, target, model); err != nil {
			return err
		}

		// The finished pass consumed its input, intermediate inputs are
		// no longer needed
		if current != inputDir {
			if err := os.RemoveAll(current); err != nil {
				return &InterpolationError{Err: err}
			}
		}

		if progress != nil {
			progress(pass+1, passes)
		}

		current = target
	}

	return nil
}
