package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

func CopyFile(src string, dest string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer destFile.Close()

	_, err = io.Copy(destFile, sourceFile)
	if err != nil {
		return err
	}

	return destFile.Sync()
}

func IsSamePath(p1 string, p2 string) (bool, error) {
	absPath1, err := filepath.Abs(p1)
	if err != nil {
		return false, err
	}

	absPath2, err := filepath.Abs(p2)
	if err != nil {
		return false, err
	}

	// Compare the absolute paths
	return absPath1 == absPath2, nil
}

func FileExist(f string) (bool, error) {
	if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
		return false, nil
	} else if err != nil {
		return false, err
	}

	return true, nil
}

// countFrames counts the extracted png frames in a working directory.
func countFrames(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".png") {
			count++
		}
	}

	return count, nil
}

// binaryAvailable resolves a tool either as an explicit path or through
// PATH lookup when the configured value has no separator.
func binaryAvailable(bin string) bool {
	if strings.ContainsRune(bin, os.PathSeparator) {
		exist, err := FileExist(bin)
		return err == nil && exist
	}

	_, err := exec.LookPath(bin)
	return err == nil
}

// CheckDependencies fails fast when a required external tool or the
// process folder is unusable. The interpolation binary is only required
// for slow-motion runs.
func CheckDependencies(config *Config, needRife bool) error {
	var missing []string

	if !binaryAvailable(config.FfmpegBinary) {
		missing = append(missing, fmt.Sprintf("ffmpeg not found at %q", config.FfmpegBinary))
	}

	if !binaryAvailable(config.FfprobeBinary) {
		missing = append(missing, fmt.Sprintf("ffprobe not found at %q", config.FfprobeBinary))
	}

	if needRife && !binaryAvailable(config.RifeBinary) {
		missing = append(missing, fmt.Sprintf("interpolation binary not found at %q", config.RifeBinary))
	}

	if err := os.MkdirAll(config.ProcessFolder, os.ModePerm); err != nil {
		missing = append(missing, fmt.Sprintf("process folder %q not usable: %v", config.ProcessFolder, err))
	}

	if len(missing) > 0 {
		return &DependencyError{Missing: missing}
	}

	return nil
}
