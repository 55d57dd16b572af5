package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// framePattern is the zero-padded frame naming shared by the extractor,
// the interpolation binary and the reassembler, so lexical and numeric
// order always coincide.
const framePattern = "%08d.png"

type VideoInfo struct {
	Path       string
	Width      int
	Height     int
	FPS        float64
	Duration   float64
	FrameCount int64
	Codec      string
}

func (v *VideoInfo) Resolution() string {
	return fmt.Sprintf("%dx%d", v.Width, v.Height)
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
		FrameRate string `json:"r_frame_rate"`
		Duration  string `json:"duration"`
		NbFrames  string `json:"nb_frames"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func parseProbeOutput(output string) (*VideoInfo, error) {
	var probe ffprobeOutput
	if err := json.Unmarshal([]byte(output), &probe); err != nil {
		return nil, fmt.Errorf("parsing probe output: %v", err)
	}

	streamIndex := -1
	for i, stream := range probe.Streams {
		if stream.CodecType == "video" {
			streamIndex = i
			break
		}
	}

	if streamIndex == -1 {
		return nil, fmt.Errorf("no video stream found")
	}

	stream := probe.Streams[streamIndex]

	parts := strings.Split(stream.FrameRate, "/")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid framerate format %q", stream.FrameRate)
	}

	num, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return nil, fmt.Errorf("parsing framerate numerator: %v", err)
	}

	den, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return nil, fmt.Errorf("parsing framerate denominator: %v", err)
	}

	if den == 0 {
		return nil, fmt.Errorf("zero framerate denominator in %q", stream.FrameRate)
	}

	info := VideoInfo{
		Width:  stream.Width,
		Height: stream.Height,
		FPS:    num / den,
		Codec:  stream.CodecName,
	}

	// The stream duration is preferred, the container duration covers
	// formats that only report it at the format level
	if stream.Duration != "" && stream.Duration != "N/A" {
		info.Duration, _ = strconv.ParseFloat(stream.Duration, 64)
	}
	if info.Duration == 0 && probe.Format.Duration != "" {
		info.Duration, _ = strconv.ParseFloat(probe.Format.Duration, 64)
	}

	if stream.NbFrames != "" && stream.NbFrames != "N/A" {
		info.FrameCount, err = strconv.ParseInt(stream.NbFrames, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing frame count: %v", err)
		}
	}
	if info.FrameCount == 0 {
		info.FrameCount = int64(math.Round(info.FPS * info.Duration))
	}

	return &info, nil
}

// ProbeVideo extracts container metadata from the input file. The
// returned VideoInfo is read-only for the rest of the run.
func ProbeVideo(ctx context.Context, ffprobeBin string, inputPath string) (*VideoInfo, error) {
	cmd := NewCommandContext(ctx, ffprobeBin,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		inputPath)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, &ProbeError{Output: output, Err: err}
	}

	info, err := parseProbeOutput(output)
	if err != nil {
		return nil, &ProbeError{Output: output, Err: err}
	}

	info.Path = inputPath
	return info, nil
}

// ExtractFrames decodes the input video into sequentially numbered png
// files and returns the number of frames written. The destination must
// not pre-exist or must be empty, frame counting cannot tell two
// interleaved extractions apart. Partial output on failure is the
// caller's to clean up.
func ExtractFrames(ctx context.Context, ffmpegBin string, inputPath string, framesDir string) (int, error) {
	if entries, err := os.ReadDir(framesDir); err == nil && len(entries) > 0 {
		return 0, &ExtractionError{Err: fmt.Errorf("frames directory %q is not empty", framesDir)}
	}

	if err := os.MkdirAll(framesDir, os.ModePerm); err != nil {
		return 0, &ExtractionError{Err: err}
	}

	cmd := NewCommandContext(ctx, ffmpegBin,
		"-i", inputPath,
		"-vsync", "0",
		"-q:v", "2",
		filepath.Join(framesDir, framePattern))

	output, err := cmd.CombinedOutput()
	if err != nil {
		return 0, &ExtractionError{Output: output, Err: err}
	}

	count, err := countFrames(framesDir)
	if err != nil {
		return 0, &ExtractionError{Output: output, Err: err}
	}

	if count == 0 {
		return 0, &ExtractionError{Output: output, Err: fmt.Errorf("no frames extracted")}
	}

	return count, nil
}

// ExtractLastFrame grabs the final frame of the input as the
// conditioning image for continuation runs.
func ExtractLastFrame(ctx context.Context, ffmpegBin string, inputPath string, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), os.ModePerm); err != nil {
		return &ExtractionError{Err: err}
	}

	// -sseof seeks from the end of the stream, the last decoded frame
	// within the final second is the one kept
	cmd := NewCommandContext(ctx, ffmpegBin,
		"-y",
		"-sseof", "-1",
		"-i", inputPath,
		"-update", "1",
		"-vframes", "1",
		"-q:v", "2",
		outputPath)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return &ExtractionError{Output: output, Err: err}
	}

	exist, err := FileExist(outputPath)
	if err != nil {
		return &ExtractionError{Output: output, Err: err}
	}

	if !exist {
		return &ExtractionError{Output: output, Err: fmt.Errorf("conditioning frame was not written")}
	}

	return nil
}

func formatFPS(fps float64) string {
	return strconv.FormatFloat(fps, 'f', -1, 64)
}

// verifyEncodedOutput treats a missing or zero-length output file as an
// encode failure even when the tool exited zero.
func verifyEncodedOutput(outputPath string, output string) error {
	stat, err := os.Stat(outputPath)
	if err != nil {
		return &EncodingError{Output: output, Err: fmt.Errorf("output file was not written: %v", err)}
	}

	if stat.Size() == 0 {
		return &EncodingError{Output: output, Err: fmt.Errorf("output file is empty")}
	}

	return nil
}

// ReassembleVideo encodes a directory of numbered frames back into a
// video container at the target frame rate. The audio track is dropped,
// interpolated and AI-generated sources carry no meaningful audio.
func ReassembleVideo(ctx context.Context, ffmpegBin string, framesDir string, fps float64, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), os.ModePerm); err != nil {
		return &EncodingError{Err: err}
	}

	cmd := NewCommandContext(ctx, ffmpegBin,
		"-y",
		"-framerate", formatFPS(fps),
		"-i", filepath.Join(framesDir, framePattern),
		"-c:v", "libx264",
		"-preset", "medium",
		"-crf", "18",
		"-pix_fmt", "yuv420p",
		"-an",
		outputPath)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return &EncodingError{Output: output, Err: err}
	}

	return verifyEncodedOutput(outputPath, output)
}

// ReencodeVideo re-encodes a clip to the given frame rate and
// resolution so it can be stream-copy concatenated with another clip.
func ReencodeVideo(ctx context.Context, ffmpegBin string, inputPath string, outputPath string, fps float64, width int, height int) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), os.ModePerm); err != nil {
		return &EncodingError{Err: err}
	}

	args := []string{
		"-y",
		"-i", inputPath,
		"-c:v", "libx264",
		"-preset", "medium",
		"-crf", "18",
		"-pix_fmt", "yuv420p",
		"-an",
	}

	if fps > 0 {
		args = append(args, "-r", formatFPS(fps))
	}

	if width > 0 && height > 0 {
		args = append(args, "-vf", fmt.Sprintf("scale=%d:%d", width, height))
	}

	args = append(args, outputPath)

	cmd := NewCommandContext(ctx, ffmpegBin, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return &EncodingError{Output: output, Err: err}
	}

	return verifyEncodedOutput(outputPath, output)
}

// ConcatVideos joins two clips with the concat demuxer using stream
// copy. Both clips must already share codec parameters.
func ConcatVideos(ctx context.Context, ffmpegBin string, firstPath string, secondPath string, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), os.ModePerm); err != nil {
		return &EncodingError{Err: err}
	}

	firstAbs, err := filepath.Abs(firstPath)
	if err != nil {
		return &EncodingError{Err: err}
	}

	secondAbs, err := filepath.Abs(secondPath)
	if err != nil {
		return &EncodingError{Err: err}
	}

	listPath := outputPath + ".concat.txt"
	list := fmt.Sprintf("file '%s'\nfile '%s'\n", firstAbs, secondAbs)
	if err := os.WriteFile(listPath, []byte(list), 0o644); err != nil {
		return &EncodingError{Err: err}
	}
	defer os.Remove(listPath)

	cmd := NewCommandContext(ctx, ffmpegBin,
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		outputPath)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return &EncodingError{Output: output, Err: err}
	}

	return verifyEncodedOutput(outputPath, output)
}
