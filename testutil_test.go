package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Stub executables stand in for ffmpeg/ffprobe/the interpolation binary
// so the subprocess plumbing is exercised without real media tools.

func writeStub(t *testing.T, dir string, name string, body string) string {
	t.Helper()

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}

	return path
}

const stubProbeJSON = `{"streams":[{"codec_type":"video","codec_name":"h264","width":1280,"height":720,"r_frame_rate":"24/1","nb_frames":"24","duration":"1.0"}],"format":{"duration":"1.0"}}`

func stubFfprobe(t *testing.T, dir string) string {
	script := "#!/bin/sh\necho \"$@\" >> \"$0.calls\"\ncat <<'JSON'\n" + stubProbeJSON + "\nJSON\n"
	return writeStub(t, dir, "ffprobe", script)
}

// stubFfmpeg emulates the three ffmpeg call shapes the pipelines use:
// frame extraction (last arg is a %08d.png pattern), single-frame
// extraction (last arg is a png) and encoding (last arg is the output
// container). FAKE_FFMPEG_FAIL_ENCODE forces the encode branch to fail.
func stubFfmpeg(t *testing.T, dir string) string {
	script := `#!/bin/sh
echo "$@" >> "$0.calls"
for arg in "$@"; do last="$arg"; done
case "$last" in
*%08d.png)
	dir=$(dirname "$last")
	i=1
	while [ $i -le 24 ]; do
		: > "$dir/$(printf '%08d.png' "$i")"
		i=$((i+1))
	done
	exit 0
	;;
*.png)
	: > "$last"
	exit 0
	;;
esac
if [ -n "$FAKE_FFMPEG_FAIL_ENCODE" ]; then
	echo "encoder exploded" >&2
	exit 1
fi
printf 'fakevideo' > "$last"
exit 0
`
	return writeStub(t, dir, "ffmpeg", script)
}

// stubRife writes 2n-1 output frames for n input frames, mirroring the
// real binary's doubling behavior, and records every invocation.
func stubRife(t *testing.T, dir string) string {
	script := `#!/bin/sh
echo "$@" >> "$0.calls"
in=""
out=""
while [ $# -gt 0 ]; do
	case "$1" in
	-i) in="$2"; shift ;;
	-o) out="$2"; shift ;;
	esac
	shift
done
n=$(ls "$in" | grep -c '\.png$')
total=$((2 * n - 1))
i=1
while [ $i -le $total ]; do
	: > "$out/$(printf '%08d.png' "$i")"
	i=$((i+1))
done
exit 0
`
	return writeStub(t, dir, "rife-ncnn-vulkan", script)
}

func callCount(t *testing.T, binPath string) int {
	t.Helper()

	data, err := os.ReadFile(binPath + ".calls")
	if err != nil {
		if os.IsNotExist(err) {
			return 0
		}
		t.Fatal(err)
	}

	return len(strings.Split(strings.TrimSpace(string(data)), "\n"))
}

func testConfig(t *testing.T) *Config {
	t.Helper()

	binDir := t.TempDir()
	config := &Config{
		FfmpegBinary:  stubFfmpeg(t, binDir),
		FfprobeBinary: stubFfprobe(t, binDir),
		RifeBinary:    stubRife(t, binDir),
		Model:         "rife-v4.6",
		ProcessFolder: t.TempDir(),
		Workers:       1,
	}

	return config
}

func makeFrames(t *testing.T, dir string, count int) {
	t.Helper()

	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		t.Fatal(err)
	}

	for i := 1; i <= count; i++ {
		name := filepath.Join(dir, fmt.Sprintf(framePattern, i))
		if err := os.WriteFile(name, nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func makeInputVideo(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "input.mp4")
	if err := os.WriteFile(path, []byte("not a real video"), 0o644); err != nil {
		t.Fatal(err)
	}

	return path
}
