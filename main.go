package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/schollz/progressbar/v3"
	log "github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", "./config.yml", "Path to the config yml file")
	serve := flag.Bool("serve", false, "Run the HTTP job queue service")
	input := flag.String("input", "", "Input video file")
	output := flag.String("output", "", "Output video file (defaults next to the input)")
	multiplier := flag.Int("multiplier", 4, "Slow-motion multiplier (2, 4 or 8)")
	model := flag.String("model", "", "Interpolation model name override")
	info := flag.Bool("info", false, "Only print video info, don't process")
	continueMode := flag.Bool("continue", false, "Extend the video with AI-generated footage instead of slowing it down")
	prompt := flag.String("prompt", "", "Generation prompt for continuation mode")
	duration := flag.Float64("duration", 2.0, "Continuation length in seconds")
	noConcat := flag.Bool("no-concat", false, "Keep only the generated clip, don't append it to the original")
	apiKey := flag.String("api-key", "", "RunPod API key override")
	endpointID := flag.String("endpoint-id", "", "RunPod endpoint id override")
	flag.Parse()

	config, err := GetConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "ERROR: reading config:", err)
		os.Exit(1)
	}

	if *model != "" {
		config.Model = *model
	}
	if *apiKey != "" {
		config.RunPod.APIKey = *apiKey
	}
	if *endpointID != "" {
		config.RunPod.EndpointID = *endpointID
	}

	if *serve {
		InitLogger(config.LogPath)
		runServer(&config)
		return
	}

	if *input == "" {
		flag.Usage()
		os.Exit(2)
	}

	cliOptions := ContinuationOptions{
		Prompt:          *prompt,
		DurationSeconds: *duration,
		NoConcat:        *noConcat,
	}
	runCLI(&config, *input, *output, *multiplier, *info, *continueMode, cliOptions)
}

// defaultOutputPath derives the output name from the input when no
// explicit path is given.
func defaultOutputPath(input string, continueMode bool, multiplier int) string {
	ext := filepath.Ext(input)
	stem := strings.TrimSuffix(input, ext)

	if continueMode {
		return stem + "_extended.mp4"
	}
	return fmt.Sprintf("%s_slomo%dx.mp4", stem, multiplier)
}

func runCLI(config *Config, input string, output string, multiplier int, infoOnly bool, continueMode bool, opts ContinuationOptions) {
	// Cancellation from the terminal kills the in-flight subprocess and
	// lets the pipeline cleanup run
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Quiet every component, the progress bar is the CLI's output
	SetLogLevel(log.WarnLevel)
	logger := CreateLogger("cli")

	if infoOnly {
		if err := CheckDependencies(config, false); err != nil {
			fmt.Fprintln(os.Stderr, "ERROR:", err)
			os.Exit(1)
		}

		videoInfo, err := ProbeVideo(ctx, config.FfprobeBinary, input)
		if err != nil {
			fmt.Fprintln(os.Stderr, "ERROR:", err)
			os.Exit(1)
		}

		fmt.Printf("Input video: %s\n", input)
		fmt.Printf("  Resolution: %s\n", videoInfo.Resolution())
		fmt.Printf("  FPS:        %.2f\n", videoInfo.FPS)
		fmt.Printf("  Duration:   %.2fs\n", videoInfo.Duration)
		fmt.Printf("  Frames:     %d\n", videoInfo.FrameCount)
		fmt.Printf("  Codec:      %s\n", videoInfo.Codec)
		return
	}

	if output == "" {
		output = defaultOutputPath(input, continueMode, multiplier)
	}

	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription("starting"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetRenderBlankState(true),
	)

	progress := func(stage string, fraction float64) {
		bar.Describe(stage)
		_ = bar.Set(int(fraction * 100))
	}

	pipeline := NewPipeline(config, logger)

	var err error
	if continueMode {
		err = pipeline.ContinueVideo(ctx, input, output, opts, progress)
	} else {
		err = pipeline.ProcessVideo(ctx, input, output, multiplier, progress)
	}

	_ = bar.Finish()
	fmt.Println()

	if err != nil {
		fmt.Fprintln(os.Stderr, "ERROR:", err)
		os.Exit(1)
	}

	fmt.Println("Output written to", output)
}

func runServer(config *Config) {
	logger := CreateLogger("main")

	db, err := NewSqlite(config.DatabasePath)
	if err != nil {
		logger.Panic("Error opening database: ", err)
	}
	defer db.Close()

	if err := db.RunMigrations(); err != nil {
		logger.Panic("Error running migrations: ", err)
	}

	pending, err := db.GetPendingJobs()
	if err != nil {
		logger.Panic("Error loading pending jobs: ", err)
	}

	hub := NewHub()
	go hub.Run()

	queue := NewQueue(pending, hub)

	ctx, cancel := context.WithCancel(context.Background())
	var waitGroup sync.WaitGroup

	pool := NewPoolWorker(ctx, &queue, &db, config, hub, &waitGroup)
	go pool.RunDispatcher()

	// Drain in-flight jobs before exiting so their cleanup paths run
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signals
		logger.Info("Shutting down, waiting for in-flight jobs")
		cancel()
		waitGroup.Wait()
		os.Exit(0)
	}()

	server := NewServer(&queue, &db, hub, pool)
	r := server.Router()

	logger.Infof("Listening on %s:%d", config.BindAddress, config.Port)
	if err := r.Run(fmt.Sprintf("%s:%d", config.BindAddress, config.Port)); err != nil {
		logger.Panic(err)
	}
}
