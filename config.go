package main

import (
	"bufio"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type Config struct {
	BindAddress   string       `yaml:"bindAddress"`
	Port          int32        `yaml:"port"`
	FfmpegBinary  string       `yaml:"ffmpegBinary"`
	FfprobeBinary string       `yaml:"ffprobeBinary"`
	RifeBinary    string       `yaml:"rifeBinary"`
	Model         string       `yaml:"model"`
	GPUID         int          `yaml:"gpuId"`
	ProcessFolder string       `yaml:"processFolder"`
	DatabasePath  string       `yaml:"databasePath"`
	LogPath       string       `yaml:"logPath"`
	Workers       int          `yaml:"workers"`
	RunPod        RunPodConfig `yaml:"runpod"`
}

type RunPodConfig struct {
	APIKey              string `yaml:"apiKey" envconfig:"RUNPOD_API_KEY"`
	EndpointID          string `yaml:"endpointId" envconfig:"RUNPOD_ENDPOINT_ID"`
	BaseURL             string `yaml:"baseUrl"`
	CredentialsFile     string `yaml:"credentialsFile"`
	PollIntervalSeconds int    `yaml:"pollIntervalSeconds"`
	TimeoutSeconds      int    `yaml:"timeoutSeconds"`
}

// Verify config and set defaults
func verifyConfig(config *Config) error {
	if config == nil {
		return errors.New("cannot verify config, config is nil")
	}

	if config.BindAddress == "" {
		config.BindAddress = "127.0.0.1"
	}

	if config.Port == 0 {
		config.Port = 8080
	}

	if config.FfmpegBinary == "" {
		config.FfmpegBinary = "ffmpeg"
	}

	if config.FfprobeBinary == "" {
		config.FfprobeBinary = "ffprobe"
	}

	if config.RifeBinary == "" {
		config.RifeBinary = "rife-ncnn-vulkan"
	}

	if config.Model == "" {
		config.Model = "rife-v4.6"
	}

	if config.ProcessFolder == "" {
		config.ProcessFolder = filepath.Join(os.TempDir(), "vidstretch")
	}

	if config.DatabasePath == "" {
		config.DatabasePath = "./vidstretch.db"
	}

	if config.LogPath == "" {
		config.LogPath = "./logs"
	}

	if config.Workers == 0 {
		config.Workers = 1
	}

	if config.RunPod.BaseURL == "" {
		config.RunPod.BaseURL = "https://api.runpod.ai"
	}

	if config.RunPod.PollIntervalSeconds == 0 {
		config.RunPod.PollIntervalSeconds = 2
	}

	if config.RunPod.TimeoutSeconds == 0 {
		config.RunPod.TimeoutSeconds = 300
	}

	return nil
}

func GetConfig(path string) (Config, error) {
	config := Config{}

	// The config file is optional, CLI runs work from defaults,
	// environment variables and flags alone
	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, &config); err != nil {
			return Config{}, err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return Config{}, err
	}

	// Override with env variables if they are passed in
	err = envconfig.Process("", &config)
	if err != nil {
		return Config{}, err
	}

	err = verifyConfig(&config)
	if err != nil {
		return Config{}, err
	}

	if err := resolveCredentials(&config.RunPod); err != nil {
		return Config{}, err
	}

	return config, nil
}

// resolveCredentials fills the API key and endpoint id from the credential
// file when they were not already provided via config or environment.
// Environment variables take precedence, then the config file, then the
// credential file. A missing credential file is not an error, the values
// are only required once a continuation run is requested.
func resolveCredentials(runpod *RunPodConfig) error {
	if runpod.APIKey != "" && runpod.EndpointID != "" {
		return nil
	}

	path := runpod.CredentialsFile
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil
		}
		path = filepath.Join(home, ".runpod")
	}

	values, err := parseCredentialFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}

	if runpod.APIKey == "" {
		runpod.APIKey = values["api_key"]
	}

	if runpod.EndpointID == "" {
		runpod.EndpointID = values["endpoint_id"]
	}

	return nil
}

// parseCredentialFile reads a key=value credential file, ignoring blank
// lines and #-comments.
func parseCredentialFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	values := map[string]string{}
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, found := strings.Cut(line, "=")
		if !found {
			continue
		}

		values[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}

	return values, scanner.Err()
}

// requireCredentials validates that continuation runs have usable
// credentials before anything is submitted.
func requireCredentials(runpod *RunPodConfig) error {
	if runpod.APIKey == "" {
		return &ConfigError{Msg: "missing RunPod API key, set RUNPOD_API_KEY or the credential file"}
	}

	if runpod.EndpointID == "" {
		return &ConfigError{Msg: "missing RunPod endpoint id, set RUNPOD_ENDPOINT_ID or the credential file"}
	}

	return nil
}
