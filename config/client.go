package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// ClientConfig configures the headless lesson-room participant.
type ClientConfig struct {
	APIURL          string // relay HTTP base, e.g. http://localhost:9090
	RelayURL        string // websocket endpoint, e.g. ws://localhost:9090/ws
	AccessToken     string // identity provider JWT for this user
	AssistURL       string // AI feedback function endpoint
	SettingsPath    string // TOML file holding app-scoped settings
	CameraFile      string // IVF (VP8)
	MicrophoneFile  string // WAV, 48 kHz
	ScreenFile      string // IVF (VP8)
	RecordingsDir   string // local copy of composite recordings
	AutoRecordDelay time.Duration
	MaxRecording    time.Duration
}

// LoadClient builds the participant configuration from the environment.
func LoadClient() (*ClientConfig, error) {
	_ = godotenv.Load()

	delay, err := time.ParseDuration(getEnv("LESSON_AUTO_RECORD_DELAY", "1s"))
	if err != nil {
		return nil, fmt.Errorf("invalid LESSON_AUTO_RECORD_DELAY: %w", err)
	}

	maxRec, err := time.ParseDuration(getEnv("LESSON_MAX_RECORDING", "2h"))
	if err != nil {
		return nil, fmt.Errorf("invalid LESSON_MAX_RECORDING: %w", err)
	}

	if v := getEnv("LESSON_MAX_RECORDING_MINUTES", ""); v != "" {
		minutes, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid LESSON_MAX_RECORDING_MINUTES: %w", err)
		}
		maxRec = time.Duration(minutes) * time.Minute
	}

	cfg := &ClientConfig{
		APIURL:          getEnv("LESSON_API_URL", "http://localhost:9090"),
		RelayURL:        getEnv("LESSON_RELAY_URL", "ws://localhost:9090/ws"),
		AccessToken:     getEnv("LESSON_ACCESS_TOKEN", ""),
		AssistURL:       getEnv("LESSON_ASSIST_URL", ""),
		SettingsPath:    getEnv("LESSON_SETTINGS", "./data/settings.toml"),
		CameraFile:      getEnv("LESSON_CAMERA_FILE", ""),
		MicrophoneFile:  getEnv("LESSON_MICROPHONE_FILE", ""),
		ScreenFile:      getEnv("LESSON_SCREEN_FILE", ""),
		RecordingsDir:   getEnv("LESSON_RECORDINGS_DIR", ""),
		AutoRecordDelay: delay,
		MaxRecording:    maxRec,
	}

	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("LESSON_ACCESS_TOKEN environment variable is required")
	}

	return cfg, nil
}
