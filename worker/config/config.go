package config

import (
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Config holds the settings of the transcode worker and its optional status
// sinks. An empty sink address disables that sink.
type Config struct {
	FFmpegPath       string
	FFprobePath      string
	TranscodeWorkers int
	PollInterval     time.Duration
	UploadRetention  time.Duration

	RedisAddr      string
	StatusTTL      time.Duration
	KafkaBrokers   []string
	KafkaTopic     string
	DatabaseURL    string
	SinkTimeout    time.Duration
	ShutdownWindow time.Duration
}

func Load() *Config {
	return &Config{
		FFmpegPath:       getEnv("FFMPEG_PATH", "ffmpeg"),
		FFprobePath:      getEnv("FFPROBE_PATH", "ffprobe"),
		TranscodeWorkers: getEnvAsInt("TRANSCODE_WORKERS", DefaultWorkers()),
		PollInterval:     getEnvAsDuration("PROGRESS_POLL_INTERVAL", 250*time.Millisecond),
		UploadRetention:  getEnvAsDuration("UPLOAD_RETENTION", 24*time.Hour),

		RedisAddr:      getEnv("REDIS_ADDR", ""),
		StatusTTL:      getEnvAsDuration("STATUS_TTL", 24*time.Hour),
		KafkaBrokers:   splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaTopic:     getEnv("KAFKA_TOPIC", "transcode_events"),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		SinkTimeout:    getEnvAsDuration("SINK_TIMEOUT", 2*time.Second),
		ShutdownWindow: getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

// DefaultWorkers keeps transcoding to roughly a tenth of the CPUs since each
// ffmpeg process is itself multithreaded.
func DefaultWorkers() int {
	return int(math.Ceil(float64(runtime.NumCPU()) / 10))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil && intVal > 0 {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
