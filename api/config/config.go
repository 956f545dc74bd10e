package config

import (
	"os"
	"path/filepath"
	"strconv"

	wconfig "videoLabeler/worker/config"
)

type Config struct {
	Port         string
	Env          string
	LPDir        string
	UploadsDir   string
	ProjectsFile string
	MaxFileSize  int64

	Worker *wconfig.Config
}

// Load reads the configuration from the environment. Call godotenv before
// Load to pick up a .env file.
func Load() *Config {
	lpDir := getEnv("LP_DIR", defaultLPDir())
	return &Config{
		Port:         getEnv("SERVICE_PORT", "8080"),
		Env:          getEnv("ENV", "production"),
		LPDir:        lpDir,
		UploadsDir:   getEnv("UPLOADS_DIR", filepath.Join(lpDir, "uploads")),
		ProjectsFile: getEnv("PROJECTS_FILE", filepath.Join(lpDir, "projects.yaml")),
		MaxFileSize:  getEnvAsInt64("MAX_FILE_SIZE", 4<<30),
		Worker:       wconfig.Load(),
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func defaultLPDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".lightning_pose"
	}
	return filepath.Join(home, ".lightning_pose")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}
