package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
// Every tool reads the same struct and only looks at its own section.
type Config struct {
	// Shared
	LogLevel       string
	LogFile        string
	MaxConcurrency int
	RateLimitMs    int
	MaxRetries     int
	RetryDelay     time.Duration

	// Scraper
	ScraperMode        string
	URLsFile           string
	OutputDir          string
	ChromeBin          string
	PageTimeout        time.Duration
	MaxImageIterations int

	// Postgres sink (optional)
	PostgresEnabled  bool
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Image downloader
	InputCSV          string
	DownloadDir       string
	ListingsJSON      string
	AnalysisJSON      string
	MaxImagesPerCar   int
	MinSizeBytes      int64
	DownloadTimeout   time.Duration
	DownloadUserAgent string

	// Listing API
	APIAddr string

	// Drive uploader
	OAuthCredentialsFile string
	OAuthTokenFile       string
	ServiceAccountFile   string
	DriveParentFolderID  string
	MainDriveFolderName  string

	// HDR classifier
	SpreadsheetID     string
	SheetName         string
	URLColumnIndex    int
	ResultColumnIndex int
	StartRow          int
	HDRWorkers        int
	HDRRetryDelay     time.Duration
	TempDir           string
	HDRLocalDir       string
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFile:        getEnv("LOG_FILE", ""),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 3),
		RateLimitMs:    getEnvInt("RATE_LIMIT_MS", 250),
		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		RetryDelay:     getEnvDuration("RETRY_DELAY", 2*time.Second),

		ScraperMode:        strings.ToLower(getEnv("SCRAPER_MODE", "browser")),
		URLsFile:           getEnv("URLS_FILE", "urls.txt"),
		OutputDir:          getEnv("OUTPUT_DIR", "./output"),
		ChromeBin:          getEnv("CHROME_BIN", ""),
		PageTimeout:        getEnvDuration("PAGE_TIMEOUT", 90*time.Second),
		MaxImageIterations: getEnvInt("MAX_IMAGE_ITERATIONS", 50),

		PostgresEnabled:  getEnvBool("POSTGRES_ENABLED", false),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "scraper"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "scraper123"),
		PostgresDB:       getEnv("POSTGRES_DB", "coches"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		InputCSV:        getEnv("INPUT_CSV", "./data/Coches_Ocasion.csv"),
		DownloadDir:     getEnv("DOWNLOAD_DIR", "./data/imagenes_coches_descargadas"),
		ListingsJSON:    getEnv("LISTINGS_JSON", "./data/listings_with_local_data.json"),
		AnalysisJSON:    getEnv("ANALYSIS_JSON", "./data/analysis_results.json"),
		MaxImagesPerCar: getEnvInt("MAX_IMAGES_PER_CAR", 25),
		MinSizeBytes:    int64(getEnvInt("MIN_SIZE_BYTES", 5000)),
		DownloadTimeout: getEnvDuration("DOWNLOAD_TIMEOUT", 10*time.Second),
		DownloadUserAgent: getEnv("DOWNLOAD_USER_AGENT",
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 "+
				"(KHTML, like Gecko) Chrome/100.0.4896.127 Safari/537.36"),

		APIAddr: getEnv("API_ADDR", ":5000"),

		OAuthCredentialsFile: getEnv("GOOGLE_OAUTH_CREDENTIALS", "credentials.json"),
		OAuthTokenFile:       getEnv("GOOGLE_OAUTH_TOKEN", "token.json"),
		ServiceAccountFile:   getEnv("GOOGLE_SERVICE_ACCOUNT_FILE", ""),
		DriveParentFolderID:  getEnv("DRIVE_PARENT_FOLDER_ID", ""),
		MainDriveFolderName:  getEnv("MAIN_DRIVE_FOLDER_NAME", "Renew_Autofer_Scrapes"),

		SpreadsheetID:     getEnv("SPREADSHEET_ID", ""),
		SheetName:         getEnv("SHEET_NAME", "Hoja 1"),
		URLColumnIndex:    getEnvInt("URL_COLUMN_INDEX", 4),
		ResultColumnIndex: getEnvInt("RESULT_COLUMN_INDEX", 11),
		StartRow:          getEnvInt("START_ROW", 2),
		HDRWorkers:        getEnvInt("HDR_WORKERS", 8),
		HDRRetryDelay:     getEnvDuration("HDR_RETRY_DELAY", time.Second),
		TempDir:           getEnv("TEMP_DIR", "temp_images"),
		HDRLocalDir:       getEnv("HDR_LOCAL_DIR", ""),
	}
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

// Debug reports whether debug logging was requested.
func (c *Config) Debug() bool {
	return c.LogLevel == "debug"
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("2s", "500ms") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if n, err := strconv.Atoi(val); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
