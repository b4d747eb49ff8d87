// config.go: This file contains the configuration for the SkyHub backend. It defines the settings struct and functions to load and save the settings.
package conf

import (
	"crypto/rand"
	"embed"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

//go:embed config.yaml
var configFiles embed.FS

// LogConfig defines the configuration for a log file
type LogConfig struct {
	Enabled     bool         // true to enable this log
	Path        string       // Path to the log file
	Rotation    RotationType // Type of log rotation
	MaxSize     int64        // Max size in bytes for RotationSize
	RotationDay string       // Day of the week for RotationWeekly (as a string: "Sunday", "Monday", etc.)
}

// RotationType defines different types of log rotations.
type RotationType string

const (
	RotationDaily  RotationType = "daily"
	RotationWeekly RotationType = "weekly"
	RotationSize   RotationType = "size"
)

// MainSettings identifies this deployment and its base logging.
type MainSettings struct {
	Name     string    // name of this SkyHub node, used to identify the deployment
	Timezone string    // IANA timezone used when rendering schedules
	Log      LogConfig // logging configuration
}

// WebServerSettings contains settings for the API server.
type WebServerSettings struct {
	Debug     bool      // true to enable debug mode
	Enabled   bool      // true to enable web server
	Port      string    // port for web server
	PublicURL string    // externally reachable base URL, used in webhook callbacks
	Log       LogConfig // logging configuration for web server
}

// SQLiteSettings contains settings for the SQLite database backend.
type SQLiteSettings struct {
	Enabled bool   // true to use sqlite as the primary store
	Path    string // path to sqlite database
}

// MySQLSettings contains settings for the MySQL database backend.
type MySQLSettings struct {
	Enabled  bool   // true to use mysql as the primary store
	Username string // username for mysql database
	Password string // password for mysql database
	Database string // database name for mysql database
	Host     string // host for mysql database
	Port     string // port for mysql database
}

// DatabaseSettings selects and configures the backing store.
type DatabaseSettings struct {
	SQLite SQLiteSettings
	MySQL  MySQLSettings
}

// Security holds secrets used by the platform itself.
type Security struct {
	Debug bool // true to enable debug mode

	// EncryptionKey is the key material used to encrypt allocation altdata
	// and analysis-service authinfo at rest. Generated on first run when empty.
	EncryptionKey string
}

// LTSettings configures the Liverpool Telescope node agent integration.
type LTSettings struct {
	Enabled           bool          // true to enable LT submissions
	Host              string        // node agent host
	Port              string        // node agent port
	SiteLatitude      float64       // observatory latitude in degrees
	SiteLongitude     float64       // observatory longitude in degrees
	Timeout           time.Duration // SOAP call timeout
	RequestsPerMinute int           // submission rate limit towards the node agent
}

// FacilitySettings groups external telescope facility integrations.
type FacilitySettings struct {
	Debug bool // true to enable debug mode
	LT    LTSettings
}

// OpenAISettings configures the embeddings and summary models.
type OpenAISettings struct {
	APIKey         string // API key, may also come from OPENAI_API_KEY
	BaseURL        string // optional API base override for compatible endpoints
	EmbeddingModel string // embedding model name
	SummaryModel   string // chat model used to draft source summaries
	Summarize      bool   // true to generate prose summaries before embedding
}

// MilvusSettings configures the vector index connection.
type MilvusSettings struct {
	Address    string // milvus endpoint address (host:port)
	Collection string // collection holding source summary vectors
	Dimensions int    // embedding vector width, must match the embedding model
}

// SearchSettings configures semantic summary search.
type SearchSettings struct {
	Debug    bool          // true to enable debug mode
	Enabled  bool          // true to enable vector search endpoints
	OpenAI   OpenAISettings
	Milvus   MilvusSettings
	CacheTTL time.Duration // TTL for cached query embeddings
}

// ArchiveTarget defines settings for an analysis-product archive target
type ArchiveTarget struct {
	Type     string                 `yaml:"type"`     // "local", "ftp", "sftp"
	Settings map[string]interface{} `yaml:"settings"` // Target-specific settings
}

// ArchiveSettings defines where analysis result files are persisted.
type ArchiveSettings struct {
	Enabled bool          // true to enable analysis product archival
	Debug   bool          // true to enable debug logging
	Folder  string        // folder (or remote prefix) holding analysis products
	Target  ArchiveTarget // storage target
}

// PushProviderConfig configures a single notification push provider.
type PushProviderConfig struct {
	Name    string        // provider name for logs
	Enabled bool          // true to enable this provider
	URLs    []string      // shoutrrr service URLs
	Types   []string      // notification types this provider accepts
	Timeout time.Duration // per-send timeout
}

// NotificationSettings configures outbound user notifications.
type NotificationSettings struct {
	Enabled   bool // true to enable the notification service
	Debug     bool // true to enable debug mode
	Providers []PushProviderConfig
}

// MQTTSettings contains settings for MQTT event publishing.
type MQTTSettings struct {
	Enabled  bool   // true to enable MQTT
	Broker   string // MQTT broker (tcp://host:port)
	Topic    string // base MQTT topic
	Username string // MQTT username
	Password string // MQTT password
	Retain   bool   // true to retain messages at the broker
}

// TelemetrySettings contains settings for the metrics endpoint.
type TelemetrySettings struct {
	Enabled bool   // true to enable Prometheus compatible telemetry endpoint
	Listen  string // IP address and port to listen on
}

// RealtimeSettings contains settings for push-style integrations.
type RealtimeSettings struct {
	MQTT      MQTTSettings      // MQTT event publishing settings
	Telemetry TelemetrySettings // Telemetry endpoint settings
}

// SentrySettings configures error telemetry.
type SentrySettings struct {
	Enabled     bool   // true to enable Sentry error reporting
	DSN         string // project DSN
	Environment string // environment tag, e.g. "production"
}

// Settings contains all configuration options for the SkyHub backend.
type Settings struct {
	Debug bool // true to enable debug mode

	// Runtime values, not stored in config file
	Version   string `yaml:"-"` // Version from build
	BuildDate string `yaml:"-"` // Build date from build
	SystemID  string `yaml:"-"` // Anonymous installation identifier for telemetry

	Main MainSettings

	WebServer WebServerSettings

	Database DatabaseSettings

	Security Security

	Facility FacilitySettings

	Search SearchSettings

	Archive ArchiveSettings

	Notification NotificationSettings

	Realtime RealtimeSettings

	Sentry SentrySettings
}

// settingsInstance is the current settings instance
var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads the configuration file and environment variables into GlobalConfig.
func Load() (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	// Create a new settings struct
	settings := &Settings{}

	// Initialize viper and read config
	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	// Unmarshal the config into settings
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("error unmarshaling config into struct: %w", err)
	}

	// Validate settings
	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	// Save settings instance
	settingsInstance = settings
	return settingsInstance, nil
}

// initViper initializes viper with default values and reads the configuration file.
func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	// Get OS specific config paths
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}

	// Assign config paths to Viper
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	// Set default values for each configuration parameter
	// function defined in defaults.go
	setDefaultConfig()

	// Read configuration file
	err = viper.ReadInConfig()
	if err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			// Config file not found, create config with defaults
			return createDefaultConfig()
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig creates a default config file and writes it to the default config path
func createDefaultConfig() error {
	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	configPath := filepath.Join(configPaths[0], "config.yaml")
	defaultConfig := getDefaultConfig()

	// If the encryption key is not set, generate a random one so altdata
	// can be stored encrypted from the very first run
	if viper.GetString("security.encryptionkey") == "" {
		viper.Set("security.encryptionkey", GenerateRandomSecret())
	}

	// Create directories for config file
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("error creating directories for config file: %w", err)
	}

	// Write default config file
	if err := os.WriteFile(configPath, []byte(defaultConfig), 0o644); err != nil {
		return fmt.Errorf("error writing default config file: %w", err)
	}

	fmt.Println("Created default config file at:", configPath)
	return viper.ReadInConfig()
}

// getDefaultConfig reads the default configuration from the embedded config.yaml file.
func getDefaultConfig() string {
	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		log.Fatalf("Error reading config file: %v", err)
	}
	return string(data)
}

// GetSettings returns the current settings instance
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// SaveSettings saves the current settings to the configuration file.
// It uses SaveYAMLConfig to handle the atomic write process.
func SaveSettings() error {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()

	// Create a copy of the settings so the instance is never marshaled live
	settingsCopy := *settingsInstance

	// Find the path of the current config file
	configPath, err := FindConfigFile()
	if err != nil {
		return fmt.Errorf("error finding config file: %w", err)
	}

	// Save the settings to the config file
	if err := SaveYAMLConfig(configPath, &settingsCopy); err != nil {
		return fmt.Errorf("error saving config: %w", err)
	}

	log.Printf("Settings saved successfully to %s", configPath)
	return nil
}

// Setting returns the current settings instance, initializing it if necessary
func Setting() *Settings {
	once.Do(func() {
		if settingsInstance == nil {
			_, err := Load()
			if err != nil {
				log.Fatalf("Error loading settings: %v", err)
			}
		}
	})
	return GetSettings()
}

// SaveYAMLConfig updates the YAML configuration file with new settings.
// It overwrites the existing file, not preserving comments or structure.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	// Marshal the settings struct to YAML
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	// Write the YAML data to a temporary file
	// This is done to ensure atomic write operation
	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	// Ensure the temporary file is removed in case of any failure
	defer os.Remove(tempFileName)

	// Write the YAML data to the temporary file
	if _, err := tempFile.Write(yamlData); err != nil {
		tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	// Close the temporary file after writing
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	// Try to rename the temporary file to replace the original config file
	// This is typically an atomic operation on most filesystems
	if err := os.Rename(tempFileName, configPath); err != nil {
		// If rename fails (e.g., cross-device link), fall back to copy & delete
		if err := moveFile(tempFileName, configPath); err != nil {
			return fmt.Errorf("error copying config file: %w", err)
		}
	}

	return nil
}

// GenerateRandomSecret generates a URL-safe base64 encoded random string
// suitable for use as an encryption key seed. The output is 43 characters long,
// providing 256 bits of entropy.
func GenerateRandomSecret() string {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		// Log the error and return a safe fallback or empty string
		log.Printf("Failed to generate random secret: %v", err)
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(bytes)
}
