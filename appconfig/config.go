package appconfig

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"

	"github.com/stevecastle/dicomalbum/platform"
)

// EnvPrefix prefixes environment overrides, e.g. ALBUMS_PORT. Unprefixed
// names such as PORT and HOST are honored as a fallback.
const EnvPrefix = "ALBUMS"

// Config holds application configuration: storage locations, the HTTP
// listener, logging, auth, upload limits and cloud mirroring.
type Config struct {
	DBPath     string `json:"dbPath" envconfig:"DB_PATH"`
	AlbumsDir  string `json:"albumsDir" envconfig:"ALBUMS_FOLDER"`
	UploadsDir string `json:"uploadsDir" envconfig:"UPLOAD_FOLDER"`
	TempDir    string `json:"tempDir" envconfig:"TEMP_FOLDER"`

	// HTTP listener
	Host string `json:"host" envconfig:"HOST"`
	Port int    `json:"port" envconfig:"PORT"`

	// Logging
	LogLevel  string `json:"logLevel" envconfig:"LOG_LEVEL"`
	LogPretty bool   `json:"logPretty" envconfig:"LOG_PRETTY"`

	// JWT Secret for authentication
	JWTSecret   string `json:"jwtSecret" envconfig:"JWT_SECRET"`
	AuthEnabled bool   `json:"authEnabled" envconfig:"AUTH_ENABLED"`

	// Uploads
	AllowedExtensions []string `json:"allowedExtensions" envconfig:"ALLOWED_EXTENSIONS"`
	AllowArchives     bool     `json:"allowArchives" envconfig:"ALLOW_ARCHIVES"`
	MaxUploadBytes    int64    `json:"maxUploadBytes" envconfig:"MAX_CONTENT_LENGTH"`

	// Albums and queries
	Anonymize      bool `json:"anonymize" envconfig:"ANONYMIZE"`
	HistoryLimit   int  `json:"historyLimit" envconfig:"HISTORY_LIMIT"`
	ResultLimit    int  `json:"resultLimit" envconfig:"RESULT_LIMIT"`
	ThumbnailWidth int  `json:"thumbnailWidth" envconfig:"THUMBNAIL_WIDTH"`
	MaxImageDim    int  `json:"maxImageDim" envconfig:"MAX_IMAGE_DIM"`

	Cloud CloudConfig `json:"cloud" envconfig:"CLOUD"`
}

// CloudConfig configures the S3 mirror of album files.
type CloudConfig struct {
	Enabled           bool   `json:"enabled" envconfig:"USE_CLOUD_STORAGE"`
	Bucket            string `json:"bucket" envconfig:"AWS_S3_BUCKET"`
	Region            string `json:"region" envconfig:"AWS_S3_REGION"`
	Endpoint          string `json:"endpoint" envconfig:"AWS_S3_ENDPOINT"`
	AccessKey         string `json:"accessKey" envconfig:"AWS_ACCESS_KEY_ID"`
	SecretKey         string `json:"secretKey" envconfig:"AWS_SECRET_ACCESS_KEY"`
	UsePathStyle      bool   `json:"usePathStyle" envconfig:"AWS_S3_PATH_STYLE"`
	PresignTTLSeconds int    `json:"presignTtlSeconds" envconfig:"PRESIGN_TTL_SECONDS"`
}

// PresignTTL returns the presigned URL lifetime.
func (c CloudConfig) PresignTTL() time.Duration {
	return time.Duration(c.PresignTTLSeconds) * time.Second
}

// Addr is the listen address for the HTTP server.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

var (
	cfgMu sync.RWMutex
	cfg   Config
)

// DefaultDBPath returns the default database path.
// Uses the platform-specific data directory.
func DefaultDBPath() string {
	return filepath.Join(platform.GetDataDir(), "dicom_albums.db")
}

// DefaultConfigDir returns the default config directory path.
// Uses the platform-specific data directory.
func DefaultConfigDir() string {
	return platform.GetDataDir()
}

// defaultConfig returns a Config populated with sensible defaults.
func defaultConfig() Config {
	return Config{
		DBPath:            DefaultDBPath(),
		AlbumsDir:         platform.AlbumsDir(),
		UploadsDir:        platform.UploadsDir(),
		TempDir:           platform.GetTempDir(),
		Host:              "0.0.0.0",
		Port:              5000,
		LogLevel:          "info",
		JWTSecret:         uuid.New().String(),
		AllowedExtensions: []string{"dcm"},
		MaxUploadBytes:    100 * 1024 * 1024,
		HistoryLimit:      20,
		ResultLimit:       100,
		ThumbnailWidth:    256,
		MaxImageDim:       1024,
		Cloud: CloudConfig{
			Region:            "us-east-1",
			PresignTTLSeconds: 3600,
		},
	}
}

// Get returns a copy of the current in-memory config.
func Get() Config {
	cfgMu.RLock()
	defer cfgMu.RUnlock()
	return cfg
}

// Set replaces the in-memory config.
func Set(c Config) {
	cfgMu.Lock()
	cfg = c
	cfgMu.Unlock()
}

func isJSONObject(raw []byte) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

func deepMergeJSON(dst, src map[string]json.RawMessage) {
	for k, v := range src {
		if existing, ok := dst[k]; ok && isJSONObject(existing) && isJSONObject(v) {
			var dstObj map[string]json.RawMessage
			var srcObj map[string]json.RawMessage
			if err := json.Unmarshal(existing, &dstObj); err != nil {
				dst[k] = v
				continue
			}
			if err := json.Unmarshal(v, &srcObj); err != nil {
				dst[k] = v
				continue
			}
			deepMergeJSON(dstObj, srcObj)
			merged, err := json.Marshal(dstObj)
			if err != nil {
				dst[k] = v
				continue
			}
			dst[k] = merged
			continue
		}
		dst[k] = v
	}
}

// ConfigPath returns the full path to the config.json file.
func ConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads the config from the default location, applies environment
// overrides and installs the result as the in-memory config.
func Load() (Config, string, error) {
	path := ConfigPath()
	c, err := LoadFrom(path)
	if err != nil {
		return Config{}, path, err
	}
	if err := ApplyEnv(&c); err != nil {
		return Config{}, path, err
	}
	Set(c)
	return c, path, nil
}

// LoadFrom reads the config at path. A missing file is created with
// defaults; missing fields in an existing file are filled from defaults and
// the file is rewritten when a generated value (the JWT secret) was added.
func LoadFrom(path string) (Config, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return Config{}, errors.Wrapf(err, "create config directory %s", filepath.Dir(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return Config{}, errors.Wrapf(err, "read config file at %s", path)
		}
		def := defaultConfig()
		if err := SaveTo(path, def); err != nil {
			return Config{}, errors.Wrap(err, "create default config file")
		}
		return def, nil
	}

	var c Config
	if err := json.Unmarshal(data, &c); err != nil {
		return Config{}, errors.Wrap(err, "parse config JSON")
	}

	if fillDefaults(&c) {
		if err := SaveTo(path, c); err != nil {
			return c, errors.Wrap(err, "save updated config")
		}
	}
	return c, nil
}

// fillDefaults fills zero fields from defaults and reports whether a value
// that must be persisted was generated.
func fillDefaults(c *Config) bool {
	def := defaultConfig()
	needsSave := false

	if c.DBPath == "" {
		c.DBPath = def.DBPath
		needsSave = true
	}
	if c.AlbumsDir == "" {
		c.AlbumsDir = def.AlbumsDir
	}
	if c.UploadsDir == "" {
		c.UploadsDir = def.UploadsDir
	}
	if c.TempDir == "" {
		c.TempDir = def.TempDir
	}
	if c.Host == "" {
		c.Host = def.Host
	}
	if c.Port == 0 {
		c.Port = def.Port
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if len(c.AllowedExtensions) == 0 {
		c.AllowedExtensions = def.AllowedExtensions
	}
	if c.MaxUploadBytes == 0 {
		c.MaxUploadBytes = def.MaxUploadBytes
	}
	if c.HistoryLimit == 0 {
		c.HistoryLimit = def.HistoryLimit
	}
	if c.ResultLimit == 0 {
		c.ResultLimit = def.ResultLimit
	}
	if c.ThumbnailWidth == 0 {
		c.ThumbnailWidth = def.ThumbnailWidth
	}
	if c.MaxImageDim == 0 {
		c.MaxImageDim = def.MaxImageDim
	}
	if c.Cloud.Region == "" {
		c.Cloud.Region = def.Cloud.Region
	}
	if c.Cloud.PresignTTLSeconds == 0 {
		c.Cloud.PresignTTLSeconds = def.Cloud.PresignTTLSeconds
	}
	if c.JWTSecret == "" {
		c.JWTSecret = uuid.New().String()
		needsSave = true
	}
	return needsSave
}

// ApplyEnv overrides c with any set environment variables. Unset variables
// leave the loaded values alone.
func ApplyEnv(c *Config) error {
	if err := envconfig.Process(EnvPrefix, c); err != nil {
		return errors.Wrap(err, "process environment variables")
	}
	return nil
}

// Save writes the config to the default location.
func Save(c Config) (string, error) {
	path := ConfigPath()
	if err := SaveTo(path, c); err != nil {
		return path, err
	}
	Set(c)
	return path, nil
}

// SaveTo writes the config to path, deep-merging it over any existing file
// so unknown keys survive.
func SaveTo(path string, c Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "create config directory")
	}
	base := map[string]json.RawMessage{}
	if existing, readErr := os.ReadFile(path); readErr == nil {
		var tmp map[string]json.RawMessage
		if err := json.Unmarshal(existing, &tmp); err == nil {
			base = tmp
		}
	}

	marshaled, err := json.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "marshal config")
	}
	incoming := map[string]json.RawMessage{}
	if err := json.Unmarshal(marshaled, &incoming); err != nil {
		return errors.Wrap(err, "map config JSON")
	}

	deepMergeJSON(base, incoming)

	mergedData, err := json.MarshalIndent(base, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal merged config")
	}
	return errors.Wrap(os.WriteFile(path, mergedData, 0644), "write config file")
}
