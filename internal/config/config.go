package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/dustin/go-humanize"
)

// Config represents the main configuration for arc.
type Config struct {
	HostID     string           `toml:"host_id"`
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	Index      IndexConfig      `toml:"index"`
	Archive    ArchiveConfig    `toml:"archive"`
	Verify     VerifyConfig     `toml:"verify"`
	Media      []MediaConfig    `toml:"media"`
	Encryption EncryptionConfig `toml:"encryption"`
	Export     ExportConfig     `toml:"export"`
}

// IndexConfig represents configuration for the volume index store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type IndexConfig struct {
	Type string `toml:"type"`          // "json" (default), "sqlite" or "memory"
	Dir  string `toml:"dir,omitempty"` // index files, sqlite database and local reports
}

// ArchiveConfig holds the settings of the archive pipeline.
type ArchiveConfig struct {
	Sources            []string `toml:"sources"`
	ExcludePaths       []string `toml:"exclude_paths"`
	ExcludeSuffixes    []string `toml:"exclude_suffixes"`
	Ignore             []string `toml:"ignore"`
	CheckpointInterval Duration `toml:"checkpoint_interval"`
	PreserveTimes      bool     `toml:"preserve_times"`
	DetectRenames      bool     `toml:"detect_renames"`
	Digest             string   `toml:"digest"`
	BufferSize         ByteSize `toml:"buffer_size"`
	SizerWorkers       int      `toml:"sizer_workers"`
	ProgressInterval   Duration `toml:"progress_interval"`
}

// VerifyConfig holds the settings of media verification.
type VerifyConfig struct {
	Freshness    Duration `toml:"freshness"`
	PollInterval Duration `toml:"poll_interval"`
}

// MediaConfig represents one media set and the device it is written through.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type MediaConfig struct {
	Type         string   `toml:"type"` // "directory", "hdd", "optical", "tape", "s3" or "memory"
	Name         string   `toml:"name"`
	Capacity     ByteSize `toml:"capacity"`
	Reserved     ByteSize `toml:"reserved"`
	EjectCommand string   `toml:"eject_command,omitempty"`

	// Directory-specific fields (only used when Type == "directory")
	Path string `toml:"path,omitempty"`

	// HDD-specific fields (only used when Type == "hdd")
	MountPoint string `toml:"mount_point,omitempty"`

	// Optical-specific fields (only used when Type == "optical")
	StagingDir string `toml:"staging_dir,omitempty"`
	ISOTool    string `toml:"iso_tool,omitempty"`
	Drive      string `toml:"drive,omitempty"`

	// Tape-specific fields (only used when Type == "tape")
	TapeDevice string `toml:"tape_device,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket    string `toml:"s3_bucket,omitempty"`
	S3Prefix    string `toml:"s3_prefix,omitempty"`
	S3Region    string `toml:"s3_region,omitempty"`
	S3Profile   string `toml:"s3_profile,omitempty"`
	S3Endpoint  string `toml:"s3_endpoint,omitempty"`
	S3AccessKey string `toml:"s3_access_key,omitempty"`
	S3SecretKey string `toml:"s3_secret_key,omitempty"`
}

// EncryptionConfig holds paths to the age key pair used for index snapshots.
type EncryptionConfig struct {
	Type           string `toml:"type"` // "age" (default) or "test"
	PublicKeyPath  string `toml:"public_key_path"`
	PrivateKeyPath string `toml:"private_key_path"`
}

// ExportConfig controls encrypted index snapshots written after mutating commands.
type ExportConfig struct {
	Dir string `toml:"dir,omitempty"` // empty disables automatic snapshots
}

// Duration is a time.Duration written as a Go duration string ("5m", "168h").
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ByteSize is a size in bytes. It accepts plain integers and human units
// such as "25GB" or "100 MiB".
type ByteSize int64

func (b *ByteSize) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*b = ByteSize(n)
		return nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", s, err)
	}
	*b = ByteSize(n)
	return nil
}

func (b ByteSize) MarshalText() ([]byte, error) {
	return []byte(strconv.FormatInt(int64(b), 10)), nil
}

// String formats the size with SI units.
func (b ByteSize) String() string {
	if b < 0 {
		return strconv.FormatInt(int64(b), 10)
	}
	return humanize.Bytes(uint64(b))
}

// Defaults applied by NewConfig.
const (
	DefaultCheckpointInterval = 300 * time.Second
	DefaultFreshness          = 7 * 24 * time.Hour
	DefaultPollInterval       = time.Second
	DefaultDigest             = "md5"
	DefaultSizerWorkers       = 8
	DefaultBDCapacity         = 25_025_314_816 // single layer BD-R
	DefaultReserved           = 100 * 1000 * 1000
)

// NewConfig creates a new Config with the provided values and defaults.
// The default media set writes 25GB volumes into a directory under baseDir.
func NewConfig(hostID, baseDir string) *Config {
	return &Config{
		HostID:  hostID,
		BaseDir: baseDir,
		LogDir:  filepath.Join(baseDir, "log"),
		Index: IndexConfig{
			Type: "json",
			Dir:  filepath.Join(baseDir, "index"),
		},
		Archive: ArchiveConfig{
			CheckpointInterval: Duration{DefaultCheckpointInterval},
			PreserveTimes:      true,
			Digest:             DefaultDigest,
			SizerWorkers:       DefaultSizerWorkers,
		},
		Verify: VerifyConfig{
			Freshness:    Duration{DefaultFreshness},
			PollInterval: Duration{DefaultPollInterval},
		},
		Media: []MediaConfig{{
			Type:     "directory",
			Name:     "disc",
			Capacity: DefaultBDCapacity,
			Reserved: DefaultReserved,
			Path:     filepath.Join(baseDir, "volumes"),
		}},
		Encryption: EncryptionConfig{
			PublicKeyPath:  filepath.Join(baseDir, "keys", "arc.pub"),
			PrivateKeyPath: filepath.Join(baseDir, "keys", "arc.key"),
		},
	}
}

var (
	indexTypes  = map[string]bool{"": true, "json": true, "sqlite": true, "memory": true}
	mediaTypes  = map[string]bool{"directory": true, "hdd": true, "optical": true, "tape": true, "s3": true, "memory": true}
	digestNames = map[string]bool{"": true, "md5": true, "sha256": true, "blake3": true, "xxh64": true}
)

// Validate checks the configuration for errors that must stop a run before
// anything is touched.
func (c *Config) Validate() error {
	if len(c.Archive.Sources) == 0 {
		return fmt.Errorf("no sources configured")
	}
	if !indexTypes[c.Index.Type] {
		return fmt.Errorf("unknown index type: %s", c.Index.Type)
	}
	if !digestNames[strings.ToLower(c.Archive.Digest)] {
		return fmt.Errorf("unknown digest: %s", c.Archive.Digest)
	}
	if len(c.Media) == 0 {
		return fmt.Errorf("no media sets configured")
	}

	names := make(map[string]bool, len(c.Media))
	for _, m := range c.Media {
		if m.Name == "" {
			return fmt.Errorf("media set of type %q has no name", m.Type)
		}
		if names[m.Name] {
			return fmt.Errorf("duplicate media set name: %s", m.Name)
		}
		names[m.Name] = true

		if !mediaTypes[m.Type] {
			return fmt.Errorf("media set %s: unknown type: %s", m.Name, m.Type)
		}
		if m.Capacity <= 0 {
			return fmt.Errorf("media set %s: capacity must be positive", m.Name)
		}
		if m.Reserved < 0 || m.Reserved >= m.Capacity {
			return fmt.Errorf("media set %s: reserved %s must be below capacity %s", m.Name, m.Reserved, m.Capacity)
		}
	}
	return nil
}

// MediaSet returns the media set with the given name, or the first one when
// name is empty.
func (c *Config) MediaSet(name string) (*MediaConfig, error) {
	if len(c.Media) == 0 {
		return nil, fmt.Errorf("no media sets configured")
	}
	if name == "" {
		return &c.Media[0], nil
	}
	for i := range c.Media {
		if c.Media[i].Name == name {
			return &c.Media[i], nil
		}
	}
	return nil, fmt.Errorf("unknown media set: %s", name)
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
