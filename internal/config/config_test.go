package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := &Config{
		HostID:  "test-host-abc",
		BaseDir: "/home/user/.local/share/arc",
		LogDir:  "/home/user/.local/share/arc/log",
		Index:   IndexConfig{Type: "sqlite", Dir: "/home/user/.local/share/arc/index"},
		Archive: ArchiveConfig{
			Sources:            []string{"/home/user/photos", "/home/user/docs"},
			ExcludePaths:       []string{"/home/user/photos/cache"},
			ExcludeSuffixes:    []string{".tmp"},
			Ignore:             []string{"*.log", ".git"},
			CheckpointInterval: Duration{2 * time.Minute},
			PreserveTimes:      true,
			Digest:             "sha256",
			BufferSize:         4 << 20,
		},
		Verify: VerifyConfig{Freshness: Duration{48 * time.Hour}},
		Media: []MediaConfig{
			{Type: "optical", Name: "bd", Capacity: 25_000_000_000, Reserved: 50_000_000, StagingDir: "/tmp/stage", ISOTool: "isotool", Drive: "/dev/sr0"},
		},
		Encryption: EncryptionConfig{
			PublicKeyPath:  "/home/user/.local/share/arc/keys/arc.pub",
			PrivateKeyPath: "/home/user/.local/share/arc/keys/arc.key",
		},
		Export: ExportConfig{Dir: "/mnt/offsite"},
	}

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.HostID != original.HostID {
		t.Errorf("HostID = %q, want %q", got.HostID, original.HostID)
	}
	if got.Index.Type != "sqlite" {
		t.Errorf("Index.Type = %q, want %q", got.Index.Type, "sqlite")
	}
	if len(got.Archive.Sources) != 2 {
		t.Fatalf("len(Archive.Sources) = %d, want 2", len(got.Archive.Sources))
	}
	if got.Archive.CheckpointInterval.Duration != 2*time.Minute {
		t.Errorf("Archive.CheckpointInterval = %v, want 2m", got.Archive.CheckpointInterval)
	}
	if got.Archive.BufferSize != 4<<20 {
		t.Errorf("Archive.BufferSize = %d, want %d", got.Archive.BufferSize, 4<<20)
	}
	if got.Verify.Freshness.Duration != 48*time.Hour {
		t.Errorf("Verify.Freshness = %v, want 48h", got.Verify.Freshness)
	}
	if len(got.Media) != 1 {
		t.Fatalf("len(Media) = %d, want 1", len(got.Media))
	}
	if got.Media[0].Capacity != 25_000_000_000 {
		t.Errorf("Media.Capacity = %d, want 25000000000", got.Media[0].Capacity)
	}
	if got.Media[0].Drive != "/dev/sr0" {
		t.Errorf("Media.Drive = %q, want %q", got.Media[0].Drive, "/dev/sr0")
	}
	if got.Export.Dir != "/mnt/offsite" {
		t.Errorf("Export.Dir = %q, want %q", got.Export.Dir, "/mnt/offsite")
	}
}

func TestManager_Read_HumanSizes(t *testing.T) {
	input := `
[archive]
sources = ["/data"]
checkpoint_interval = "10m"

[[media]]
type = "directory"
name = "disc"
capacity = "25GB"
reserved = "100 MiB"
path = "/mnt/volumes"

[[media]]
type = "tape"
name = "lto"
capacity = 1500000000000
reserved = 0
tape_device = "/dev/nst0"
`
	m := &Manager{}
	cfg, err := m.Read(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if cfg.Media[0].Capacity != 25_000_000_000 {
		t.Errorf("Capacity = %d, want 25000000000", cfg.Media[0].Capacity)
	}
	if cfg.Media[0].Reserved != 100<<20 {
		t.Errorf("Reserved = %d, want %d", cfg.Media[0].Reserved, 100<<20)
	}
	if cfg.Media[1].Capacity != 1_500_000_000_000 {
		t.Errorf("Capacity = %d, want 1500000000000", cfg.Media[1].Capacity)
	}
	if cfg.Archive.CheckpointInterval.Duration != 10*time.Minute {
		t.Errorf("CheckpointInterval = %v, want 10m", cfg.Archive.CheckpointInterval)
	}
}

func TestManager_Read_InvalidSize(t *testing.T) {
	input := `
[[media]]
type = "directory"
name = "disc"
capacity = "lots"
`
	m := &Manager{}
	if _, err := m.Read(strings.NewReader(input)); err == nil {
		t.Fatal("Read() expected error for invalid size")
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("host-1", "/data/arc")

	if cfg.HostID != "host-1" {
		t.Errorf("HostID = %q, want %q", cfg.HostID, "host-1")
	}
	if cfg.LogDir != "/data/arc/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/arc/log")
	}
	if cfg.Index.Type != "json" || cfg.Index.Dir != "/data/arc/index" {
		t.Errorf("Index = %+v, want json in /data/arc/index", cfg.Index)
	}
	if cfg.Encryption.PublicKeyPath != "/data/arc/keys/arc.pub" {
		t.Errorf("Encryption.PublicKeyPath = %q, want %q", cfg.Encryption.PublicKeyPath, "/data/arc/keys/arc.pub")
	}
	if cfg.Archive.CheckpointInterval.Duration != DefaultCheckpointInterval {
		t.Errorf("CheckpointInterval = %v, want %v", cfg.Archive.CheckpointInterval, DefaultCheckpointInterval)
	}
	if cfg.Verify.Freshness.Duration != 7*24*time.Hour {
		t.Errorf("Freshness = %v, want 168h", cfg.Verify.Freshness)
	}
	if len(cfg.Media) != 1 || cfg.Media[0].Path != "/data/arc/volumes" {
		t.Errorf("Media = %+v, want one directory set under /data/arc/volumes", cfg.Media)
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := NewConfig("h", "/data/arc")
		cfg.Archive.Sources = []string{"/home/user/docs"}
		return cfg
	}

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{name: "valid", modify: func(*Config) {}},
		{name: "no sources", modify: func(c *Config) { c.Archive.Sources = nil }, wantErr: "no sources"},
		{name: "no media", modify: func(c *Config) { c.Media = nil }, wantErr: "no media sets"},
		{name: "unknown index type", modify: func(c *Config) { c.Index.Type = "postgres" }, wantErr: "unknown index type"},
		{name: "unknown digest", modify: func(c *Config) { c.Archive.Digest = "crc32" }, wantErr: "unknown digest"},
		{name: "unknown media type", modify: func(c *Config) { c.Media[0].Type = "floppy" }, wantErr: "unknown type"},
		{name: "zero capacity", modify: func(c *Config) { c.Media[0].Capacity = 0 }, wantErr: "capacity must be positive"},
		{name: "reserved equals capacity", modify: func(c *Config) { c.Media[0].Reserved = c.Media[0].Capacity }, wantErr: "must be below capacity"},
		{
			name: "duplicate names",
			modify: func(c *Config) {
				c.Media = append(c.Media, c.Media[0])
			},
			wantErr: "duplicate media set name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_MediaSet(t *testing.T) {
	cfg := NewConfig("h", "/data/arc")
	cfg.Media = append(cfg.Media, MediaConfig{Type: "tape", Name: "lto", Capacity: 100})

	first, err := cfg.MediaSet("")
	if err != nil || first.Name != "disc" {
		t.Errorf("MediaSet(\"\") = %v, %v; want disc", first, err)
	}
	lto, err := cfg.MediaSet("lto")
	if err != nil || lto.Type != "tape" {
		t.Errorf("MediaSet(lto) = %v, %v; want tape", lto, err)
	}
	if _, err := cfg.MediaSet("nope"); err == nil {
		t.Error("MediaSet(nope) expected error")
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "arc.toml")
		cfg := NewConfig("h1", dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		if _, err := os.Stat(path); err != nil {
			t.Fatalf("config file not created: %v", err)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "arc.toml")
		cfg := NewConfig("h1", dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}

		err := Init(path, cfg)
		if err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "arc.toml")
		cfg := NewConfig("read-test", dir)
		cfg.Index = IndexConfig{Type: "memory"}

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.HostID != "read-test" {
			t.Errorf("HostID = %q, want %q", got.HostID, "read-test")
		}
		if got.Media[0].Capacity != DefaultBDCapacity {
			t.Errorf("Capacity = %d, want %d", got.Media[0].Capacity, DefaultBDCapacity)
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		_, err := ReadFromFile("/nonexistent/path/arc.toml")
		if err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})
}
