package device

import (
	"context"
	"fmt"

	"arc-go/internal/arc"
	"arc-go/internal/config"
)

// NewDeviceFromConfig creates a Device implementation based on the media set type.
func NewDeviceFromConfig(ctx context.Context, cfg config.MediaConfig) (arc.Device, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryDevice(cfg.Name), nil
	case "directory":
		if cfg.Path == "" {
			return nil, fmt.Errorf("directory media set %s requires path to be set", cfg.Name)
		}
		d, err := NewDirectoryDevice(cfg.Name, cfg.Path, cfg.EjectCommand)
		if err != nil {
			return nil, err
		}
		return d, nil
	case "hdd":
		if cfg.MountPoint == "" {
			return nil, fmt.Errorf("hdd media set %s requires mount_point to be set", cfg.Name)
		}
		return NewHDDDevice(cfg.Name, cfg.MountPoint, cfg.EjectCommand), nil
	case "optical":
		if cfg.StagingDir == "" || cfg.Drive == "" {
			return nil, fmt.Errorf("optical media set %s requires staging_dir and drive to be set", cfg.Name)
		}
		d, err := NewOpticalDevice(cfg.Name, cfg.StagingDir, cfg.ISOTool, cfg.Drive, cfg.EjectCommand)
		if err != nil {
			return nil, err
		}
		return d, nil
	case "tape":
		if cfg.TapeDevice == "" {
			return nil, fmt.Errorf("tape media set %s requires tape_device to be set", cfg.Name)
		}
		return NewTapeDevice(cfg.Name, cfg.TapeDevice, cfg.EjectCommand), nil
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("s3 media set %s requires s3_bucket to be set", cfg.Name)
		}
		client, err := NewS3Client(ctx, S3Options{
			Region:    cfg.S3Region,
			Profile:   cfg.S3Profile,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			return nil, err
		}
		return NewS3Device(cfg.Name, cfg.S3Bucket, cfg.S3Prefix, client), nil
	default:
		return nil, fmt.Errorf("unknown media type: %s", cfg.Type)
	}
}
