// Package blob is the only entry point to the attachment content backends.
// Callers depend on the Store interface and pick a backend through Open.
package blob

import (
	"context"
	"fmt"

	"partnercore/internal/blob/core"
	"partnercore/internal/infra/blob/fs"
	"partnercore/internal/infra/blob/memory"
	"partnercore/internal/infra/blob/s3"
)

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// PutOptions configures a blob write.
	PutOptions = core.PutOptions
	// SignedURLOptions configures download URL generation.
	SignedURLOptions = core.SignedURLOptions
	// Info describes stored blob metadata.
	Info = core.Info
	// Store is the interface for blob storage backends.
	Store = core.Store
)

const (
	// DriverFilesystem is the local filesystem driver.
	DriverFilesystem = core.DriverFilesystem
	// DriverS3 is the S3-compatible driver.
	DriverS3 = core.DriverS3
	// DriverMemory is the in-memory driver.
	DriverMemory = core.DriverMemory
)

var (
	// ErrUnsupported indicates an operation isn't supported by a driver.
	ErrUnsupported = core.ErrUnsupported
	// ErrNotFound indicates a missing key.
	ErrNotFound = core.ErrNotFound
	// ErrExists indicates a write to an existing key.
	ErrExists = core.ErrExists
)

// S3Config configures the S3 driver.
type S3Config = s3.Config

// Config selects and configures a backend.
type Config struct {
	Driver  string   `yaml:"driver"`
	FSRoot  string   `yaml:"fs_root"`
	BaseURL string   `yaml:"base_url"`
	S3      S3Config `yaml:"s3"`
}

// Open returns the backend named by cfg.Driver (default fs).
func Open(ctx context.Context, cfg Config) (Store, error) {
	driver, err := core.ParseDriver(cfg.Driver)
	if err != nil {
		return nil, err
	}
	switch driver {
	case DriverS3:
		store, err := s3.New(ctx, cfg.S3)
		if err != nil {
			return nil, fmt.Errorf("open s3 blob store: %w", err)
		}
		return store, nil
	case DriverMemory:
		return NewMemory(), nil
	default:
		return NewFilesystem(cfg.FSRoot, cfg.BaseURL)
	}
}

// NewMemory returns an in-memory store.
func NewMemory() Store { return memory.New() }

// NewFilesystem returns a store rooted at root.
func NewFilesystem(root, baseURL string) (Store, error) {
	store, err := fs.New(root, baseURL)
	if err != nil {
		return nil, fmt.Errorf("open fs blob store: %w", err)
	}
	return store, nil
}
