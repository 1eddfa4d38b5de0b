// Package storage is the content-addressed object store used for event
// attachments. Objects are keyed by the sha256 of their bytes, so storing the
// same bytes twice yields the same reference.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/JaimeStill/herbtrace/pkg/lifecycle"
)

// HashPrefix marks the digest algorithm in content hashes.
const HashPrefix = "sha256:"

// Object describes a stored blob.
type Object struct {
	Hash        string `json:"hash"`
	Key         string `json:"key"`
	Size        int64  `json:"size"`
	ContentType string `json:"content_type"`
}

// System stores and retrieves objects by content hash.
type System interface {
	// Put stores data and returns its content-addressed descriptor.
	Put(ctx context.Context, data []byte, contentType string) (Object, error)
	// Get opens the object for hash. The caller must close the reader.
	Get(ctx context.Context, hash string) (io.ReadCloser, error)
	// Exists reports whether an object for hash is stored.
	Exists(ctx context.Context, hash string) (bool, error)
	// Start registers provider initialization with the lifecycle coordinator.
	Start(lc *lifecycle.Coordinator) error
}

// backend is the provider-specific key/value surface.
type backend interface {
	name() string
	init(ctx context.Context) error
	write(ctx context.Context, key string, data []byte, contentType string) error
	read(ctx context.Context, key string) (io.ReadCloser, error)
	exists(ctx context.Context, key string) (bool, error)
}

type store struct {
	backend backend
	timeout time.Duration
	logger  *slog.Logger
}

// New builds the provider selected by cfg. Network providers do not connect
// until Start.
func New(ctx context.Context, cfg *Config, logger *slog.Logger) (System, error) {
	var (
		b   backend
		err error
	)

	switch cfg.Provider {
	case ProviderLocal:
		b, err = newLocal(cfg.Local)
	case ProviderAzure:
		b, err = newAzure(cfg.Azure)
	case ProviderS3:
		b, err = newS3(ctx, cfg.S3)
	default:
		err = fmt.Errorf("unknown storage provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("create storage provider: %w", err)
	}

	return &store{
		backend: b,
		timeout: cfg.UploadTimeoutDuration(),
		logger:  logger.With("system", "storage", "provider", b.name()),
	}, nil
}

func (s *store) Start(lc *lifecycle.Coordinator) error {
	lc.OnStartup(func() {
		if err := s.backend.init(lc.Context()); err != nil {
			s.logger.Error("storage initialization failed", "error", err)
			return
		}
		s.logger.Info("storage ready")
	})
	return nil
}

func (s *store) Put(ctx context.Context, data []byte, contentType string) (Object, error) {
	if len(data) == 0 {
		return Object{}, ErrEmptyObject
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	obj := Object{
		Hash:        HashPrefix + digest,
		Key:         objectKey(digest),
		Size:        int64(len(data)),
		ContentType: contentType,
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	found, err := s.backend.exists(ctx, obj.Key)
	if err != nil {
		return Object{}, fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}
	if found {
		return obj, nil
	}

	if err := s.backend.write(ctx, obj.Key, data, contentType); err != nil {
		return Object{}, fmt.Errorf("%w: %w", ErrUploadFailed, err)
	}

	s.logger.Info("object stored", "hash", obj.Hash, "size", obj.Size)
	return obj, nil
}

func (s *store) Get(ctx context.Context, hash string) (io.ReadCloser, error) {
	digest, err := ParseHash(hash)
	if err != nil {
		return nil, err
	}
	return s.backend.read(ctx, objectKey(digest))
}

func (s *store) Exists(ctx context.Context, hash string) (bool, error) {
	digest, err := ParseHash(hash)
	if err != nil {
		return false, err
	}
	return s.backend.exists(ctx, objectKey(digest))
}

// ParseHash accepts "sha256:<hex>" or a bare hex digest and returns the
// lower-case hex digest.
func ParseHash(hash string) (string, error) {
	digest := strings.ToLower(strings.TrimPrefix(hash, HashPrefix))
	if len(digest) != sha256.Size*2 {
		return "", fmt.Errorf("%w: %q", ErrInvalidHash, hash)
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidHash, hash)
	}
	return digest, nil
}

func objectKey(digest string) string {
	return "objects/" + digest
}
