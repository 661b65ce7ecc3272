package appstore

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/KayKostadinov/Go-Flashcards/internal/receipt"
	"github.com/KayKostadinov/Go-Flashcards/internal/utils"
)

const maxReceiptBytes = 4 << 20

// Source yields the raw receipt bytes for the current install.
type Source interface {
	ReceiptData(ctx context.Context) ([]byte, error)
}

// FileSource reads the receipt from a file. A missing or empty file is
// reported as receipt.ErrNoReceiptData.
type FileSource struct {
	Path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{Path: filepath.Clean(strings.TrimSpace(path))}
}

func (s *FileSource) ReceiptData(ctx context.Context) ([]byte, error) {
	_ = ctx
	info, err := os.Lstat(s.Path)
	if err != nil {
		if utils.IsMissingPathError(err) {
			return nil, receipt.ErrNoReceiptData
		}
		return nil, fmt.Errorf("stat receipt %s: %w", s.Path, err)
	}
	if err := utils.ValidateRegularFile(s.Path, info); err != nil {
		return nil, err
	}
	if info.Size() > maxReceiptBytes {
		return nil, fmt.Errorf("receipt %s exceeds %d bytes", s.Path, maxReceiptBytes)
	}

	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("read receipt %s: %w", s.Path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, receipt.ErrNoReceiptData
	}
	return data, nil
}

// Store replaces the receipt file contents atomically.
func (s *FileSource) Store(data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("receipt is empty")
	}
	if len(data) > maxReceiptBytes {
		return fmt.Errorf("receipt exceeds %d bytes", maxReceiptBytes)
	}
	if err := utils.WriteFileAtomic(s.Path, data); err != nil {
		return fmt.Errorf("store receipt %s: %w", s.Path, err)
	}
	return nil
}

// StaticSource serves a fixed receipt, mainly for tests and one-shot checks.
type StaticSource []byte

func (s StaticSource) ReceiptData(context.Context) ([]byte, error) {
	if len(s) == 0 {
		return nil, receipt.ErrNoReceiptData
	}
	return []byte(s), nil
}
