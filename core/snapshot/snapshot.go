// Package snapshot persists the full ledger state to a single JSON file.
// Writes are atomic (temp file + rename) and optionally keep a rotated set
// of timestamped backups of the previous snapshot.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aidledger/aidledger/core/types"
	"github.com/aidledger/aidledger/log"
	"github.com/aidledger/aidledger/params"
)

// ErrCorruptSnapshot reports a snapshot file that exists but cannot be
// decoded or fails basic shape validation. Callers should treat the state
// as untrusted and start from genesis rather than guess.
var ErrCorruptSnapshot = errors.New("snapshot: corrupt snapshot file")

const formatVersion = 1

// backupTimeLayout names backup files so they sort chronologically.
const backupTimeLayout = "20060102T150405Z"

type fileFormat struct {
	Version int                  `json:"version"`
	SavedAt time.Time            `json:"saved_at"`
	Chain   []*types.Block       `json:"chain"`
	Pending []*types.Transaction `json:"pending"`
}

// Store reads and writes ledger snapshots at a fixed path.
type Store struct {
	cfg    params.PersistenceSettings
	logger *log.Logger
}

func NewStore(cfg params.PersistenceSettings) *Store {
	return &Store{cfg: cfg, logger: log.Module("snapshot")}
}

// Path returns the snapshot file path.
func (s *Store) Path() string { return s.cfg.FilePath }

// Available reports whether a snapshot file exists on disk.
func (s *Store) Available() bool {
	info, err := os.Stat(s.cfg.FilePath)
	return err == nil && !info.IsDir()
}

// Save writes the given chain and pool to disk. The previous snapshot, if
// any, is first rotated into a timestamped backup when backups are enabled.
func (s *Store) Save(chain []*types.Block, pending []*types.Transaction) error {
	if s.cfg.CreateBackup && s.Available() {
		if err := s.rotateBackups(); err != nil {
			// A failed backup must not block persisting current state.
			s.logger.Warn("backup rotation failed", "err", err)
		}
	}

	doc := fileFormat{
		Version: formatVersion,
		SavedAt: time.Now().UTC(),
		Chain:   chain,
		Pending: pending,
	}
	raw, err := json.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return fmt.Errorf("snapshot: encode: %w", err)
	}

	if dir := filepath.Dir(s.cfg.FilePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("snapshot: mkdir: %w", err)
		}
	}
	if err := writeAtomic(s.cfg.FilePath, raw); err != nil {
		return err
	}
	s.logger.Debug("snapshot written",
		"path", s.cfg.FilePath, "blocks", len(chain), "pending", len(pending))
	return nil
}

// Load reads the snapshot from disk. A missing file is not an error: it
// returns (nil, nil, nil) so callers fall through to a fresh genesis chain.
func (s *Store) Load() ([]*types.Block, []*types.Transaction, error) {
	raw, err := os.ReadFile(s.cfg.FilePath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("snapshot: read: %w", err)
	}

	var doc fileFormat
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	if doc.Version != formatVersion {
		return nil, nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptSnapshot, doc.Version)
	}
	if len(doc.Chain) == 0 || !doc.Chain[0].IsGenesis() {
		return nil, nil, fmt.Errorf("%w: chain does not start at genesis", ErrCorruptSnapshot)
	}
	s.logger.Info("snapshot loaded",
		"path", s.cfg.FilePath, "blocks", len(doc.Chain), "pending", len(doc.Pending))
	return doc.Chain, doc.Pending, nil
}

// rotateBackups copies the current snapshot aside and prunes old backups
// down to MaxBackupFiles.
func (s *Store) rotateBackups() error {
	stamp := time.Now().UTC().Format(backupTimeLayout)
	dst := fmt.Sprintf("%s.%s.bak", s.cfg.FilePath, stamp)
	raw, err := os.ReadFile(s.cfg.FilePath)
	if err != nil {
		return fmt.Errorf("snapshot: read for backup: %w", err)
	}
	if err := os.WriteFile(dst, raw, 0o644); err != nil {
		return fmt.Errorf("snapshot: write backup: %w", err)
	}
	return s.pruneBackups()
}

func (s *Store) pruneBackups() error {
	backups, err := s.Backups()
	if err != nil {
		return err
	}
	max := s.cfg.MaxBackupFiles
	if max <= 0 || len(backups) <= max {
		return nil
	}
	for _, stale := range backups[:len(backups)-max] {
		if err := os.Remove(stale); err != nil {
			return fmt.Errorf("snapshot: prune backup: %w", err)
		}
	}
	return nil
}

// Backups lists existing backup files, oldest first.
func (s *Store) Backups() ([]string, error) {
	dir := filepath.Dir(s.cfg.FilePath)
	base := filepath.Base(s.cfg.FilePath)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("snapshot: list backups: %w", err)
	}
	var backups []string
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, base+".") && strings.HasSuffix(name, ".bak") {
			backups = append(backups, filepath.Join(dir, name))
		}
	}
	// The timestamp component makes lexical order chronological.
	sort.Strings(backups)
	return backups, nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("snapshot: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("snapshot: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("snapshot: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("snapshot: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("snapshot: rename: %w", err)
	}
	return nil
}
