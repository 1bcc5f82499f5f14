package portfolio

import (
	"os"
	"path/filepath"

	"github.com/rxtech-lab/argo-execution/internal/logger"
	"github.com/rxtech-lab/argo-execution/internal/types"
	"github.com/rxtech-lab/argo-execution/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// SnapshotStore persists portfolio snapshots as YAML. Writes go to a
// temporary file followed by a rename, so a crash mid-write never corrupts
// the last good snapshot.
type SnapshotStore struct {
	path   string
	logger *logger.Logger
}

// NewSnapshotStore creates a snapshot store writing to path.
func NewSnapshotStore(path string, logger *logger.Logger) *SnapshotStore {
	return &SnapshotStore{
		path:   path,
		logger: logger,
	}
}

// Persist writes the snapshot atomically.
func (s *SnapshotStore) Persist(snapshot types.Snapshot) error {
	data, err := yaml.Marshal(&snapshot)
	if err != nil {
		return errors.Wrap(errors.ErrCodeSnapshotFailed, "failed to marshal snapshot", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(errors.ErrCodeSnapshotFailed, "failed to create snapshot directory", err)
	}

	tmp, err := os.CreateTemp(dir, "snapshot-*.yaml")
	if err != nil {
		return errors.Wrap(errors.ErrCodeSnapshotFailed, "failed to create temp snapshot", err)
	}

	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)

		return errors.Wrap(errors.ErrCodeSnapshotFailed, "failed to write snapshot", err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)

		return errors.Wrap(errors.ErrCodeSnapshotFailed, "failed to close snapshot", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)

		return errors.Wrap(errors.ErrCodeSnapshotFailed, "failed to replace snapshot", err)
	}

	s.logger.Debug("snapshot persisted",
		zap.String("path", s.path),
		zap.Int("positions", len(snapshot.Positions)))

	return nil
}

// Load reads the last persisted snapshot. A missing file returns a
// data-not-found error so callers can distinguish first boot from corruption.
func (s *SnapshotStore) Load() (types.Snapshot, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return types.Snapshot{}, errors.Newf(errors.ErrCodeDataNotFound, "no snapshot at %s", s.path)
		}

		return types.Snapshot{}, errors.Wrap(errors.ErrCodeRecoveryFailed, "failed to read snapshot", err)
	}

	var snapshot types.Snapshot
	if err := yaml.Unmarshal(data, &snapshot); err != nil {
		return types.Snapshot{}, errors.Wrap(errors.ErrCodeRecoveryFailed, "failed to parse snapshot", err)
	}

	return snapshot, nil
}
