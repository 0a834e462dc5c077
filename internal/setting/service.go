package setting

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/frahmantamala/qrpay/internal"
)

type RepositoryAPI interface {
	GetAll(ctx context.Context) (map[string]string, error)
	Get(ctx context.Context, name string) (string, bool, error)
	SetMany(ctx context.Context, values map[string]string) error
	EnsureDefaults(ctx context.Context, defaults map[string]string) error
	MarkMonitorDown(ctx context.Context, heartbeatBefore time.Time) (bool, error)
}

// Store is the settings collaborator: get/set plus typed snapshots.
type Store struct {
	repo   RepositoryAPI
	logger *slog.Logger
}

func NewStore(repo RepositoryAPI, logger *slog.Logger) *Store {
	return &Store{repo: repo, logger: logger}
}

func (s *Store) Snapshot(ctx context.Context) (Snapshot, error) {
	values, err := s.repo.GetAll(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("load settings: %w", err)
	}
	return SnapshotFrom(values), nil
}

func (s *Store) Get(ctx context.Context, name string) (string, error) {
	v, _, err := s.repo.Get(ctx, name)
	return v, err
}

func (s *Store) Set(ctx context.Context, name, value string) error {
	return s.repo.SetMany(ctx, map[string]string{name: value})
}

// RecordHeartbeat stores the heartbeat time and marks the monitor alive.
func (s *Store) RecordHeartbeat(ctx context.Context, at time.Time) error {
	return s.repo.SetMany(ctx, map[string]string{
		KeyLastHeartbeat: formatUnix(at),
		KeyMonitorState:  "1",
	})
}

func (s *Store) RecordPayment(ctx context.Context, at time.Time) error {
	return s.repo.SetMany(ctx, map[string]string{KeyLastPayment: formatUnix(at)})
}

// MarkMonitorDown flags the monitor down only if it is still marked alive
// and its last heartbeat is older than heartbeatBefore. It reports false when
// a heartbeat arrived in the meantime.
func (s *Store) MarkMonitorDown(ctx context.Context, heartbeatBefore time.Time) (bool, error) {
	return s.repo.MarkMonitorDown(ctx, heartbeatBefore)
}

func (s *Store) EnsureDefaults(ctx context.Context) error {
	return s.repo.EnsureDefaults(ctx, Defaults)
}

// All returns every stored key, sorted by name.
func (s *Store) All(ctx context.Context) ([]Entry, error) {
	values, err := s.repo.GetAll(ctx)
	if err != nil {
		return nil, internal.NewStorageError("failed to load settings", err)
	}
	entries := make([]Entry, 0, len(values))
	for k, v := range values {
		entries = append(entries, Entry{Name: k, Value: v})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// Update applies admin edits. Unknown or read-only keys are rejected.
func (s *Store) Update(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return internal.NewValidationFieldError("settings", "at least one setting is required", internal.ErrCodeValidationFailed)
	}
	for k, v := range values {
		if !Editable[k] {
			return internal.NewValidationFieldError(k, fmt.Sprintf("%s cannot be changed", k), internal.ErrCodeValidationFailed)
		}
		if k == KeyCloseMinutes {
			if n, err := strconv.Atoi(v); err != nil || n <= 0 {
				return internal.NewValidationFieldError(k, "close must be a positive number of minutes", internal.ErrCodeValidationFailed)
			}
		}
	}
	if err := s.repo.SetMany(ctx, values); err != nil {
		return internal.NewStorageError("failed to save settings", err)
	}
	s.logger.Info("settings updated", "keys", len(values))
	return nil
}

// Monitor reports the agent's liveness bookkeeping.
func (s *Store) Monitor(ctx context.Context) (MonitorStatus, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return MonitorStatus{}, internal.NewStorageError("failed to load settings", err)
	}
	return MonitorStatus{
		Alive:         snap.MonitorAlive,
		LastHeartbeat: snap.LastHeartbeat.Unix(),
		LastPayment:   snap.LastPayment.Unix(),
	}.normalize(snap), nil
}
