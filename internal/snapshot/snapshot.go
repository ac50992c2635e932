// Package snapshot persists the governor's usage state across
// restarts: quota counters, the admitted population, and experiment
// assignments. Transcripts and sessions are deliberately not included;
// they are ephemeral by design.
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ai-counseling/ai-counselor-line-bot/internal/config"
	"github.com/ai-counseling/ai-counselor-line-bot/internal/experiment"
	"github.com/ai-counseling/ai-counselor-line-bot/internal/state"
)

type Snapshot struct {
	SavedAt     time.Time                    `json:"savedAt"`
	Quotas      map[string]state.UsageRecord `json:"quotas"`
	Population  []string                     `json:"population"`
	Experiments experiment.ExportedState     `json:"experiments"`
}

// Sources are the state holders a snapshot captures and restores.
type Sources struct {
	Quotas      *state.QuotaTracker
	Population  *state.Population
	Experiments *experiment.Registry
}

func Capture(src Sources) Snapshot {
	return Snapshot{
		SavedAt:     time.Now(),
		Quotas:      src.Quotas.Export(),
		Population:  src.Population.Export(),
		Experiments: src.Experiments.Export(),
	}
}

func Restore(snap Snapshot, src Sources) {
	src.Quotas.Import(snap.Quotas)
	src.Population.Import(snap.Population)
	src.Experiments.Import(snap.Experiments)
}

// Store writes snapshots to a JSON file and mirrors them to redis when
// an address is configured. The file is authoritative; the redis
// mirror is best-effort and survives loss of the local disk.
type Store struct {
	path     string
	redis    *redis.Client
	redisKey string
}

func NewStore(cfg config.SnapshotConfig) *Store {
	s := &Store{
		path:     cfg.Path,
		redisKey: cfg.RedisKey,
	}
	if cfg.RedisAddr != "" {
		s.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if s.redisKey == "" {
			s.redisKey = config.DefaultSnapshotRedisKey
		}
	}
	return s
}

func (s *Store) Close() error {
	if s.redis != nil {
		return s.redis.Close()
	}
	return nil
}

// Save persists one snapshot. A redis mirror failure is logged and
// does not fail the save; a file write failure does.
func (s *Store) Save(ctx context.Context, snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if s.path != "" {
		if err := writeFileAtomic(s.path, data); err != nil {
			return fmt.Errorf("write snapshot: %w", err)
		}
	}

	if s.redis != nil {
		if err := s.redis.Set(ctx, s.redisKey, data, 0).Err(); err != nil {
			log.Printf("[snapshot] redis mirror failed: %v", err)
		}
	}
	return nil
}

// Load reads the latest snapshot, preferring the local file and
// falling back to the redis mirror. A missing snapshot is not an
// error: ok is false and the caller starts cold.
func (s *Store) Load(ctx context.Context) (Snapshot, bool, error) {
	var snap Snapshot

	if s.path != "" {
		data, err := os.ReadFile(s.path)
		switch {
		case err == nil:
			if err := json.Unmarshal(data, &snap); err != nil {
				return Snapshot{}, false, fmt.Errorf("parse snapshot file: %w", err)
			}
			return snap, true, nil
		case !os.IsNotExist(err):
			return Snapshot{}, false, fmt.Errorf("read snapshot file: %w", err)
		}
	}

	if s.redis != nil {
		data, err := s.redis.Get(ctx, s.redisKey).Bytes()
		switch {
		case err == nil:
			if err := json.Unmarshal(data, &snap); err != nil {
				return Snapshot{}, false, fmt.Errorf("parse snapshot from redis: %w", err)
			}
			log.Printf("[snapshot] restored from redis mirror")
			return snap, true, nil
		case err != redis.Nil:
			log.Printf("[snapshot] redis read failed: %v", err)
		}
	}

	return Snapshot{}, false, nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
