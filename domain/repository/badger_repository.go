package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/Songmu/retry"
	"github.com/dgraph-io/badger/v4"
	"github.com/pyama86/autoheal/domain/entity"
)

const (
	incidentPrefix      = "incident/"
	baselinePrefix      = "baseline/"
	resourceIndexPrefix = "idx/resource/"
	typeIndexPrefix     = "idx/type/"
	stateIndexPrefix    = "idx/state/"
	indexSep            = "\x00"
	conflictRetries     = 5
)

type BadgerConfig struct {
	Path       string `mapstructure:"path"`
	InMemory   bool   `mapstructure:"in_memory"`
	SyncWrites bool   `mapstructure:"sync_writes"`
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// 組み込みストア。単一プロセスで動かす場合とテストで使う
type BadgerRepository struct {
	db *badger.DB
}

func NewBadgerRepository(cfg BadgerConfig) (*BadgerRepository, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("badger path is required")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("failed to create badger directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(&badgerLogger{logger: slog.Default().With(slog.String("component", "badger"))})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &BadgerRepository{db: db}, nil
}

func (r *BadgerRepository) Close() error {
	return r.db.Close()
}

func indexKey(prefix, value string, at time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s%s%s%020d%s%s", prefix, value, indexSep, at.UnixNano(), indexSep, id))
}

func indexScanPrefix(prefix, value string) []byte {
	return []byte(prefix + value + indexSep)
}

func incidentIndexes(inc *entity.Incident) [][]byte {
	keys := [][]byte{indexKey(stateIndexPrefix, string(inc.WorkflowState), inc.UpdatedAt, inc.IncidentID)}
	if inc.ResourceKey != "" {
		keys = append(keys, indexKey(resourceIndexPrefix, inc.ResourceKey, inc.CreatedAt, inc.IncidentID))
	}
	if inc.ResourceType != "" {
		keys = append(keys, indexKey(typeIndexPrefix, inc.ResourceType, inc.CreatedAt, inc.IncidentID))
	}
	return keys
}

// トランザクションの競合は数回やり直す
func (r *BadgerRepository) update(fn func(txn *badger.Txn) error) error {
	var result error
	err := retry.Retry(conflictRetries, 10*time.Millisecond, func() error {
		err := r.db.Update(fn)
		if errors.Is(err, badger.ErrConflict) {
			return err
		}
		result = err
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %w", entity.ErrStoreUnavailable, err)
	}
	return result
}

func getJSON(txn *badger.Txn, key string, v any) (bool, error) {
	item, err := txn.Get([]byte(key))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %w", entity.ErrStoreUnavailable, err)
	}
	b, err := item.ValueCopy(nil)
	if err != nil {
		return false, fmt.Errorf("%w: %w", entity.ErrStoreUnavailable, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

func setJSON(txn *badger.Txn, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return txn.Set([]byte(key), b)
}

func (r *BadgerRepository) CreateIncident(_ context.Context, inc *entity.Incident) error {
	return r.update(func(txn *badger.Txn) error {
		var existing entity.Incident
		found, err := getJSON(txn, incidentPrefix+inc.IncidentID, &existing)
		if err != nil {
			return err
		}
		if found {
			return fmt.Errorf("%w: %s", entity.ErrDuplicateIncident, inc.IncidentID)
		}
		if err := setJSON(txn, incidentPrefix+inc.IncidentID, inc); err != nil {
			return err
		}
		for _, k := range incidentIndexes(inc) {
			if err := txn.Set(k, nil); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *BadgerRepository) FindIncident(_ context.Context, id string) (*entity.Incident, error) {
	var inc entity.Incident
	var found bool
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		found, err = getJSON(txn, incidentPrefix+id, &inc)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &inc, nil
}

func (r *BadgerRepository) TransitionIncident(_ context.Context, id string, u entity.IncidentUpdate) (*entity.Incident, error) {
	var inc entity.Incident
	err := r.update(func(txn *badger.Txn) error {
		inc = entity.Incident{}
		found, err := getJSON(txn, incidentPrefix+id, &inc)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%w: %s", entity.ErrIncidentNotFound, id)
		}
		if inc.HasApplied(u) {
			return nil
		}

		old := indexKey(stateIndexPrefix, string(inc.WorkflowState), inc.UpdatedAt, inc.IncidentID)
		if err := inc.Apply(u); err != nil {
			return err
		}
		if err := txn.Delete(old); err != nil {
			return err
		}
		if err := txn.Set(indexKey(stateIndexPrefix, string(inc.WorkflowState), inc.UpdatedAt, inc.IncidentID), nil); err != nil {
			return err
		}
		return setJSON(txn, incidentPrefix+id, &inc)
	})
	if err != nil {
		return nil, err
	}
	return &inc, nil
}

// scanIndex は prefix 配下で from <= t < until の ID を古い順に返す
func scanIndex(txn *badger.Txn, prefix []byte, from, until time.Time) []string {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	var ids []string
	seek := prefix
	if from.After(time.Unix(0, 0)) {
		seek = append(slices.Clone(prefix), []byte(fmt.Sprintf("%020d", from.UnixNano()))...)
	}
	for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
		rest := strings.TrimPrefix(string(it.Item().Key()), string(prefix))
		ts, id, ok := strings.Cut(rest, indexSep)
		if !ok {
			continue
		}
		if !until.IsZero() && ts >= fmt.Sprintf("%020d", until.UnixNano()) {
			break
		}
		ids = append(ids, id)
	}
	return ids
}

func (r *BadgerRepository) incidentsByIndex(prefix []byte, from, until time.Time) ([]entity.Incident, error) {
	var incidents []entity.Incident
	err := r.db.View(func(txn *badger.Txn) error {
		for _, id := range scanIndex(txn, prefix, from, until) {
			var inc entity.Incident
			found, err := getJSON(txn, incidentPrefix+id, &inc)
			if err != nil {
				return err
			}
			if found {
				incidents = append(incidents, inc)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return incidents, nil
}

func (r *BadgerRepository) IncidentsByResource(_ context.Context, key string, since time.Time) ([]entity.Incident, error) {
	return r.incidentsByIndex(indexScanPrefix(resourceIndexPrefix, key), since, time.Time{})
}

// 索引を新しい側から逆順にたどり、q.Limit 件揃ったら止める
func (r *BadgerRepository) RecentIncidentsByType(_ context.Context, q ContextQuery) ([]entity.Incident, error) {
	if q.Limit <= 0 {
		return nil, nil
	}
	prefix := indexScanPrefix(typeIndexPrefix, q.ResourceType)
	since := ""
	if q.Since.After(time.Unix(0, 0)) {
		since = fmt.Sprintf("%020d", q.Since.UnixNano())
	}

	var incidents []entity.Incident
	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(append(slices.Clone(prefix), 0xFF)); it.ValidForPrefix(prefix); it.Next() {
			rest := strings.TrimPrefix(string(it.Item().Key()), string(prefix))
			ts, id, ok := strings.Cut(rest, indexSep)
			if !ok {
				continue
			}
			if ts < since {
				break
			}
			if id == q.ExcludeID {
				continue
			}
			var inc entity.Incident
			found, err := getJSON(txn, incidentPrefix+id, &inc)
			if err != nil {
				return err
			}
			if !found || !q.Matches(&inc) {
				continue
			}
			incidents = append(incidents, inc)
			if len(incidents) == q.Limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return incidents, nil
}

func (r *BadgerRepository) IncidentsByState(_ context.Context, state entity.WorkflowState, updatedBefore time.Time) ([]entity.Incident, error) {
	return r.incidentsByIndex(indexScanPrefix(stateIndexPrefix, string(state)), time.Time{}, updatedBefore)
}

func (r *BadgerRepository) FindBaseline(_ context.Context, key string) (*entity.Baseline, error) {
	var b entity.Baseline
	var found bool
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		found, err = getJSON(txn, baselinePrefix+key, &b)
		return err
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &b, nil
}

func (r *BadgerRepository) SaveBaseline(_ context.Context, b *entity.Baseline, expected int64) error {
	// 競合時は呼び出し側で読み直すのでここではやり直さない
	err := r.db.Update(func(txn *badger.Txn) error {
		var current entity.Baseline
		found, err := getJSON(txn, baselinePrefix+b.BaselineKey, &current)
		if err != nil {
			return err
		}
		var count int64
		if found {
			count = current.SampleCount
		}
		if count != expected {
			return fmt.Errorf("%w: %s has %d samples, expected %d", entity.ErrBaselineConflict, b.BaselineKey, count, expected)
		}
		return setJSON(txn, baselinePrefix+b.BaselineKey, b)
	})
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("%w: %s", entity.ErrBaselineConflict, b.BaselineKey)
	}
	return err
}
