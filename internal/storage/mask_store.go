// Package storage хранит маску заблокированных ячеек и последний снимок
// тумана в BadgerDB.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/annel0/fog-engine/internal/fog"
	"github.com/annel0/fog-engine/internal/logging"
	"github.com/dgraph-io/badger/v3"
)

var (
	// ErrNotFound возвращается, если записи с таким ключом нет
	ErrNotFound = errors.New("storage: not found")
	// ErrClosed возвращается после Close
	ErrClosed = errors.New("storage: closed")
)

const (
	maskPrefix     = "mask:"
	snapshotPrefix = "snapshot:"
)

// maskRecord хранит маску, упакованную по биту на ячейку
type maskRecord struct {
	Bounds  int       `json:"bounds"`
	Blocked int       `json:"blocked"`
	Bits    []byte    `json:"bits"`
	SavedAt time.Time `json:"saved_at"`
}

// snapshotRecord хранит счётчики видимости на конец цикла
type snapshotRecord struct {
	Cycle   uint64    `json:"cycle"`
	Bounds  int       `json:"bounds"`
	Counts  []uint32  `json:"counts"`
	SavedAt time.Time `json:"saved_at"`
}

// MaskStore хранит маски и снимки в BadgerDB
type MaskStore struct {
	db      *badger.DB
	dbPath  string
	mu      sync.RWMutex
	isReady bool
	log     *logging.Logger
}

// OpenMaskStore открывает (или создаёт) базу в dataPath/fog
func OpenMaskStore(dataPath string) (*MaskStore, error) {
	dbPath := filepath.Join(dataPath, "fog")
	opts := badger.DefaultOptions(dbPath)
	opts.Logger = nil // Badger пишет слишком подробно

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть BadgerDB: %w", err)
	}
	return &MaskStore{db: db, dbPath: dbPath, isReady: true, log: logging.GetStorageLogger()}, nil
}

// Close закрывает базу. Повторный вызов ничего не делает.
func (ms *MaskStore) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if !ms.isReady {
		return nil
	}
	ms.isReady = false
	return ms.db.Close()
}

// SaveMask сохраняет маску под ключом
func (ms *MaskStore) SaveMask(key string, bounds int, blocked []bool) error {
	if len(blocked) != bounds*bounds {
		return fmt.Errorf("mask has %d cells, want %d", len(blocked), bounds*bounds)
	}
	rec := maskRecord{Bounds: bounds, Bits: packBits(blocked), SavedAt: time.Now().UTC()}
	for _, b := range blocked {
		if b {
			rec.Blocked++
		}
	}
	if err := ms.put(maskPrefix+key, rec); err != nil {
		return err
	}
	ms.log.Debug("💾 Маска %q сохранена: %dx%d, заблокировано %d", key, bounds, bounds, rec.Blocked)
	return nil
}

// LoadMask читает маску. Маска другого размера считается отсутствующей.
func (ms *MaskStore) LoadMask(key string, bounds int) ([]bool, error) {
	var rec maskRecord
	if err := ms.get(maskPrefix+key, &rec); err != nil {
		return nil, err
	}
	if rec.Bounds != bounds {
		return nil, fmt.Errorf("%w: mask %q is %dx%d, want %dx%d", ErrNotFound, key, rec.Bounds, rec.Bounds, bounds, bounds)
	}
	return unpackBits(rec.Bits, bounds*bounds), nil
}

// SaveSnapshot сохраняет снимок тумана
func (ms *MaskStore) SaveSnapshot(key string, snap fog.Snapshot) error {
	if snap.Counts == nil {
		return fmt.Errorf("empty snapshot")
	}
	return ms.put(snapshotPrefix+key, snapshotRecord{
		Cycle:   snap.Cycle,
		Bounds:  snap.Bounds,
		Counts:  snap.Counts,
		SavedAt: time.Now().UTC(),
	})
}

// LoadSnapshot читает снимок тумана (без текстуры)
func (ms *MaskStore) LoadSnapshot(key string) (fog.Snapshot, error) {
	var rec snapshotRecord
	if err := ms.get(snapshotPrefix+key, &rec); err != nil {
		return fog.Snapshot{}, err
	}
	if len(rec.Counts) != rec.Bounds*rec.Bounds {
		return fog.Snapshot{}, fmt.Errorf("snapshot %q corrupted: %d counts for %dx%d", key, len(rec.Counts), rec.Bounds, rec.Bounds)
	}
	return fog.Snapshot{Cycle: rec.Cycle, Bounds: rec.Bounds, Counts: rec.Counts}, nil
}

func (ms *MaskStore) put(key string, v interface{}) error {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	if !ms.isReady {
		return ErrClosed
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return ms.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

func (ms *MaskStore) get(key string, v interface{}) error {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	if !ms.isReady {
		return ErrClosed
	}

	return ms.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, v)
		})
	})
}

func packBits(bits []bool) []byte {
	out := make([]byte, (len(bits)+7)/8)
	for i, b := range bits {
		if b {
			out[i/8] |= 1 << (i % 8)
		}
	}
	return out
}

func unpackBits(data []byte, n int) []bool {
	out := make([]bool, n)
	for i := range out {
		if i/8 < len(data) {
			out[i] = data[i/8]&(1<<(i%8)) != 0
		}
	}
	return out
}

// PersistentMask реализует fog.MaskSource, который берёт маску из базы, а при её
// отсутствии строит через Fallback и сохраняет результат.
type PersistentMask struct {
	Store    *MaskStore
	Key      string
	Fallback fog.MaskSource
}

// BlockedMask реализует fog.MaskSource
func (pm PersistentMask) BlockedMask(bounds int) ([]bool, error) {
	mask, err := pm.Store.LoadMask(pm.Key, bounds)
	if err == nil {
		pm.Store.log.Info("🗺️ Маска %q загружена из BadgerDB (%dx%d)", pm.Key, bounds, bounds)
		return mask, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if pm.Fallback == nil {
		return make([]bool, bounds*bounds), nil
	}

	mask, err = pm.Fallback.BlockedMask(bounds)
	if err != nil {
		return nil, fmt.Errorf("generate mask %q: %w", pm.Key, err)
	}
	if err := pm.Store.SaveMask(pm.Key, bounds, mask); err != nil {
		return nil, err
	}
	pm.Store.log.Info("🗺️ Маска %q сгенерирована и сохранена (%dx%d)", pm.Key, bounds, bounds)
	return mask, nil
}
