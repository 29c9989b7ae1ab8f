package diag

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/bulkdata/engine/internal/logger"
	"github.com/bulkdata/engine/pkg/bulkdata"
)

const trackKeyPrefix = "track:"

type persistedRecord struct {
	ID           string    `json:"id"`
	Label        string    `json:"label"`
	Flags        uint32    `json:"flags"`
	ElementCount int32     `json:"element_count"`
	Resident     bool      `json:"resident"`
	AsyncPending bool      `json:"async_pending"`
	Bytes        int64     `json:"bytes"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// persistRecord writes a best-effort snapshot of u to db, modeled on the
// teacher's BadgerDB metadata stores (pkg/metadata/store/badger): a single
// db.Update per write, JSON-encoded value. Failures are logged, never
// returned — persistence is a diagnostic aid, not load-bearing for the
// in-memory tracking table itself.
func persistRecord(db *badger.DB, u Usage) {
	rec := persistedRecord{
		ID:           u.ID.String(),
		Label:        u.Label,
		Flags:        uint32(u.Flags),
		ElementCount: u.ElementCount,
		Resident:     u.Resident,
		AsyncPending: u.AsyncPending,
		Bytes:        u.Bytes,
		RecordedAt:   time.Now(),
	}
	val, err := json.Marshal(rec)
	if err != nil {
		logger.Warn("diag: marshal tracking record", "error", err)
		return
	}

	key := []byte(trackKeyPrefix + rec.ID)
	if err := db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, val)
	}); err != nil {
		logger.Warn("diag: persist tracking record", "error", err)
	}
}

func deleteRecord(db *badger.DB, id string) {
	key := []byte(trackKeyPrefix + id)
	err := db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
	if err != nil {
		logger.Warn("diag: delete tracking record", "error", err)
	}
}

// LoadPersisted reads every snapshot record written to db, for a host
// process inspecting a prior run's tracking table (e.g. after a crash)
// without the original BulkData instances to query live.
func LoadPersisted(db *badger.DB) ([]Usage, error) {
	var out []Usage

	err := db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(trackKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			if err := item.Value(func(val []byte) error {
				var rec persistedRecord
				if err := json.Unmarshal(val, &rec); err != nil {
					return err
				}
				id, err := uuid.Parse(rec.ID)
				if err != nil {
					return err
				}
				out = append(out, Usage{
					ID:           id,
					Label:        rec.Label,
					Flags:        bulkdata.Flags(rec.Flags),
					ElementCount: rec.ElementCount,
					Resident:     rec.Resident,
					AsyncPending: rec.AsyncPending,
					Bytes:        rec.Bytes,
				})
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("diag: load persisted tracking records: %w", err)
	}
	return out, nil
}
