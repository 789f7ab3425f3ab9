package knowledgebase

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/regulens/platform/internal/model"
	"github.com/regulens/platform/internal/regerrors"
)

// snapshotVersion is the current on-disk envelope version. Future
// versions only ever add fields; import accepts any version whose
// envelope still parses.
const snapshotVersion = 1

// Snapshot is the versioned export envelope written to
// regulatory_knowledge_base.json.
type Snapshot struct {
	Version         int                      `json:"version"`
	ExportTimestamp time.Time                `json:"export_timestamp"`
	TotalChanges    int                      `json:"total_changes"`
	Changes         []model.RegulatoryChange `json:"changes"`
}

// ExportToJSON returns a full snapshot of every in-memory change,
// ordered by change_id for a stable diff across exports.
func (kb *KnowledgeBase) ExportToJSON() ([]byte, error) {
	kb.storageMu.RLock()
	changes := make([]model.RegulatoryChange, 0, len(kb.changes))
	for _, c := range kb.changes {
		changes = append(changes, c)
	}
	kb.storageMu.RUnlock()

	sort.Slice(changes, func(i, j int) bool { return changes[i].ChangeID < changes[j].ChangeID })

	snap := Snapshot{
		Version:         snapshotVersion,
		ExportTimestamp: time.Now().UTC(),
		TotalChanges:    len(changes),
		Changes:         changes,
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, &regerrors.PersistenceError{Op: "export_to_json", Err: err}
	}
	return data, nil
}

// ImportFromJSON loads a snapshot produced by ExportToJSON, restoring
// memory and indexes. Entries missing a change_id are skipped rather
// than rejecting the whole snapshot.
func (kb *KnowledgeBase) ImportFromJSON(data []byte) (int, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return 0, &regerrors.ParseError{ContentType: "application/json", Detail: err.Error()}
	}

	imported := 0
	for _, c := range snap.Changes {
		if c.ChangeID == "" {
			continue
		}

		kb.storageMu.Lock()
		existing, hadExisting := kb.changes[c.ChangeID]
		kb.changes[c.ChangeID] = c
		kb.storageMu.Unlock()

		kb.indexMu.Lock()
		if hadExisting {
			kb.removeFromIndexLocked(existing)
		}
		kb.indexChangeLocked(c)
		kb.lru.Touch(c.ChangeID)
		kb.indexMu.Unlock()

		imported++
	}

	kb.evictOverflow()
	return imported, nil
}
