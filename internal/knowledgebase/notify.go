package knowledgebase

import (
	"context"

	"github.com/regulens/platform/pkg/pgnotify"
)

// EnableClusterInvalidation wires a PostgreSQL LISTEN/NOTIFY subscription
// on regulatory_changes so that an UPDATE committed by a peer process
// running against the same database drops this instance's in-memory copy
// and index entries rather than serving them stale. The next
// GetRegulatoryChange call repopulates from the table.
//
// Only deployments running more than one monitor replica against a
// shared database need this; a single-instance deployment can leave it
// disabled.
func (kb *KnowledgeBase) EnableClusterInvalidation(dsn string) error {
	bus, err := pgnotify.New(dsn)
	if err != nil {
		return err
	}

	_, err = bus.OnUpdate("regulatory_changes", func(_ context.Context, _, newRow map[string]interface{}) error {
		changeID, _ := newRow["change_id"].(string)
		if changeID == "" {
			return nil
		}
		kb.invalidateLocal(changeID)
		return nil
	})
	if err != nil {
		bus.Close()
		return err
	}

	kb.notifyBus = bus
	return nil
}

// CloseClusterInvalidation shuts down the LISTEN/NOTIFY subscription, if
// EnableClusterInvalidation started one. Safe to call unconditionally.
func (kb *KnowledgeBase) CloseClusterInvalidation() error {
	if kb.notifyBus == nil {
		return nil
	}
	return kb.notifyBus.Close()
}

func (kb *KnowledgeBase) invalidateLocal(changeID string) {
	kb.storageMu.Lock()
	change, ok := kb.changes[changeID]
	if !ok {
		kb.storageMu.Unlock()
		return
	}
	delete(kb.changes, changeID)
	kb.storageMu.Unlock()

	kb.indexMu.Lock()
	kb.removeFromIndexLocked(change)
	kb.lru.Remove(changeID)
	kb.indexMu.Unlock()

	if kb.log != nil {
		kb.log.WithField("change_id", changeID).Debug("dropped local copy after peer update")
	}
}
