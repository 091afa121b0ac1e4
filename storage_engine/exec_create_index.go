package storageengine

import (
	"SpaceDB/storage_engine/access/spgist"
	"SpaceDB/storage_engine/access/spgist/opclass"
	"SpaceDB/storage_engine/catalog"
	"fmt"
)

/*
This file contains the index DDL.
Create Index registers the index with the catalog (file id + split policy) and then
creates the index file; the CreateIndex WAL record makes the empty index durable.
Drop Index closes the file, deletes it and forgets the catalog entry.
*/

func (se *StorageEngine) openIndex(entry catalog.IndexEntry) (*spgist.Index, error) {
	policy, err := opclass.Lookup(entry.Policy, se.config.PageSize)
	if err != nil {
		return nil, fmt.Errorf("index '%s': %w", entry.Name, err)
	}
	return se.IndexManager.GetOrCreateIndex(entry.Name, entry.FileID, policy)
}

// CreateIndex creates an empty index partitioned by the named split policy.
func (se *StorageEngine) CreateIndex(name, policy string) (*spgist.Index, error) {
	if name == "" {
		return nil, fmt.Errorf("index name cannot be empty")
	}
	if _, err := opclass.Lookup(policy, se.config.PageSize); err != nil {
		return nil, err
	}

	entry, err := se.CatalogManager.RegisterNewIndex(name, policy)
	if err != nil {
		return nil, err
	}
	ix, err := se.openIndex(entry)
	if err != nil {
		// the file may be half initialised; the catalog entry must not outlive it
		if uerr := se.CatalogManager.UnregisterIndex(name); uerr != nil {
			se.logger.Printf("Warning: failed to unregister index '%s': %v", name, uerr)
		}
		return nil, err
	}
	if err := se.WalManager.Sync(); err != nil {
		return nil, fmt.Errorf("create index '%s': WAL sync failed: %w", name, err)
	}

	se.logger.Printf("CREATE INDEX %s policy=%s fileID=%d", name, policy, entry.FileID)
	return ix, nil
}

// DropIndex deletes an index and its file.
func (se *StorageEngine) DropIndex(name string) error {
	if !se.CatalogManager.IndexExists(name) {
		return fmt.Errorf("index '%s' does not exist", name)
	}
	if err := se.IndexManager.DropIndex(name); err != nil {
		return err
	}
	if err := se.CatalogManager.UnregisterIndex(name); err != nil {
		return err
	}
	se.logger.Printf("DROP INDEX %s", name)
	return nil
}

// GetIndex returns an open index by name.
func (se *StorageEngine) GetIndex(name string) (*spgist.Index, error) {
	if ix, ok := se.IndexManager.Index(name); ok {
		return ix, nil
	}
	entry, err := se.CatalogManager.GetIndex(name)
	if err != nil {
		return nil, err
	}
	return se.openIndex(entry)
}
