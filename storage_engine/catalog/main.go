package catalog

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"slices"
)

/*
This file is the main acess of Catalog Manager
Catalog manager maintains the metadata of the indexes and also persists it on the disk
It persists the index → {file id, split policy} mapping and the file id counter:

	<dbRoot>/metadata/index_file_mapping.json
	<dbRoot>/metadata/next_file_id.json

All these mappings are loaded when the storage engine starts, before WAL replay,
because replay needs every index file registered under its file id.
*/

func NewCatalogManager(dbRoot string) (*CatalogManager, error) {
	cm := &CatalogManager{
		dbRoot:      dbRoot,
		nextFileID:  1,
		IndexToFile: make(map[string]IndexEntry),
		logger:      log.New(io.Discard, "[Catalog] ", 0),
	}
	if err := cm.LoadIndexMapping(); err != nil {
		return nil, err
	}
	return cm, nil
}

func (cm *CatalogManager) SetLogger(logger *log.Logger) {
	cm.logger = logger
}

func (cm *CatalogManager) metaDir() string {
	return filepath.Join(cm.dbRoot, "metadata")
}

func (cm *CatalogManager) IndexExists(name string) bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	_, exists := cm.IndexToFile[name]
	return exists
}

func (cm *CatalogManager) GetIndex(name string) (IndexEntry, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	entry, exists := cm.IndexToFile[name]
	if !exists {
		return IndexEntry{}, fmt.Errorf("index '%s' not found in catalog", name)
	}
	return entry, nil
}

// RegisterNewIndex assigns the next file id to a new index and persists the mapping.
func (cm *CatalogManager) RegisterNewIndex(name, policy string) (IndexEntry, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if _, exists := cm.IndexToFile[name]; exists {
		return IndexEntry{}, fmt.Errorf("index '%s' already exists", name)
	}

	entry := IndexEntry{Name: name, FileID: cm.nextFileID, Policy: policy}
	cm.nextFileID++
	cm.IndexToFile[name] = entry

	if err := cm.persistIndexMapping(); err != nil {
		return IndexEntry{}, err
	}
	if err := cm.persistNextFileID(); err != nil {
		return IndexEntry{}, err
	}

	cm.logger.Printf("register index=%s fileID=%d policy=%s", name, entry.FileID, policy)
	return entry, nil
}

// UnregisterIndex forgets an index. File ids are never handed out twice, so WAL records
// of the dropped file can never be replayed into a newer one.
func (cm *CatalogManager) UnregisterIndex(name string) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if _, exists := cm.IndexToFile[name]; !exists {
		return fmt.Errorf("index '%s' not found in catalog", name)
	}
	delete(cm.IndexToFile, name)

	if err := cm.persistIndexMapping(); err != nil {
		return err
	}
	cm.logger.Printf("unregister index=%s", name)
	return nil
}

func (cm *CatalogManager) persistIndexMapping() error {
	if err := os.MkdirAll(cm.metaDir(), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cm.IndexToFile, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(cm.metaDir(), "index_file_mapping.json"), data)
}

func (cm *CatalogManager) persistNextFileID() error {
	if err := os.MkdirAll(cm.metaDir(), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cm.nextFileID, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(cm.metaDir(), "next_file_id.json"), data)
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (cm *CatalogManager) LoadIndexMapping() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.IndexToFile = make(map[string]IndexEntry)

	data, err := os.ReadFile(filepath.Join(cm.metaDir(), "index_file_mapping.json"))
	if err != nil {
		if os.IsNotExist(err) {
			cm.nextFileID = 1
			return nil
		}
		return fmt.Errorf("failed to read mapping file: %w", err)
	}

	if err := json.Unmarshal(data, &cm.IndexToFile); err != nil {
		return fmt.Errorf("failed to unmarshal mapping: %w", err)
	}

	// restore counter
	var maxID uint32
	for _, entry := range cm.IndexToFile {
		maxID = max(maxID, entry.FileID)
	}
	cm.nextFileID = maxID + 1
	counterData, err := os.ReadFile(filepath.Join(cm.metaDir(), "next_file_id.json"))
	if err == nil {
		var counter uint32
		if json.Unmarshal(counterData, &counter) == nil && counter > maxID {
			cm.nextFileID = counter
		}
	}

	cm.logger.Printf("loaded indexes=%d nextFileID=%d", len(cm.IndexToFile), cm.nextFileID)
	return nil
}

// AllIndexes returns the registered indexes sorted by file id.
func (cm *CatalogManager) AllIndexes() []IndexEntry {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	result := make([]IndexEntry, 0, len(cm.IndexToFile))
	for _, entry := range cm.IndexToFile {
		result = append(result, entry)
	}
	slices.SortFunc(result, func(a, b IndexEntry) int { return int(a.FileID) - int(b.FileID) })
	return result
}
