package catalog

import (
	"log"
	"sync"
)

type CatalogManager struct {
	dbRoot      string
	IndexToFile map[string]IndexEntry
	nextFileID  uint32
	logger      *log.Logger
	mu          sync.RWMutex
}

// IndexEntry is what the catalog remembers about one index.
type IndexEntry struct {
	Name   string `json:"name"`
	FileID uint32 `json:"file_id"`
	Policy string `json:"policy"`
}
