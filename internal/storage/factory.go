// File: internal/storage/factory.go
package storage

import (
	"fmt"
	"strings"

	"github.com/stacklabel/update-governor/pkg/utils"
)

// NewStorage creates a storage instance based on configuration
func NewStorage(config *StorageConfig) (Storage, error) {
	if config == nil {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Storage configuration is required")
	}

	switch strings.ToLower(config.Type) {
	case "sqlite", "":
		return NewSQLiteStorage(config), nil
	case "postgres", "postgresql":
		return NewPostgreSQLStorage(config), nil
	default:
		return nil, utils.NewAppError(utils.ErrCodeConfiguration,
			fmt.Sprintf("Unsupported storage type: %s", config.Type),
			"supported types: sqlite, postgres")
	}
}
