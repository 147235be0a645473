package file

import (
	"encoding/json"
	"fmt"
)

// migration transforms a JSON envelope from one version to the next.
type migration struct {
	from    int
	to      int
	migrate func(raw json.RawMessage) (json.RawMessage, error)
}

// migrations is the ordered list of envelope migrations.
// Empty for now — version 1 is the initial format.
var migrations []migration

// migrateEnvelope runs all necessary migrations in memory and returns the
// resulting envelope bytes; the caller is responsible for persisting them.
func migrateEnvelope(data []byte, fromVersion int) ([]byte, error) {
	current := fromVersion

	for _, m := range migrations {
		if m.from != current {
			continue
		}
		migrated, err := m.migrate(json.RawMessage(data))
		if err != nil {
			return nil, fmt.Errorf("migration v%d→v%d: %w", m.from, m.to, err)
		}
		data = migrated
		current = m.to
	}

	if current != currentVersion {
		return nil, fmt.Errorf("no migration path from version %d to %d", fromVersion, currentVersion)
	}
	return data, nil
}
