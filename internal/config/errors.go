package config

import "errors"

// ErrSchemaVersionMismatch is returned by a Store's Load when the persisted
// schema version does not match CurrentSchemaVersion and no migration path
// is available. Backends must fail closed rather than guess at a shape.
var ErrSchemaVersionMismatch = errors.New("config: schema version mismatch")
