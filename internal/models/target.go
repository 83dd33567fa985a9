package models

// IndexTarget identifies one of the two indexes bound during a migration.
// Instances are immutable once created; the legacy one is decommissioned
// only after the migration reaches the complete phase.
type IndexTarget struct {
	Name          string `json:"name" toml:"name"`
	Endpoint      string `json:"endpoint" toml:"endpoint"`
	Class         string `json:"class" toml:"class"`
	SchemaVersion string `json:"schema_version" toml:"schema_version"`
}

// Role names for the two bound targets.
const (
	RoleLegacy = "legacy"
	RoleTarget = "target"
)
