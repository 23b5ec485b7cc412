// Package devicedb is the device catalog for Beamline Core.
//
// The catalog answers two questions for the screen core: which accessors
// (control-system addresses, value types, writability) a device exposes,
// and which devices sit upstream of a given device on a beam path.
//
// Two implementations are provided:
//   - SQLiteCatalog: persistent, backed by the migrated SQLite database
//   - MemoryCatalog: in-process, used by tests and the memory backend
//
// Both accept devices through Upsert, which is how a YAML seed file
// (see LoadSeed) populates the catalog at startup.
//
// Accessor value types and writability follow fixed per-accessor rules
// (see AccessorDefaults) rather than anything in the seed file.
package devicedb
