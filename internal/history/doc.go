// Package history persists a record of every batch run in a SQLite database.
//
// Each run stores its bucket counts in the runs table and one row per touched
// file in run_files. The schema is managed by embedded, versioned migrations
// applied at Open, following the same schema_migrations bookkeeping used
// elsewhere in the project. History is informational: the scheduler never reads
// it back, and callers treat write failures as warnings.
package history
