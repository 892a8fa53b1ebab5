// Package logging builds the shared slog logger and defines the
// standardized field names used across loom components.
package logging
