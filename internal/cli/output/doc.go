// Package output renders rxcheckpoint-cli results.
//
// Results print as a table by default, or as JSON or YAML for scripting.
// Struct fields tagged `table:"wide"` only appear in wide mode, and
// `table:"-"` hides a field from tables entirely. Long operations report
// through a Spinner, and offline store scans through a ProgressBar.
package output
