// Package logs reads the daemon log file for the CLI.
//
// Lines are filtered by job id and minimum level. JSON lines are matched on
// their structured fields; console lines fall back to substring matching.
// Follow mode polls the file from a byte offset until the context ends.
package logs
