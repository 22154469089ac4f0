// Package logs reads the squish log file for the `squish logs` command.
//
// Tail returns the last N lines of a file together with the byte offset they
// end at, and resumes from that offset on later calls. Follow builds on it to
// stream appended lines until the context is cancelled. Memory stays bounded
// by the requested line count regardless of file size.
package logs
