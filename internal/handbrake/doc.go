// Package handbrake runs HandBrakeCLI for a single source file.
//
// The CLI is executed directly (never through a shell) with the input path,
// output path, preset document, and preset name as fixed argument pairs, so
// file names containing spaces or shell metacharacters need no quoting. Its
// stdout and stderr are captured together and inspected for the completion
// marker HandBrake prints after a finished encode.
package handbrake
