// Package logging provides file-based logging with rotation. Setup
// always writes to the configured log file (by default under
// ~/.hyperia/logs/) and, when WriteToStderr is set, to stderr as well.
//
// The --debug flag lowers the level to debug; it does not turn file
// logging on or off.
package logging
