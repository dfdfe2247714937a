// Package niceness provides a best-effort hook for lowering the process's
// I/O scheduling priority, so a long scan doesn't starve interactive disk
// usage elsewhere on the machine.
package niceness
