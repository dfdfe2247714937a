// Package process provides helpers for locating and driving external
// processes, specifically the par2 parity tool, which is treated as a black
// box with a create mode and a repair mode.
package process

// ExecutableName computes the name for an executable for a given base name
// on a specified operating system.
func ExecutableName(base, goos string) string {
	if goos == "windows" {
		return base + ".exe"
	}
	return base
}
