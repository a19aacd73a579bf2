//go:build windows

package runner

// fixOutputProcessing does nothing: raw console input leaves output
// translation alone on Windows.
func fixOutputProcessing(int) {}
