package preflight

// openFileLimit is not meaningful for Windows handles.
func openFileLimit() (int, bool) {
	return 0, false
}
