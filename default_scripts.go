package scanlink

import _ "embed"

// DefaultScanHookScript contains the embedded on_scan.lua example hook.
// It is used by `scanlink monitor --hook` when no script path is given.
//
//go:embed examples/on_scan.lua
var DefaultScanHookScript string
