package build

import "fmt"

// Version components. Commit is overridden at link time via
// -ldflags "-X github.com/quillworks/redline/internal/build.Commit=...".
const (
	appMajor uint = 0
	appMinor uint = 1
	appPatch uint = 0
)

// Commit is the git commit hash the binary was built from, set at link time.
var Commit string

// Version returns the application version as a properly formed string.
func Version() string {
	version := fmt.Sprintf("%d.%d.%d", appMajor, appMinor, appPatch)
	if Commit != "" {
		version = fmt.Sprintf("%s commit=%s", version, Commit)
	}

	return version
}
