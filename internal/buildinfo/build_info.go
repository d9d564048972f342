package buildinfo

import "fmt"

// BuildInfo carries the version stamp linked into the binary at build time.
type BuildInfo struct {
	Version    string
	CommitHash string
	BuildDate  string
}

// String renders the stamp the way the version subcommand prints it.
func (i BuildInfo) String() string {
	return fmt.Sprintf("version %s (%s) built on %s", i.Version, i.CommitHash, i.BuildDate)
}
