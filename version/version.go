// Package version holds build information injected by the linker, for example
//
//	go build -ldflags "-X github.com/TeamNorCal/galvo/version.GitHash=$(git rev-parse HEAD) -X github.com/TeamNorCal/galvo/version.BuildTime=$(date -u +%FT%TZ)"
package version

var (
	BuildTime = "unknown"
	GitHash   = "unknown"
)
