package version

// version is overridden at build time:
// go build -ldflags "-X github.com/yal212/chess-web-sub000/pkg/version.version=v1.2.3"
var version = "dev"

// Get returns the build version.
func Get() string {
	return version
}
