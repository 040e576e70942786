// Package version carries build metadata set with -ldflags -X.
package version

var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

type Info struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

func Get() Info {
	return Info{Version: Version, Commit: Commit, Date: Date}
}

func Full() string {
	return Version + " (" + Commit + ") built on " + Date
}
