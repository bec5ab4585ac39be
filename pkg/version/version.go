// Package version reports which build of agentcompany is running.
package version

import (
	"runtime/debug"
	"sync"
)

// AppName appears in version strings and the startup banner.
const AppName = "agentcompany"

// commit is injected with -ldflags for builds without VCS metadata.
var commit string

var full = sync.OnceValue(func() string {
	return AppName + "/" + Commit()
})

// Commit returns the short revision hash behind this binary, "dev" when
// none is known (go test, non-git builds).
func Commit() string {
	if commit != "" {
		return shorten(commit)
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				return shorten(s.Value)
			}
		}
	}
	return "dev"
}

// Full returns "agentcompany/<commit>" for logs and the health endpoint.
func Full() string { return full() }

func shorten(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}
