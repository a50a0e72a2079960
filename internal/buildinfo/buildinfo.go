// Package buildinfo holds version data stamped at link time, e.g.
// -ldflags "-X binroute/internal/buildinfo.Version=v1.2.0".
// Commit and build time fall back to the VCS stamp the go tool embeds.
package buildinfo

import (
	"runtime"
	"runtime/debug"
	"sync"
)

var (
	Version = "dev"
	Commit  = ""
	BuiltAt = ""
)

var (
	vcsOnce              sync.Once
	vcsRevision, vcsTime string
	vcsModified          bool
)

func readVCS() {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			vcsRevision = s.Value
		case "vcs.time":
			vcsTime = s.Value
		case "vcs.modified":
			vcsModified = s.Value == "true"
		}
	}
}

func Info() map[string]string {
	vcsOnce.Do(readVCS)
	commit, built := Commit, BuiltAt
	if commit == "" && vcsRevision != "" {
		commit = vcsRevision
		if vcsModified {
			commit += "-dirty"
		}
	}
	if built == "" {
		built = vcsTime
	}
	return map[string]string{
		"version": Version,
		"commit":  commit,
		"builtAt": built,
		"go":      runtime.Version(),
	}
}
