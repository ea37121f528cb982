// Package version formats the version line printed by the command line tools.
package version

import (
	"runtime/debug"
	"strings"
)

// String returns "version (commit) date", filling unset or placeholder values from
// the module build info.
func String(version, commit, date string) string {
	v, c, d := strings.TrimSpace(version), strings.TrimSpace(commit), strings.TrimSpace(date)
	if info, ok := debug.ReadBuildInfo(); ok {
		if placeholder(v) && info.Main.Version != "(devel)" {
			v = info.Main.Version
		}
		for _, s := range info.Settings {
			switch {
			case s.Key == "vcs.revision" && placeholder(c):
				c = s.Value
			case s.Key == "vcs.time" && placeholder(d):
				d = s.Value
			}
		}
	}
	if placeholder(v) {
		v = "dev"
	}
	out := v
	if !placeholder(c) {
		out += " (" + c + ")"
	}
	if !placeholder(d) {
		out += " " + d
	}
	return out
}

func placeholder(s string) bool {
	switch strings.TrimSpace(s) {
	case "", "dev", "unknown", "(devel)":
		return true
	}
	return false
}
