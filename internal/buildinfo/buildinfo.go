// Package buildinfo holds version metadata stamped in at build time.
package buildinfo

import (
	"fmt"
	"strconv"
	"time"
)

var (
	commitVersion string = "v0.1.0" // set via -ldflags at build time
	commitDate    string = ""       // commit date in epoch seconds
)

// Version returns a human-readable version string.
func Version() string {
	msg := commitVersion
	if commitDate != "" {
		if seconds, err := strconv.ParseInt(commitDate, 10, 64); err == nil {
			msg += fmt.Sprintf(", date: %s", time.Unix(seconds, 0).UTC().Format("2006-01-02"))
		}
	}
	return msg
}
