// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package version

import (
	"fmt"
	"strings"
)

var (
	// GitCommit is filled in by the compiler.
	GitCommit string

	// Version is the main version number being run.
	Version = "0.3.0"

	// VersionPrerelease marks pre-release builds; empty for final releases.
	VersionPrerelease = "dev"
)

// VersionInfo holds the pieces of a full version string.
type VersionInfo struct {
	Revision          string
	Version           string
	VersionPrerelease string
}

// GetVersion returns the build's version info.
func GetVersion() *VersionInfo {
	return &VersionInfo{
		Revision:          GitCommit,
		Version:           Version,
		VersionPrerelease: VersionPrerelease,
	}
}

// FullVersionNumber renders the human-readable version string.
func (v *VersionInfo) FullVersionNumber(rev bool) string {
	var versionString strings.Builder

	fmt.Fprintf(&versionString, "autosched v%s", v.Version)
	if v.VersionPrerelease != "" {
		fmt.Fprintf(&versionString, "-%s", v.VersionPrerelease)
	}
	if rev && v.Revision != "" {
		fmt.Fprintf(&versionString, " (%s)", v.Revision)
	}

	return versionString.String()
}
