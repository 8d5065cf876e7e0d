/*---------------------------------------------------------------------------------------------
 *  Copyright (c) Harold Brenes. All rights reserved.
 *  Licensed under the MIT License. See LICENSE in the project root for license information.
 *--------------------------------------------------------------------------------------------*/

// Package version carries the build-time product identification. The
// variables are set through -ldflags by the release build; development
// builds report "dev".
package version

const DevelopmentVersion = "dev"

var (
	ProductVersion = DevelopmentVersion
	CommitHash     = ""
)

// String returns the human-readable version, with the commit hash appended
// when the build recorded one.
func String() string {
	v := ProductVersion
	if v == "" {
		v = DevelopmentVersion
	}
	if CommitHash != "" {
		v += "+" + CommitHash
	}
	return v
}
