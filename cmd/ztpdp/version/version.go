//
//  Copyright © Manetu Inc. All rights reserved.
//

// Package version carries the build identity of ztpdp, set via -ldflags:
//
//	-X github.com/manetu/zerotrust/cmd/ztpdp/version.Version=v1.2.0
//	-X github.com/manetu/zerotrust/cmd/ztpdp/version.Commit=$(git rev-parse --short HEAD)
package version

var (
	Version = "dev"
	Commit  = ""
)

// GetVersion returns the release, suffixed with the commit when known.
func GetVersion() string {
	if Commit == "" {
		return Version
	}
	return Version + "+" + Commit
}
