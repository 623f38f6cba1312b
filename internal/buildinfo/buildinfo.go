// Package buildinfo exposes the version stamped at link time, e.g.
//
//	go build -ldflags "-X github.com/prometheus/common/version.Version=v1.2.0"
package buildinfo

import "github.com/prometheus/common/version"

const Name = "posture"

func init() {
	if version.Version == "" {
		version.Version = "v0.0.0"
	}
}

type buildinfo struct{}

func (buildinfo) Tag() string {
	return version.Version
}

func (buildinfo) Name() string {
	return Name
}

func (buildinfo) Time() string {
	return version.BuildDate
}

func (buildinfo) Revision() string {
	return version.Revision
}

// String is the multi-line banner printed on startup.
func (buildinfo) String() string {
	return version.Print(Name)
}

var Info buildinfo
