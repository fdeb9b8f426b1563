// Package buildinfo reports the version of the running binary.
//
// Release builds inject the values through ldflags:
//
//	go build -ldflags "-X github.com/yndnr/rxcheckpoint/internal/infra/buildinfo.Version=v1.0.0 \
//	  -X github.com/yndnr/rxcheckpoint/internal/infra/buildinfo.Commit=abc123"
//
// Without ldflags, Get falls back to the VCS stamps the Go toolchain
// embeds in module builds.
package buildinfo
