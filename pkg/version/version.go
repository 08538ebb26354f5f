// Package version reports the build identity used to decide whether a
// persisted browser session was created by a compatible build.
package version

import (
	"fmt"
	"runtime/debug"
	"sync"
)

// Version is set at build time with -ldflags "-X github.com/entrhq/pw/pkg/version.Version=...".
var Version = "dev"

const playwrightModule = "github.com/playwright-community/playwright-go"

var (
	fingerprint     string
	fingerprintOnce sync.Once
)

// Fingerprint identifies the build and the automation driver it links.
// Sessions recorded under a different fingerprint are not reused.
func Fingerprint() string {
	fingerprintOnce.Do(func() {
		fingerprint = compute(Version, driverVersion())
	})
	return fingerprint
}

func compute(buildVersion, driver string) string {
	if driver == "" {
		driver = "unknown"
	}
	return fmt.Sprintf("pw/%s+playwright-go/%s", buildVersion, driver)
}

func driverVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, dep := range info.Deps {
		if dep.Path == playwrightModule {
			if dep.Replace != nil {
				return dep.Replace.Version
			}
			return dep.Version
		}
	}
	return ""
}
