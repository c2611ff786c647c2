package instance

import (
	"os"

	"github.com/angelmondragon/armory-ledger/pkg/env"
)

// EnvInstanceID overrides the detected replica name.
const EnvInstanceID = "ARMORY_INSTANCE_ID"

// GetID returns the replica identifier: the explicit override, the platform dyno
// name, the hostname, or "local".
func GetID() string {
	if id := env.First("", EnvInstanceID, "DYNO"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}
