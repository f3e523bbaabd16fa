package version

import (
	"runtime"

	log "github.com/sirupsen/logrus"
)

// Заполняются через -ldflags "-X github.com/vladislavdragonenkov/storefront/internal/version.version=...".
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// GetVersion отдаёт версию сборки для health-ответа и ресурса трассировки.
func GetVersion() string { return version }

// Fields — поля для стартового лога storefront-api.
func Fields() log.Fields {
	return log.Fields{
		"version": version,
		"commit":  commit,
		"built":   date,
		"go":      runtime.Version(),
	}
}
