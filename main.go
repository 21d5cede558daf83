// The main package for the mediagate executable.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes /api/analyze, /api/formats, /api/download and
//     /api/download-file/{filename}, plus the static frontend, health checks and /metrics.
//   - Gateway: internal/gateway drives the extractor with anti-bot aware retries, caches
//     results per URL and collapses concurrent identical requests.
//   - Plumbing: Viper loads config from file and MEDIAGATE_* env vars; zap provides
//     structured logging; Prometheus metrics are exported via the metrics middleware.
//
// Run locally: go run . serve --config config.yaml (or rely solely on env overrides).
package main

import (
	"github.com/JakeFAU/mediagate/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
