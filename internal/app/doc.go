// Package app composes the registry services into a running application. It
// is a wiring layer, not a business logic layer.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring, and lifecycle
//	├── identity/           # Deterministic address derivation
//	├── domain/             # Domain models (pure data plus settlement math)
//	│   ├── registry/       # Registry singleton counters
//	│   ├── agent/          # Agent profiles and reputation arithmetic
//	│   ├── signal/         # Signal records, outcomes, reasoning fingerprint
//	│   └── subscription/   # Access grants and consumption proofs
//	├── storage/            # Store interfaces plus memory/ and postgres/
//	├── services/           # registration, signals, subscriptions
//	├── events/             # Domain event emitters (redis stream, log, nop)
//	├── httpapi/            # REST handlers and rate limiting
//	├── metrics/            # Prometheus collectors
//	└── system/             # Lifecycle management for background services
//
// Services own the business rules and run every state change as one atomic
// storage unit. The app layer only decides which implementations to plug in:
// nil dependencies default to the in-process variants, which is what tests
// use, while cmd/registryd wires postgres, redis and the HTTP price source
// through internal/app/runtime.
package app
