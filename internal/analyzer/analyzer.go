package analyzer

import (
	"github.com/sitescope/engine/internal/resultstore"
	"github.com/sitescope/engine/internal/snapshot"
)

/*
Responsibilities
- Define the contract every built-in analyzer (pattern scanner, SEO,
  LLM-discoverability, security audit, example-bug finder) implements
- Let the host validate per-plugin config before invoking one
- Keep every analyzer pure with respect to the snapshot: read-only,
  no file writes, no network calls beyond what the snapshot already holds

An Analyzer never touches the filesystem itself; Reader is handed in by
the host and every analyzer reads through it exclusively.
*/

// Analyzer is one pluggable test. Implementations are registered via
// Register in their package's init().
type Analyzer interface {
	Name() string
	Description() string
	// DeclareConfig returns the JSON Schema (as a Go value marshalable
	// to JSON) this analyzer's config must validate against. A nil
	// return means the analyzer takes no config.
	DeclareConfig() map[string]interface{}
	// Analyze inspects every page in snap and returns the run's result.
	// config has already been validated against DeclareConfig's schema
	// by the time this is called. A returned error is treated the same
	// as a panic: the host converts it into TestResult{Status: error}.
	Analyze(snap *snapshot.Reader, config map[string]interface{}) (resultstore.TestResult, error)
}
