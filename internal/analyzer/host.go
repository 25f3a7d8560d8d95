package analyzer

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sitescope/engine/internal/resultstore"
	"github.com/sitescope/engine/internal/snapshot"
	"github.com/xeipuuv/gojsonschema"
)

/*
Host validates a config map against an analyzer's declared JSON Schema
and invokes it. Schema validation failures and Analyze errors both
become TestResult{Status: error} - the test runner layered on top adds
timeouts and panic recovery, but the "never propagate a raw error out
of a test run" contract starts here.
*/

type Host struct{}

func NewHost() *Host {
	return &Host{}
}

// Invoke validates config against analyzer a's declared schema, then
// runs it against snap. snapshotID is stamped onto the result since an
// Analyzer never sees it directly (it only sees the Reader).
func (h *Host) Invoke(a Analyzer, snap *snapshot.Reader, snapshotID string, config map[string]interface{}) resultstore.TestResult {
	startedAt := time.Now().UTC()

	if schema := a.DeclareConfig(); schema != nil {
		if err := validateConfig(schema, config); err != nil {
			return errorResult(a.Name(), snapshotID, startedAt, err)
		}
	}

	result, err := a.Analyze(snap, config)
	if err != nil {
		return errorResult(a.Name(), snapshotID, startedAt, err)
	}

	result.PluginName = a.Name()
	result.SnapshotID = snapshotID
	if result.StartedAt.IsZero() {
		result.StartedAt = startedAt
	}
	return result
}

func errorResult(pluginName, snapshotID string, startedAt time.Time, err error) resultstore.TestResult {
	return resultstore.TestResult{
		PluginName: pluginName,
		SnapshotID: snapshotID,
		StartedAt:  startedAt,
		Status:     resultstore.StatusError,
		Summary:    err.Error(),
	}
}

func validateConfig(schema map[string]interface{}, config map[string]interface{}) error {
	schemaBytes, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	if config == nil {
		config = map[string]interface{}{}
	}
	configBytes, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaBytes),
		gojsonschema.NewBytesLoader(configBytes),
	)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			messages = append(messages, e.String())
		}
		return fmt.Errorf("invalid config: %s", strings.Join(messages, "; "))
	}
	return nil
}
