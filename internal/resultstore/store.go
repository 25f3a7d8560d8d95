package resultstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sitescope/engine/pkg/failure"
	"github.com/sitescope/engine/pkg/fileutil"
)

// Store appends one timestamped file per test run under a project's
// test-results directory and serves read-only queries over them.
type Store struct {
	resultsDir string
}

func NewStore(resultsDir string) *Store {
	return &Store{resultsDir: resultsDir}
}

// Write appends a new result file named "<plugin_name>-<started_at>.json".
// Results are never overwritten: a run is always a new file.
func (s *Store) Write(result TestResult) failure.ClassifiedError {
	if err := fileutil.EnsureDir(s.resultsDir); err != nil {
		return &Error{Message: err.Error(), Cause: ErrCauseIOFailure}
	}

	fileName := fmt.Sprintf("%s-%s.json", result.PluginName, result.StartedAt.UTC().Format("20060102T150405.000000000Z"))
	path := filepath.Join(s.resultsDir, fileName)

	body, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return &Error{Message: err.Error(), Cause: ErrCauseIOFailure}
	}
	if err := os.WriteFile(path, body, 0644); err != nil {
		return &Error{Message: err.Error(), Cause: ErrCauseIOFailure, Retryable: true}
	}
	return nil
}

// List returns every result under the project, oldest first.
func (s *Store) List() ([]TestResult, failure.ClassifiedError) {
	entries, err := os.ReadDir(s.resultsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &Error{Message: err.Error(), Cause: ErrCauseIOFailure}
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	results := make([]TestResult, 0, len(names))
	for _, name := range names {
		result, err := s.read(name)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

func (s *Store) read(fileName string) (TestResult, failure.ClassifiedError) {
	body, err := os.ReadFile(filepath.Join(s.resultsDir, fileName))
	if err != nil {
		return TestResult{}, &Error{Message: err.Error(), Cause: ErrCauseIOFailure}
	}
	var result TestResult
	if err := json.Unmarshal(body, &result); err != nil {
		return TestResult{}, &Error{Message: err.Error(), Cause: ErrCauseCorruptFile}
	}
	return result, nil
}

// Latest returns the most recent result for a given plugin, ok=false if
// the plugin has never been run against this project.
func (s *Store) Latest(pluginName string) (TestResult, bool, failure.ClassifiedError) {
	results, err := s.List()
	if err != nil {
		return TestResult{}, false, err
	}

	var latest TestResult
	found := false
	for _, result := range results {
		if result.PluginName != pluginName {
			continue
		}
		if !found || result.StartedAt.After(latest.StartedAt) {
			latest = result
			found = true
		}
	}
	return latest, found, nil
}

// Compare produces a structural diff of findings between two results.
// It compares by full-finding identity (same URL, category, severity,
// and payload collapse to "unchanged"); anything else is added/removed.
func Compare(resultA, resultB TestResult) Diff {
	seenA := make(map[string]Finding, len(resultA.Findings))
	for _, f := range resultA.Findings {
		seenA[findingKey(f)] = f
	}
	seenB := make(map[string]Finding, len(resultB.Findings))
	for _, f := range resultB.Findings {
		seenB[findingKey(f)] = f
	}

	var added, removed []Finding
	for key, f := range seenB {
		if _, ok := seenA[key]; !ok {
			added = append(added, f)
		}
	}
	for key, f := range seenA {
		if _, ok := seenB[key]; !ok {
			removed = append(removed, f)
		}
	}

	return Diff{
		StatusChanged:   resultA.Status != resultB.Status,
		PreviousStatus:  resultA.Status,
		CurrentStatus:   resultB.Status,
		AddedFindings:   added,
		RemovedFindings: removed,
	}
}
