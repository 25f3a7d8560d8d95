package issues

import (
	"encoding/json"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/sitescope/engine/internal/metrics"
	"github.com/sitescope/engine/internal/resultstore"
	"github.com/sitescope/engine/pkg/failure"
)

// legalTransitions enumerates every manual transition the state machine
// allows. open <-> investigating; either -> fixed; fixed -> verified;
// fixed|verified -> open only happens via Promote rediscovery, never
// manually.
var legalTransitions = map[Status]map[Status]bool{
	StatusOpen:          {StatusInvestigating: true, StatusFixed: true},
	StatusInvestigating: {StatusOpen: true, StatusFixed: true},
	StatusFixed:         {StatusVerified: true},
	StatusVerified:      {},
}

// Tracker owns one project's issue register file.
type Tracker struct {
	path    string
	metrics *metrics.Registry
}

func NewTracker(issuesPath string) *Tracker {
	return &Tracker{path: issuesPath}
}

// SetMetricsRegistry wires a Prometheus registry the tracker reports
// issue-state transitions to. Optional.
func (t *Tracker) SetMetricsRegistry(reg *metrics.Registry) {
	t.metrics = reg
}

func (t *Tracker) load() (Register, failure.ClassifiedError) {
	body, err := os.ReadFile(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Register{NextID: 1}, nil
		}
		return Register{}, &Error{Message: err.Error(), Cause: ErrCauseIOFailure}
	}

	var reg Register
	if err := json.Unmarshal(body, &reg); err != nil {
		return Register{}, &Error{Message: err.Error(), Cause: ErrCauseCorruptFile}
	}
	return reg, nil
}

func (t *Tracker) save(reg Register) failure.ClassifiedError {
	body, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return &Error{Message: err.Error(), Cause: ErrCauseIOFailure}
	}
	if err := os.WriteFile(t.path, body, 0644); err != nil {
		return &Error{Message: err.Error(), Cause: ErrCauseIOFailure, Retryable: true}
	}
	return nil
}

// List returns every issue in the register, sorted by ID.
func (t *Tracker) List() ([]Issue, failure.ClassifiedError) {
	reg, err := t.load()
	if err != nil {
		return nil, err
	}
	issues := make([]Issue, len(reg.Issues))
	copy(issues, reg.Issues)
	sort.Slice(issues, func(i, j int) bool { return issues[i].ID < issues[j].ID })
	return issues, nil
}

func priorityFromSeverity(severity string) Priority {
	switch strings.ToLower(severity) {
	case "critical", "high":
		return PriorityHigh
	case "low", "info", "informational":
		return PriorityLow
	default:
		return PriorityMedium
	}
}

func mergeURLs(existing []string, newURL string) []string {
	if newURL == "" {
		return existing
	}
	for _, u := range existing {
		if u == newURL {
			return existing
		}
	}
	return append(existing, newURL)
}

// Promote enumerates a test run's findings and applies them against the
// register: new fingerprints open issues, already-open fingerprints
// refresh last_seen_at and merge affected URLs, fixed/verified
// fingerprints that reappear reopen, and any issue belonging to
// pluginName whose fingerprint did not reappear this run is marked
// fixed. Issues belonging to a different plugin are never touched.
func (t *Tracker) Promote(pluginName string, findings []resultstore.Finding, now time.Time) ([]Issue, failure.ClassifiedError) {
	reg, err := t.load()
	if err != nil {
		return nil, err
	}

	byFingerprint := make(map[string]int, len(reg.Issues))
	for i, issue := range reg.Issues {
		byFingerprint[issue.Fingerprint] = i
	}

	seenThisRun := make(map[string]bool, len(findings))

	for _, finding := range findings {
		fp := Fingerprint(pluginName, finding)
		seenThisRun[fp] = true

		idx, exists := byFingerprint[fp]
		if !exists {
			newIssue := Issue{
				ID:              formatID(reg.NextID),
				PluginName:      pluginName,
				Fingerprint:     fp,
				Priority:        priorityFromSeverity(finding.Severity),
				Status:          StatusOpen,
				Title:           firstNonEmpty(finding.Title, finding.Category),
				AffectedURLs:    mergeURLs(nil, finding.URL),
				FirstDetectedAt: now,
				LastSeenAt:      now,
				History: []Transition{
					{From: "", To: StatusOpen, At: now, Actor: "system"},
				},
			}
			reg.NextID++
			reg.Issues = append(reg.Issues, newIssue)
			byFingerprint[fp] = len(reg.Issues) - 1
			t.observeTransition(StatusOpen)
			continue
		}

		issue := reg.Issues[idx]
		issue.LastSeenAt = now
		issue.AffectedURLs = mergeURLs(issue.AffectedURLs, finding.URL)

		if issue.Status == StatusFixed || issue.Status == StatusVerified {
			issue.History = append(issue.History, Transition{From: issue.Status, To: StatusOpen, At: now, Actor: "system"})
			issue.Status = StatusOpen
			issue.ResolvedAt = nil
			t.observeTransition(StatusOpen)
		}
		reg.Issues[idx] = issue
	}

	// Auto-resolution: any issue this plugin owns whose fingerprint did
	// not reappear this run is fixed, since absence is evidence the
	// plugin was actually run and found nothing there.
	for i, issue := range reg.Issues {
		if issue.PluginName != pluginName {
			continue
		}
		if seenThisRun[issue.Fingerprint] {
			continue
		}
		if issue.Status == StatusFixed || issue.Status == StatusVerified {
			continue
		}
		resolvedAt := now
		reg.Issues[i].History = append(reg.Issues[i].History, Transition{From: issue.Status, To: StatusFixed, At: now, Actor: "system"})
		reg.Issues[i].Status = StatusFixed
		reg.Issues[i].ResolvedAt = &resolvedAt
		t.observeTransition(StatusFixed)
	}

	if err := t.save(reg); err != nil {
		return nil, err
	}
	return reg.Issues, nil
}

// Transition applies a manual state change. Illegal transitions fail
// with ErrCauseInvalidTransition and leave the register unchanged.
func (t *Tracker) Transition(issueID string, to Status, actor string, now time.Time) (Issue, failure.ClassifiedError) {
	reg, err := t.load()
	if err != nil {
		return Issue{}, err
	}

	idx := -1
	for i, issue := range reg.Issues {
		if issue.ID == issueID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Issue{}, &Error{Message: issueID, Cause: ErrCauseNotFound}
	}

	issue := reg.Issues[idx]
	if !legalTransitions[issue.Status][to] {
		return Issue{}, &Error{Message: string(issue.Status) + " -> " + string(to), Cause: ErrCauseInvalidTransition}
	}

	issue.History = append(issue.History, Transition{From: issue.Status, To: to, At: now, Actor: actor})
	issue.Status = to
	if to == StatusFixed {
		issue.ResolvedAt = &now
	}
	reg.Issues[idx] = issue
	t.observeTransition(to)

	if err := t.save(reg); err != nil {
		return Issue{}, err
	}
	return issue, nil
}

func (t *Tracker) observeTransition(to Status) {
	if t.metrics != nil {
		t.metrics.ObserveIssueTransition(string(to))
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
