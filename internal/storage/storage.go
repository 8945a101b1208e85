package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"ai-market-analyst/internal/metrics"
	"ai-market-analyst/internal/report"
)

// timestampLayout is RFC 3339 in UTC with nanoseconds and the colons
// sanitized away.
const timestampLayout = "2006-01-02T15-04-05.000000000Z"

// Artifact is the serialized outcome of one analysis run.
type Artifact struct {
	Subject   string             `json:"subject"`
	Timestamp time.Time          `json:"timestamp"`
	Currency  string             `json:"currency,omitempty"`
	State     report.DebateState `json:"state"`
	Report    report.Report      `json:"report"`
	Usage     *metrics.Stats     `json:"usage,omitempty"`
}

// AnalysisStore keeps artifacts as {subject}_{timestamp}.json files. Files
// are written to a temporary name and renamed, so readers in another process
// never see a partial artifact.
type AnalysisStore struct {
	basePath string
}

// NewAnalysisStore creates a new AnalysisStore and ensures the base directory exists.
func NewAnalysisStore(basePath string) (*AnalysisStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory %s: %w", basePath, err)
	}
	return &AnalysisStore{basePath: basePath}, nil
}

// Dir is the directory artifacts are written to.
func (s *AnalysisStore) Dir() string { return s.basePath }

// sanitizeSubject makes the subject safe for filenames.
func sanitizeSubject(subject string) string {
	subject = strings.ToUpper(strings.TrimSpace(subject))
	var b strings.Builder
	for _, r := range subject {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	if b.Len() == 0 {
		return "UNKNOWN"
	}
	return b.String()
}

// getVersionedPath returns the full path for a given subject and timestamp.
func (s *AnalysisStore) getVersionedPath(subject string, ts time.Time) string {
	filename := fmt.Sprintf("%s_%s.json", sanitizeSubject(subject), ts.UTC().Format(timestampLayout))
	return filepath.Join(s.basePath, filename)
}

// Save stores an artifact and returns its path. A zero timestamp is set to
// now. Existing artifacts are never replaced: on a clash the timestamp is
// moved forward by a nanosecond until the name is free.
func (s *AnalysisStore) Save(a *Artifact) (string, error) {
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now()
	}
	a.Timestamp = a.Timestamp.UTC().Round(0)
	for s.Exists(a.Subject, a.Timestamp) {
		a.Timestamp = a.Timestamp.Add(time.Nanosecond)
	}

	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal artifact: %w", err)
	}

	filePath := s.getVersionedPath(a.Subject, a.Timestamp)
	tmp := filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write artifact file: %w", err)
	}
	if err := os.Rename(tmp, filePath); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to move artifact into place: %w", err)
	}
	return filePath, nil
}

// Load retrieves the artifact of subject written at ts.
func (s *AnalysisStore) Load(subject string, ts time.Time) (*Artifact, error) {
	return s.LoadFile(s.getVersionedPath(subject, ts))
}

// LoadFile reads an artifact from an explicit path.
func (s *AnalysisStore) LoadFile(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact file: %w", err)
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to unmarshal artifact %s: %w", filepath.Base(path), err)
	}
	return &a, nil
}

// Exists checks if an artifact for subject at ts exists.
func (s *AnalysisStore) Exists(subject string, ts time.Time) bool {
	_, err := os.Stat(s.getVersionedPath(subject, ts))
	return !os.IsNotExist(err)
}

// Versions lists the timestamps stored for subject, oldest first.
func (s *AnalysisStore) Versions(subject string) ([]time.Time, error) {
	prefix := sanitizeSubject(subject) + "_"
	matches, err := filepath.Glob(filepath.Join(s.basePath, prefix+"*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to glob artifacts: %w", err)
	}

	var out []time.Time
	for _, m := range matches {
		stamp := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), prefix), ".json")
		ts, err := time.Parse(timestampLayout, stamp)
		if err != nil {
			continue // not written by Save
		}
		out = append(out, ts)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

// Latest loads the newest artifact for subject. It returns nil, nil when
// there is none.
func (s *AnalysisStore) Latest(subject string) (*Artifact, error) {
	versions, err := s.Versions(subject)
	if err != nil || len(versions) == 0 {
		return nil, err
	}
	return s.Load(subject, versions[len(versions)-1])
}

// RemoveStaleVersions keeps the newest keep artifacts of subject and removes
// the rest. It returns how many files were removed.
func (s *AnalysisStore) RemoveStaleVersions(subject string, keep int) (int, error) {
	versions, err := s.Versions(subject)
	if err != nil {
		return 0, err
	}
	if keep < 0 {
		keep = 0
	}
	removed := 0
	for i := 0; i < len(versions)-keep; i++ {
		path := s.getVersionedPath(subject, versions[i])
		if err := os.Remove(path); err != nil {
			return removed, fmt.Errorf("failed to remove stale file %s: %w", path, err)
		}
		removed++
	}
	return removed, nil
}
