package config

import (
	"hash/fnv"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
)

// FeatureFlags manages dashboard feature toggles with per-student rollout.
type FeatureFlags struct {
	mu sync.RWMutex

	features map[string]*Feature

	// studentID -> feature -> enabled
	studentOverrides map[int64]map[string]bool
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// Rollout percentage (0-100). Students are bucketed by a hash of their ID.
	RolloutPercent int

	// Programs restricts the feature to some academic programs. Empty means all.
	Programs []string
}

// FeatureContext provides context for feature flag evaluation.
type FeatureContext struct {
	StudentID int64
	Program   string
}

// Predefined feature flag names.
const (
	// Local risk analysis: POST /alerts/generate.
	FeatureRiskAlerts = "alerts.risk"
	// Regenerate risk alerts after every grade or attendance change.
	FeatureAutoAlerts = "alerts.auto_generate"
	// Push grades and attendance created in the dashboard to the data source.
	FeatureRemoteWrite = "sync.remote_write"
	// Serve login snapshots from the Redis cache.
	FeatureSnapshotCache = "cache.snapshot"
	// Curriculum order and suggested path.
	FeatureCurriculum = "curriculum.path"
)

// LoadFeatureFlags loads feature flags with defaults and environment overrides.
func LoadFeatureFlags() *FeatureFlags {
	ff := NewFeatureFlags()
	ff.loadFromEnvironment()
	return ff
}

// NewFeatureFlags returns flags with their default values.
func NewFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:         make(map[string]*Feature),
		studentOverrides: make(map[int64]map[string]bool),
	}

	for _, f := range []Feature{
		{Name: FeatureRiskAlerts, Description: "Generate failure-risk alerts locally", Enabled: true, RolloutPercent: 100},
		{Name: FeatureAutoAlerts, Description: "Regenerate alerts after each change", Enabled: false, RolloutPercent: 0},
		{Name: FeatureRemoteWrite, Description: "Push new records to the data source", Enabled: true, RolloutPercent: 100},
		{Name: FeatureSnapshotCache, Description: "Cache snapshots in Redis", Enabled: true, RolloutPercent: 100},
		{Name: FeatureCurriculum, Description: "Show curriculum order and suggested subjects", Enabled: true, RolloutPercent: 100},
	} {
		feature := f
		ff.features[f.Name] = &feature
	}
	return ff
}

// loadFromEnvironment loads overrides from env vars.
// Format: FEATURE_<NAME>=true|false|<percent>
// Example: FEATURE_ALERTS_AUTO_GENERATE=true
// Example: FEATURE_SYNC_REMOTE_WRITE=50 (50% rollout)
func (ff *FeatureFlags) loadFromEnvironment() {
	for name, feature := range ff.features {
		val := os.Getenv(featureNameToEnvKey(name))
		if val == "" {
			continue
		}

		if b, err := strconv.ParseBool(val); err == nil {
			feature.Enabled = b
			if b {
				feature.RolloutPercent = 100
			} else {
				feature.RolloutPercent = 0
			}
			continue
		}

		if p, err := strconv.Atoi(val); err == nil && p >= 0 && p <= 100 {
			feature.Enabled = p > 0
			feature.RolloutPercent = p
		}
	}
}

// featureNameToEnvKey converts feature name to environment variable key.
// "alerts.auto_generate" -> "FEATURE_ALERTS_AUTO_GENERATE"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled checks if a feature is enabled for the given context.
func (ff *FeatureFlags) IsEnabled(featureName string, ctx *FeatureContext) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	if ctx != nil && ctx.StudentID != 0 {
		if overrides, ok := ff.studentOverrides[ctx.StudentID]; ok {
			if enabled, ok := overrides[featureName]; ok {
				return enabled
			}
		}
	}

	feature, ok := ff.features[featureName]
	if !ok || !feature.Enabled {
		return false
	}

	if len(feature.Programs) > 0 && ctx != nil && ctx.Program != "" {
		if !slices.Contains(feature.Programs, ctx.Program) {
			return false
		}
	}

	if feature.RolloutPercent < 100 && ctx != nil && ctx.StudentID != 0 {
		return isInRollout(ctx.StudentID, featureName, feature.RolloutPercent)
	}

	return feature.RolloutPercent > 0
}

// isInRollout buckets a student with a stable hash so the decision does not
// change between requests.
func isInRollout(studentID int64, featureName string, percent int) bool {
	h := fnv.New32a()
	h.Write([]byte(featureName))
	h.Write([]byte(strconv.FormatInt(studentID, 10)))
	return int(h.Sum32()%100) < percent
}

// SetStudentOverride forces a feature on or off for one student.
func (ff *FeatureFlags) SetStudentOverride(studentID int64, featureName string, enabled bool) {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	if _, ok := ff.studentOverrides[studentID]; !ok {
		ff.studentOverrides[studentID] = make(map[string]bool)
	}
	ff.studentOverrides[studentID][featureName] = enabled
}

// ClearStudentOverrides removes all overrides for a student.
func (ff *FeatureFlags) ClearStudentOverrides(studentID int64) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	delete(ff.studentOverrides, studentID)
}

// SetRolloutPercent updates the rollout percentage for a feature.
func (ff *FeatureFlags) SetRolloutPercent(featureName string, percent int) error {
	ff.mu.Lock()
	defer ff.mu.Unlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return ErrFeatureNotFound
	}
	if percent < 0 || percent > 100 {
		return ErrInvalidRolloutPercent
	}

	feature.RolloutPercent = percent
	feature.Enabled = percent > 0
	return nil
}

// EnableFeature enables a feature at 100% rollout.
func (ff *FeatureFlags) EnableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 100)
}

// DisableFeature disables a feature completely.
func (ff *FeatureFlags) DisableFeature(featureName string) error {
	return ff.SetRolloutPercent(featureName, 0)
}

// GetAllFeatures returns a copy of all feature configurations.
func (ff *FeatureFlags) GetAllFeatures() map[string]Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	result := make(map[string]Feature, len(ff.features))
	for k, v := range ff.features {
		f := *v
		f.Programs = slices.Clone(v.Programs)
		result[k] = f
	}
	return result
}

// --- Errors ---

var (
	ErrFeatureNotFound       = &FeatureFlagError{Message: "feature not found"}
	ErrInvalidRolloutPercent = &FeatureFlagError{Message: "rollout percent must be 0-100"}
)

// FeatureFlagError represents a feature flag error.
type FeatureFlagError struct {
	Message string
}

func (e *FeatureFlagError) Error() string {
	return e.Message
}
