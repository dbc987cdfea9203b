package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FeatureFlags manages feature toggles with gradual per-user rollout.
type FeatureFlags struct {
	mu sync.RWMutex

	features map[string]*Feature

	// Per-user pins set with --feature name@user=bool.
	userOverrides map[string]map[string]bool // userID -> feature -> enabled

	now func() time.Time
}

// Feature represents a single feature flag.
type Feature struct {
	Name        string
	Description string
	Enabled     bool

	// Rollout percentage (0-100).
	// Users are assigned based on hash of their ID.
	RolloutPercent int

	// Time-based activation
	EnabledFrom  *time.Time
	EnabledUntil *time.Time
}

// Predefined feature flag names.
const (
	FeatureAutoEvaluate      = "achievements.auto_evaluate"   // Evaluate rules after each attempt
	FeatureCleanupGameState  = "gamestate.cleanup_on_complete" // Drop saved board after a solve
	FeatureCatalogCache      = "catalog.cache"                 // Redis read-through catalog cache
	FeatureManualAchievement = "progress.manual_awards"        // POST /api/progress/achievement
)

// LoadFeatureFlags loads feature flags from environment variables.
func LoadFeatureFlags() *FeatureFlags {
	ff := NewFeatureFlags()
	ff.loadFromEnvironment()
	return ff
}

// NewFeatureFlags returns flags with default values and no env overrides.
func NewFeatureFlags() *FeatureFlags {
	ff := &FeatureFlags{
		features:      make(map[string]*Feature),
		userOverrides: make(map[string]map[string]bool),
		now:           time.Now,
	}
	ff.initializeDefaults()
	return ff
}

func (ff *FeatureFlags) initializeDefaults() {
	ff.features[FeatureAutoEvaluate] = &Feature{
		Name:           FeatureAutoEvaluate,
		Description:    "Evaluate achievement rules after every attempt",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureCleanupGameState] = &Feature{
		Name:           FeatureCleanupGameState,
		Description:    "Delete the saved board after a successful attempt",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureCatalogCache] = &Feature{
		Name:           FeatureCatalogCache,
		Description:    "Cache catalog reads in Redis",
		Enabled:        true,
		RolloutPercent: 100,
	}

	ff.features[FeatureManualAchievement] = &Feature{
		Name:           FeatureManualAchievement,
		Description:    "Allow clients to grant achievements directly",
		Enabled:        true,
		RolloutPercent: 100,
	}
}

// loadFromEnvironment loads feature flag overrides from env vars.
// Format: FEATURE_<NAME>=true|false|<percent>
// Example: FEATURE_CATALOG_CACHE=false
// Example: FEATURE_ACHIEVEMENTS_AUTO_EVALUATE=50 (50% rollout)
// Malformed values leave the default in place.
func (ff *FeatureFlags) loadFromEnvironment() {
	for name := range ff.features {
		if val := os.Getenv(featureNameToEnvKey(name)); val != "" {
			_ = ff.apply(name, val)
		}
	}
}

// Set applies one command-line override.
// Format: <name>=true|false|<percent> or <name>@<userID>=true|false
// Example: catalog.cache=false
// Example: progress.manual_awards@admin=true
func (ff *FeatureFlags) Set(override string) error {
	name, val, ok := strings.Cut(override, "=")
	if !ok || strings.TrimSpace(name) == "" {
		return &FeatureFlagError{Message: fmt.Sprintf("feature override %q must be name=value", override)}
	}
	name = strings.TrimSpace(name)
	val = strings.TrimSpace(val)

	if feature, userID, perUser := strings.Cut(name, "@"); perUser {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return &FeatureFlagError{Message: fmt.Sprintf("user override for %s must be true or false", feature)}
		}
		return ff.SetUserOverride(userID, feature, enabled)
	}
	return ff.apply(name, val)
}

func (ff *FeatureFlags) apply(name, val string) error {
	if b, err := strconv.ParseBool(val); err == nil {
		if b {
			return ff.EnableFeature(name)
		}
		return ff.DisableFeature(name)
	}
	p, err := strconv.Atoi(val)
	if err != nil {
		return &FeatureFlagError{Message: fmt.Sprintf("feature %s: value must be a bool or a percent", name)}
	}
	return ff.SetRolloutPercent(name, p)
}

// featureNameToEnvKey converts feature name to environment variable key.
// "gamestate.cleanup_on_complete" -> "FEATURE_GAMESTATE_CLEANUP_ON_COMPLETE"
func featureNameToEnvKey(name string) string {
	key := strings.ToUpper(name)
	key = strings.ReplaceAll(key, ".", "_")
	return "FEATURE_" + key
}

// IsEnabled reports whether a feature is on globally.
// Partial rollouts count as on; use IsEnabledFor to resolve a user's bucket.
func (ff *FeatureFlags) IsEnabled(featureName string) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	feature, ok := ff.features[featureName]
	if !ok {
		return false
	}
	return ff.activeLocked(feature) && feature.RolloutPercent > 0
}

// IsEnabledFor checks if a feature is enabled for the given user.
func (ff *FeatureFlags) IsEnabledFor(featureName, userID string) bool {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	if userID != "" {
		if overrides, ok := ff.userOverrides[userID]; ok {
			if enabled, ok := overrides[featureName]; ok {
				return enabled
			}
		}
	}

	feature, ok := ff.features[featureName]
	if !ok || !ff.activeLocked(feature) {
		return false
	}

	if feature.RolloutPercent < 100 && userID != "" {
		return isInRollout(userID, featureName, feature.RolloutPercent)
	}
	return feature.RolloutPercent > 0
}

// Gate returns a per-user predicate bound to one feature.
func (ff *FeatureFlags) Gate(featureName string) func(userID string) bool {
	return func(userID string) bool {
		return ff.IsEnabledFor(featureName, userID)
	}
}

func (ff *FeatureFlags) activeLocked(feature *Feature) bool {
	if !feature.Enabled {
		return false
	}
	now := ff.now()
	if feature.EnabledFrom != nil && now.Before(*feature.EnabledFrom) {
		return false
	}
	if feature.EnabledUntil != nil && now.After(*feature.EnabledUntil) {
		return false
	}
	return true
}

// isInRollout determines if a user is in the rollout percentage.
// Uses consistent hashing so users stay in their bucket.
func isInRollout(userID, featureName string, percent int) bool {
	h := fnv.New32a()
	h.Write([]byte(featureName))
	h.Write([]byte(userID))
	bucket := int(h.Sum32() % 100)
	return bucket < percent
}

// SetUserOverride pins a feature on or off for one user regardless of
// rollout.
func (ff *FeatureFlags) SetUserOverride(userID, featureName string, enabled bool) error {
	if strings.TrimSpace(userID) == "" {
		return &FeatureFlagError{Message: "user override needs a user id"}
	}

	ff.mu.Lock()
	defer ff.mu.Unlock()

	if _, ok := ff.features[featureName]; !ok {
		return ErrFeatureNotFound
	}
	if _, ok := ff.userOverrides[userID]; !ok {
		ff.userOverrides[userID] = make(map[string]bool)
	}
	ff.userOverrides[userID][featureName] = enabled
	return nil
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
func (ff *FeatureFlags) GetAllFeatures() map[string]*Feature {
	ff.mu.RLock()
	defer ff.mu.RUnlock()

	result := make(map[string]*Feature, len(ff.features))
	for k, v := range ff.features {
		featureCopy := *v
		result[k] = &featureCopy
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
