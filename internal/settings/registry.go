package settings

import (
	"fmt"

	"github.com/samber/lo"

	"admin-starter/internal/common/errors"
	"admin-starter/internal/common/validation"
)

const (
	KeyFirstTimeSetupCompleted = "firstTimeSetupCompleted"
	KeyPublicRegistration      = "publicRegistration"
	KeySearchResultsLimit      = "searchResultsLimit"

	KeyRateLimitingAuthedEnabled                = "rateLimitingAuthedEnabled"
	KeyRateLimitingAuthedLimit                  = "rateLimitingAuthedLimit"
	KeyRateLimitingUnauthenticatedEnabled       = "rateLimitingUnauthenticatedEnabled"
	KeyRateLimitingUnauthenticatedLimit         = "rateLimitingUnauthenticatedLimit"
	KeyRateLimitingUnauthenticatedGlobalEnabled = "rateLimitingUnauthenticatedGlobalEnabled"
	KeyRateLimitingUnauthenticatedGlobalLimit   = "rateLimitingUnauthenticatedGlobalLimit"
)

const (
	CategorySystem    = "System"
	CategorySearch    = "Search"
	CategoryRateLimit = "RateLimit"
)

const maxOperationsPerWindow = 100000

// Definition declares a setting: its type, default, bounds and where it shows up.
type Definition struct {
	Key         string
	Kind        Kind
	Default     Value
	Min         int
	Max         int
	Description string
	Category    string
}

// Tag is the validator tag applied to values of this setting.
func (d Definition) Tag() string {
	if d.Kind != KindInt {
		return ""
	}
	return fmt.Sprintf("min=%d,max=%d", d.Min, d.Max)
}

// Validate checks v against the setting's kind and bounds.
func (d Definition) Validate(v Value) error {
	if v.Kind != d.Kind {
		return errors.ValidationError(fmt.Sprintf("field '%s' must be of type %s", d.Key, d.Kind)).
			WithContext("field", d.Key).
			WithCode("type")
	}
	if tag := d.Tag(); tag != "" {
		return validation.ValidateField(d.Key, v.Int, tag)
	}
	return nil
}

func boolSetting(key string, def bool, category, description string) Definition {
	return Definition{Key: key, Kind: KindBool, Default: BoolValue(def), Category: category, Description: description}
}

func intSetting(key string, def, lower, upper int, category, description string) Definition {
	return Definition{Key: key, Kind: KindInt, Default: IntValue(def), Min: lower, Max: upper, Category: category, Description: description}
}

var definitions = []Definition{
	boolSetting(KeyFirstTimeSetupCompleted, false, CategorySystem,
		"Flag to indicate if the initial application setup has been completed."),
	boolSetting(KeyPublicRegistration, false, CategorySystem,
		"Allow new users to register."),
	intSetting(KeySearchResultsLimit, 50, 1, 200, CategorySearch,
		"Maximum number of search results to return"),

	boolSetting(KeyRateLimitingAuthedEnabled, false, CategoryRateLimit,
		"Enable rate limiting for authenticated users on operations"),
	intSetting(KeyRateLimitingAuthedLimit, 20, 1, maxOperationsPerWindow, CategoryRateLimit,
		"Maximum number of operations allowed per authenticated user in a 1-minute sliding window"),
	boolSetting(KeyRateLimitingUnauthenticatedEnabled, false, CategoryRateLimit,
		"Enable rate limiting per unauthenticated user (by browser fingerprint)"),
	intSetting(KeyRateLimitingUnauthenticatedLimit, 3, 1, maxOperationsPerWindow, CategoryRateLimit,
		"Maximum number of operations allowed per unauthenticated user in a 1-minute sliding window"),
	boolSetting(KeyRateLimitingUnauthenticatedGlobalEnabled, false, CategoryRateLimit,
		"Enable global rate limiting for all unauthenticated users combined"),
	intSetting(KeyRateLimitingUnauthenticatedGlobalLimit, 20, 1, maxOperationsPerWindow, CategoryRateLimit,
		"Maximum number of operations allowed system-wide for all unauthenticated users in a 1-minute sliding window"),
}

var byKey = lo.KeyBy(definitions, func(d Definition) string { return d.Key })

// Definitions returns every declared setting in declaration order.
func Definitions() []Definition {
	out := make([]Definition, len(definitions))
	copy(out, definitions)
	return out
}

// Keys returns every declared setting key in declaration order.
func Keys() []string {
	return lo.Map(definitions, func(d Definition, _ int) string { return d.Key })
}

// Lookup returns the definition for key.
func Lookup(key string) (Definition, bool) {
	d, ok := byKey[key]
	return d, ok
}

// Categories returns the distinct categories in declaration order.
func Categories() []string {
	return lo.Uniq(lo.Map(definitions, func(d Definition, _ int) string { return d.Category }))
}
