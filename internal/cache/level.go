package cache

import (
	"fmt"
	"strings"
)

// Level selects which parts of a provider context partition a cache.
type Level int

const (
	// LevelCloud keeps one item per cloud endpoint.
	LevelCloud Level = iota
	// LevelCloudAccount keeps one item per endpoint and account.
	LevelCloudAccount
	// LevelRegion keeps one item per endpoint and region.
	LevelRegion
	// LevelRegionAccount keeps one item per endpoint, region and account.
	LevelRegionAccount
)

// Scope is the part of a provider context a cache partitions on. Values are used verbatim
// and compared case-sensitively.
type Scope interface {
	CloudEndpoint() string
	Region() string
	Account() string
}

// String returns the string representation of the level
func (l Level) String() string {
	switch l {
	case LevelCloud:
		return "CLOUD"
	case LevelCloudAccount:
		return "CLOUD_ACCOUNT"
	case LevelRegion:
		return "REGION"
	case LevelRegionAccount:
		return "REGION_ACCOUNT"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a level name as produced by String, ignoring case.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CLOUD":
		return LevelCloud, nil
	case "CLOUD_ACCOUNT":
		return LevelCloudAccount, nil
	case "REGION":
		return LevelRegion, nil
	case "REGION_ACCOUNT":
		return LevelRegionAccount, nil
	default:
		return 0, fmt.Errorf("unknown cache level: %s", s)
	}
}

// path returns the partition keys for scope, outermost first.
func (l Level) path(scope Scope) []string {
	switch l {
	case LevelCloudAccount:
		return []string{scope.CloudEndpoint(), scope.Account()}
	case LevelRegion:
		return []string{scope.CloudEndpoint(), scope.Region()}
	case LevelRegionAccount:
		return []string{scope.CloudEndpoint(), scope.Region(), scope.Account()}
	default:
		return []string{scope.CloudEndpoint()}
	}
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
