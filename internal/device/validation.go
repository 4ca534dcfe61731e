package device

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Validation constants.
const (
	maxNameLength = 100
	maxIDLength   = 128

	// Size limits for JSON fields to prevent DoS via memory exhaustion.
	maxConfigKeys   = 50
	maxMetadataKeys = 100
	maxCapabilities = 50
)

// IDs double as side-file names, so they are restricted to a filename-safe set.
var idRegex = regexp.MustCompile(`^[A-Za-z0-9._:-]+$`)

// idNamespace seeds deterministic IDs for devices registered without one.
var idNamespace = uuid.MustParse("6f1c2a8e-4b7d-5e93-a1f0-d2c4b6e8f013")

// Pre-computed validation sets for O(1) lookups.
var (
	validTypes    map[Type]struct{}
	validStatuses map[Status]struct{}
)

func init() {
	validTypes = make(map[Type]struct{}, len(AllTypes()))
	for _, t := range AllTypes() {
		validTypes[t] = struct{}{}
	}

	validStatuses = make(map[Status]struct{}, len(AllStatuses()))
	for _, s := range AllStatuses() {
		validStatuses[s] = struct{}{}
	}
}

// RegisterInput is the caller-supplied description of a device to register.
type RegisterInput struct {
	ID           string         `json:"id,omitempty"`
	Type         Type           `json:"type"`
	Name         string         `json:"name,omitempty"`
	Config       map[string]any `json:"config,omitempty"`
	Capabilities []string       `json:"capabilities,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// ValidateRegisterInput checks caller input before it reaches the registry.
func ValidateRegisterInput(in RegisterInput) error {
	if err := ValidateType(in.Type); err != nil {
		return err
	}
	if in.ID != "" {
		if err := ValidateID(in.ID); err != nil {
			return err
		}
	}
	if len(in.Name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	if len(in.Config) > maxConfigKeys {
		return fmt.Errorf("%w: config has %d keys, max %d", ErrInvalidDevice, len(in.Config), maxConfigKeys)
	}
	if len(in.Metadata) > maxMetadataKeys {
		return fmt.Errorf("%w: metadata has %d keys, max %d", ErrInvalidDevice, len(in.Metadata), maxMetadataKeys)
	}
	if len(in.Capabilities) > maxCapabilities {
		return fmt.Errorf("%w: %d capabilities, max %d", ErrInvalidDevice, len(in.Capabilities), maxCapabilities)
	}
	for _, c := range in.Capabilities {
		if strings.TrimSpace(c) == "" {
			return fmt.Errorf("%w: empty capability", ErrInvalidDevice)
		}
	}
	return nil
}

// ValidateType checks that t is a recognised device type.
func ValidateType(t Type) error {
	if t == "" {
		return fmt.Errorf("%w: type is required", ErrInvalidType)
	}
	if _, ok := validTypes[t]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidType, t)
	}
	return nil
}

// ValidateStatus checks that s is a recognised status.
func ValidateStatus(s Status) error {
	if _, ok := validStatuses[s]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return nil
}

// ValidateID checks a caller-supplied device ID.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrInvalidID)
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidID, maxIDLength)
	}
	if !idRegex.MatchString(id) {
		return fmt.Errorf("%w: %q contains unsupported characters", ErrInvalidID, id)
	}
	if strings.HasPrefix(id, ".") || strings.Contains(id, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// IsValidType reports whether t is a recognised device type.
func IsValidType(t Type) bool {
	_, ok := validTypes[t]
	return ok
}

// IsValidStatus reports whether s is a recognised status.
func IsValidStatus(s Status) bool {
	_, ok := validStatuses[s]
	return ok
}

// GenerateID derives a stable identifier from type, name and registration time.
// Identical inputs yield identical IDs.
func GenerateID(t Type, name string, at time.Time) string {
	seed := string(t) + "|" + name + "|" + at.UTC().Format(time.RFC3339Nano)
	return uuid.NewSHA1(idNamespace, []byte(seed)).String()
}

// DefaultName returns the name assigned to a device registered without one.
func DefaultName(t Type, id string) string {
	short := id
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("%s-%s", t, short)
}

// mergeCapabilities returns the sorted, de-duplicated union of a and b.
func mergeCapabilities(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, c := range list {
			c = strings.TrimSpace(c)
			if c == "" {
				continue
			}
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}
