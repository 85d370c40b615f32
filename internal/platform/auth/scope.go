package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Scope is the breadth of facilities a caller may act on.
type Scope string

const (
	ScopeSuper          Scope = "SUPER"
	ScopeState          Scope = "STATE"
	ScopeDistrict       Scope = "DISTRICT"
	ScopeFacilityMember Scope = "FACILITY_MEMBER"
)

// Caller is the authenticated principal of an API request.
type Caller struct {
	UserID      uuid.UUID
	Scope       Scope
	StateID     *uuid.UUID
	DistrictID  *uuid.UUID
	FacilityIDs []uuid.UUID
}

// FacilityRef carries the facility attributes the access predicate reads.
type FacilityRef struct {
	ID         uuid.UUID
	StateID    *uuid.UUID
	DistrictID *uuid.UUID
}

// CanAccess reports whether the caller may read or mutate data owned by f.
func (c Caller) CanAccess(f FacilityRef) bool {
	switch c.Scope {
	case ScopeSuper:
		return true
	case ScopeState:
		return c.StateID != nil && f.StateID != nil && *c.StateID == *f.StateID
	case ScopeDistrict:
		return c.DistrictID != nil && f.DistrictID != nil && *c.DistrictID == *f.DistrictID
	case ScopeFacilityMember:
		for _, id := range c.FacilityIDs {
			if id == f.ID {
				return true
			}
		}
	}
	return false
}

// FacilityFilter compiles CanAccess into a SQL predicate over the facility
// table aliased as alias. Placeholders are numbered from next.
func (c Caller) FacilityFilter(alias string, next int) (string, []interface{}) {
	switch c.Scope {
	case ScopeSuper:
		return "TRUE", nil
	case ScopeState:
		if c.StateID == nil {
			return "FALSE", nil
		}
		return fmt.Sprintf("%s.state_id = $%d", alias, next), []interface{}{*c.StateID}
	case ScopeDistrict:
		if c.DistrictID == nil {
			return "FALSE", nil
		}
		return fmt.Sprintf("%s.district_id = $%d", alias, next), []interface{}{*c.DistrictID}
	case ScopeFacilityMember:
		if len(c.FacilityIDs) == 0 {
			return "FALSE", nil
		}
		return fmt.Sprintf("%s.id = ANY($%d)", alias, next), []interface{}{c.FacilityIDs}
	}
	return "FALSE", nil
}

// ParseScope accepts the scope names case-insensitively.
func ParseScope(s string) (Scope, error) {
	switch sc := Scope(strings.ToUpper(strings.TrimSpace(s))); sc {
	case ScopeSuper, ScopeState, ScopeDistrict, ScopeFacilityMember:
		return sc, nil
	}
	return "", fmt.Errorf("unknown scope %q", s)
}

type callerKey struct{}

func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFromContext returns the caller set by the auth middleware.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}
