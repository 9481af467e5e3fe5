package report

import (
	"fmt"
	"sort"

	"github.com/warp/casework/welfare"
)

// Filters maps a field name to a raw filter value.
type Filters map[string]string

// Keys returns the filter keys in sorted order.
func (f Filters) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (f Filters) clone() Filters {
	out := make(Filters, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Scope is a set of ownership constraints a role imposes on one entity.
// Nil means unrestricted.
type Scope map[string]string

// =============================================================================
// ACCESS POLICIES - One per role, one method per entity
// =============================================================================

// AccessPolicy decides which records of each entity a principal may see.
type AccessPolicy interface {
	Beneficiaries(p welfare.Principal) Scope
	Cases(p welfare.Principal) Scope
	Assessments(p welfare.Principal) Scope
	CaseNotes(p welfare.Principal) Scope
	Programs(p welfare.Principal) Scope
	Categories(p welfare.Principal) Scope
}

// unrestricted sees everything. Admin, M&E and program directors.
type unrestricted struct{}

func (unrestricted) Beneficiaries(welfare.Principal) Scope { return nil }
func (unrestricted) Cases(welfare.Principal) Scope         { return nil }
func (unrestricted) Assessments(welfare.Principal) Scope   { return nil }
func (unrestricted) CaseNotes(welfare.Principal) Scope     { return nil }
func (unrestricted) Programs(welfare.Principal) Scope      { return nil }
func (unrestricted) Categories(welfare.Principal) Scope    { return nil }

// authorOnly restricts assessments and case notes to the ones the
// principal wrote.
type authorOnly struct{ unrestricted }

func (authorOnly) Assessments(p welfare.Principal) Scope {
	return Scope{"created_by": string(p.UserID)}
}

func (authorOnly) CaseNotes(p welfare.Principal) Scope {
	return Scope{"created_by": string(p.UserID)}
}

// caseManagerPolicy additionally restricts cases to the ones they manage.
type caseManagerPolicy struct{ authorOnly }

func (caseManagerPolicy) Cases(p welfare.Principal) Scope {
	return Scope{"case_manager": string(p.UserID)}
}

var policies = map[welfare.Role]AccessPolicy{
	welfare.RoleAdmin:               unrestricted{},
	welfare.RoleME:                  unrestricted{},
	welfare.RoleProgramDirector:     unrestricted{},
	welfare.RoleCaseManager:         caseManagerPolicy{},
	welfare.RoleFieldOfficer:        authorOnly{},
	welfare.RolePartnerOrganisation: authorOnly{},
}

// PolicyFor returns the access policy of a role.
func PolicyFor(role welfare.Role) (AccessPolicy, error) {
	p, ok := policies[role]
	if !ok {
		return nil, fmt.Errorf("%w: %q", welfare.ErrUnknownRole, role)
	}
	return p, nil
}

// ScopeFor returns the constraints policy imposes on entity.
func ScopeFor(policy AccessPolicy, p welfare.Principal, entity Entity) (Scope, error) {
	switch entity {
	case EntityBeneficiary:
		return policy.Beneficiaries(p), nil
	case EntityCase:
		return policy.Cases(p), nil
	case EntityAssessment:
		return policy.Assessments(p), nil
	case EntityCaseNote:
		return policy.CaseNotes(p), nil
	case EntityProgram:
		return policy.Programs(p), nil
	case EntityCategory:
		return policy.Categories(p), nil
	case EntityUser:
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %q", welfare.ErrUnknownEntity, entity)
}

// ScopeFilters returns a copy of filters with the principal's role
// constraints applied on top. A role constraint always replaces a user
// value for the same key.
func ScopeFilters(p welfare.Principal, entity Entity, filters Filters) (Filters, error) {
	policy, err := PolicyFor(p.Role)
	if err != nil {
		return nil, err
	}
	scope, err := ScopeFor(policy, p, entity)
	if err != nil {
		return nil, err
	}
	// An empty value would be skipped as "no filter".
	if len(scope) > 0 && p.UserID == "" {
		return nil, &welfare.ValidationError{Field: "user", Message: "is required for role " + string(p.Role)}
	}
	out := filters.clone()
	for k, v := range scope {
		out[k] = v
	}
	return out, nil
}
