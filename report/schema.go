/*
schema.go - Typed field paths for report entities

PURPOSE:
  Report fields and filters are strings like "category__name" or
  "case__beneficiary__name". Instead of reflecting over structs, every
  reportable entity declares its fields once: kind, storage column and an
  accessor. Resolving a path is a walk over this table.

PATH RULES:
  - Segments are separated by "__". "." is accepted as an alias.
  - Every segment but the last must be a reference field.
  - A missing segment, an unknown field or a nil reference yields nil.

FILTER RULES:
  - A filter key is a path like a field. Every field with a Column is
    filterable, at the end of any chain of references:
    "category__name" on a beneficiary becomes
    category_id IN (SELECT id FROM categories WHERE name = ?).
  - Values are coerced to the field's kind and to the text form the store
    writes: decimals canonical ("500000.00" -> "500000"), timestamps RFC3339
    UTC. A value that does not coerce is dropped, the same as an empty one.

SEE ALSO:
  - pipeline.go: ResolveRows / Project
  - store/sqlite/report_source.go: Executes Conditions
*/
package report

import (
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/casework/welfare"
)

// Entity names a report base collection.
type Entity string

const (
	EntityBeneficiary Entity = "beneficiary"
	EntityCase        Entity = "case"
	EntityAssessment  Entity = "assessment"
	EntityCaseNote    Entity = "case_note"
	EntityProgram     Entity = "program"
	EntityCategory    Entity = "category"

	// EntityUser is reachable through references and counted on dashboards,
	// but is not a report base collection.
	EntityUser Entity = "user"
)

// Entities lists the report base collections in display order.
var Entities = []Entity{
	EntityBeneficiary, EntityCase, EntityAssessment,
	EntityCaseNote, EntityProgram, EntityCategory,
}

// ParseEntity validates a report entity name.
func ParseEntity(s string) (Entity, error) {
	for _, e := range Entities {
		if string(e) == s {
			return e, nil
		}
	}
	return "", welfare.ErrUnknownEntity
}

// Kind is the value type of a field.
type Kind int

const (
	KindString Kind = iota
	KindInt
	KindDecimal
	KindTime
	KindDate
	KindEnum
	KindRef
)

// Field describes one attribute of an entity.
type Field struct {
	Kind Kind
	// Column is the storage column used for equality filters. Empty means
	// the field cannot be filtered on.
	Column string
	// Ref is the target entity of a KindRef field.
	Ref Entity
	// Values lists the accepted values of a KindEnum field.
	Values []string

	get func(rec any) any
}

// EntitySchema is the declared shape of one entity.
type EntitySchema struct {
	Entity Entity
	// Table is the storage table, used when a filter walks a reference.
	Table string
	Title string
	// Order is the default ordering, as a SQL ORDER BY clause.
	Order string
	// Display is the field shown when a path ends on a reference to this
	// entity.
	Display string
	// Defaults are the fields reported when a request names none.
	Defaults []string
	Fields   map[string]Field
}

// Schema maps every entity to its fields.
type Schema map[Entity]EntitySchema

// Date is a calendar date cell. Unlike time.Time cells it is not moved
// into the report's location.
type Date struct {
	time.Time
}

func (d Date) String() string {
	return d.Format(time.DateOnly)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// Condition is one coerced equality constraint on a storage column. With
// Via set, Column belongs to the entity at the end of the hops.
type Condition struct {
	Via    []Hop
	Column string
	Value  any
}

// Hop follows a reference column into the referenced table.
type Hop struct {
	Column string
	Table  string
}

// =============================================================================
// PATH RESOLUTION
// =============================================================================

// SplitPath splits a field path into segments.
func SplitPath(path string) []string {
	path = strings.ReplaceAll(path, ".", "__")
	var out []string
	for _, seg := range strings.Split(path, "__") {
		if seg = strings.TrimSpace(seg); seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

// Resolve walks path from rec, an entity record, and returns the value at
// the end. Any break in the walk returns nil.
func (s Schema) Resolve(entity Entity, rec any, path string) any {
	segs := SplitPath(path)
	if len(segs) == 0 {
		return nil
	}
	cur, ent := rec, entity
	for i, seg := range segs {
		if cur == nil {
			return nil
		}
		es, ok := s[ent]
		if !ok {
			return nil
		}
		f, ok := es.Fields[seg]
		if !ok {
			return nil
		}
		v := f.get(cur)
		if i == len(segs)-1 {
			if f.Kind == KindRef && v != nil {
				return s.Resolve(f.Ref, v, s[f.Ref].Display)
			}
			return v
		}
		if f.Kind != KindRef {
			return nil
		}
		cur, ent = v, f.Ref
	}
	return nil
}

// Valid reports whether every segment of path names a field. It says
// nothing about whether a record will have the references loaded.
func (s Schema) Valid(entity Entity, path string) bool {
	segs := SplitPath(path)
	if len(segs) == 0 {
		return false
	}
	ent := entity
	for i, seg := range segs {
		f, ok := s[ent].Fields[seg]
		if !ok {
			return false
		}
		if i < len(segs)-1 {
			if f.Kind != KindRef {
				return false
			}
			ent = f.Ref
		}
	}
	return true
}

// Conditions turns string filters into typed conditions. Empty values are
// skipped. Unknown keys and values that fail coercion are returned in
// dropped and left out of the result.
func (s Schema) Conditions(entity Entity, filters Filters) (conds []Condition, dropped []string) {
	for _, key := range filters.Keys() {
		raw := strings.TrimSpace(filters[key])
		if raw == "" {
			continue
		}
		via, f, ok := s.filterField(entity, key)
		if !ok {
			dropped = append(dropped, key)
			continue
		}
		v, ok := coerce(f, raw)
		if !ok {
			dropped = append(dropped, key)
			continue
		}
		conds = append(conds, Condition{Via: via, Column: f.Column, Value: v})
	}
	return conds, dropped
}

// filterField walks a filter key to its last field, collecting a hop for
// every reference on the way.
func (s Schema) filterField(entity Entity, key string) ([]Hop, Field, bool) {
	segs := SplitPath(key)
	if len(segs) == 0 {
		return nil, Field{}, false
	}
	var via []Hop
	ent := entity
	for i, seg := range segs {
		f, ok := s[ent].Fields[seg]
		if !ok || f.Column == "" {
			return nil, Field{}, false
		}
		if i == len(segs)-1 {
			return via, f, true
		}
		if f.Kind != KindRef {
			return nil, Field{}, false
		}
		via = append(via, Hop{Column: f.Column, Table: s[f.Ref].Table})
		ent = f.Ref
	}
	return nil, Field{}, false
}

func coerce(f Field, raw string) (any, bool) {
	switch f.Kind {
	case KindString, KindRef:
		return raw, true
	case KindInt:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, false
		}
		return n, true
	case KindEnum:
		v := strings.ToLower(raw)
		for _, allowed := range f.Values {
			if v == allowed {
				return v, true
			}
		}
		return nil, false
	case KindDecimal:
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, false
		}
		return d.String(), true
	case KindDate:
		d, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			return nil, false
		}
		return d.UTC().Format(time.RFC3339), true
	case KindTime:
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t.UTC().Format(time.RFC3339), true
		}
		if d, err := time.Parse(time.DateOnly, raw); err == nil {
			return d.UTC().Format(time.RFC3339), true
		}
		return nil, false
	}
	return nil, false
}

// =============================================================================
// THE SCHEMA
// =============================================================================

// DefaultSchema describes the welfare entities.
var DefaultSchema = Schema{
	EntityUser: {
		Entity:  EntityUser,
		Table:   "users",
		Display: "username",
		Title:   "Users",
		Order:   "username",
		Fields:  map[string]Field{
			"id":       str("id", func(u *welfare.User) string { return string(u.ID) }),
			"username": str("username", func(u *welfare.User) string { return u.Username }),
			"email":    str("email", func(u *welfare.User) string { return u.Email }),
			"role":     enum("role", roleValues(), func(u *welfare.User) string { return string(u.Role) }),
		},
		Defaults: []string{"username", "email", "role"},
	},
	EntityCategory: {
		Entity:  EntityCategory,
		Table:   "categories",
		Display: "name",
		Title:   "Beneficiary Categories",
		Order:   "CAST(max_annual_amount AS REAL), id",
		Fields:  map[string]Field{
			"id":                str("id", func(c *welfare.Category) string { return string(c.ID) }),
			"name":              str("name", func(c *welfare.Category) string { return c.Name }),
			"description":       str("description", func(c *welfare.Category) string { return c.Description }),
			"max_annual_amount": dec("max_annual_amount", func(c *welfare.Category) decimal.Decimal { return c.MaxAnnualAmount }),
			"created_at":        ts("created_at", func(c *welfare.Category) time.Time { return c.CreatedAt }),
		},
		Defaults: []string{"name", "max_annual_amount", "description"},
	},
	EntityProgram: {
		Entity:  EntityProgram,
		Table:   "programs",
		Display: "name",
		Title:   "Programs",
		Order:   "name",
		Fields:  map[string]Field{
			"id":             str("id", func(p *welfare.Program) string { return string(p.ID) }),
			"name":           str("name", func(p *welfare.Program) string { return p.Name }),
			"description":    str("description", func(p *welfare.Program) string { return p.Description }),
			"monthly_amount": dec("monthly_amount", func(p *welfare.Program) decimal.Decimal { return p.MonthlyAmount }),
			"next_program": ref("next_program_id", EntityProgram, func(p *welfare.Program) any {
				return nilIfNil(p.NextProgram)
			}),
			"created_at": ts("created_at", func(p *welfare.Program) time.Time { return p.CreatedAt }),
		},
		Defaults: []string{"name", "monthly_amount", "next_program__name"},
	},
	EntityBeneficiary: {
		Entity:  EntityBeneficiary,
		Table:   "beneficiaries",
		Display: "name",
		Title:   "Beneficiaries",
		Order:   "name",
		Fields:  map[string]Field{
			"id":            str("id", func(b *welfare.Beneficiary) string { return string(b.ID) }),
			"name":          str("name", func(b *welfare.Beneficiary) string { return b.Name }),
			"date_of_birth": date("date_of_birth", func(b *welfare.Beneficiary) time.Time { return b.DateOfBirth }),
			"gender": enum("gender", []string{
				string(welfare.GenderMale), string(welfare.GenderFemale), string(welfare.GenderOther),
			}, func(b *welfare.Beneficiary) string { return string(b.Gender) }),
			"address": str("address", func(b *welfare.Beneficiary) string { return b.Address }),
			"category": ref("category_id", EntityCategory, func(b *welfare.Beneficiary) any {
				return nilIfNil(b.Category)
			}),
			"program": ref("program_id", EntityProgram, func(b *welfare.Beneficiary) any {
				return nilIfNil(b.Program)
			}),
			"created_at": ts("created_at", func(b *welfare.Beneficiary) time.Time { return b.CreatedAt }),
			"updated_at": ts("updated_at", func(b *welfare.Beneficiary) time.Time { return b.UpdatedAt }),
		},
		Defaults: []string{"name", "gender", "date_of_birth", "category__name", "program__name"},
	},
	EntityCase: {
		Entity:  EntityCase,
		Table:   "cases",
		Display: "title",
		Title:   "Cases",
		Order:   "opened_at DESC, id",
		Fields:  map[string]Field{
			"id":    str("id", func(c *welfare.Case) string { return string(c.ID) }),
			"title": str("title", func(c *welfare.Case) string { return c.Title }),
			"beneficiary": ref("beneficiary_id", EntityBeneficiary, func(c *welfare.Case) any {
				return nilIfNil(c.Beneficiary)
			}),
			"case_manager": ref("case_manager_id", EntityUser, func(c *welfare.Case) any {
				return nilIfNil(c.CaseManager)
			}),
			"status": enum("status", []string{
				string(welfare.CaseOpen), string(welfare.CaseClosed), string(welfare.CasePending),
			}, func(c *welfare.Case) string { return string(c.Status) }),
			"description": str("description", func(c *welfare.Case) string { return c.Description }),
			"opened_at":   ts("opened_at", func(c *welfare.Case) time.Time { return c.OpenedAt }),
			"closed_at": {Kind: KindTime, Column: "closed_at", get: on(func(c *welfare.Case) any {
				if c.ClosedAt == nil {
					return nil
				}
				return *c.ClosedAt
			})},
			"created_at": ts("created_at", func(c *welfare.Case) time.Time { return c.CreatedAt }),
		},
		Defaults: []string{"title", "beneficiary__name", "case_manager__username", "status", "opened_at"},
	},
	EntityCaseNote: {
		Entity:  EntityCaseNote,
		Table:   "case_notes",
		Display: "id",
		Title:   "Case Notes",
		Order:   "created_at DESC, id",
		Fields:  map[string]Field{
			"id": str("id", func(n *welfare.CaseNote) string { return string(n.ID) }),
			"case": ref("case_id", EntityCase, func(n *welfare.CaseNote) any {
				return nilIfNil(n.Case)
			}),
			"created_by": ref("created_by_id", EntityUser, func(n *welfare.CaseNote) any {
				return nilIfNil(n.CreatedBy)
			}),
			"content":    str("content", func(n *welfare.CaseNote) string { return n.Content }),
			"created_at": ts("created_at", func(n *welfare.CaseNote) time.Time { return n.CreatedAt }),
		},
		Defaults: []string{"case__title", "created_by__username", "content", "created_at"},
	},
	EntityAssessment: {
		Entity:  EntityAssessment,
		Table:   "assessments",
		Display: "title",
		Title:   "Assessments",
		Order:   "created_at DESC, id",
		Fields:  map[string]Field{
			"id":          str("id", func(a *welfare.Assessment) string { return string(a.ID) }),
			"title":       str("title", func(a *welfare.Assessment) string { return a.Title }),
			"description": str("description", func(a *welfare.Assessment) string { return a.Description }),
			"case": ref("case_id", EntityCase, func(a *welfare.Assessment) any {
				return nilIfNil(a.Case)
			}),
			"created_by": ref("created_by_id", EntityUser, func(a *welfare.Assessment) any {
				return nilIfNil(a.CreatedBy)
			}),
			"amount_received": dec("amount_received", func(a *welfare.Assessment) decimal.Decimal { return a.AmountReceived }),
			"income_amount":   dec("income_amount", func(a *welfare.Assessment) decimal.Decimal { return a.IncomeAmount }),
			"year":            {Kind: KindInt, Column: "year", get: on(func(a *welfare.Assessment) any { return a.Year })},
			"created_at":      ts("created_at", func(a *welfare.Assessment) time.Time { return a.CreatedAt }),
			"updated_at":      ts("updated_at", func(a *welfare.Assessment) time.Time { return a.UpdatedAt }),
		},
		Defaults: []string{
			"title", "case__beneficiary__name", "amount_received", "income_amount", "year", "created_by__username",
		},
	},
}

// =============================================================================
// ACCESSOR CONSTRUCTORS
// =============================================================================

// on adapts a typed accessor. Records of the wrong type resolve to nil.
func on[T any](fn func(*T) any) func(any) any {
	return func(rec any) any {
		r, ok := rec.(*T)
		if !ok || r == nil {
			return nil
		}
		return fn(r)
	}
}

func str[T any](column string, fn func(*T) string) Field {
	return Field{Kind: KindString, Column: column, get: on(func(r *T) any { return fn(r) })}
}

func enum[T any](column string, values []string, fn func(*T) string) Field {
	return Field{Kind: KindEnum, Column: column, Values: values, get: on(func(r *T) any { return fn(r) })}
}

func dec[T any](column string, fn func(*T) decimal.Decimal) Field {
	return Field{Kind: KindDecimal, Column: column, get: on(func(r *T) any { return fn(r) })}
}

func ts[T any](column string, fn func(*T) time.Time) Field {
	return Field{Kind: KindTime, Column: column, get: on(func(r *T) any { return fn(r) })}
}

func date[T any](column string, fn func(*T) time.Time) Field {
	return Field{Kind: KindDate, Column: column, get: on(func(r *T) any {
		if t := fn(r); !t.IsZero() {
			return Date{t}
		}
		return nil
	})}
}

func ref[T any](column string, target Entity, fn func(*T) any) Field {
	return Field{Kind: KindRef, Column: column, Ref: target, get: on(fn)}
}

// nilIfNil keeps a typed nil pointer from becoming a non-nil interface.
func nilIfNil[T any](p *T) any {
	if p == nil {
		return nil
	}
	return p
}

func roleValues() []string {
	out := make([]string, len(welfare.Roles))
	for i, r := range welfare.Roles {
		out[i] = string(r)
	}
	return out
}
