// Package store provides in-memory welfare.Store implementations.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/warp/casework/welfare"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex
	t  *tables
}

func NewMemory() *Memory {
	return &Memory{t: newTables()}
}

func (m *Memory) GetUser(ctx context.Context, id welfare.UserID) (*welfare.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.GetUser(ctx, id)
}

func (m *Memory) GetCategory(ctx context.Context, id welfare.CategoryID) (*welfare.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.GetCategory(ctx, id)
}

func (m *Memory) GetProgram(ctx context.Context, id welfare.ProgramID) (*welfare.Program, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.GetProgram(ctx, id)
}

func (m *Memory) GetBeneficiary(ctx context.Context, id welfare.BeneficiaryID) (*welfare.Beneficiary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.GetBeneficiary(ctx, id)
}

func (m *Memory) GetCase(ctx context.Context, id welfare.CaseID) (*welfare.Case, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.GetCase(ctx, id)
}

func (m *Memory) GetAssessment(ctx context.Context, id welfare.AssessmentID) (*welfare.Assessment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.GetAssessment(ctx, id)
}

func (m *Memory) GetTemplate(ctx context.Context, id welfare.TemplateID) (*welfare.ReportTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.GetTemplate(ctx, id)
}

func (m *Memory) FindUserByUsername(ctx context.Context, username string) (*welfare.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.FindUserByUsername(ctx, username)
}

func (m *Memory) FindCategoryByName(ctx context.Context, name string) (*welfare.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.FindCategoryByName(ctx, name)
}

func (m *Memory) FindProgramByName(ctx context.Context, name string) (*welfare.Program, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.FindProgramByName(ctx, name)
}

func (m *Memory) ListCategories(ctx context.Context, f welfare.CategoryFilter) ([]welfare.Category, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.ListCategories(ctx, f)
}

func (m *Memory) ListPrograms(ctx context.Context) ([]welfare.Program, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.ListPrograms(ctx)
}

func (m *Memory) SumAmountReceived(ctx context.Context, id welfare.BeneficiaryID) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.SumAmountReceived(ctx, id)
}

func (m *Memory) ListTemplates(ctx context.Context) ([]welfare.ReportTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.ListTemplates(ctx)
}

func (m *Memory) ListReports(ctx context.Context, generatedBy *welfare.UserID) ([]welfare.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.ListReports(ctx, generatedBy)
}

func (m *Memory) SaveUser(ctx context.Context, u welfare.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.SaveUser(ctx, u)
}

func (m *Memory) SaveCategory(ctx context.Context, c welfare.Category) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.SaveCategory(ctx, c)
}

func (m *Memory) SaveProgram(ctx context.Context, p welfare.Program) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.SaveProgram(ctx, p)
}

func (m *Memory) SaveBeneficiary(ctx context.Context, b welfare.Beneficiary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.SaveBeneficiary(ctx, b)
}

func (m *Memory) SaveCase(ctx context.Context, c welfare.Case) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.SaveCase(ctx, c)
}

func (m *Memory) SaveCaseNote(ctx context.Context, n welfare.CaseNote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.SaveCaseNote(ctx, n)
}

func (m *Memory) SaveAssessment(ctx context.Context, a welfare.Assessment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.SaveAssessment(ctx, a)
}

func (m *Memory) SaveTemplate(ctx context.Context, t welfare.ReportTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.SaveTemplate(ctx, t)
}

func (m *Memory) SaveReport(ctx context.Context, r welfare.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.SaveReport(ctx, r)
}

func (m *Memory) UpdatePlacement(ctx context.Context, id welfare.BeneficiaryID, p welfare.PlacementUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.UpdatePlacement(ctx, id, p)
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(_ context.Context, fn func(welfare.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.t.clone()
	if err := fn(tm.t); err != nil {
		tm.t = snapshot
		return err
	}
	return nil
}

// =============================================================================
// TABLES - Unlocked state shared by Memory and the transactional view
// =============================================================================

type tables struct {
	users         map[welfare.UserID]welfare.User
	categories    map[welfare.CategoryID]welfare.Category
	programs      map[welfare.ProgramID]welfare.Program
	beneficiaries map[welfare.BeneficiaryID]welfare.Beneficiary
	cases         map[welfare.CaseID]welfare.Case
	notes         map[welfare.CaseNoteID]welfare.CaseNote
	assessments   map[welfare.AssessmentID]welfare.Assessment
	templates     map[welfare.TemplateID]welfare.ReportTemplate
	reports       map[welfare.ReportID]welfare.Report
}

func newTables() *tables {
	return &tables{
		users:         make(map[welfare.UserID]welfare.User),
		categories:    make(map[welfare.CategoryID]welfare.Category),
		programs:      make(map[welfare.ProgramID]welfare.Program),
		beneficiaries: make(map[welfare.BeneficiaryID]welfare.Beneficiary),
		cases:         make(map[welfare.CaseID]welfare.Case),
		notes:         make(map[welfare.CaseNoteID]welfare.CaseNote),
		assessments:   make(map[welfare.AssessmentID]welfare.Assessment),
		templates:     make(map[welfare.TemplateID]welfare.ReportTemplate),
		reports:       make(map[welfare.ReportID]welfare.Report),
	}
}

func (t *tables) clone() *tables {
	c := newTables()
	for k, v := range t.users {
		c.users[k] = v
	}
	for k, v := range t.categories {
		c.categories[k] = v
	}
	for k, v := range t.programs {
		c.programs[k] = v
	}
	for k, v := range t.beneficiaries {
		c.beneficiaries[k] = v
	}
	for k, v := range t.cases {
		c.cases[k] = v
	}
	for k, v := range t.notes {
		c.notes[k] = v
	}
	for k, v := range t.assessments {
		c.assessments[k] = v
	}
	for k, v := range t.templates {
		c.templates[k] = v
	}
	for k, v := range t.reports {
		c.reports[k] = v
	}
	return c
}

func (t *tables) GetUser(_ context.Context, id welfare.UserID) (*welfare.User, error) {
	u, ok := t.users[id]
	if !ok {
		return nil, welfare.ErrUserNotFound
	}
	return &u, nil
}

func (t *tables) GetCategory(_ context.Context, id welfare.CategoryID) (*welfare.Category, error) {
	c, ok := t.categories[id]
	if !ok {
		return nil, welfare.ErrCategoryNotFound
	}
	return &c, nil
}

func (t *tables) GetProgram(_ context.Context, id welfare.ProgramID) (*welfare.Program, error) {
	p, ok := t.programs[id]
	if !ok {
		return nil, welfare.ErrProgramNotFound
	}
	return &p, nil
}

func (t *tables) GetBeneficiary(_ context.Context, id welfare.BeneficiaryID) (*welfare.Beneficiary, error) {
	b, ok := t.beneficiaries[id]
	if !ok {
		return nil, welfare.ErrBeneficiaryNotFound
	}
	return &b, nil
}

func (t *tables) GetCase(_ context.Context, id welfare.CaseID) (*welfare.Case, error) {
	c, ok := t.cases[id]
	if !ok {
		return nil, welfare.ErrCaseNotFound
	}
	return &c, nil
}

func (t *tables) GetAssessment(_ context.Context, id welfare.AssessmentID) (*welfare.Assessment, error) {
	a, ok := t.assessments[id]
	if !ok {
		return nil, welfare.ErrAssessmentNotFound
	}
	return &a, nil
}

func (t *tables) GetTemplate(_ context.Context, id welfare.TemplateID) (*welfare.ReportTemplate, error) {
	tpl, ok := t.templates[id]
	if !ok {
		return nil, welfare.ErrTemplateNotFound
	}
	return &tpl, nil
}

func (t *tables) FindUserByUsername(_ context.Context, username string) (*welfare.User, error) {
	for _, u := range t.users {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, welfare.ErrUserNotFound
}

func (t *tables) FindCategoryByName(_ context.Context, name string) (*welfare.Category, error) {
	for _, c := range t.categories {
		if c.Name == name {
			return &c, nil
		}
	}
	return nil, welfare.ErrCategoryNotFound
}

func (t *tables) FindProgramByName(_ context.Context, name string) (*welfare.Program, error) {
	for _, p := range t.programs {
		if p.Name == name {
			return &p, nil
		}
	}
	return nil, welfare.ErrProgramNotFound
}

func (t *tables) ListCategories(_ context.Context, f welfare.CategoryFilter) ([]welfare.Category, error) {
	var result []welfare.Category
	for _, c := range t.categories {
		if f.Matches(c) {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if cmp := result[i].MaxAnnualAmount.Cmp(result[j].MaxAnnualAmount); cmp != 0 {
			return cmp < 0
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

func (t *tables) ListPrograms(_ context.Context) ([]welfare.Program, error) {
	result := make([]welfare.Program, 0, len(t.programs))
	for _, p := range t.programs {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool {
		return strings.ToLower(result[i].Name) < strings.ToLower(result[j].Name)
	})
	return result, nil
}

func (t *tables) SumAmountReceived(_ context.Context, id welfare.BeneficiaryID) (decimal.Decimal, error) {
	cases := make(map[welfare.CaseID]bool)
	for _, c := range t.cases {
		if c.BeneficiaryID == id {
			cases[c.ID] = true
		}
	}
	total := decimal.Zero
	for _, a := range t.assessments {
		if cases[a.CaseID] {
			total = total.Add(a.AmountReceived)
		}
	}
	return total, nil
}

func (t *tables) ListTemplates(_ context.Context) ([]welfare.ReportTemplate, error) {
	result := make([]welfare.ReportTemplate, 0, len(t.templates))
	for _, tpl := range t.templates {
		result = append(result, tpl)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (t *tables) ListReports(_ context.Context, generatedBy *welfare.UserID) ([]welfare.Report, error) {
	var result []welfare.Report
	for _, r := range t.reports {
		if generatedBy == nil || r.GeneratedByID == *generatedBy {
			result = append(result, r)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].GeneratedAt.After(result[j].GeneratedAt) })
	return result, nil
}

func (t *tables) SaveUser(_ context.Context, u welfare.User) error {
	t.users[u.ID] = u
	return nil
}

func (t *tables) SaveCategory(_ context.Context, c welfare.Category) error {
	t.categories[c.ID] = c
	return nil
}

func (t *tables) SaveProgram(_ context.Context, p welfare.Program) error {
	p.NextProgram = nil
	t.programs[p.ID] = p
	return nil
}

func (t *tables) SaveBeneficiary(_ context.Context, b welfare.Beneficiary) error {
	b.Category, b.Program = nil, nil
	t.beneficiaries[b.ID] = b
	return nil
}

func (t *tables) SaveCase(_ context.Context, c welfare.Case) error {
	c.Beneficiary, c.CaseManager = nil, nil
	t.cases[c.ID] = c
	return nil
}

func (t *tables) SaveCaseNote(_ context.Context, n welfare.CaseNote) error {
	n.Case, n.CreatedBy = nil, nil
	t.notes[n.ID] = n
	return nil
}

func (t *tables) SaveAssessment(_ context.Context, a welfare.Assessment) error {
	a.Case, a.CreatedBy = nil, nil
	t.assessments[a.ID] = a
	return nil
}

func (t *tables) SaveTemplate(_ context.Context, tpl welfare.ReportTemplate) error {
	t.templates[tpl.ID] = tpl
	return nil
}

func (t *tables) SaveReport(_ context.Context, r welfare.Report) error {
	t.reports[r.ID] = r
	return nil
}

func (t *tables) UpdatePlacement(_ context.Context, id welfare.BeneficiaryID, p welfare.PlacementUpdate) error {
	b, ok := t.beneficiaries[id]
	if !ok {
		return welfare.ErrBeneficiaryNotFound
	}
	if p.CategoryID != nil {
		cid := *p.CategoryID
		b.CategoryID = &cid
	}
	if p.ProgramID != nil {
		pid := *p.ProgramID
		b.ProgramID = &pid
	}
	t.beneficiaries[id] = b
	return nil
}
