/*
Package seed loads YAML fixtures into a store.

PURPOSE:
  Bootstraps a database with users, categories, programs, beneficiaries,
  cases, notes, assessments and report templates for demos and tests.

IDEMPOTENCY:
  Users are matched by username, categories and programs by name, every
  other record by its fixture id. Existing records are skipped, never
  overwritten, so running the same file twice changes nothing.

REFERENCES:
  Fixtures refer to each other by natural key: a beneficiary names its
  category and program, a case names its beneficiary id and its case
  manager's username, and so on. Unknown references fail the whole load.

PROGRAM CHAINS:
  The programs in the file, together with those already stored, must form
  acyclic chains with no dangling successor.

ASSESSMENTS:
  New assessments go through the eligibility engine exactly like a live
  write, so seeded placements reflect the seeded history.

ATOMICITY:
  Everything runs in one transaction. Any error leaves the store untouched.

SEE ALSO:
  - demo.yaml: Embedded demo fixture
  - eligibility/chain.go: ProgramGraph validation
*/
package seed

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/warp/casework/eligibility"
	"github.com/warp/casework/report"
	"github.com/warp/casework/welfare"
)

// =============================================================================
// FIXTURE FORMAT
// =============================================================================

type Fixtures struct {
	Users         []User        `yaml:"users"`
	Categories    []Category    `yaml:"categories"`
	Programs      []Program     `yaml:"programs"`
	Beneficiaries []Beneficiary `yaml:"beneficiaries"`
	Cases         []Case        `yaml:"cases"`
	CaseNotes     []CaseNote    `yaml:"case_notes"`
	Assessments   []Assessment  `yaml:"assessments"`
	Templates     []Template    `yaml:"report_templates"`
}

type User struct {
	ID       string       `yaml:"id"`
	Username string       `yaml:"username"`
	Email    string       `yaml:"email"`
	Role     welfare.Role `yaml:"role"`
}

type Category struct {
	ID              string          `yaml:"id"`
	Name            string          `yaml:"name"`
	Description     string          `yaml:"description"`
	MaxAnnualAmount decimal.Decimal `yaml:"max_annual_amount"`
}

type Program struct {
	ID            string          `yaml:"id"`
	Name          string          `yaml:"name"`
	Description   string          `yaml:"description"`
	MonthlyAmount decimal.Decimal `yaml:"monthly_amount"`
	// Next is the successor program's name.
	Next string `yaml:"next"`
}

type Beneficiary struct {
	ID          string         `yaml:"id"`
	Name        string         `yaml:"name"`
	DateOfBirth string         `yaml:"date_of_birth"`
	Gender      welfare.Gender `yaml:"gender"`
	Address     string         `yaml:"address"`
	Category    string         `yaml:"category"`
	Program     string         `yaml:"program"`
}

type Case struct {
	ID          string             `yaml:"id"`
	Title       string             `yaml:"title"`
	Beneficiary string             `yaml:"beneficiary"`
	CaseManager string             `yaml:"case_manager"`
	Status      welfare.CaseStatus `yaml:"status"`
	Description string             `yaml:"description"`
	OpenedAt    string             `yaml:"opened_at"`
}

type CaseNote struct {
	ID        string `yaml:"id"`
	Case      string `yaml:"case"`
	CreatedBy string `yaml:"created_by"`
	Content   string `yaml:"content"`
}

type Assessment struct {
	ID             string          `yaml:"id"`
	Title          string          `yaml:"title"`
	Description    string          `yaml:"description"`
	Case           string          `yaml:"case"`
	CreatedBy      string          `yaml:"created_by"`
	AmountReceived decimal.Decimal `yaml:"amount_received"`
	IncomeAmount   decimal.Decimal `yaml:"income_amount"`
	Year           int             `yaml:"year"`
}

type Template struct {
	ID        string            `yaml:"id"`
	Name      string            `yaml:"name"`
	Entity    string            `yaml:"entity"`
	Fields    []string          `yaml:"fields"`
	Filters   map[string]string `yaml:"filters"`
	CreatedBy string            `yaml:"created_by"`
}

func (f *Fixtures) count() int {
	return len(f.Users) + len(f.Categories) + len(f.Programs) + len(f.Beneficiaries) +
		len(f.Cases) + len(f.CaseNotes) + len(f.Assessments) + len(f.Templates)
}

// Parse decodes a fixture document. Unknown keys are rejected.
func Parse(r io.Reader) (*Fixtures, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f Fixtures
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse fixtures: %w", err)
	}
	return &f, nil
}

// ParseFile reads fixtures from path.
func ParseFile(path string) (*Fixtures, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return Parse(file)
}

//go:embed demo.yaml
var demoYAML string

// Demo returns the built-in demo fixtures.
func Demo() (*Fixtures, error) {
	return Parse(strings.NewReader(demoYAML))
}

// =============================================================================
// LOADER
// =============================================================================

// Summary counts what a load did, keyed by record kind.
type Summary struct {
	Created    map[string]int
	Skipped    map[string]int
	Promotions int
}

func newSummary() *Summary {
	return &Summary{Created: map[string]int{}, Skipped: map[string]int{}}
}

type Loader struct {
	store  welfare.TxStore
	logger *zap.Logger
	// Progress receives a progress bar. Nil hides it.
	Progress io.Writer
	Now      func() time.Time
	newID    func() string
}

func NewLoader(store welfare.TxStore, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		store:  store,
		logger: logger,
		Now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Load writes f in one transaction.
func (l *Loader) Load(ctx context.Context, f *Fixtures) (*Summary, error) {
	out := l.Progress
	if out == nil {
		out = io.Discard
	}
	bar := progressbar.NewOptions(f.count(),
		progressbar.OptionSetWriter(out),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("Seeding"),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(out) }),
	)

	var sum *Summary
	err := l.store.WithTx(ctx, func(tx welfare.Store) error {
		run := &loadRun{
			Loader:     l,
			tx:         tx,
			sum:        newSummary(),
			bar:        bar,
			now:        l.Now().UTC(),
			users:      map[string]welfare.UserID{},
			categories: map[string]welfare.CategoryID{},
			programs:   map[string]welfare.ProgramID{},
		}
		if err := run.all(ctx, f); err != nil {
			return err
		}
		sum = run.sum
		return nil
	})
	if err != nil {
		l.logger.Warn("seed rolled back", zap.Error(err))
		return nil, err
	}
	_ = bar.Finish()

	l.logger.Info("seed complete",
		zap.Any("created", sum.Created),
		zap.Any("skipped", sum.Skipped),
		zap.Int("promotions", sum.Promotions))
	return sum, nil
}

// loadRun is the state of one Load inside its transaction.
type loadRun struct {
	*Loader
	tx  welfare.Store
	sum *Summary
	bar *progressbar.ProgressBar
	now time.Time

	users      map[string]welfare.UserID
	categories map[string]welfare.CategoryID
	programs   map[string]welfare.ProgramID
}

func (r *loadRun) all(ctx context.Context, f *Fixtures) error {
	steps := []func(context.Context, *Fixtures) error{
		r.loadUsers,
		r.loadCategories,
		r.loadPrograms,
		r.loadBeneficiaries,
		r.loadCases,
		r.loadCaseNotes,
		r.loadAssessments,
		r.loadTemplates,
	}
	for _, step := range steps {
		if err := step(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

func (r *loadRun) tick(kind string, created bool) {
	if created {
		r.sum.Created[kind]++
	} else {
		r.sum.Skipped[kind]++
		r.logger.Debug("seed record exists, skipping", zap.String("kind", kind))
	}
	_ = r.bar.Add(1)
}

func (r *loadRun) id(given string) string {
	if given != "" {
		return given
	}
	return r.newID()
}

func required(kind, field, value string) error {
	if strings.TrimSpace(value) == "" {
		return &welfare.ValidationError{Field: kind + "." + field, Message: "is required"}
	}
	return nil
}

// -----------------------------------------------------------------------------
// Lookups by natural key: this load first, then the store
// -----------------------------------------------------------------------------

func (r *loadRun) user(ctx context.Context, username string) (welfare.UserID, error) {
	if id, ok := r.users[username]; ok {
		return id, nil
	}
	u, err := r.tx.FindUserByUsername(ctx, username)
	if err != nil {
		return "", fmt.Errorf("user %q: %w", username, err)
	}
	r.users[username] = u.ID
	return u.ID, nil
}

func (r *loadRun) category(ctx context.Context, name string) (*welfare.CategoryID, error) {
	if name == "" {
		return nil, nil
	}
	if id, ok := r.categories[name]; ok {
		return &id, nil
	}
	c, err := r.tx.FindCategoryByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("category %q: %w", name, err)
	}
	return &c.ID, nil
}

func (r *loadRun) program(ctx context.Context, name string) (*welfare.ProgramID, error) {
	if name == "" {
		return nil, nil
	}
	if id, ok := r.programs[name]; ok {
		return &id, nil
	}
	p, err := r.tx.FindProgramByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("program %q: %w", name, err)
	}
	return &p.ID, nil
}

// -----------------------------------------------------------------------------
// Steps
// -----------------------------------------------------------------------------

func (r *loadRun) loadUsers(ctx context.Context, f *Fixtures) error {
	for _, fx := range f.Users {
		if err := required("user", "username", fx.Username); err != nil {
			return err
		}
		if !fx.Role.Valid() {
			return fmt.Errorf("user %q: %w: %q", fx.Username, welfare.ErrUnknownRole, fx.Role)
		}

		existing, err := r.tx.FindUserByUsername(ctx, fx.Username)
		switch {
		case err == nil:
			r.users[fx.Username] = existing.ID
			r.tick("users", false)
			continue
		case !errors.Is(err, welfare.ErrUserNotFound):
			return err
		}

		u := welfare.User{ID: welfare.UserID(r.id(fx.ID)), Username: fx.Username, Email: fx.Email, Role: fx.Role, CreatedAt: r.now}
		if err := r.tx.SaveUser(ctx, u); err != nil {
			return err
		}
		r.users[fx.Username] = u.ID
		r.tick("users", true)
	}
	return nil
}

func (r *loadRun) loadCategories(ctx context.Context, f *Fixtures) error {
	for _, fx := range f.Categories {
		if err := required("category", "name", fx.Name); err != nil {
			return err
		}
		if fx.MaxAnnualAmount.IsNegative() {
			return &welfare.ValidationError{Field: "category.max_annual_amount", Message: "must not be negative"}
		}

		existing, err := r.tx.FindCategoryByName(ctx, fx.Name)
		switch {
		case err == nil:
			r.categories[fx.Name] = existing.ID
			r.tick("categories", false)
			continue
		case !errors.Is(err, welfare.ErrCategoryNotFound):
			return err
		}

		c := welfare.Category{
			ID:              welfare.CategoryID(r.id(fx.ID)),
			Name:            fx.Name,
			Description:     fx.Description,
			MaxAnnualAmount: fx.MaxAnnualAmount,
			CreatedAt:       r.now,
		}
		if err := r.tx.SaveCategory(ctx, c); err != nil {
			return err
		}
		r.categories[fx.Name] = c.ID
		r.tick("categories", true)
	}
	return nil
}

// loadPrograms resolves every successor by name against the file and the
// store, validates the combined chain, then writes the new programs.
func (r *loadRun) loadPrograms(ctx context.Context, f *Fixtures) error {
	stored, err := r.tx.ListPrograms(ctx)
	if err != nil {
		return err
	}
	byName := make(map[string]welfare.Program, len(stored)+len(f.Programs))
	for _, p := range stored {
		byName[p.Name] = p
	}

	var fresh []welfare.Program
	for _, fx := range f.Programs {
		if err := required("program", "name", fx.Name); err != nil {
			return err
		}
		if _, ok := byName[fx.Name]; ok {
			continue
		}
		p := welfare.Program{
			ID:            welfare.ProgramID(r.id(fx.ID)),
			Name:          fx.Name,
			Description:   fx.Description,
			MonthlyAmount: fx.MonthlyAmount,
			CreatedAt:     r.now,
		}
		byName[p.Name] = p
		fresh = append(fresh, p)
	}

	nexts := make(map[string]string, len(f.Programs))
	for _, fx := range f.Programs {
		nexts[fx.Name] = fx.Next
	}
	for i := range fresh {
		next := nexts[fresh[i].Name]
		if next == "" {
			continue
		}
		succ, ok := byName[next]
		if !ok {
			return fmt.Errorf("%w: %s -> %s", welfare.ErrDanglingSuccessor, fresh[i].Name, next)
		}
		fresh[i].NextProgramID = &succ.ID
		byName[fresh[i].Name] = fresh[i]
	}

	all := make([]welfare.Program, 0, len(byName))
	for _, p := range byName {
		all = append(all, p)
	}
	if err := eligibility.NewProgramGraph(all).Validate(); err != nil {
		return err
	}

	for _, fx := range f.Programs {
		p := byName[fx.Name]
		r.programs[p.Name] = p.ID
		created := false
		for _, n := range fresh {
			if n.ID == p.ID {
				if err := r.tx.SaveProgram(ctx, p); err != nil {
					return err
				}
				created = true
				break
			}
		}
		r.tick("programs", created)
	}
	return nil
}

func (r *loadRun) loadBeneficiaries(ctx context.Context, f *Fixtures) error {
	for _, fx := range f.Beneficiaries {
		if err := required("beneficiary", "id", fx.ID); err != nil {
			return err
		}
		if err := required("beneficiary", "name", fx.Name); err != nil {
			return err
		}
		exists, err := found(r.tx.GetBeneficiary(ctx, welfare.BeneficiaryID(fx.ID)))
		if err != nil {
			return err
		}
		if exists {
			r.tick("beneficiaries", false)
			continue
		}

		b := welfare.Beneficiary{
			ID:        welfare.BeneficiaryID(fx.ID),
			Name:      fx.Name,
			Gender:    fx.Gender,
			Address:   fx.Address,
			CreatedAt: r.now,
			UpdatedAt: r.now,
		}
		if fx.DateOfBirth != "" {
			dob, err := time.Parse(time.DateOnly, fx.DateOfBirth)
			if err != nil {
				return &welfare.ValidationError{Field: "beneficiary.date_of_birth", Message: "must be YYYY-MM-DD"}
			}
			b.DateOfBirth = dob
		}
		if b.CategoryID, err = r.category(ctx, fx.Category); err != nil {
			return err
		}
		if b.ProgramID, err = r.program(ctx, fx.Program); err != nil {
			return err
		}
		if err := r.tx.SaveBeneficiary(ctx, b); err != nil {
			return err
		}
		r.tick("beneficiaries", true)
	}
	return nil
}

func (r *loadRun) loadCases(ctx context.Context, f *Fixtures) error {
	for _, fx := range f.Cases {
		if err := required("case", "id", fx.ID); err != nil {
			return err
		}
		exists, err := found(r.tx.GetCase(ctx, welfare.CaseID(fx.ID)))
		if err != nil {
			return err
		}
		if exists {
			r.tick("cases", false)
			continue
		}

		if _, err := r.tx.GetBeneficiary(ctx, welfare.BeneficiaryID(fx.Beneficiary)); err != nil {
			return fmt.Errorf("case %s: %w", fx.ID, err)
		}
		manager, err := r.user(ctx, fx.CaseManager)
		if err != nil {
			return fmt.Errorf("case %s: %w", fx.ID, err)
		}
		status := fx.Status
		if status == "" {
			status = welfare.CaseOpen
		}
		opened := r.now
		if fx.OpenedAt != "" {
			if opened, err = time.Parse(time.DateOnly, fx.OpenedAt); err != nil {
				return &welfare.ValidationError{Field: "case.opened_at", Message: "must be YYYY-MM-DD"}
			}
		}

		c := welfare.Case{
			ID:            welfare.CaseID(fx.ID),
			Title:         fx.Title,
			BeneficiaryID: welfare.BeneficiaryID(fx.Beneficiary),
			CaseManagerID: manager,
			Status:        status,
			Description:   fx.Description,
			OpenedAt:      opened,
			CreatedAt:     r.now,
		}
		if status == welfare.CaseClosed {
			c.ClosedAt = &r.now
		}
		if err := r.tx.SaveCase(ctx, c); err != nil {
			return err
		}
		r.tick("cases", true)
	}
	return nil
}

func (r *loadRun) loadCaseNotes(ctx context.Context, f *Fixtures) error {
	// Notes have no point lookup; the store upsert keeps reruns harmless.
	for _, fx := range f.CaseNotes {
		if err := required("case_note", "id", fx.ID); err != nil {
			return err
		}
		if _, err := r.tx.GetCase(ctx, welfare.CaseID(fx.Case)); err != nil {
			return fmt.Errorf("case note %s: %w", fx.ID, err)
		}
		author, err := r.user(ctx, fx.CreatedBy)
		if err != nil {
			return fmt.Errorf("case note %s: %w", fx.ID, err)
		}
		n := welfare.CaseNote{
			ID:          welfare.CaseNoteID(fx.ID),
			CaseID:      welfare.CaseID(fx.Case),
			CreatedByID: author,
			Content:     fx.Content,
			CreatedAt:   r.now,
		}
		if err := r.tx.SaveCaseNote(ctx, n); err != nil {
			return err
		}
		r.tick("case_notes", true)
	}
	return nil
}

func (r *loadRun) loadAssessments(ctx context.Context, f *Fixtures) error {
	engine := eligibility.NewEngine(r.tx)
	for _, fx := range f.Assessments {
		if err := required("assessment", "id", fx.ID); err != nil {
			return err
		}
		exists, err := found(r.tx.GetAssessment(ctx, welfare.AssessmentID(fx.ID)))
		if err != nil {
			return err
		}
		if exists {
			r.tick("assessments", false)
			continue
		}

		in := eligibility.AssessmentInput{
			Title:          fx.Title,
			Description:    fx.Description,
			CaseID:         welfare.CaseID(fx.Case),
			AmountReceived: fx.AmountReceived,
			IncomeAmount:   fx.IncomeAmount,
			Year:           fx.Year,
		}
		if err := in.Validate(); err != nil {
			return fmt.Errorf("assessment %s: %w", fx.ID, err)
		}
		author, err := r.user(ctx, fx.CreatedBy)
		if err != nil {
			return fmt.Errorf("assessment %s: %w", fx.ID, err)
		}
		c, err := r.tx.GetCase(ctx, in.CaseID)
		if err != nil {
			return fmt.Errorf("assessment %s: %w", fx.ID, err)
		}

		a := welfare.Assessment{
			ID:             welfare.AssessmentID(fx.ID),
			Title:          in.Title,
			Description:    in.Description,
			CaseID:         in.CaseID,
			CreatedByID:    author,
			AmountReceived: in.AmountReceived,
			IncomeAmount:   in.IncomeAmount,
			Year:           in.Year,
			CreatedAt:      r.now,
			UpdatedAt:      r.now,
		}
		if err := r.tx.SaveAssessment(ctx, a); err != nil {
			return err
		}
		outcome, err := engine.Evaluate(ctx, a)
		if err != nil {
			return fmt.Errorf("assessment %s: %w", fx.ID, err)
		}
		if placement := outcome.Placement(); !placement.IsEmpty() {
			if err := r.tx.UpdatePlacement(ctx, c.BeneficiaryID, placement); err != nil {
				return err
			}
		}
		r.sum.Promotions += len(outcome.Promotions())
		r.tick("assessments", true)
	}
	return nil
}

func (r *loadRun) loadTemplates(ctx context.Context, f *Fixtures) error {
	for _, fx := range f.Templates {
		if err := required("report_template", "id", fx.ID); err != nil {
			return err
		}
		exists, err := found(r.tx.GetTemplate(ctx, welfare.TemplateID(fx.ID)))
		if err != nil {
			return err
		}
		if exists {
			r.tick("report_templates", false)
			continue
		}
		if _, err := report.ParseEntity(fx.Entity); err != nil {
			return fmt.Errorf("report template %s: %w", fx.ID, err)
		}
		author, err := r.user(ctx, fx.CreatedBy)
		if err != nil {
			return fmt.Errorf("report template %s: %w", fx.ID, err)
		}
		t := welfare.ReportTemplate{
			ID:          welfare.TemplateID(fx.ID),
			Name:        fx.Name,
			EntityType:  fx.Entity,
			Fields:      fx.Fields,
			Filters:     fx.Filters,
			CreatedByID: author,
			CreatedAt:   r.now,
		}
		if err := r.tx.SaveTemplate(ctx, t); err != nil {
			return err
		}
		r.tick("report_templates", true)
	}
	return nil
}

// found turns a lookup into an existence check; only not-found is absorbed.
func found[T any](_ *T, err error) (bool, error) {
	if err == nil {
		return true, nil
	}
	if welfare.IsNotFound(err) {
		return false, nil
	}
	return false, err
}
