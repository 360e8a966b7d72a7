package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Workunit is a group of results to be validated against each other, as a
// host driver submits it.
type Workunit struct {
	ID      int64          `yaml:"id" json:"id"`
	Results []ResultRecord `yaml:"results" json:"results" validate:"min=1,dive"`
}

// Validate checks the work unit before it is run.
func (w Workunit) Validate() error {
	if err := validate.Struct(w); err != nil {
		return fmt.Errorf("invalid workunit %d: %w", w.ID, err)
	}
	seen := make(map[string]bool, len(w.Results))
	for _, r := range w.Results {
		if seen[r.Name] {
			return fmt.Errorf("invalid workunit %d: duplicate result %s", w.ID, r.Name)
		}
		seen[r.Name] = true
	}
	return nil
}

// ResultReport is the per-result part of a Report.
type ResultReport struct {
	Name          string   `json:"name" yaml:"name"`
	WorkloadID    int64    `json:"appid" yaml:"appid"`
	InitStatus    int      `json:"init_status" yaml:"init_status"`
	CleanupStatus int      `json:"cleanup_status" yaml:"cleanup_status"`
	Files         []string `json:"files" yaml:"files"`
}

// Report is the outcome of one work unit. Matches[i][j] is the decision of
// validators[results[i].appid] comparing result i with result j.
type Report struct {
	Workunit      int64          `json:"workunit" yaml:"workunit"`
	Results       []ResultReport `json:"results" yaml:"results"`
	Matches       [][]bool       `json:"matches" yaml:"matches"`
	CompareStatus [][]int        `json:"compare_status" yaml:"compare_status"`
}

// Executor drives the init, compare and cleanup callbacks over a work unit,
// the way a validation host does. Runs are serialized: the script runtime
// is single-threaded.
type Executor struct {
	l         *slog.Logger
	validator *Validator
	mu        sync.Mutex
}

func NewExecutor(validator *Validator, l *slog.Logger) *Executor {
	if l == nil {
		l = slog.Default()
	}
	return &Executor{
		l:         l,
		validator: validator,
	}
}

// Run validates every ordered pair of distinct results. Every result is
// initialized before the first comparison and cleaned up after the last.
func (e *Executor) Run(ctx context.Context, wu Workunit) *Report {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := len(wu.Results)
	report := &Report{
		Workunit:      wu.ID,
		Results:       make([]ResultReport, n),
		Matches:       make([][]bool, n),
		CompareStatus: make([][]int, n),
	}

	contexts := make([]*FileContext, n)
	for i, r := range wu.Results {
		status, c := e.validator.InitResult(ctx, r)
		contexts[i] = c

		files, _ := c.Paths()
		report.Results[i] = ResultReport{
			Name:       r.Name,
			WorkloadID: int64(r.WorkloadID),
			InitStatus: status,
			Files:      files,
		}
		if status != StatusOK {
			e.l.WarnContext(ctx, fmt.Sprintf("Init of %s returned %d", r.Name, status), "workunit", wu.ID)
		}
	}

	for i, r1 := range wu.Results {
		report.Matches[i] = make([]bool, n)
		report.CompareStatus[i] = make([]int, n)
		for j, r2 := range wu.Results {
			if i == j {
				report.Matches[i][j] = true
				continue
			}
			status, match := e.validator.CompareResults(ctx, r1, contexts[i], r2, contexts[j])
			report.Matches[i][j] = match
			report.CompareStatus[i][j] = status
		}
	}

	for i, r := range wu.Results {
		report.Results[i].CleanupStatus = e.validator.CleanupResult(ctx, r, contexts[i])
	}

	e.l.InfoContext(ctx, "Workunit validated",
		"workunit", wu.ID,
		"results", n,
		"contexts", e.validator.Bridge().Pool().Stats().Live)
	return report
}

// Canonical returns the index of the first result whose matches, counting
// itself, form a strict majority of the work unit, or -1.
func (r *Report) Canonical() int {
	n := len(r.Results)
	for i := range r.Results {
		if r.Results[i].InitStatus != StatusOK {
			continue
		}
		agree := 0
		for j := range r.Results {
			if i != j && r.Matches[i][j] && r.CompareStatus[i][j] == StatusOK {
				agree++
			}
		}
		if 2*(agree+1) > n {
			return i
		}
	}
	return -1
}
