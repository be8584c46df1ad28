package models

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	apperrors "github.com/athebyme/gomarket-sync/pkg/errors"
	"github.com/google/uuid"
)

// Коды завершения прогона
const (
	ExitOK             = 0
	ExitPartialFailure = 1
	ExitConfigError    = 2
	ExitCancelled      = 3
)

// ErrNoRuns в истории еще нет ни одного прогона
var ErrNoRuns = errors.New("no sync runs recorded")

// MarketplaceStats сводка прогона по одному маркетплейсу
type MarketplaceStats struct {
	Marketplace       Marketplace    `json:"marketplace"`
	Available         bool           `json:"available"`
	UnavailableReason string         `json:"unavailable_reason,omitempty"`
	Fetched           int            `json:"fetched"`
	Intents           int            `json:"intents"`
	Succeeded         int            `json:"succeeded"`
	Failed            int            `json:"failed"`
	Reasons           map[string]int `json:"reasons,omitempty"`
	Unmatched         []string       `json:"unmatched,omitempty"`
	Warnings          []string       `json:"warnings,omitempty"`
}

// ItemOutcome итог по одному намерению
type ItemOutcome struct {
	IntentID    string         `json:"intent_id"`
	Marketplace Marketplace    `json:"marketplace"`
	StockCode   string         `json:"stock_code"`
	Rationale   Rationale      `json:"rationale"`
	Status      ItemStatus     `json:"status"`
	Kind        apperrors.Kind `json:"kind,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	JobID       string         `json:"job_id,omitempty"`
}

// RejectedGroup группа, отброшенная матчером из-за нарушения целостности
type RejectedGroup struct {
	StockCode   string      `json:"stock_code"`
	Marketplace Marketplace `json:"marketplace"`
	Note        string      `json:"note"`
}

// RunReport сводка прогона. Единственное общее между горутинами состояние,
// поэтому все изменения идут под мьютексом.
type RunReport struct {
	mu          sync.Mutex
	runID       string
	choice      Choice
	startedAt   time.Time
	finishedAt  time.Time
	dryRun      bool
	cancelled   bool
	configError string
	stats       map[Marketplace]*MarketplaceStats
	outcomes    []ItemOutcome
	rejected    []RejectedGroup
	planned     []UpdateIntent
	warnings    []string
}

// NewRunReport создает отчет нового прогона
func NewRunReport(choice Choice) *RunReport {
	return &RunReport{
		runID:     uuid.New().String(),
		choice:    choice,
		startedAt: time.Now().UTC(),
		stats:     make(map[Marketplace]*MarketplaceStats),
	}
}

// RunID идентификатор прогона
func (r *RunReport) RunID() string {
	return r.runID
}

func (r *RunReport) statsFor(m Marketplace) *MarketplaceStats {
	s, ok := r.stats[m]
	if !ok {
		s = &MarketplaceStats{Marketplace: m, Available: true, Reasons: make(map[string]int)}
		r.stats[m] = s
	}
	return s
}

// MarkAvailable регистрирует маркетплейс в отчете
func (r *RunReport) MarkAvailable(m Marketplace) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statsFor(m)
}

// MarkUnavailable помечает адаптер недоступным до конца прогона
func (r *RunReport) MarkUnavailable(m Marketplace, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.statsFor(m)
	s.Available = false
	s.UnavailableReason = reason
}

// IsAvailable сообщает, доступен ли адаптер в этом прогоне
func (r *RunReport) IsAvailable(m Marketplace) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stats[m]
	return !ok || s.Available
}

// AddFetched учитывает прочитанные записи
func (r *RunReport) AddFetched(m Marketplace, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statsFor(m).Fetched += n
}

// AddWarning добавляет предупреждение маркетплейса (например, отброшенную запись)
func (r *RunReport) AddWarning(m Marketplace, msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m == "" {
		r.warnings = append(r.warnings, msg)
		return
	}
	s := r.statsFor(m)
	s.Warnings = append(s.Warnings, msg)
}

// AddUnmatched отмечает stock code без пары на других маркетплейсах
func (r *RunReport) AddUnmatched(m Marketplace, stockCode string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.statsFor(m)
	s.Unmatched = append(s.Unmatched, stockCode)
}

// AddRejected отмечает отброшенную группу
func (r *RunReport) AddRejected(g RejectedGroup) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rejected = append(r.rejected, g)
}

// AddIntents учитывает выпущенные намерения
func (r *RunReport) AddIntents(intents []UpdateIntent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, in := range intents {
		r.statsFor(in.Target).Intents++
	}
	r.planned = append(r.planned, intents...)
}

// RecordOutcome записывает итог намерения
func (r *RunReport) RecordOutcome(o ItemOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.statsFor(o.Marketplace)
	switch o.Status {
	case ItemSucceeded:
		s.Succeeded++
	default:
		s.Failed++
		key := string(o.Kind)
		if key == "" {
			key = "failed"
		}
		s.Reasons[key]++
	}
	r.outcomes = append(r.outcomes, o)
}

// SetDryRun помечает прогон как пробный
func (r *RunReport) SetDryRun() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dryRun = true
}

// SetCancelled помечает прогон отмененным
func (r *RunReport) SetCancelled() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled = true
}

// SetConfigError фиксирует ошибку конфигурации
func (r *RunReport) SetConfigError(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configError = msg
}

// Finish фиксирует время окончания
func (r *RunReport) Finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finishedAt = time.Now().UTC()
}

// ExitCode код завершения по правилам: 3 отмена, 2 конфигурация, 1 частичный отказ, 0 успех
func (r *RunReport) ExitCode() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch {
	case r.cancelled:
		return ExitCancelled
	case r.configError != "":
		return ExitConfigError
	}
	for _, o := range r.outcomes {
		if o.Status != ItemSucceeded {
			return ExitPartialFailure
		}
	}
	return ExitOK
}

// ReportSnapshot неизменяемая копия отчета для сериализации и вывода
type ReportSnapshot struct {
	RunID       string             `json:"run_id"`
	Choice      Choice             `json:"choice"`
	StartedAt   time.Time          `json:"started_at"`
	FinishedAt  time.Time          `json:"finished_at"`
	DryRun      bool               `json:"dry_run"`
	Cancelled   bool               `json:"cancelled"`
	ConfigError string             `json:"config_error,omitempty"`
	ExitCode    int                `json:"exit_code"`
	Marketplace []MarketplaceStats `json:"marketplaces"`
	Outcomes    []ItemOutcome      `json:"outcomes"`
	Rejected    []RejectedGroup    `json:"rejected,omitempty"`
	Planned     []UpdateIntent     `json:"planned,omitempty"`
	Warnings    []string           `json:"warnings,omitempty"`
}

// Snapshot возвращает копию отчета
func (r *RunReport) Snapshot() ReportSnapshot {
	exit := r.ExitCode()

	r.mu.Lock()
	defer r.mu.Unlock()
	snap := ReportSnapshot{
		RunID:       r.runID,
		Choice:      r.choice,
		StartedAt:   r.startedAt,
		FinishedAt:  r.finishedAt,
		DryRun:      r.dryRun,
		Cancelled:   r.cancelled,
		ConfigError: r.configError,
		ExitCode:    exit,
		Outcomes:    append([]ItemOutcome(nil), r.outcomes...),
		Rejected:    append([]RejectedGroup(nil), r.rejected...),
		Planned:     append([]UpdateIntent(nil), r.planned...),
		Warnings:    append([]string(nil), r.warnings...),
	}
	for _, s := range r.stats {
		c := *s
		c.Reasons = make(map[string]int, len(s.Reasons))
		for k, v := range s.Reasons {
			c.Reasons[k] = v
		}
		c.Unmatched = append([]string(nil), s.Unmatched...)
		c.Warnings = append([]string(nil), s.Warnings...)
		snap.Marketplace = append(snap.Marketplace, c)
	}
	sort.Slice(snap.Marketplace, func(i, j int) bool {
		return snap.Marketplace[i].Marketplace < snap.Marketplace[j].Marketplace
	})
	return snap
}

// Stats возвращает сводку по маркетплейсу
func (s ReportSnapshot) Stats(m Marketplace) (MarketplaceStats, bool) {
	for _, st := range s.Marketplace {
		if st.Marketplace == m {
			return st, true
		}
	}
	return MarketplaceStats{}, false
}

// TotalIntents общее число намерений
func (s ReportSnapshot) TotalIntents() int {
	n := 0
	for _, st := range s.Marketplace {
		n += st.Intents
	}
	return n
}

// TotalSucceeded общее число успешных намерений
func (s ReportSnapshot) TotalSucceeded() int {
	n := 0
	for _, st := range s.Marketplace {
		n += st.Succeeded
	}
	return n
}

// Render печатает таблицу маркетплейс × {fetched, intents, succeeded, failed, reasons}
func (s ReportSnapshot) Render(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "run %s\texit=%d\n", s.RunID, s.ExitCode)
	fmt.Fprintln(tw, "MARKETPLACE\tFETCHED\tINTENTS\tSUCCEEDED\tFAILED\tREASONS")
	for _, st := range s.Marketplace {
		reasons := summarizeReasons(st.Reasons)
		if !st.Available {
			reasons = "adapter unavailable: " + st.UnavailableReason
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%s\n", st.Marketplace, st.Fetched, st.Intents, st.Succeeded, st.Failed, reasons)
	}
	for _, g := range s.Rejected {
		fmt.Fprintf(tw, "rejected\t%s\t%s\t\t\t%s\n", g.StockCode, g.Marketplace, g.Note)
	}
	if s.DryRun {
		fmt.Fprintln(tw, "dry run: nothing was dispatched")
	}
	if s.ConfigError != "" {
		fmt.Fprintf(tw, "configuration error: %s\n", s.ConfigError)
	}
	return tw.Flush()
}

func summarizeReasons(reasons map[string]int) string {
	if len(reasons) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(reasons))
	for k := range reasons {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, reasons[k]))
	}
	return strings.Join(parts, " ")
}
