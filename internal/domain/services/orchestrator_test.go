package services

import (
	"context"
	"sync"
	"testing"

	"github.com/athebyme/gomarket-sync/config"
	"github.com/athebyme/gomarket-sync/internal/adapters/cache"
	"github.com/athebyme/gomarket-sync/internal/adapters/categories"
	"github.com/athebyme/gomarket-sync/internal/adapters/logger"
	"github.com/athebyme/gomarket-sync/internal/adapters/marketplace"
	"github.com/athebyme/gomarket-sync/internal/domain/models"
	apperrors "github.com/athebyme/gomarket-sync/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore зеркало каталогов в памяти
type memStore struct {
	mu      sync.Mutex
	records map[models.Marketplace]map[string]models.CatalogRecord
	runs    []models.ReportSnapshot
}

func newMemStore() *memStore {
	return &memStore{records: make(map[models.Marketplace]map[string]models.CatalogRecord)}
}

func (s *memStore) Load(_ context.Context, m models.Marketplace) ([]models.CatalogRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.CatalogRecord
	for _, r := range s.records[m] {
		out = append(out, r)
	}
	models.SortRecords(out)
	return out, nil
}

func (s *memStore) Upsert(_ context.Context, m models.Marketplace, records []models.CatalogRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.records[m] == nil {
		s.records[m] = make(map[string]models.CatalogRecord)
	}
	for _, r := range records {
		s.records[m][r.StockCode] = r
	}
	return nil
}

func (s *memStore) Delete(_ context.Context, m models.Marketplace, stockCodes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sc := range stockCodes {
		delete(s.records[m], sc)
	}
	return nil
}

func (s *memStore) SaveRun(_ context.Context, snap models.ReportSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, snap)
	return nil
}

func (s *memStore) get(m models.Marketplace, sc string) (models.CatalogRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[m][sc]
	return r, ok
}

func built(as ...*marketplace.MemoryAdapter) marketplace.BuildResult {
	return marketplace.BuildResult{Adapters: adapters(as...), Unavailable: map[models.Marketplace]error{}}
}

func newOrchestrator(res marketplace.BuildResult, deps OrchestratorDeps) *Orchestrator {
	deps.Dispatcher = newDispatcher()
	deps.Logger = logger.NewNopLogger()
	return NewOrchestrator(OrchestratorConfig{}, res, deps)
}

func update(opt models.Option) models.Choice {
	return models.Choice{Operation: models.OperationUpdate, Options: opt}
}

func TestRun_QuantityConvergesToMinimum(t *testing.T) {
	a := marketplace.NewMemoryAdapter(mpA, marketplace.Limits{}, rec(mpA, "RUG-42", 5, ""))
	b := marketplace.NewMemoryAdapter(mpB, marketplace.Limits{}, rec(mpB, "RUG-42", 7, ""))
	store := newMemStore()

	report, err := newOrchestrator(built(a, b), OrchestratorDeps{Store: store}).Run(context.Background(), update(models.OptionQty))
	require.NoError(t, err)

	snap := report.Snapshot()
	assert.Equal(t, models.ExitOK, snap.ExitCode)
	assert.Equal(t, 1, snap.TotalIntents())
	assert.Equal(t, 1, snap.TotalSucceeded())
	for _, m := range []models.Marketplace{mpA, mpB} {
		st, ok := snap.Stats(m)
		require.True(t, ok)
		assert.Equal(t, 1, st.Fetched)
	}
	stB, _ := snap.Stats(mpB)
	assert.Equal(t, 1, stB.Intents)

	got, _ := b.Record("RUG-42")
	assert.Equal(t, 5, got.Quantity)
	assert.Empty(t, a.Batches())

	mirrored, ok := store.get(mpB, "RUG-42")
	require.True(t, ok)
	assert.Equal(t, 5, mirrored.Quantity)
	require.Len(t, store.runs, 1)
	assert.Equal(t, snap.RunID, store.runs[0].RunID)
}

func TestRun_PriceConvergesToMedian(t *testing.T) {
	a := marketplace.NewMemoryAdapter(mpA, marketplace.Limits{}, rec(mpA, "VASE-7", 3, "50"))
	b := marketplace.NewMemoryAdapter(mpB, marketplace.Limits{}, rec(mpB, "VASE-7", 3, "60"))
	c := marketplace.NewMemoryAdapter(mpC, marketplace.Limits{}, rec(mpC, "VASE-7", 3, "70"))

	report, err := newOrchestrator(built(a, b, c), OrchestratorDeps{}).Run(context.Background(), update(models.OptionPrice))
	require.NoError(t, err)

	snap := report.Snapshot()
	assert.Equal(t, models.ExitOK, snap.ExitCode)
	assert.Equal(t, 2, snap.TotalIntents())
	for _, ad := range []*marketplace.MemoryAdapter{a, b, c} {
		r, _ := ad.Record("VASE-7")
		assert.Equal(t, "60.00", models.FormatPrice(r.SalePrice), ad.Marketplace())
	}
	assert.Empty(t, b.Batches())
}

func TestRun_SubmitFailureIsPartial(t *testing.T) {
	a := marketplace.NewMemoryAdapter(mpA, marketplace.Limits{}, rec(mpA, "RUG-42", 9, ""), rec(mpA, "MAT-1", 1, ""))
	b := marketplace.NewMemoryAdapter(mpB, marketplace.Limits{}, rec(mpB, "RUG-42", 5, ""))
	c := marketplace.NewMemoryAdapter(mpC, marketplace.Limits{}, rec(mpC, "MAT-1", 4, ""))
	a.FailSubmits(apperrors.Newf(apperrors.KindTransient, string(mpA), "submit", "server error 503"))

	report, err := newOrchestrator(built(a, b, c), OrchestratorDeps{}).Run(context.Background(), update(models.OptionQty))
	require.NoError(t, err)

	snap := report.Snapshot()
	assert.Equal(t, models.ExitPartialFailure, snap.ExitCode)
	stA, _ := snap.Stats(mpA)
	assert.Equal(t, 1, stA.Failed)
	assert.Equal(t, 1, stA.Reasons[string(apperrors.KindTransient)])
	stC, _ := snap.Stats(mpC)
	assert.Equal(t, 1, stC.Succeeded)

	got, _ := c.Record("MAT-1")
	assert.Equal(t, 1, got.Quantity)
}

func TestRun_CopyTranslatesCategory(t *testing.T) {
	src := rec(mpA, "NEW-1", 4, "120")
	src.Title = "Yün halı"
	src.CategoryPath = "Carpet"
	src.Attributes = map[string]string{"Materyal": "Yün"}
	a := marketplace.NewMemoryAdapter(mpA, marketplace.Limits{}, src, rec(mpA, "OLD-1", 1, "10"))
	c := marketplace.NewMemoryAdapter(mpC, marketplace.Limits{}, rec(mpC, "OLD-1", 1, "10"))
	c.SetAsync(1)

	mapper := categories.NewMapper(categories.NewStatic(models.CategoryMapping{
		Source:         mpA,
		Target:         mpC,
		SourceCategory: "Carpet",
		TargetID:       "1000722",
		AttributeNames: map[string]string{"Materyal": "Malzeme"},
	}), cache.NewMemoryCache(), 0, logger.NewNopLogger())
	store := newMemStore()

	choice := models.Choice{Operation: models.OperationCreate, Options: models.OptionCopy, Source: mpA, Target: mpC}
	report, err := newOrchestrator(built(a, c), OrchestratorDeps{Categories: mapper, Store: store}).Run(context.Background(), choice)
	require.NoError(t, err)

	snap := report.Snapshot()
	assert.Equal(t, models.ExitOK, snap.ExitCode)
	assert.Equal(t, 1, snap.TotalIntents())
	creates := c.Creates()
	require.Len(t, creates, 1)
	assert.Equal(t, "NEW-1", creates[0].Record.StockCode)
	assert.Equal(t, "1000722", creates[0].Category.ID)
	assert.Equal(t, map[string]string{"Malzeme": "Yün"}, creates[0].Category.Attributes)

	created, ok := c.Record("NEW-1")
	require.True(t, ok)
	assert.Equal(t, 4, created.Quantity)
	_, ok = store.get(mpC, "NEW-1")
	assert.True(t, ok)
}

func TestRun_CopyWithoutMappingFailsItem(t *testing.T) {
	src := rec(mpA, "NEW-2", 1, "5")
	src.CategoryPath = "Lamp"
	a := marketplace.NewMemoryAdapter(mpA, marketplace.Limits{}, src)
	c := marketplace.NewMemoryAdapter(mpC, marketplace.Limits{})
	mapper := categories.NewMapper(categories.NewStatic(), nil, 0, logger.NewNopLogger())

	choice := models.Choice{Operation: models.OperationCreate, Source: mpA, Target: mpC}
	report, err := newOrchestrator(built(a, c), OrchestratorDeps{Categories: mapper}).Run(context.Background(), choice)
	require.NoError(t, err)

	snap := report.Snapshot()
	assert.Equal(t, models.ExitPartialFailure, snap.ExitCode)
	require.Len(t, snap.Outcomes, 1)
	assert.Equal(t, apperrors.KindMalformedRequest, snap.Outcomes[0].Kind)
	assert.Empty(t, c.Creates())
}

func TestRun_MissingCredentialsLeaveOthersRunning(t *testing.T) {
	a := marketplace.NewMemoryAdapter(mpA, marketplace.Limits{}, rec(mpA, "RUG-42", 5, ""))
	b := marketplace.NewMemoryAdapter(mpB, marketplace.Limits{}, rec(mpB, "RUG-42", 7, ""))
	reg := marketplace.NewRegistry()
	for _, ad := range []*marketplace.MemoryAdapter{a, b, marketplace.NewMemoryAdapter(models.Etsy, marketplace.Limits{})} {
		reg.Register(ad.Marketplace(), func(context.Context, marketplace.Deps) (marketplace.Adapter, error) { return ad, nil })
	}
	creds := config.Credentials{
		Trendyol:    config.TrendyolCredentials{SupplierID: "1", APIKey: "k", APISecret: "s"},
		Hepsiburada: config.HepsiburadaCredentials{MerchantID: "m", Username: "u", Password: "p"},
	}
	res := reg.BuildAll(context.Background(), &config.Config{}, creds, logger.NewNopLogger())
	require.Contains(t, res.Unavailable, models.Etsy)

	report, err := newOrchestrator(res, OrchestratorDeps{}).Run(context.Background(), update(models.OptionQty))
	require.NoError(t, err)

	snap := report.Snapshot()
	assert.Equal(t, models.ExitOK, snap.ExitCode)
	st, ok := snap.Stats(models.Etsy)
	require.True(t, ok)
	assert.False(t, st.Available)
	assert.Contains(t, st.UnavailableReason, "ETSY_CONSUMER_KEY")
	assert.Equal(t, 1, snap.TotalSucceeded())
}

func TestRun_DuplicateStockCodeRejected(t *testing.T) {
	a := marketplace.NewMemoryAdapter(mpA, marketplace.Limits{}, rec(mpA, "DUPE", 5, ""))
	a.AddDuplicate(rec(mpA, "DUPE", 2, ""))
	b := marketplace.NewMemoryAdapter(mpB, marketplace.Limits{}, rec(mpB, "DUPE", 9, ""))

	report, err := newOrchestrator(built(a, b), OrchestratorDeps{}).Run(context.Background(), update(models.OptionFull))
	require.NoError(t, err)

	snap := report.Snapshot()
	assert.Equal(t, 0, snap.TotalIntents())
	require.Len(t, snap.Rejected, 1)
	assert.Equal(t, "DUPE", snap.Rejected[0].StockCode)
	assert.Equal(t, mpA, snap.Rejected[0].Marketplace)
	assert.Empty(t, b.Batches())
}

func TestRun_DryRunDispatchesNothing(t *testing.T) {
	a := marketplace.NewMemoryAdapter(mpA, marketplace.Limits{}, rec(mpA, "RUG-42", 5, "10"))
	b := marketplace.NewMemoryAdapter(mpB, marketplace.Limits{}, rec(mpB, "RUG-42", 7, "12"))

	report, err := newOrchestrator(built(a, b), OrchestratorDeps{}).Run(context.Background(), update(models.OptionNone))
	require.NoError(t, err)

	snap := report.Snapshot()
	assert.True(t, snap.DryRun)
	assert.Equal(t, models.ExitOK, snap.ExitCode)
	assert.NotZero(t, snap.TotalIntents())
	assert.Len(t, snap.Planned, snap.TotalIntents())
	assert.Empty(t, a.SubmitTimes())
	assert.Empty(t, b.SubmitTimes())
}

func TestRun_LockHeld(t *testing.T) {
	lock := cache.NewMemoryCache()
	o := newOrchestrator(built(marketplace.NewMemoryAdapter(mpA, marketplace.Limits{})), OrchestratorDeps{Lock: lock})
	ok, err := lock.Lock(context.Background(), "catalog-sync:run-lock", 0)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = o.Run(context.Background(), update(models.OptionQty))
	assert.ErrorIs(t, err, apperrors.ErrLockNotAcquired)

	require.NoError(t, lock.Unlock(context.Background(), "catalog-sync:run-lock"))
	report, err := o.Run(context.Background(), update(models.OptionQty))
	require.NoError(t, err)
	assert.Equal(t, models.ExitOK, report.ExitCode())

	ok, err = lock.Lock(context.Background(), "catalog-sync:run-lock", 0)
	require.NoError(t, err)
	assert.True(t, ok, "lock is released after the run")
}

func TestRun_InvalidChoiceIsConfigError(t *testing.T) {
	o := newOrchestrator(built(), OrchestratorDeps{})

	report, err := o.Run(context.Background(), models.Choice{Operation: "merge"})
	require.NoError(t, err)
	assert.Equal(t, models.ExitConfigError, report.ExitCode())

	report, err = o.Run(context.Background(), update(models.OptionQty))
	require.NoError(t, err)
	assert.Equal(t, models.ExitConfigError, report.ExitCode())
}

func TestRun_UpdateByID(t *testing.T) {
	a := marketplace.NewMemoryAdapter(mpA, marketplace.Limits{}, rec(mpA, "RUG-42", 5, "10"))
	q := 2
	choice := models.Choice{
		Operation:  models.OperationUpdate,
		Target:     mpA,
		StockCodes: []string{"RUG-42"},
		Fields:     []string{"quantity", "sale_price"},
		Quantity:   &q,
		SalePrice:  "14.5",
	}

	report, err := newOrchestrator(built(a), OrchestratorDeps{}).Run(context.Background(), choice)
	require.NoError(t, err)
	assert.Equal(t, models.ExitOK, report.ExitCode())

	got, _ := a.Record("RUG-42")
	assert.Equal(t, 2, got.Quantity)
	assert.Equal(t, "14.50", models.FormatPrice(got.SalePrice))

	choice.StockCodes = []string{"MISSING"}
	report, err = newOrchestrator(built(a), OrchestratorDeps{}).Run(context.Background(), choice)
	require.NoError(t, err)
	snap := report.Snapshot()
	assert.Equal(t, models.ExitPartialFailure, snap.ExitCode)
	require.Len(t, snap.Outcomes, 1)
	assert.Equal(t, apperrors.KindNotFound, snap.Outcomes[0].Kind)
}

func TestRun_UpdateByIDRejectsExtendedFields(t *testing.T) {
	a := marketplace.NewMemoryAdapter(mpA, marketplace.Limits{}, rec(mpA, "RUG-42", 5, "10"))
	choice := models.Choice{
		Operation:  models.OperationUpdate,
		Target:     mpA,
		StockCodes: []string{"RUG-42"},
		Fields:     []string{"extended"},
	}

	report, err := newOrchestrator(built(a), OrchestratorDeps{}).Run(context.Background(), choice)
	require.NoError(t, err)
	assert.Equal(t, models.ExitConfigError, report.ExitCode())
	assert.Empty(t, a.Batches())

	got, _ := a.Record("RUG-42")
	assert.Equal(t, 5, got.Quantity)
}

func TestRun_DeleteRemovesFromMirror(t *testing.T) {
	a := marketplace.NewMemoryAdapter(mpA, marketplace.Limits{}, rec(mpA, "OLD-1", 1, ""), rec(mpA, "OLD-2", 1, ""))
	store := newMemStore()
	require.NoError(t, store.Upsert(context.Background(), mpA, []models.CatalogRecord{rec(mpA, "OLD-1", 1, "")}))

	choice := models.Choice{Operation: models.OperationDelete, Target: mpA, StockCodes: []string{"OLD-1", "GONE"}}
	report, err := newOrchestrator(built(a), OrchestratorDeps{Store: store}).Run(context.Background(), choice)
	require.NoError(t, err)

	snap := report.Snapshot()
	assert.Equal(t, models.ExitPartialFailure, snap.ExitCode)
	st, _ := snap.Stats(mpA)
	assert.Equal(t, 1, st.Succeeded)
	assert.Equal(t, 1, st.Failed)

	_, ok := a.Record("OLD-1")
	assert.False(t, ok)
	_, ok = a.Record("OLD-2")
	assert.True(t, ok)
	_, ok = store.get(mpA, "OLD-1")
	assert.False(t, ok)
}

func TestRun_UseLocalDataReadsMirror(t *testing.T) {
	a := marketplace.NewMemoryAdapter(mpA, marketplace.Limits{}, rec(mpA, "RUG-42", 5, ""))
	b := marketplace.NewMemoryAdapter(mpB, marketplace.Limits{}, rec(mpB, "RUG-42", 5, ""))
	store := newMemStore()
	require.NoError(t, store.Upsert(context.Background(), mpB, []models.CatalogRecord{rec(mpB, "RUG-42", 8, "")}))
	require.NoError(t, store.Upsert(context.Background(), mpA, []models.CatalogRecord{rec(mpA, "RUG-42", 5, "")}))

	choice := update(models.OptionQty)
	choice.UseLocalData = true
	report, err := newOrchestrator(built(a, b), OrchestratorDeps{Store: store}).Run(context.Background(), choice)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Snapshot().TotalIntents())
	require.Len(t, b.Batches(), 1)
}

func TestRun_CancelledContext(t *testing.T) {
	a := marketplace.NewMemoryAdapter(mpA, marketplace.Limits{}, rec(mpA, "RUG-42", 5, ""))
	b := marketplace.NewMemoryAdapter(mpB, marketplace.Limits{}, rec(mpB, "RUG-42", 7, ""))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := newOrchestrator(built(a, b), OrchestratorDeps{}).Run(ctx, update(models.OptionQty))
	require.NoError(t, err)
	assert.Equal(t, models.ExitCancelled, report.ExitCode())
	assert.Empty(t, b.Batches())
}
