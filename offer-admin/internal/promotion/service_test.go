package promotion

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/apperr"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/clients"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/clients/billing"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/lock"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/models"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/pending"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/retry"
	"github.com/SircoGeji/samoc-server-sub002/offer-admin/internal/store"
)

type MockBilling struct{ mock.Mock }

func (m *MockBilling) CreatePlan(ctx context.Context, env models.Env, code string, p models.PlanPayload) error {
	return m.Called(ctx, env, code, p).Error(0)
}

func (m *MockBilling) DeletePlan(ctx context.Context, env models.Env, code string) error {
	return m.Called(ctx, env, code).Error(0)
}

func (m *MockBilling) CreateCoupon(ctx context.Context, env models.Env, c billing.Coupon) error {
	return m.Called(ctx, env, c).Error(0)
}

func (m *MockBilling) DeleteCoupon(ctx context.Context, env models.Env, code string) error {
	return m.Called(ctx, env, code).Error(0)
}

type MockCI struct{ mock.Mock }

func (m *MockCI) Trigger(ctx context.Context, env models.Env, key models.Key) (string, error) {
	args := m.Called(ctx, env, key)
	return args.String(0), args.Error(1)
}

type recordingPublisher struct {
	mu            sync.Mutex
	transitions   []models.Transition
	invalidations []models.Env
}

func (r *recordingPublisher) PublishTransition(ctx context.Context, e models.Entity, t models.Transition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, t)
	return nil
}

func (r *recordingPublisher) Invalidate(ctx context.Context, env models.Env, storeCode, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.invalidations = append(r.invalidations, env)
	return nil
}

type fixture struct {
	svc     *Service
	store   *store.MemoryStore
	mutex   *lock.Mutex
	tracker *pending.Tracker
	billing *MockBilling
	ci      *MockCI
	events  *recordingPublisher
}

func newFixture(t *testing.T, autoValidate bool) *fixture {
	t.Helper()
	logger := log.New(io.Discard, "", 0)
	st := store.NewMemoryStore()
	r := retry.New(retry.DefaultPolicy(), logger)
	f := &fixture{
		store:   st,
		mutex:   lock.New(st, r, lock.Config{}, logger),
		tracker: pending.NewTracker(st, r, 0, logger),
		billing: &MockBilling{},
		ci:      &MockCI{},
		events:  &recordingPublisher{},
	}
	f.svc = New(Deps{
		Store:        st,
		Locker:       f.mutex,
		Tracker:      f.tracker,
		Billing:      f.billing,
		CI:           f.ci,
		Events:       f.events,
		Retrier:      r,
		Logger:       logger,
		AutoValidate: autoValidate,
	})
	return f
}

var (
	planKey   = models.Key{Store: "us", Code: "annual"}
	offerKey  = models.Key{Store: "us", Code: "spring"}
	annualPln = models.PlanPayload{Name: "Annual", PriceCents: 9999, Currency: "USD", BillingCycleMonths: 12}
)

// seed stores an entity directly in the given status.
func (f *fixture) seed(t *testing.T, key models.Key, p models.Payload, status models.Status, buildKey string) models.Entity {
	t.Helper()
	ctx := context.Background()
	e, err := f.store.CreateEntity(ctx, models.Entity{Key: key, Kind: p.Kind(), Status: models.StatusDraft, Payload: p, CreatedBy: "seed"})
	require.NoError(t, err)
	if status == models.StatusDraft && buildKey == "" {
		return e
	}
	e.Status = status
	e.BuildKey = buildKey
	e, err = f.store.UpdateEntity(ctx, e)
	require.NoError(t, err)
	return e
}

func (f *fixture) status(t *testing.T, key models.Key) models.Status {
	t.Helper()
	e, err := f.store.GetEntity(context.Background(), key)
	require.NoError(t, err)
	return e.Status
}

func TestStagePromotionValidatedByWebhook(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	f.seed(t, planKey, annualPln, models.StatusDraft, "")
	f.billing.On("CreatePlan", mock.Anything, models.EnvStaging, "annual", annualPln).Return(nil).Once()
	f.ci.On("Trigger", mock.Anything, models.EnvStaging, planKey).Return("OFF-STG-1", nil).Once()

	e, err := f.svc.Promote(ctx, planKey, "", "alice")
	require.NoError(t, err)
	assert.Equal(t, models.StatusStgPending, e.Status)
	assert.Equal(t, "alice", e.LastModifiedBy)

	e, err = f.svc.ValidateAsync(ctx, planKey, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.StatusStgValidating, e.Status)
	assert.Equal(t, "OFF-STG-1", e.BuildKey)

	_, err = f.svc.ValidateAsync(ctx, planKey, "bob")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	res, err := f.svc.HandleValidationResult(ctx, "OFF-STG-1", "SUCCESS")
	require.NoError(t, err)
	assert.Equal(t, ResultApplied, res.Result)
	assert.Equal(t, models.StatusStgValid, f.status(t, planKey))

	res, err = f.svc.HandleValidationResult(ctx, "OFF-STG-1", "SUCCESS")
	require.NoError(t, err)
	assert.Equal(t, ResultDuplicate, res.Result)

	action, err := f.tracker.Check(ctx, planKey.String())
	require.NoError(t, err)
	assert.Empty(t, action)

	history, err := f.svc.History(ctx, planKey)
	require.NoError(t, err)
	var toValid int
	for _, tr := range history {
		if tr.To == models.StatusStgValid {
			toValid++
		}
	}
	assert.Equal(t, 1, toValid)
	assert.Contains(t, f.events.invalidations, models.EnvStaging)
	f.billing.AssertExpectations(t)
	f.ci.AssertExpectations(t)
}

func TestAutoValidateAfterPromotion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	f.seed(t, planKey, annualPln, models.StatusStgValid, "")
	f.billing.On("CreatePlan", mock.Anything, models.EnvProduction, "annual", annualPln).Return(nil)
	f.ci.On("Trigger", mock.Anything, models.EnvProduction, planKey).Return("OFF-PROD-9", nil)

	e, err := f.svc.Promote(ctx, planKey, models.EnvProduction, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.StatusProdValidating, e.Status)

	res, err := f.svc.HandleValidationResult(ctx, "OFF-PROD-9", "successful")
	require.NoError(t, err)
	assert.Equal(t, models.StatusProdValid, res.Status)
}

func TestWebhookFailureRollsBackStaging(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	f.seed(t, planKey, annualPln, models.StatusStgValidating, "OFF-STG-2")
	_, err := f.tracker.Start(ctx, planKey.String(), actionValidate)
	require.NoError(t, err)
	f.billing.On("DeletePlan", mock.Anything, models.EnvStaging, "annual").Return(nil).Once()

	res, err := f.svc.HandleValidationResult(ctx, "OFF-STG-2", "FAILED")
	require.NoError(t, err)
	assert.Equal(t, ResultApplied, res.Result)
	assert.Equal(t, models.StatusStgValidationFailed, f.status(t, planKey))

	action, err := f.tracker.Check(ctx, planKey.String())
	require.NoError(t, err)
	assert.Empty(t, action)
	f.billing.AssertExpectations(t)
}

func TestWebhookRollbackFailureIsReported(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	f.seed(t, planKey, annualPln, models.StatusProdValidating, "OFF-PROD-3")
	f.billing.On("DeletePlan", mock.Anything, models.EnvProduction, "annual").
		Return(&clients.RemoteError{System: "billing", Op: "delete plan", Status: http.StatusInternalServerError})

	res, err := f.svc.HandleValidationResult(ctx, "OFF-PROD-3", "FAILURE")
	require.NoError(t, err)
	assert.Equal(t, ResultRollbackFailed, res.Result)
	assert.Equal(t, models.StatusProdRollbackFailed, f.status(t, planKey))
}

func TestWebhookIgnoresUnknownInput(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	res, err := f.svc.HandleValidationResult(ctx, "", "SUCCESS")
	require.NoError(t, err)
	assert.Equal(t, ResultIgnored, res.Result)

	res, err = f.svc.HandleValidationResult(ctx, "NOPE-1", "SUCCESS")
	require.NoError(t, err)
	assert.Equal(t, ResultIgnored, res.Result)

	f.seed(t, planKey, annualPln, models.StatusStgValidating, "OFF-STG-4")
	res, err = f.svc.HandleValidationResult(ctx, "OFF-STG-4", "IN_PROGRESS")
	require.NoError(t, err)
	assert.Equal(t, ResultIgnored, res.Result)
	assert.Equal(t, models.StatusStgValidating, f.status(t, planKey))
}

func TestProductionPromotionFromDraftRejected(t *testing.T) {
	f := newFixture(t, false)
	f.seed(t, planKey, annualPln, models.StatusDraft, "")

	_, err := f.svc.Promote(context.Background(), planKey, models.EnvProduction, "alice")
	require.Error(t, err)
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, http.StatusNotAcceptable, appErr.HTTPStatus())
	assert.Equal(t, "PROMOTION_INVALID_STATUS", appErr.Code())
	f.billing.AssertNotCalled(t, "CreatePlan", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Equal(t, models.StatusDraft, f.status(t, planKey))
}

func TestRemoteFailureLeavesStatusUnchanged(t *testing.T) {
	f := newFixture(t, false)
	f.seed(t, planKey, annualPln, models.StatusDraft, "")
	f.billing.On("CreatePlan", mock.Anything, models.EnvStaging, "annual", annualPln).
		Return(&clients.RemoteError{System: "billing", Op: "create plan", Status: http.StatusInternalServerError})

	_, err := f.svc.Promote(context.Background(), planKey, "", "alice")
	require.Error(t, err)
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.KindRemote, appErr.Kind)
	assert.Equal(t, "billing", appErr.System)
	assert.Equal(t, "us/annual", appErr.Entity)
	assert.Equal(t, models.StatusDraft, f.status(t, planKey))

	st, err := f.mutex.Status(context.Background(), "billing", models.EnvStaging)
	require.NoError(t, err)
	assert.False(t, st.Held)
}

func TestConcurrentPromotionIsBusy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	f.seed(t, planKey, annualPln, models.StatusDraft, "")
	require.NoError(t, f.mutex.Acquire(ctx, "billing", models.EnvStaging))

	_, err := f.svc.Promote(ctx, planKey, "", "alice")
	assert.True(t, apperr.Is(err, apperr.KindBusy))
	f.billing.AssertNotCalled(t, "CreatePlan", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDraftDataCommittedOnStaging(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	f.seed(t, planKey, annualPln, models.StatusDraft, "")

	_, err := f.svc.UpdateDraft(ctx, planKey, json.RawMessage(`{"priceCents":7999}`), "alice")
	require.NoError(t, err)

	want := annualPln
	want.PriceCents = 7999
	f.billing.On("CreatePlan", mock.Anything, models.EnvStaging, "annual", want).Return(nil)

	e, err := f.svc.Promote(ctx, planKey, models.EnvStaging, "alice")
	require.NoError(t, err)
	assert.Equal(t, want, e.Payload)
	assert.Empty(t, e.DraftData)

	_, err = f.svc.UpdateDraft(ctx, planKey, json.RawMessage(`{"name":"late"}`), "alice")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestOfferNeedsValidPlan(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	f.seed(t, planKey, annualPln, models.StatusStgPending, "")
	offer := models.OfferPayload{PlanCode: "annual", CouponCode: "SPRING", DiscountPercent: 20, DurationMonths: 3}
	f.seed(t, offerKey, offer, models.StatusDraft, "")

	_, err := f.svc.Promote(ctx, offerKey, "", "alice")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	f.seed(t, models.Key{Store: "us", Code: "monthly"}, models.PlanPayload{Name: "Monthly", Currency: "USD", BillingCycleMonths: 1}, models.StatusStgValid, "")
	offer.PlanCode = "monthly"
	f.seed(t, models.Key{Store: "us", Code: "summer"}, offer, models.StatusDraft, "")
	f.billing.On("CreateCoupon", mock.Anything, models.EnvStaging, billing.Coupon{Code: "SPRING", PlanCode: "monthly", DiscountPercent: 20, DurationMonths: 3}).Return(nil)

	e, err := f.svc.Promote(ctx, models.Key{Store: "us", Code: "summer"}, "", "alice")
	require.NoError(t, err)
	assert.Equal(t, models.StatusStgPending, e.Status)
}

func TestRollbackFailureThenRetry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	f.seed(t, planKey, annualPln, models.StatusStgPending, "")
	f.billing.On("DeletePlan", mock.Anything, models.EnvStaging, "annual").
		Return(&clients.RemoteError{System: "billing", Op: "delete plan", Status: http.StatusBadGateway}).Once()

	_, err := f.svc.Rollback(ctx, planKey, "alice")
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperr.KindRollbackFailed, appErr.Kind)
	assert.True(t, appErr.RequiresOperator())
	assert.Equal(t, "billing", appErr.System)
	assert.Equal(t, models.StatusStgRollbackFailed, f.status(t, planKey))

	f.billing.On("DeletePlan", mock.Anything, models.EnvStaging, "annual").Return(nil).Once()
	e, err := f.svc.Rollback(ctx, planKey, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDraft, e.Status)
}

func TestRollbackAfterValidationFailureSkipsRemote(t *testing.T) {
	f := newFixture(t, false)
	f.seed(t, planKey, annualPln, models.StatusProdValidationFailed, "OFF-PROD-5")

	e, err := f.svc.Rollback(context.Background(), planKey, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.StatusStgValid, e.Status)
	assert.Empty(t, e.BuildKey)
	f.billing.AssertNotCalled(t, "DeletePlan", mock.Anything, mock.Anything, mock.Anything)
}

func TestRollbackRejectedForLiveProduction(t *testing.T) {
	f := newFixture(t, false)
	f.seed(t, planKey, annualPln, models.StatusProdValid, "")

	_, err := f.svc.Rollback(context.Background(), planKey, "alice")
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, http.StatusNotAcceptable, appErr.HTTPStatus())
}

func TestDeletePlanWithDependents(t *testing.T) {
	f := newFixture(t, false)
	f.seed(t, planKey, annualPln, models.StatusDraft, "")
	f.seed(t, offerKey, models.OfferPayload{PlanCode: "annual"}, models.StatusDraft, "")

	_, err := f.svc.Delete(context.Background(), planKey, "alice")
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, http.StatusNotAcceptable, appErr.HTTPStatus())
}

func TestDeleteByEnvironment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)

	f.seed(t, planKey, annualPln, models.StatusDraft, "")
	_, err := f.svc.Delete(ctx, planKey, "alice")
	require.NoError(t, err)
	_, err = f.store.GetEntity(ctx, planKey)
	assert.ErrorIs(t, err, store.ErrNotFound)

	staged := models.Key{Store: "us", Code: "staged"}
	f.seed(t, staged, annualPln, models.StatusStgValid, "")
	f.billing.On("DeletePlan", mock.Anything, models.EnvStaging, "staged").Return(nil).Once()
	_, err = f.svc.Delete(ctx, staged, "alice")
	require.NoError(t, err)
	f.billing.AssertExpectations(t)

	live := models.Key{Store: "us", Code: "live"}
	f.seed(t, live, annualPln, models.StatusProdValid, "")
	e, err := f.svc.Delete(ctx, live, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRetired, e.Status)
	require.NotNil(t, e.DeletedAt)
	_, err = f.svc.Get(ctx, live)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	history, err := f.svc.History(ctx, live)
	require.NoError(t, err)
	require.NotEmpty(t, history)
	assert.Equal(t, models.StatusRetired, history[len(history)-1].To)
}

func TestDeleteRefusedWhileValidating(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	f.seed(t, planKey, annualPln, models.StatusStgValidating, "OFF-STG-6")
	_, err := f.tracker.Start(ctx, planKey.String(), actionValidate)
	require.NoError(t, err)

	_, err = f.svc.Delete(ctx, planKey, "alice")
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "ALREADY_IN_PROGRESS", appErr.Code())
}

func TestCreateDuplicate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, false)
	in := CreateInput{Key: planKey, Kind: models.KindPlan, Payload: json.RawMessage(`{"name":"Annual"}`), Actor: "alice"}

	e, err := f.svc.Create(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, models.StatusDraft, e.Status)

	_, err = f.svc.Create(ctx, in)
	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "ALREADY_EXISTS", appErr.Code())
}
