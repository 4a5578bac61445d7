package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/richardliu001/wallet-events/internal/config"
	"github.com/richardliu001/wallet-events/internal/metrics"
	"github.com/richardliu001/wallet-events/internal/model"
	"github.com/richardliu001/wallet-events/internal/relay"
	"github.com/richardliu001/wallet-events/internal/repo"
	"github.com/richardliu001/wallet-events/internal/service"
	"github.com/richardliu001/wallet-events/internal/testutil"
	"github.com/richardliu001/wallet-events/internal/txn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type apiFixture struct {
	db     *gorm.DB
	repo   *repo.Repository
	router *gin.Engine
}

func newAPI(t *testing.T) *apiFixture {
	gin.SetMode(gin.TestMode)
	db := testutil.NewDB(t)
	r := repo.NewRepository(db, nil, testutil.Logger())
	runner := txn.NewRunner(db, txn.DefaultOptions(), testutil.Logger())
	reg := prometheus.NewRegistry()
	rel := relay.New(r, nil, relay.DefaultConfig(), testutil.Logger(), metrics.New(reg))
	h := NewHandler(
		service.NewAccountService(r, runner, testutil.Logger()),
		service.NewLedgerService(r, runner, testutil.Logger()),
		r, rel, testutil.Logger(),
	)
	return &apiFixture{
		db:     db,
		repo:   r,
		router: NewRouter(h, config.RateLimitConfig{RPS: 1000, Burst: 1000}, reg, testutil.Logger()),
	}
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestAPI_Onboarding(t *testing.T) {
	f := newAPI(t)

	w := f.do(t, http.MethodPost, "/v1/users", gin.H{"email": "dana@example.com"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var u model.User
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &u))
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	w = f.do(t, http.MethodPost, "/v1/users", gin.H{"email": "dana@example.com"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodPost, "/v1/users/"+u.ID+"/verify-email", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, http.MethodPost, "/v1/users/"+u.ID+"/verify-email", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodPost, "/v1/users/"+u.ID+"/password-reset", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.NotContains(t, w.Body.String(), "token")

	w = f.do(t, http.MethodPatch, "/v1/users/"+u.ID+"/status", gin.H{"status": "ACTIVE"})
	assert.Equal(t, http.StatusConflict, w.Code)

	for _, status := range []string{"EMAIL_VERIFIED", "ACCOUNT_PROVISIONING", "ACCOUNT_READY"} {
		w = f.do(t, http.MethodPatch, "/v1/users/"+u.ID+"/status", gin.H{"status": status})
		assert.Equal(t, http.StatusBadRequest, w.Code, status)
	}

	w = f.do(t, http.MethodPost, "/v1/users/nobody/verify-email", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	var n int64
	require.NoError(t, f.db.Model(&model.OutboxEvent{}).Count(&n).Error)
	assert.EqualValues(t, 2, n)
}

func TestAPI_Wallets(t *testing.T) {
	f := newAPI(t)
	require.NoError(t, f.db.Create(&model.User{ID: "u-1", Email: "e@example.com", AccountStatus: model.StatusActive}).Error)
	require.NoError(t, f.db.Create(&model.Wallet{ID: "w-1", UserID: "u-1", Type: model.WalletMainCheckings}).Error)
	require.NoError(t, f.db.Create(&model.LedgerAccount{ID: "la-1", WalletID: "w-1", Type: model.WalletMainCheckings, Currency: "USD"}).Error)

	w := f.do(t, http.MethodPost, "/v1/wallets/w-1/deposit", gin.H{"amount": "25.50", "idempotency_key": "k1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, http.MethodPost, "/v1/wallets/w-1/deposit", gin.H{"amount": "abc", "idempotency_key": "k2"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/v1/wallets/w-404/deposit", gin.H{"amount": "1", "idempotency_key": "k3"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/v1/wallets/w-1/balance", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var bal struct {
		Balance string `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &bal))
	assert.Equal(t, "25.5", bal.Balance)

	w = f.do(t, http.MethodGet, "/v1/wallets/w-1/history?since="+time.Now().Add(-time.Hour).UTC().Format(time.RFC3339), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var entries []model.LedgerEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	assert.Len(t, entries, 1)

	w = f.do(t, http.MethodPost, "/v1/wallets/w-1/transfer", gin.H{"to_id": "w-1", "amount": "1", "idempotency_key": "k4"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/v1/wallets/w-1/withdraw", gin.H{"amount": "100", "idempotency_key": "wd1"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = f.do(t, http.MethodPost, "/v1/wallets/w-1/withdraw", gin.H{"amount": "5.5", "idempotency_key": "wd1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var wd service.WithdrawalResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &wd))
	assert.Equal(t, "20", wd.Balance.String())

	w = f.do(t, http.MethodPost, "/v1/wallets/w-1/withdraw", gin.H{"amount": "6", "idempotency_key": "wd1"})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAPI_Admin(t *testing.T) {
	f := newAPI(t)
	ctx := context.Background()

	require.NoError(t, f.repo.SaveDeadLetter(ctx, &model.DeadLetter{
		EventID:         "evt-1",
		OriginalTopic:   "auth.user.email_verified",
		OriginalMessage: datatypes.JSON(`{"eventId":"evt-1"}`),
		Error:           "Unsupported event version: 2",
		FailedAt:        time.Now().UTC(),
	}))
	w := f.do(t, http.MethodGet, "/v1/admin/dead-letters?topic=auth.user.email_verified", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var dls []model.DeadLetter
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &dls))
	require.Len(t, dls, 1)
	assert.Equal(t, "evt-1", dls[0].EventID)

	require.NoError(t, f.repo.Enqueue(ctx, f.db, &model.OutboxEvent{
		EventID: "evt-2", Topic: "t", EventType: "T", AggregateType: "User", AggregateID: "u-1",
	}))
	w = f.do(t, http.MethodPost, "/v1/admin/outbox/evt-2/requeue", nil)
	assert.Equal(t, http.StatusConflict, w.Code, "PENDING rows are not requeueable")

	claimed, err := f.repo.ClaimNext(ctx, time.Minute)
	require.NoError(t, err)
	require.NoError(t, f.repo.MarkOutboxFailed(ctx, claimed, "broker down"))
	w = f.do(t, http.MethodPost, "/v1/admin/outbox/evt-2/requeue", nil)
	assert.Equal(t, http.StatusAccepted, w.Code)

	evt, err := f.repo.GetOutboxEvent(ctx, "evt-2")
	require.NoError(t, err)
	assert.Equal(t, model.OutboxPending, evt.Status)
}

func TestAPI_HealthAndMetrics(t *testing.T) {
	f := newAPI(t)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", nil).Code)
	w := f.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "wallet_events_relay_outbox_claimed_total")
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimitMiddleware(1, 1))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestIPLimiter_SweepsIdleVisitors(t *testing.T) {
	l := &ipLimiter{rps: 1, burst: 1, visitors: make(map[string]*visitor)}
	now := time.Now()
	assert.True(t, l.allow("10.0.0.1", now))
	assert.False(t, l.allow("10.0.0.1", now))
	assert.True(t, l.allow("10.0.0.2", now))

	later := now.Add(2 * limiterIdle)
	assert.True(t, l.allow("10.0.0.3", later))
	assert.Len(t, l.visitors, 1)
	assert.True(t, l.allow("10.0.0.1", later))
}
