package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/storetax/internal/audit/domain"
	auditrepository "github.com/smallbiznis/storetax/internal/audit/repository"
	auditservice "github.com/smallbiznis/storetax/internal/audit/service"
	"github.com/smallbiznis/storetax/internal/authorization"
	"github.com/smallbiznis/storetax/internal/clock"
	"github.com/smallbiznis/storetax/internal/config"
	"github.com/smallbiznis/storetax/internal/tax/catalog"
	taxdomain "github.com/smallbiznis/storetax/internal/tax/domain"
	"github.com/smallbiznis/storetax/internal/tax/repository"
	taxservice "github.com/smallbiznis/storetax/internal/tax/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&taxdomain.TaxRule{}, &auditdomain.AuditLog{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	audit := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: clk,
		Repo:  auditrepository.Provide(),
	})

	enforcer, err := authorization.NewEnforcer(db)
	require.NoError(t, err)
	authz := authorization.NewService(authorization.Params{
		Log:      log,
		Enforcer: enforcer,
		AuditSvc: audit,
	})

	repo := repository.NewRepository(db)
	store := catalog.NewStore()
	loader := catalog.NewLoader(catalog.LoaderParams{
		Repo:  repo,
		Store: store,
		Clock: clk,
		Log:   log,
	})

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	return NewServer(ServerParams{
		Gin:      engine,
		Cfg:      config.Config{},
		Log:      log,
		AuthzSvc: authz,
		AuditSvc: audit,
		TaxSvc: taxservice.NewService(taxservice.ServiceParams{
			Log:      log,
			GenID:    node,
			Clock:    clk,
			Repo:     repo,
			Loader:   loader,
			Notifier: catalog.NewNotifier(catalog.NotifierParams{Log: log}),
			AuditSvc: audit,
		}),
		CalcSvc: taxservice.NewCalculationService(taxservice.CalculationParams{
			Log:       log,
			Clock:     clk,
			Store:     store,
			TaxConfig: config.NewStaticTaxConfigHolder(config.DefaultTaxConfig()),
		}),
	})
}

func doRequest(t *testing.T, srv *Server, method, path, role string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if role != "" {
		req.Header.Set(HeaderStaffRole, role)
		req.Header.Set(HeaderStaffID, role+"-1")
	}
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)
	return rec
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var envelope struct {
		Data T `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	return envelope.Data
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func vatBody() map[string]any {
	return map[string]any{
		"name":               "VAT Saudi",
		"kind":               "percentage",
		"rate":               "15",
		"applicable_regions": []string{"SA"},
	}
}

func TestTaxRules_RequiresRole(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/api/tax-rules", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decodeError(t, rec).Type)
	assert.NotEmpty(t, rec.Header().Get(HeaderCorrelationID))
}

func TestTaxRules_StaffCannotCreate(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/tax-rules", authorization.RoleStaff, vatBody())
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", decodeError(t, rec).Type)
}

func TestTaxRules_Lifecycle(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/tax-rules", authorization.RoleManager, vatBody())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeData[taxdomain.Response](t, rec)
	assert.Equal(t, "vat-saudi", created.Code)
	assert.True(t, created.Active)

	rec = doRequest(t, srv, http.MethodPost, "/api/tax-rules", authorization.RoleManager, vatBody())
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/tax-rules/"+created.ID, authorization.RoleStaff, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created.ID, decodeData[taxdomain.Response](t, rec).ID)

	rec = doRequest(t, srv, http.MethodPatch, "/api/tax-rules/"+created.ID, authorization.RoleManager, map[string]any{"rate": "5"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decodeData[taxdomain.Response](t, rec).Rate.Equal(decimal.NewFromInt(5)))

	rec = doRequest(t, srv, http.MethodPost, "/api/tax-rules/"+created.ID+"/disable", authorization.RoleManager, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decodeData[taxdomain.Response](t, rec).Active)

	rec = doRequest(t, srv, http.MethodGet, "/api/tax-rules?active=false", authorization.RoleStaff, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeData[[]taxdomain.Response](t, rec), 1)

	rec = doRequest(t, srv, http.MethodGet, "/api/tax-rules?active=maybe", authorization.RoleStaff, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/api/tax-rules/"+created.ID+"/enable", authorization.RoleManager, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeData[taxdomain.Response](t, rec).Active)

	rec = doRequest(t, srv, http.MethodDelete, "/api/tax-rules/"+created.ID, authorization.RoleManager, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(t, srv, http.MethodDelete, "/api/tax-rules/"+created.ID, authorization.RoleAdmin, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/tax-rules/"+created.ID, authorization.RoleStaff, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTaxRules_ValidationErrors(t *testing.T) {
	srv := newTestServer(t)

	body := vatBody()
	body["applicable_regions"] = []string{}
	rec := doRequest(t, srv, http.MethodPost, "/api/tax-rules", authorization.RoleManager, body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	assert.Equal(t, "validation_error", payload.Type)
	require.Len(t, payload.Errors, 1)
	assert.Equal(t, "applicable_regions", payload.Errors[0].Field)
	assert.Equal(t, "invalid_applicable_regions", payload.Errors[0].Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/tax-rules/not-a-number", authorization.RoleStaff, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_id", decodeError(t, rec).Errors[0].Code)

	req := httptest.NewRequest(http.MethodPost, "/api/tax-rules", strings.NewReader("{"))
	req.Header.Set(HeaderStaffRole, authorization.RoleManager)
	rec = httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_request", decodeError(t, rec).Errors[0].Code)
}

func TestCalculate(t *testing.T) {
	srv := newTestServer(t)

	calc := map[string]any{"amount": "100", "region": "sa", "categories": []string{"electronics"}}

	rec := doRequest(t, srv, http.MethodPost, "/api/tax/calculate", authorization.RoleStaff, calc)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/api/tax-rules", authorization.RoleManager, vatBody())
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, srv, http.MethodPost, "/api/tax/calculate", authorization.RoleStaff, calc)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decodeData[taxdomain.CalculationResponse](t, rec)
	assert.Equal(t, "SAR", result.Currency)
	require.Len(t, result.Lines, 1)
	assert.True(t, result.TotalTax.Equal(decimal.NewFromInt(15)))
	assert.True(t, result.GrandTotal.Equal(decimal.NewFromInt(115)))
	assert.Equal(t, uint64(1), result.CatalogVersion)

	rec = doRequest(t, srv, http.MethodGet, "/api/tax/catalog", authorization.RoleStaff, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	info := decodeData[taxdomain.CatalogInfo](t, rec)
	assert.Equal(t, 1, info.RuleCount)
	assert.Equal(t, 1, info.ActiveCount)

	rec = doRequest(t, srv, http.MethodPost, "/api/tax/calculate", authorization.RoleStaff, map[string]any{"region": "SA"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "amount", decodeError(t, rec).Errors[0].Field)

	rec = doRequest(t, srv, http.MethodPost, "/api/tax/calculate", authorization.RoleStaff, map[string]any{"amount": "-1", "region": "SA"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_amount", decodeError(t, rec).Errors[0].Code)

	rec = doRequest(t, srv, http.MethodPost, "/api/tax/calculate", authorization.RoleStaff, map[string]any{"amount": "10", "region": " "})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_region", decodeError(t, rec).Errors[0].Code)
}

func TestAuditLogs(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/api/tax-rules", authorization.RoleManager, vatBody())
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/audit-logs", authorization.RoleStaff, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doRequest(t, srv, http.MethodGet, "/api/audit-logs?action="+auditdomain.ActionTaxRuleCreate, authorization.RoleManager, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	logs := decodeData[[]auditdomain.AuditLog](t, rec)
	require.Len(t, logs, 1)
	assert.Equal(t, authorization.RoleManager, logs[0].ActorRole)
	assert.Equal(t, auditdomain.TargetTypeTaxRule, logs[0].TargetType)

	rec = doRequest(t, srv, http.MethodGet, "/api/audit-logs?start_at=yesterday", authorization.RoleManager, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_start_at", decodeError(t, rec).Errors[0].Code)
}

func TestMapError(t *testing.T) {
	cases := []struct {
		err    error
		status int
		kind   string
	}{
		{taxdomain.ErrInvalidRate, http.StatusBadRequest, "validation_error"},
		{fmt.Errorf("wrapped: %w", taxdomain.ErrInvalidRegion), http.StatusBadRequest, "validation_error"},
		{auditdomain.ErrInvalidPageToken, http.StatusBadRequest, "validation_error"},
		{authorization.ErrInvalidActor, http.StatusUnauthorized, "unauthorized"},
		{authorization.ErrForbidden, http.StatusForbidden, "forbidden"},
		{taxdomain.ErrNotFound, http.StatusNotFound, "not_found"},
		{taxdomain.ErrDuplicateCode, http.StatusConflict, "conflict"},
		{ErrRateLimited, http.StatusTooManyRequests, "rate_limited"},
		{taxdomain.ErrCatalogNotReady, http.StatusServiceUnavailable, "service_unavailable"},
		{errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			status, payload := mapError(tc.err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.kind, payload.Type)
		})
	}

	errType, code := classifyErrorForLog(taxdomain.ErrInvalidRate)
	assert.Equal(t, "validation_error", errType)
	assert.Equal(t, "invalid_rate", code)

	errType, _ = classifyErrorForLog(errors.New("boom"))
	assert.Equal(t, "internal", errType)
}

func TestCalculateRateLimit_DisabledPassesThrough(t *testing.T) {
	srv := newTestServer(t)
	rec := doRequest(t, srv, http.MethodPost, "/api/tax/calculate", authorization.RoleSystem, map[string]any{"amount": "1", "region": "SA"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, rec.Header().Get("Retry-After"))
}
