package v1_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wmsledger/internal/core/id"
	"wmsledger/internal/domain/allocation"
	"wmsledger/internal/domain/auth"
	"wmsledger/internal/domain/backorder"
	"wmsledger/internal/domain/counttask"
	"wmsledger/internal/domain/inventory"
	"wmsledger/internal/domain/ledger"
	v1 "wmsledger/internal/infrastructure/http/v1"
	"wmsledger/internal/infrastructure/notify"
	"wmsledger/internal/infrastructure/storage/memory"
	"wmsledger/internal/infrastructure/storage/postgres"
	"wmsledger/pkg/logger"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type storedKey struct {
	done  bool
	reply postgres.IdempotencyReplay
}

// memIdempotency keeps keys in a map.
type memIdempotency struct {
	mu   sync.Mutex
	keys map[string]*storedKey
}

func newMemIdempotency() *memIdempotency {
	return &memIdempotency{keys: make(map[string]*storedKey)}
}

func (s *memIdempotency) AcquireKey(_ context.Context, key, _, _, _ string) (*postgres.IdempotencyReplay, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.keys[key]; ok && k.done {
		r := k.reply
		return &r, nil
	}
	s.keys[key] = &storedKey{}
	return nil, nil
}

func (s *memIdempotency) CompleteKey(_ context.Context, key string, status int, contentType string, response any) error {
	return s.finish(key, status, contentType, response)
}

func (s *memIdempotency) FailKey(_ context.Context, key string, status int, contentType string, response any) error {
	return s.finish(key, status, contentType, response)
}

func (s *memIdempotency) finish(key string, status int, contentType string, response any) error {
	body, err := json.Marshal(response)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[key] = &storedKey{done: true, reply: postgres.IdempotencyReplay{StatusCode: status, ContentType: contentType, Body: body}}
	return nil
}

func (s *memIdempotency) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, key)
	return nil
}

// memAuditor keeps audit entries in insertion order.
type memAuditor struct {
	mu      sync.Mutex
	records []inventory.AuditRecord
}

func (a *memAuditor) Record(_ context.Context, e inventory.AuditEntry) error {
	changes, err := json.Marshal(e.Payload)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, inventory.AuditRecord{
		ID: id.New(), EntityType: e.EntityType, EntityID: e.EntityID,
		Action: e.Action, ActorID: e.ActorID, Changes: changes,
	})
	return nil
}

func (a *memAuditor) History(_ context.Context, entityType string, entityID id.ID, limit int) ([]inventory.AuditRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []inventory.AuditRecord
	for i := len(a.records) - 1; i >= 0; i-- {
		r := a.records[i]
		if r.EntityType == entityType && r.EntityID == entityID {
			out = append(out, r)
		}
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

type apiFixture struct {
	handler http.Handler
	jwt     *auth.JWTService
	db      *memory.DB
}

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	return newAPIWithLocations(t, nil)
}

// newAPIWithLocations checks locations against dir when it is set.
func newAPIWithLocations(t *testing.T, dir *memory.LocationRepo) *apiFixture {
	t.Helper()
	db := memory.New(0)
	repo := db.Ledger()
	recorder := ledger.NewRecorder(repo, db)
	var locations ledger.LocationDirectory
	if dir != nil {
		locations = dir
	}
	mutator := ledger.NewMutator(db, repo, recorder, locations)
	n := notify.New(db.Events())
	counts := counttask.NewService(db, db.CountTasks(), repo, mutator, n)
	engine := allocation.NewEngine(repo, mutator, nil, counts, n)
	backorders := backorder.NewManager(db, db.Backorders(), engine, n)
	engine.SetBackorders(backorders)
	svc := inventory.NewService(db, repo, mutator, recorder, engine, backorders, counts, &memAuditor{})
	if dir != nil {
		svc.SetLocations(dir)
	}

	jwtSvc := auth.NewJWTService(auth.DefaultJWTConfig(testSecret))
	router := v1.NewRouter(v1.RouterConfig{
		Logger:       logger.Nop(),
		JWTValidator: jwtSvc,
		Service:      svc,
		Idempotency:  newMemIdempotency(),
		Version:      "test",
	})
	return &apiFixture{handler: router, jwt: jwtSvc, db: db}
}

func (f *apiFixture) token(t *testing.T, perms ...string) string {
	t.Helper()
	tok, _, err := f.jwt.GenerateAccessToken("user-1", nil, perms, false)
	require.NoError(t, err)
	return tok
}

func (f *apiFixture) do(t *testing.T, method, path, token string, body any, headers ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func TestHealthLive(t *testing.T) {
	f := newAPI(t)
	rec, body := f.do(t, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestMissingTokenIsUnauthorized(t *testing.T) {
	f := newAPI(t)
	rec, body := f.do(t, http.MethodGet, "/api/v1/stock", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", body["code"])
}

func TestAdjustPermissionRequired(t *testing.T) {
	f := newAPI(t)
	tok := f.token(t, auth.PermRead)
	rec, body := f.do(t, http.MethodPost, "/api/v1/stock/receipts", tok, map[string]any{
		"product_variant_id": id.New().String(),
		"location_id":        id.New().String(),
		"quantity":           5,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", body["code"])
}

func TestReceiveAllocateAndList(t *testing.T) {
	f := newAPI(t)
	tok := f.token(t, auth.PermAdjust, auth.PermAllocate, auth.PermRead)
	product, location, order := id.New(), id.New(), id.New()

	rec, _ := f.do(t, http.MethodPost, "/api/v1/stock/receipts", tok, map[string]any{
		"product_variant_id": product.String(),
		"location_id":        location.String(),
		"quantity":           10,
		"unit_cost":          "2.50",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec, body := f.do(t, http.MethodPost, "/api/v1/orders/"+order.String()+"/allocations", tok, map[string]any{
		"strategy": "THROW",
		"lines":    []map[string]any{{"product_variant_id": product.String(), "quantity": 4}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, body["reservations"], 1)

	rec, body = f.do(t, http.MethodGet, "/api/v1/stock?productId="+product.String(), tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	items := body["items"].([]any)
	require.Len(t, items, 1)
	row := items[0].(map[string]any)
	assert.EqualValues(t, 10, row["quantity_on_hand"])
	assert.EqualValues(t, 4, row["quantity_reserved"])

	rec, body = f.do(t, http.MethodGet,
		"/api/v1/stock/reconciliation?productId="+product.String()+"&locationId="+location.String(), tok, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 10, body["quantity_on_hand"])
}

func TestThrowShortageReportsResult(t *testing.T) {
	f := newAPI(t)
	tok := f.token(t, auth.PermAllocate)
	order := id.New()

	rec, body := f.do(t, http.MethodPost, "/api/v1/orders/"+order.String()+"/allocations", tok, map[string]any{
		"strategy": "THROW",
		"lines":    []map[string]any{{"product_variant_id": id.New().String(), "quantity": 3}},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "INSUFFICIENT_STOCK", body["code"])
	details := body["details"].(map[string]any)
	assert.Contains(t, details, "result")
	assert.Contains(t, details, "shortfalls")
}

func TestInvalidStrategyIsValidationError(t *testing.T) {
	f := newAPI(t)
	tok := f.token(t, auth.PermAllocate)
	rec, body := f.do(t, http.MethodPost, "/api/v1/orders/"+id.New().String()+"/allocations", tok, map[string]any{
		"strategy": "GUESS",
		"lines":    []map[string]any{{"product_variant_id": id.New().String(), "quantity": 3}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", body["code"])
}

func TestIdempotentReceiptReplays(t *testing.T) {
	f := newAPI(t)
	tok := f.token(t, auth.PermAdjust, auth.PermRead)
	product, location := id.New(), id.New()
	payload := map[string]any{
		"product_variant_id": product.String(),
		"location_id":        location.String(),
		"quantity":           5,
	}

	first, firstBody := f.do(t, http.MethodPost, "/api/v1/stock/receipts", tok, payload, "X-Idempotency-Key", "rcpt-1")
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())

	second, secondBody := f.do(t, http.MethodPost, "/api/v1/stock/receipts", tok, payload, "X-Idempotency-Key", "rcpt-1")
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, firstBody, secondBody)

	rec, err := f.db.Ledger().Get(context.Background(), ledger.Key{ProductID: product, LocationID: location})
	require.NoError(t, err)
	assert.Equal(t, int64(5), rec.OnHand)
}

func TestBackorderAndCountTaskRoutes(t *testing.T) {
	f := newAPI(t)
	tok := f.token(t, auth.PermAllocate, auth.PermAdjust, auth.PermRead)
	product, order := id.New(), id.New()

	rec, _ := f.do(t, http.MethodPost, "/api/v1/orders/"+order.String()+"/allocations", tok, map[string]any{
		"strategy": "BACKORDER",
		"lines":    []map[string]any{{"product_variant_id": product.String(), "quantity": 2}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, body := f.do(t, http.MethodGet, "/api/v1/backorders?orderId="+order.String(), tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	items := body["items"].([]any)
	require.Len(t, items, 1)
	boID := items[0].(map[string]any)["id"].(string)

	rec, body = f.do(t, http.MethodPost, "/api/v1/backorders/"+boID+"/cancel", tok, map[string]any{"reason": "customer"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "CANCELLED", body["status"])

	rec, _ = f.do(t, http.MethodPost, "/api/v1/orders/"+id.New().String()+"/allocations", tok, map[string]any{
		"strategy": "COUNT",
		"lines":    []map[string]any{{"product_variant_id": product.String(), "quantity": 1}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, body = f.do(t, http.MethodGet, "/api/v1/count-tasks?status=OPEN", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	tasks := body["items"].([]any)
	require.Len(t, tasks, 1)
	taskID := tasks[0].(map[string]any)["id"].(string)

	rec, body = f.do(t, http.MethodPost, "/api/v1/count-tasks/"+taskID+"/complete", tok, map[string]any{
		"counted_quantity": 0,
		"location_id":      id.New().String(),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "COMPLETED", body["task"].(map[string]any)["status"])
}

func TestLocationDeactivationBlocksReceipts(t *testing.T) {
	location := id.New()
	f := newAPIWithLocations(t, memory.NewLocationRepo(ledger.Location{ID: location, Code: "A-01", Active: true}))
	tok := f.token(t, auth.PermAdjust, auth.PermRead)
	receipt := map[string]any{
		"product_variant_id": id.New().String(),
		"location_id":        location.String(),
		"quantity":           1,
	}

	rec, body := f.do(t, http.MethodPost, "/api/v1/locations/"+location.String()+"/deactivate", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, false, body["active"])

	rec, body = f.do(t, http.MethodPost, "/api/v1/stock/receipts", tok, receipt)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NOT_FOUND", body["code"])

	rec, _ = f.do(t, http.MethodPost, "/api/v1/locations/"+location.String()+"/activate", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, _ = f.do(t, http.MethodPost, "/api/v1/stock/receipts", tok, receipt)
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec, body = f.do(t, http.MethodGet, "/api/v1/audit/location/"+location.String(), tok, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	items := body["items"].([]any)
	require.Len(t, items, 2)
	assert.Equal(t, "activate", items[0].(map[string]any)["action"])
	assert.Equal(t, "deactivate", items[1].(map[string]any)["action"])

	rec, _ = f.do(t, http.MethodPost, "/api/v1/locations/"+id.New().String()+"/deactivate", tok, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAuditHistoryOfReceipt(t *testing.T) {
	f := newAPI(t)
	tok := f.token(t, auth.PermAdjust, auth.PermRead)

	rec, body := f.do(t, http.MethodPost, "/api/v1/stock/receipts", tok, map[string]any{
		"product_variant_id": id.New().String(),
		"location_id":        id.New().String(),
		"quantity":           4,
		"unit_cost":          "2.50",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	movementID := body["movement"].(map[string]any)["id"].(string)

	rec, body = f.do(t, http.MethodGet, "/api/v1/audit/movement/"+movementID+"?limit=10", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	items := body["items"].([]any)
	require.Len(t, items, 1)
	entry := items[0].(map[string]any)
	assert.Equal(t, "receive", entry["action"])
	detail := entry["changes"].(map[string]any)["movement"].(map[string]any)["detail"].(map[string]any)
	assert.Equal(t, "10", detail["extended_cost"])

	rec, body = f.do(t, http.MethodGet, "/api/v1/audit/pallet/"+movementID, tok, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", body["code"])
}
