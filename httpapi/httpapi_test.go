package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/whisper-darkly/eventstream/aggregator"
	"github.com/whisper-darkly/eventstream/auth"
	"github.com/whisper-darkly/eventstream/store/storetest"
	"github.com/whisper-darkly/eventstream/topic"
)

var testSecret = []byte("test-secret")
var errUnreachable = errors.New("store unreachable")

func testDeps() (Deps, *storetest.Fake) {
	fake := storetest.New()
	return Deps{
		Store:          fake,
		Aggregator:     aggregator.New([]int{1, 5, 60}),
		Topics:         topic.NewRegistry(1<<20, 16),
		JWTSecret:      testSecret,
		AllowedOrigins: []string{"*"},
		MaxMsgBytes:    32 * 1024,
		MetricsEnabled: false,
	}, fake
}

func TestHealthIsAlwaysOK(t *testing.T) {
	d, _ := testDeps()
	h := New(d)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyOKWhenStoreReachable(t *testing.T) {
	d, _ := testDeps()
	h := New(d)

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyUnavailableWhenStoreUnreachable(t *testing.T) {
	d, fake := testDeps()
	fake.PingErr = errUnreachable
	h := New(d)

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestIngestRejectsWithoutToken(t *testing.T) {
	d, _ := testDeps()
	h := New(d)

	req := httptest.NewRequest(http.MethodPost, "/ingest", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestIngestAcceptsValidBatch(t *testing.T) {
	d, fake := testDeps()
	h := New(d)

	tok, err := auth.IssueToken(testSecret, "u1", time.Hour)
	require.NoError(t, err)

	body := `[{"eventId":"a","ts":1000,"sessionId":"s1","route":"/x","action":"view"},
	          {"eventId":"b","ts":1000,"sessionId":"s1","route":"/x","action":"view"}]`
	req := httptest.NewRequest(http.MethodPost, "/ingest", bytes.NewBufferString(body))
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, 2, fake.InsertedCount())
}

func TestIngestDropsInvalidRecordsButAcceptsRest(t *testing.T) {
	d, fake := testDeps()
	h := New(d)

	tok, err := auth.IssueToken(testSecret, "u1", time.Hour)
	require.NoError(t, err)

	body := `[{"eventId":"a","ts":1000,"sessionId":"s1","route":"/x","action":"view"},
	          {"eventId":"bad-missing-fields"}]`
	req := httptest.NewRequest(http.MethodPost, "/ingest", bytes.NewBufferString(body))
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, 1, fake.InsertedCount())
}

func TestIngestRejectsEmptyPayload(t *testing.T) {
	d, _ := testDeps()
	h := New(d)

	tok, err := auth.IssueToken(testSecret, "u1", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/ingest", bytes.NewBufferString(""))
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "empty payload")
}

func TestIngestRejectsAllInvalidRecords(t *testing.T) {
	d, _ := testDeps()
	h := New(d)

	tok, err := auth.IssueToken(testSecret, "u1", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/ingest", bytes.NewBufferString(`[{"eventId":"bad-missing-fields"}]`))
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "no valid events")
}

func TestIssueTokenDefaultsSubject(t *testing.T) {
	d, _ := testDeps()
	h := New(d)

	req := httptest.NewRequest(http.MethodGet, "/token", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	id, err := auth.VerifyToken(testSecret, body.Token)
	require.NoError(t, err)
	require.Equal(t, auth.DefaultSubject, id.Subject)
}

func TestIssueAdminTokenRejectedWithoutConfiguredHash(t *testing.T) {
	d, _ := testDeps()
	h := New(d)

	req := httptest.NewRequest(http.MethodGet, "/token?userId=admin&adminPassword=x", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestIssueAdminTokenAcceptedWithMatchingPassword(t *testing.T) {
	d, _ := testDeps()
	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.DefaultCost)
	require.NoError(t, err)
	d.AdminPasswordHash = string(hash)
	h := New(d)

	req := httptest.NewRequest(http.MethodGet, "/token?userId=admin&adminPassword=correct-horse", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}
