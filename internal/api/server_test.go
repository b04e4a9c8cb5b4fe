package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/attest/internal/auth"
	"github.com/roach88/attest/internal/ledger"
	"github.com/roach88/attest/internal/store/memstore"
	"github.com/roach88/attest/internal/testutil"
)

const testAudience = "attest-test"

type fixture struct {
	handler http.Handler
	clock   *testutil.FakeClock
	admin   *auth.Signer
	mallory *auth.Signer
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	clock := testutil.NewFakeClock(testutil.DefaultNow)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	backend := memstore.New()

	var ledgers []*ledger.Ledger
	for _, schema := range ledger.Builtins() {
		l, err := ledger.New(backend, schema, ledger.WithClock(clock), ledger.WithLogger(logger))
		require.NoError(t, err)
		ledgers = append(ledgers, l)
	}

	tokenTime := func() time.Time { return time.Unix(clock.Now(), 0) }
	verifier := auth.NewVerifier(testAudience, time.Minute, auth.WithVerifierClock(tokenTime))
	srv, err := NewServer(ledgers, verifier, append([]Option{WithLogger(logger)}, opts...)...)
	require.NoError(t, err)

	return &fixture{
		handler: srv.Handler(),
		clock:   clock,
		admin:   auth.NewSigner(testutil.PrivateKey(testutil.Admin), testAudience, auth.WithSignerClock(tokenTime)),
		mallory: auth.NewSigner(testutil.PrivateKey(testutil.Mallory), testAudience, auth.WithSignerClock(tokenTime)),
	}
}

func (f *fixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

// post signs body for op on ledgerName with signer. A nil signer sends no token.
func (f *fixture) post(t *testing.T, signer *auth.Signer, op, ledgerName, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", contentTypeJSON)
	if signer != nil {
		token, err := signer.Sign(op, ledgerName, []byte(body))
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) initialize(t *testing.T, ledgerName string) {
	t.Helper()
	body := fmt.Sprintf(`{"admin":%q}`, f.admin.Identity())
	rec := f.post(t, f.admin, auth.OpInitialize, ledgerName, "/v1/ledgers/"+ledgerName+"/initialize", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func (f *fixture) publish(t *testing.T, signer *auth.Signer, body string) *httptest.ResponseRecorder {
	t.Helper()
	return f.post(t, signer, auth.OpRecord, "project-publication", "/v1/ledgers/project-publication/records", body)
}

func (f *fixture) task(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	return f.post(t, f.admin, auth.OpRecord, "task-record", "/v1/ledgers/task-record/records", body)
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func decodeList(t *testing.T, rec *httptest.ResponseRecorder) ListResponse {
	t.Helper()
	var resp ListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func publication(key string, ts int64) string {
	return fmt.Sprintf(`{"key":%q,"parties":{"client":%q},"timestamp":%d}`, key, testutil.Client, ts)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.get(t, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, StatusOK, decodeResponse(t, rec).Status)
}

func TestListLedgers(t *testing.T) {
	f := newFixture(t)
	f.initialize(t, "task-record")

	rec := f.get(t, "/v1/ledgers")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	require.Len(t, resp.Ledgers, 2)

	assert.Equal(t, "project-publication", resp.Ledgers[0].Name)
	assert.False(t, resp.Ledgers[0].Initialized)
	assert.Equal(t, "task-record", resp.Ledgers[1].Name)
	assert.True(t, resp.Ledgers[1].Initialized)
	assert.Equal(t, f.admin.Identity(), resp.Ledgers[1].Admin)
	assert.Equal(t, ledger.SequenceKey, resp.Ledgers[1].Schema.KeyStrategy)
}

func TestLedgerInfoSequence(t *testing.T) {
	f := newFixture(t)
	f.initialize(t, "project-publication")

	rec := f.get(t, "/v1/ledgers/project-publication")
	require.Equal(t, http.StatusOK, rec.Code)
	info := decodeResponse(t, rec).Ledger
	require.NotNil(t, info)
	assert.Equal(t, uint64(0), info.Sequence)
	assert.Contains(t, rec.Body.String(), `"sequence":0`)

	for _, key := range []string{"p1", "p2"} {
		require.Equal(t, http.StatusCreated, f.publish(t, f.admin, publication(key, testutil.DefaultNow)).Code)
	}
	// rejected writes do not move the counter
	require.Equal(t, http.StatusConflict, f.publish(t, f.admin, publication("p1", testutil.DefaultNow)).Code)

	info = decodeResponse(t, f.get(t, "/v1/ledgers/project-publication")).Ledger
	require.NotNil(t, info)
	assert.Equal(t, uint64(2), info.Sequence)
	assert.Equal(t, f.admin.Identity(), info.Admin)
}

func TestUnknownLedger(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusNotFound, f.get(t, "/v1/ledgers/nope").Code)
	assert.Equal(t, http.StatusNotFound, f.get(t, "/v1/ledgers/nope/records/x").Code)

	rec := f.post(t, f.admin, auth.OpRecord, "nope", "/v1/ledgers/nope/records", publication("p1", testutil.DefaultNow))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeNotFound, decodeResponse(t, rec).Code)
}

func TestInitialize(t *testing.T) {
	f := newFixture(t)
	body := fmt.Sprintf(`{"admin":%q}`, f.admin.Identity())

	rec := f.post(t, f.admin, auth.OpInitialize, "project-publication", "/v1/ledgers/project-publication/initialize", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Ledger)
	assert.True(t, resp.Ledger.Initialized)

	rec = f.post(t, f.admin, auth.OpInitialize, "project-publication", "/v1/ledgers/project-publication/initialize", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ALREADY_INITIALIZED", decodeResponse(t, rec).Code)
}

func TestInitializeForSomeoneElse(t *testing.T) {
	f := newFixture(t)
	body := fmt.Sprintf(`{"admin":%q}`, f.admin.Identity())

	rec := f.post(t, f.mallory, auth.OpInitialize, "project-publication", "/v1/ledgers/project-publication/initialize", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", decodeResponse(t, rec).Code)
}

func TestRecordBeforeInitialize(t *testing.T) {
	f := newFixture(t)
	rec := f.publish(t, f.admin, publication("p1", testutil.DefaultNow))
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)
	assert.Equal(t, "NOT_INITIALIZED", decodeResponse(t, rec).Code)
}

func TestRecordAuthentication(t *testing.T) {
	f := newFixture(t)
	f.initialize(t, "project-publication")
	body := publication("p1", testutil.DefaultNow)

	t.Run("no token", func(t *testing.T) {
		rec := f.publish(t, nil, body)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, CodeUnauthenticated, decodeResponse(t, rec).Code)
	})

	t.Run("token for another body", func(t *testing.T) {
		token, err := f.admin.Sign(auth.OpRecord, "project-publication", []byte(publication("p2", testutil.DefaultNow)))
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodPost, "/v1/ledgers/project-publication/records", strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("token for another ledger", func(t *testing.T) {
		rec := f.post(t, f.admin, auth.OpRecord, "task-record", "/v1/ledgers/project-publication/records", body)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("not the admin", func(t *testing.T) {
		rec := f.publish(t, f.mallory, body)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "UNAUTHORIZED", decodeResponse(t, rec).Code)
	})

	// nothing was written by the rejected attempts
	assert.Equal(t, http.StatusNotFound, f.get(t, "/v1/ledgers/project-publication/records/p1").Code)
}

func TestPublishProject(t *testing.T) {
	f := newFixture(t)
	f.initialize(t, "project-publication")
	f.clock.Advance(10)

	rec := f.publish(t, f.admin, publication("p1", testutil.DefaultNow))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "/v1/ledgers/project-publication/records/p1", rec.Header().Get("Location"))

	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Record)
	assert.Equal(t, "p1", resp.Record.Key)
	assert.Equal(t, uint64(1), resp.Record.Seq)
	assert.Equal(t, testutil.DefaultNow+10, resp.Record.RecordedAt)
	assert.NotEmpty(t, resp.Record.Digest)

	got := f.get(t, "/v1/ledgers/project-publication/records/p1")
	require.Equal(t, http.StatusOK, got.Code)
	assert.Equal(t, resp.Record, decodeResponse(t, got).Record)

	dup := f.publish(t, f.admin, publication("p1", testutil.DefaultNow))
	assert.Equal(t, http.StatusConflict, dup.Code)
	assert.Equal(t, "ALREADY_RECORDED", decodeResponse(t, dup).Code)

	list := f.get(t, "/v1/ledgers/project-publication/parties/"+testutil.Client+"/records")
	require.Equal(t, http.StatusOK, list.Code)
	records := decodeList(t, list).Records
	require.Len(t, records, 1)
	assert.Equal(t, "p1", records[0].Key)
}

func TestTaskRecords(t *testing.T) {
	f := newFixture(t)
	f.initialize(t, "task-record")

	body := func(project string) string {
		return fmt.Sprintf(`{"parties":{"freelancer":%q,"client":%q},"fields":{"project_id":%q,"completed":true},"timestamp":%d}`,
			testutil.Freelancer, testutil.Client, project, testutil.DefaultNow)
	}

	for i, project := range []string{"p1", "p2"} {
		rec := f.task(t, body(project))
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		assert.Equal(t, fmt.Sprint(i+1), decodeResponse(t, rec).Record.Key)
	}

	list := f.get(t, "/v1/ledgers/task-record/parties/"+testutil.Freelancer+"/records?index=freelancer")
	require.Equal(t, http.StatusOK, list.Code)
	records := decodeList(t, list).Records
	require.Len(t, records, 2)
	assert.Equal(t, []string{"1", "2"}, []string{records[0].Key, records[1].Key})
	project, _ := records[1].Fields.String("project_id")
	assert.Equal(t, "p2", project)

	// freelancer is not a client
	empty := f.get(t, "/v1/ledgers/task-record/parties/"+testutil.Freelancer+"/records?index=client")
	require.Equal(t, http.StatusOK, empty.Code)
	assert.Contains(t, empty.Body.String(), `"records":[]`)

	unknown := f.get(t, "/v1/ledgers/task-record/parties/x/records?index=nope")
	assert.Equal(t, http.StatusUnprocessableEntity, unknown.Code)
}

func TestReusedTokenRejected(t *testing.T) {
	f := newFixture(t)
	f.initialize(t, "task-record")

	body := fmt.Sprintf(`{"parties":{"freelancer":%q,"client":%q},"fields":{"project_id":"p1","completed":true},"timestamp":%d}`,
		testutil.Freelancer, testutil.Client, testutil.DefaultNow)
	token, err := f.admin.Sign(auth.OpRecord, "task-record", []byte(body))
	require.NoError(t, err)

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/ledgers/task-record/records", strings.NewReader(body))
		req.Header.Set("Content-Type", contentTypeJSON)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, req)
		return rec
	}

	first := send()
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())

	second := send()
	assert.Equal(t, http.StatusUnauthorized, second.Code)
	assert.Equal(t, CodeUnauthenticated, decodeResponse(t, second).Code)
	assert.Contains(t, decodeResponse(t, second).Error, "token already used")

	list := f.get(t, "/v1/ledgers/task-record/parties/"+testutil.Freelancer+"/records")
	require.Equal(t, http.StatusOK, list.Code)
	records := decodeList(t, list).Records
	require.Len(t, records, 1)
	assert.Equal(t, "1", records[0].Key)
}

func TestEscapedPathParams(t *testing.T) {
	f := newFixture(t)
	f.initialize(t, "project-publication")

	for _, key := range []string{"a%41", "x/y", "sp ace"} {
		t.Run(key, func(t *testing.T) {
			rec := f.publish(t, f.admin, publication(key, testutil.DefaultNow))
			require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

			got := f.get(t, rec.Header().Get("Location"))
			require.Equal(t, http.StatusOK, got.Code, got.Body.String())
			require.NotNil(t, decodeResponse(t, got).Record)
			assert.Equal(t, key, decodeResponse(t, got).Record.Key)
		})
	}

	// a key that only looks escaped is not decoded a second time
	assert.Equal(t, http.StatusNotFound, f.get(t, "/v1/ledgers/project-publication/records/aA").Code)

	for _, party := range []string{"c%41", "team/a"} {
		body := fmt.Sprintf(`{"key":%q,"parties":{"client":%q},"timestamp":%d}`, "k-"+party, party, testutil.DefaultNow)
		require.Equal(t, http.StatusCreated, f.publish(t, f.admin, body).Code)

		list := f.get(t, "/v1/ledgers/project-publication/parties/"+url.PathEscape(party)+"/records")
		require.Equal(t, http.StatusOK, list.Code)
		records := decodeList(t, list).Records
		require.Len(t, records, 1, party)
		assert.Equal(t, "k-"+party, records[0].Key)
	}
}

func TestRecordValidation(t *testing.T) {
	f := newFixture(t)
	f.initialize(t, "project-publication")

	tests := []struct {
		name string
		body string
		code string
	}{
		{"future timestamp", publication("p1", testutil.DefaultNow+301), "INVALID_TIMESTAMP"},
		{"empty key", publication("", testutil.DefaultNow), "INVALID_IDENTIFIER"},
		{"long key", publication(strings.Repeat("k", 101), testutil.DefaultNow), "INVALID_IDENTIFIER"},
		{"unknown field", `{"key":"p1","parties":{"client":"c"},"fields":{"x":"y"},"timestamp":1}`, "INVALID_PAYLOAD"},
		{"extra property", `{"key":"p1","parties":{"client":"c"},"timestamp":1,"extra":1}`, CodeBadRequest},
		{"missing timestamp", `{"key":"p1","parties":{"client":"c"}}`, CodeBadRequest},
		{"party not a string", `{"key":"p1","parties":{"client":7},"timestamp":1}`, CodeBadRequest},
		{"float field", `{"key":"p1","parties":{"client":"c"},"fields":{"x":1.5},"timestamp":1}`, CodeBadRequest},
		{"not json", `{"key":`, CodeBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.publish(t, f.admin, tt.body)
			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decodeResponse(t, rec).Code)
		})
	}

	// the boundary itself is accepted
	rec := f.publish(t, f.admin, publication("p1", testutil.DefaultNow+300))
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestGetMissingRecord(t *testing.T) {
	f := newFixture(t)
	rec := f.get(t, "/v1/ledgers/project-publication/records/nothing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, CodeNotFound, decodeResponse(t, rec).Code)
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, WithRateLimit(0.001, 1))
	f.initialize(t, "project-publication")

	rec := f.publish(t, f.admin, publication("p1", testutil.DefaultNow))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, CodeRateLimited, decodeResponse(t, rec).Code)

	// reads are not throttled
	assert.Equal(t, http.StatusOK, f.get(t, "/v1/ledgers").Code)
}

func TestBodyTooLarge(t *testing.T) {
	f := newFixture(t)
	f.initialize(t, "project-publication")

	body := `{"key":"` + strings.Repeat("x", maxBodyBytes) + `"}`
	rec := f.publish(t, nil, body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestNewServerRejectsDuplicates(t *testing.T) {
	backend := memstore.New()
	a, err := ledger.New(backend, ledger.TaskOutcomes)
	require.NoError(t, err)
	b, err := ledger.New(backend, ledger.TaskOutcomes)
	require.NoError(t, err)

	_, err = NewServer([]*ledger.Ledger{a, b}, auth.NewVerifier(testAudience, 0))
	assert.ErrorContains(t, err, "duplicate ledger")

	_, err = NewServer(nil, nil)
	assert.Error(t, err)
}

func TestDecodeBodies(t *testing.T) {
	body, err := DecodeRecordBody([]byte(`{"key":"p1","parties":{"client":"c"},"fields":{"n":2},"timestamp":7}`))
	require.NoError(t, err)
	req := body.Request()
	assert.Equal(t, "p1", req.Key)
	assert.EqualValues(t, "c", req.Parties["client"])
	assert.Equal(t, int64(7), req.Timestamp)

	_, err = DecodeRecordBody([]byte(`{"parties":{},"timestamp":"soon"}`))
	assert.ErrorContains(t, err, "invalid body")

	_, err = DecodeRecordBody([]byte(`{`))
	assert.ErrorContains(t, err, "malformed JSON")

	init, err := DecodeInitializeBody([]byte(`{"admin":"a"}`))
	require.NoError(t, err)
	assert.EqualValues(t, "a", init.Admin)

	_, err = DecodeInitializeBody([]byte(`{"admin":"a","extra":1}`))
	assert.Error(t, err)
}
