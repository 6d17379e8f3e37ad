package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/murelay/internal/compute"
	"github.com/roach88/murelay/internal/engine"
	"github.com/roach88/murelay/internal/ir"
	"github.com/roach88/murelay/internal/nodes"
	"github.com/roach88/murelay/internal/sequencer"
	"github.com/roach88/murelay/internal/signer"
	"github.com/roach88/murelay/internal/store"
)

// computeNode answers for process P with one reply to Q, and for process
// BAD with an execution error.
func computeNode(t *testing.T) nodes.Node {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("process-id") {
		case "P":
			w.Write([]byte(`{"messages":[{"process_id":"Q","data":"reply","owner":"P","tags":[]}]}`))
		case "BAD":
			w.Write([]byte(`{"error":"boom"}`))
		default:
			w.Write([]byte(`{"messages":[]}`))
		}
	}))
	t.Cleanup(srv.Close)
	return nodes.Node{Name: "cu-1", URL: srv.URL}
}

func newTestServer(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()

	cache, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })

	s, err := signer.Generate()
	require.NoError(t, err)

	sel, err := nodes.NewSelector(nodes.Table{Nodes: []nodes.Node{computeNode(t)}}, cache)
	require.NoError(t, err)

	proc := engine.NewProcessor(cache, sequencer.NewLocal(s), compute.NewClient(), sel, engine.WithRetryPolicy(engine.NoRetry))
	cranker := engine.NewCranker(proc)

	srv := httptest.NewServer(NewRouter(proc, cranker, cache, Options{}))
	t.Cleanup(srv.Close)
	return srv, cache
}

func post(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func get(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func message(pid, data string) ir.Message {
	return ir.Message{
		ProcessID: pid,
		Data:      data,
		Owner:     "owner-1",
		Tags:      []ir.Tag{{Name: ir.TagType, Value: ir.TypeMessage}},
	}
}

func TestPostMessageCranks(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := post(t, srv.URL+"/messages", message("P", "hello"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	res := decode[engine.CrankResult](t, resp)
	assert.Equal(t, engine.CrankOK, res.Status)
	require.Len(t, res.Nodes, 2)
	assert.Equal(t, "P", res.Nodes[0].ProcessID)
	assert.Equal(t, "Q", res.Nodes[1].ProcessID)
	assert.NotEmpty(t, res.CrankID)
}

func TestPostMessageWithoutCrank(t *testing.T) {
	srv, cache := newTestServer(t)

	resp := post(t, srv.URL+"/messages?crank=false", message("P", "hello"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	out := decode[OutcomeResponse](t, resp)
	assert.Equal(t, int64(1), out.Tx.SequenceNumber)
	require.Len(t, out.Outbox, 1)

	// The reply was not processed.
	_, err := cache.FindMessage(t.Context(), out.Outbox[0].ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPostMessageErrors(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name   string
		path   string
		body   any
		status int
		kind   engine.Kind
	}{
		{"missing process", "/messages", message("", "x"), http.StatusBadRequest, engine.KindInvalidMessage},
		{"bad type tag", "/messages", ir.Message{ProcessID: "P", Tags: []ir.Tag{{Name: ir.TagType, Value: "Nope"}}}, http.StatusBadRequest, engine.KindInvalidMessage},
		{"unknown field", "/messages", map[string]any{"process_id": "P", "bogus": 1}, http.StatusBadRequest, engine.KindInvalidMessage},
		{"bad crank flag", "/messages?crank=maybe", message("P", "x"), http.StatusBadRequest, engine.KindInvalidMessage},
		{"compute error", "/messages", message("BAD", "x"), http.StatusBadGateway, engine.KindComputeError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, srv.URL+tt.path, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			body := decode[ErrorBody](t, resp)
			assert.Equal(t, tt.kind, body.Kind)
			assert.NotEmpty(t, body.Message)
		})
	}
}

func TestComputeErrorCarriesIDs(t *testing.T) {
	srv, _ := newTestServer(t)

	msg := message("BAD", "x")
	resp := post(t, srv.URL+"/messages", msg)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)

	body := decode[ErrorBody](t, resp)
	assert.Equal(t, ir.MustMessageID(msg), body.MessageID)
	assert.Equal(t, "BAD", body.ProcessID)
}

func TestPostMessageRequiresJSON(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/messages", "text/plain", bytes.NewReader([]byte("hi")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestGetMessage(t *testing.T) {
	srv, _ := newTestServer(t)

	msg := message("P", "hello")
	require.Equal(t, http.StatusOK, post(t, srv.URL+"/messages", msg).StatusCode)

	resp := get(t, srv.URL+"/messages/"+ir.MustMessageID(msg))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	rec := decode[ir.CacheRecord](t, resp)
	assert.Equal(t, ir.StatusExecuted, rec.Status)
	assert.Len(t, rec.Outbox, 1)

	resp = get(t, srv.URL+"/messages/unknown")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	body := decode[ErrorBody](t, resp)
	assert.Equal(t, engine.KindNotFound, body.Kind)
	assert.Equal(t, "unknown", body.MessageID)
}

func TestGetLatestTx(t *testing.T) {
	srv, _ := newTestServer(t)

	require.Equal(t, http.StatusOK, post(t, srv.URL+"/messages", message("P", "hello")).StatusCode)

	resp := get(t, srv.URL+"/processes/P/latest-tx")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tx := decode[ir.SequencedTx](t, resp)
	assert.Equal(t, int64(1), tx.SequenceNumber)

	resp = get(t, srv.URL+"/processes/nobody/latest-tx")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListMessages(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, data := range []string{"one", "two", "three"} {
		require.Equal(t, http.StatusOK, post(t, srv.URL+"/messages", message("P", data)).StatusCode)
	}

	resp := get(t, srv.URL+"/processes/P/messages?limit=2")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decode[PageResponse](t, resp)
	require.Len(t, page.Records, 2)
	assert.Equal(t, "three", page.Records[0].Message.Data, "newest first")
	require.NotZero(t, page.Next)

	resp = get(t, srv.URL+"/processes/P/messages?limit=2&cursor="+itoa(page.Next))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page = decode[PageResponse](t, resp)
	require.Len(t, page.Records, 1)
	assert.Equal(t, "one", page.Records[0].Message.Data)
	assert.Zero(t, page.Next)

	assert.Equal(t, http.StatusBadRequest, get(t, srv.URL+"/processes/P/messages?limit=0").StatusCode)
	assert.Equal(t, http.StatusBadRequest, get(t, srv.URL+"/processes/P/messages?cursor=x").StatusCode)
}

func TestPostCrank(t *testing.T) {
	srv, _ := newTestServer(t)

	msg := message("P", "hello")
	require.Equal(t, http.StatusOK, post(t, srv.URL+"/messages", msg).StatusCode)

	resp := post(t, srv.URL+"/crank", CrankRequest{MessageID: ir.MustMessageID(msg)})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[engine.CrankResult](t, resp)
	assert.Equal(t, engine.CrankOK, res.Status)
	require.Len(t, res.Nodes, 2)
	assert.True(t, res.Nodes[0].Cached)

	resp = post(t, srv.URL+"/crank", CrankRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = post(t, srv.URL+"/crank", CrankRequest{MessageID: "unknown"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := get(t, srv.URL+"/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	health := decode[HealthResponse](t, resp)
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, "pass", health.Checks["cache"].Status)

	resp = get(t, srv.URL+"/metrics")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	tests := map[engine.Kind]int{
		engine.KindInvalidMessage:       http.StatusBadRequest,
		engine.KindNotFound:             http.StatusNotFound,
		engine.KindConflict:             http.StatusConflict,
		engine.KindRejected:             http.StatusUnprocessableEntity,
		engine.KindComputeError:         http.StatusBadGateway,
		engine.KindSequencerUnavailable: http.StatusServiceUnavailable,
		engine.KindComputeUnavailable:   http.StatusServiceUnavailable,
		engine.KindNoNodeAvailable:      http.StatusServiceUnavailable,
		engine.KindCrankDepthExceeded:   http.StatusLoopDetected,
		engine.KindInternal:             http.StatusInternalServerError,
	}
	for kind, want := range tests {
		assert.Equal(t, want, StatusFor(kind), "kind %s", kind)
	}
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
