package admin

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhigui-projects/hotstuff-consensus/api"
	"github.com/zhigui-projects/hotstuff-consensus/types"
)

type fakeNode struct {
	status    api.Status
	submitted [][]byte
	err       error
}

func (n *fakeNode) Status() api.Status { return n.status }

func (n *fakeNode) Submit(cmds []byte) error {
	if n.err != nil {
		return n.err
	}
	n.submitted = append(n.submitted, cmds)
	return nil
}

type blockMap map[types.Hash]*types.Block

func (m blockMap) GetBlock(hash types.Hash) (*types.Block, error) {
	return m[hash], nil
}

func newTestServer(node *fakeNode, blocks BlockReader) http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "hotstuff_test_total", Help: "test"}))
	return NewServer("127.0.0.1:0", node, blocks, reg).Handler()
}

func serve(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, strings.NewReader(body)))
	return rec
}

func TestStatus(t *testing.T) {
	node := &fakeNode{status: api.Status{ID: 2, View: 9, Phase: "voted", CommittedHeight: 6}}
	rec := serve(newTestServer(node, nil), http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got api.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, node.status, got)
}

func TestMetrics(t *testing.T) {
	rec := serve(newTestServer(&fakeNode{}, nil), http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hotstuff_test_total 0")
}

func TestBlock(t *testing.T) {
	b := types.NewBlock(types.Genesis(), types.GenesisQC(), 1, 1, types.EncodeBatch([][]byte{[]byte("a"), []byte("b")}), 42)
	h := newTestServer(&fakeNode{}, blockMap{b.Hash(): b})

	rec := serve(h, http.MethodGet, "/blocks/"+b.Hash().String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got blockResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, b.Hash().String(), got.Hash)
	assert.Equal(t, uint64(1), got.Height)
	assert.Equal(t, 2, got.Commands)

	rec = serve(h, http.MethodGet, "/blocks/"+strings.Repeat("0", 64), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(h, http.MethodGet, "/blocks/xyz", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmit(t *testing.T) {
	node := &fakeNode{}
	h := newTestServer(node, nil)

	rec := serve(h, http.MethodPost, "/submit", `{"cmd":"set a 1"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, [][]byte{[]byte("set a 1")}, node.submitted)

	rec = serve(h, http.MethodPost, "/submit", `{"cmd":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(h, http.MethodPost, "/submit", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	node.err = errors.New("submit queue is full")
	rec = serve(h, http.MethodPost, "/submit", `{"cmd":"set b 2"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "submit queue is full")

	rec = serve(h, http.MethodGet, "/submit", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Contains(t, rec.Body.String(), "GET not allowed on /submit")
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestServer(&fakeNode{}, nil)

	for _, tc := range []struct {
		method, path string
		code         int
	}{
		{http.MethodGet, "/submit", http.StatusMethodNotAllowed},
		{http.MethodPost, "/status", http.StatusMethodNotAllowed},
		{http.MethodPost, "/metrics", http.StatusMethodNotAllowed},
		{http.MethodDelete, "/blocks/" + strings.Repeat("ab", 32), http.StatusMethodNotAllowed},
		{http.MethodGet, "/unknown", http.StatusNotFound},
	} {
		rec := serve(h, tc.method, tc.path, "")
		assert.Equal(t, tc.code, rec.Code, "%s %s", tc.method, tc.path)
	}
}
