package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Bren2010/snaptree/crypto/suites"
	"github.com/Bren2010/snaptree/db/memory"
	"github.com/Bren2010/snaptree/tree/accumulator"
	"github.com/Bren2010/snaptree/tree/ledger"
	"github.com/Bren2010/snaptree/tree/replica"
)

func newTestServer(t *testing.T) *httptest.Server {
	tree, err := ledger.Open(suites.Sha256{}, memory.NewAccumulatorStore(), replica.NewMemorySnapshots())
	require.NoError(t, err)

	ch := make(chan InsertRequest)
	go inserter(tree, ch)
	t.Cleanup(func() { close(ch) })

	srv := httptest.NewServer(NewRouter(&Handler{tree: tree, ch: ch}))
	t.Cleanup(srv.Close)
	return srv
}

// call sends a request to the test server and decodes the JSON response into
// out, returning the status code.
func call(t *testing.T, srv *httptest.Server, method, path string, body interface{}, out interface{}) int {
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewBuffer(raw)
	}

	req, err := http.NewRequest(method, srv.URL+path, reader)
	require.NoError(t, err)
	res, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	if out != nil && res.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(res.Body).Decode(out))
	}
	return res.StatusCode
}

func insert(t *testing.T, srv *httptest.Server, value string) ledger.InsertResult {
	var res ledger.InsertResult
	status := call(t, srv, "POST", "/v1/insert", InsertRequestBody{Value: []byte(value)}, &res)
	require.Equal(t, http.StatusOK, status)
	return res
}

func TestInsertProveVerify(t *testing.T) {
	srv := newTestServer(t)

	var results []ledger.InsertResult
	for i, value := range []string{"a", "b", "c"} {
		res := insert(t, srv, value)
		require.Equal(t, uint64(i), res.Position)
		results = append(results, res)
	}

	var meta MetaResponse
	require.Equal(t, http.StatusOK, call(t, srv, "GET", "/v1/meta", nil, &meta))
	require.Equal(t, "sha256", meta.HashAlgorithm)
	require.Equal(t, uint64(3), meta.TreeSize)
	require.Equal(t, results[2].Root, *meta.Root)

	var root RootResponse
	require.Equal(t, http.StatusOK, call(t, srv, "GET", "/v1/root", nil, &root))
	require.Equal(t, uint64(3), root.Count)
	require.Len(t, root.Frontier, 2)
	require.Equal(t, results[2].Leaf, *root.Frontier[0])

	for i, value := range []string{"a", "b", "c"} {
		for _, later := range results[i:] {
			var proof ProofResponse
			path := fmt.Sprintf("/v1/proof/%v?value=%x", later.Root, value)
			require.Equal(t, http.StatusOK, call(t, srv, "GET", path, nil, &proof))
			require.Equal(t, uint64(i), proof.Position)

			var verify VerifyResponse
			body := VerifyRequestBody{Proof: proof.Proof, Value: []byte(value), Position: proof.Position, Root: &later.Root}
			require.Equal(t, http.StatusOK, call(t, srv, "POST", "/v1/verify", body, &verify))
			require.True(t, verify.Valid)

			body.Value = []byte("x")
			require.Equal(t, http.StatusOK, call(t, srv, "POST", "/v1/verify", body, &verify))
			require.False(t, verify.Valid)
		}

		var position PositionResponse
		path := fmt.Sprintf("/v1/position?value=%x", value)
		require.Equal(t, http.StatusOK, call(t, srv, "GET", path, nil, &position))
		require.Equal(t, uint64(i), position.Position)
	}
}

func TestErrorStatuses(t *testing.T) {
	srv := newTestServer(t)
	res := insert(t, srv, "a")
	insert(t, srv, "b")
	unknown := accumulator.LeafHash(suites.Sha256{}, []byte("unknown"))

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		status int
	}{
		{"unknown root", "GET", fmt.Sprintf("/v1/proof/%v?value=61", unknown), nil, http.StatusNotFound},
		{"value not in tree", "GET", fmt.Sprintf("/v1/proof/%v?value=7a", res.Root), nil, http.StatusNotFound},
		{"malformed root", "GET", "/v1/proof/xyz?value=61", nil, http.StatusBadRequest},
		{"malformed value", "GET", fmt.Sprintf("/v1/proof/%v?value=zz", res.Root), nil, http.StatusBadRequest},
		{"missing value", "GET", fmt.Sprintf("/v1/proof/%v", res.Root), nil, http.StatusBadRequest},
		{"unknown position", "GET", "/v1/position?value=7a", nil, http.StatusNotFound},
		{"insert without value", "POST", "/v1/insert", "{}", http.StatusBadRequest},
		{"insert malformed body", "POST", "/v1/insert", "{", http.StatusBadRequest},
		{"verify without root", "POST", "/v1/verify", VerifyRequestBody{
			Proof: accumulator.Proof{}, Value: []byte("a"),
		}, http.StatusBadRequest},
		{"verify without value", "POST", "/v1/verify", VerifyRequestBody{
			Proof: accumulator.Proof{}, Root: &unknown,
		}, http.StatusBadRequest},
		{"verify unknown field", "POST", "/v1/verify", `{"value": "YQ==", "extra": 1}`, http.StatusBadRequest},
		{"verify position out of range", "POST", "/v1/verify", VerifyRequestBody{
			Proof: accumulator.Proof{&unknown}, Value: []byte("a"), Position: 2, Root: &unknown,
		}, http.StatusBadRequest},
		{"verify proof too long", "POST", "/v1/verify", VerifyRequestBody{
			Proof: make(accumulator.Proof, accumulator.MaxProofLength+1), Value: []byte("a"), Root: &unknown,
		}, http.StatusBadRequest},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.status, call(t, srv, tc.method, tc.path, tc.body, nil))
		})
	}
}

func TestStatusFor(t *testing.T) {
	require.Equal(t, http.StatusNotFound, statusFor(fmt.Errorf("wrapped: %w", replica.ErrSnapshotNotFound)))
	require.Equal(t, http.StatusNotFound, statusFor(replica.ErrProofNotFound))
	require.Equal(t, http.StatusNotFound, statusFor(replica.ErrLeafUnknown))
	require.Equal(t, http.StatusBadRequest, statusFor(badRequest("nope")))
	require.Equal(t, http.StatusBadRequest, statusFor(accumulator.ErrPositionOutOfRange))
	require.Equal(t, http.StatusInternalServerError, statusFor(accumulator.ErrFull))
	require.Equal(t, http.StatusInternalServerError, statusFor(io.ErrUnexpectedEOF))
}

func TestHomeRedirect(t *testing.T) {
	rec := httptest.NewRecorder()
	NewRouter(&Handler{home: "https://example.com/docs"}).ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, "https://example.com/docs", rec.Header().Get("Location"))
}

func TestQueryValue(t *testing.T) {
	req := httptest.NewRequest("GET", "/v1/position?value="+hex.EncodeToString([]byte("hello")), nil)
	value, err := queryValue(req)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), value)

	req = httptest.NewRequest("GET", "/v1/position?value=00&value=01", nil)
	_, err = queryValue(req)
	require.Error(t, err)
}
