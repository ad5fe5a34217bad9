package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Bren2010/snaptree/tree/accumulator"
	"github.com/Bren2010/snaptree/tree/ledger"
	"github.com/Bren2010/snaptree/tree/replica"
)

// maxBodySize is the largest request body the API accepts.
const maxBodySize = 1 << 20

// requestError is returned by API handlers when the request itself is
// malformed.
type requestError struct {
	msg string
}

func (re requestError) Error() string { return re.msg }

func badRequest(format string, args ...interface{}) error {
	return requestError{fmt.Sprintf(format, args...)}
}

// statusFor maps an error returned by an API handler to an HTTP status code.
func statusFor(err error) int {
	var re requestError
	switch {
	case errors.As(err, &re),
		errors.Is(err, accumulator.ErrProofTooLong),
		errors.Is(err, accumulator.ErrPositionOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, replica.ErrSnapshotNotFound),
		errors.Is(err, replica.ErrProofNotFound),
		errors.Is(err, replica.ErrLeafUnknown):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// HandleAPI wraps an API handler. It serializes the handler's response or
// error as JSON and counts the request under the given name.
func HandleAPI(name string, fn func(req *http.Request) (interface{}, error)) http.HandlerFunc {
	return func(rw http.ResponseWriter, req *http.Request) {
		status := http.StatusOK
		res, err := fn(req)
		if err != nil {
			status = statusFor(err)
			if status == http.StatusInternalServerError {
				log.Errorf("Request to %v failed: %v", name, err)
				res = ErrorResponse{Error: "internal server error"}
			} else {
				res = ErrorResponse{Error: err.Error()}
			}
		}
		requestCtr.WithLabelValues(name, fmt.Sprint(status)).Inc()

		rw.Header().Set("Content-Type", "application/json")
		rw.WriteHeader(status)
		if err := json.NewEncoder(rw).Encode(res); err != nil {
			log.Warningf("Failed to write response to %v: %v", name, err)
		}
	}
}

type Handler struct {
	home string
	tree *ledger.Tree
	ch   chan<- InsertRequest
}

// NewRouter returns the API's routes.
func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	if h.home != "" {
		r.HandleFunc("/", h.Home)
	}
	r.HandleFunc("/v1/meta", HandleAPI("meta", h.Meta)).Methods("GET")
	r.HandleFunc("/v1/root", HandleAPI("root", h.Root)).Methods("GET")
	r.HandleFunc("/v1/insert", HandleAPI("insert", h.Insert)).Methods("POST")
	r.HandleFunc("/v1/proof/{root}", HandleAPI("proof", h.Proof)).Methods("GET")
	r.HandleFunc("/v1/position", HandleAPI("position", h.Position)).Methods("GET")
	r.HandleFunc("/v1/verify", HandleAPI("verify", h.Verify)).Methods("POST")
	return r
}

// Home redirects requests to a pre-configured URL, like the API documentation.
func (h *Handler) Home(rw http.ResponseWriter, req *http.Request) {
	http.Redirect(rw, req, h.home, http.StatusSeeOther)
}

type MetaResponse struct {
	HashAlgorithm string            `json:"hash_algorithm"`
	HashId        uint16            `json:"hash_id"`
	TreeSize      uint64            `json:"tree_size"`
	Root          *accumulator.Hash `json:"root"`
}

func (h *Handler) Meta(req *http.Request) (interface{}, error) {
	cs, state := h.tree.CipherSuite(), h.tree.State()
	return MetaResponse{
		HashAlgorithm: cs.Name(),
		HashId:        cs.Id(),
		TreeSize:      state.Count,
		Root:          state.Root,
	}, nil
}

type RootResponse struct {
	Root     *accumulator.Hash   `json:"root"`
	Count    uint64              `json:"count"`
	Frontier []*accumulator.Hash `json:"frontier"`
}

func (h *Handler) Root(req *http.Request) (interface{}, error) {
	state := h.tree.State()
	return RootResponse{Root: state.Root, Count: state.Count, Frontier: state.Frontier}, nil
}

type InsertRequestBody struct {
	Value []byte `json:"value"`
}

func (h *Handler) Insert(req *http.Request) (interface{}, error) {
	var body InsertRequestBody
	if err := decodeBody(req, &body); err != nil {
		return nil, err
	} else if body.Value == nil {
		return nil, badRequest("field not provided: value")
	}

	ctx := req.Context()
	resp := make(chan InsertResponse, 1)
	select {
	case h.ch <- InsertRequest{Value: body.Value, Resp: resp}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-resp:
		return res.Result, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type ProofResponse struct {
	Proof    accumulator.Proof `json:"proof"`
	Position uint64            `json:"position"`
	Root     accumulator.Hash  `json:"root"`
}

func (h *Handler) Proof(req *http.Request) (interface{}, error) {
	root, err := accumulator.ParseHash(mux.Vars(req)["root"])
	if err != nil {
		return nil, badRequest("malformed root: %v", err)
	}
	value, err := queryValue(req)
	if err != nil {
		return nil, err
	}

	proof, position, err := h.tree.Prove(value, root)
	switch {
	case err == nil:
		proofOps.WithLabelValues("ok").Inc()
	case statusFor(err) == http.StatusNotFound:
		proofOps.WithLabelValues("not_found").Inc()
		return nil, err
	default:
		proofOps.WithLabelValues("error").Inc()
		return nil, err
	}
	return ProofResponse{Proof: proof, Position: position, Root: root}, nil
}

type PositionResponse struct {
	Position uint64 `json:"position"`
}

func (h *Handler) Position(req *http.Request) (interface{}, error) {
	value, err := queryValue(req)
	if err != nil {
		return nil, err
	}
	position, err := h.tree.Position(value)
	if err != nil {
		return nil, err
	}
	return PositionResponse{Position: position}, nil
}

type VerifyRequestBody struct {
	Proof    accumulator.Proof `json:"proof"`
	Value    []byte            `json:"value"`
	Position uint64            `json:"position"`
	Root     *accumulator.Hash `json:"root"`
}

type VerifyResponse struct {
	Valid bool `json:"valid"`
}

func (h *Handler) Verify(req *http.Request) (interface{}, error) {
	var body VerifyRequestBody
	if err := decodeBody(req, &body); err != nil {
		return nil, err
	} else if body.Value == nil {
		return nil, badRequest("field not provided: value")
	} else if body.Root == nil {
		return nil, badRequest("field not provided: root")
	}
	valid, err := h.tree.Verify(body.Proof, body.Value, body.Position, *body.Root)
	if err != nil {
		return nil, err
	}
	return VerifyResponse{Valid: valid}, nil
}

func decodeBody(req *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(req.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("malformed request body: %v", err)
	}
	return nil
}

func queryValue(req *http.Request) ([]byte, error) {
	raw, ok := req.URL.Query()["value"]
	if !ok || len(raw) != 1 {
		return nil, badRequest("expected exactly one value parameter")
	}
	value, err := hex.DecodeString(raw[0])
	if err != nil {
		return nil, badRequest("malformed value: %v", err)
	}
	return value, nil
}
