// Package api exposes a node over HTTP: the routes peers deliver protocol
// messages to, the read-only status and chain views, and /metrics.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gitzhang10/pbftchain/pbft"
)

const maxBodyBytes = 1 << 20

type server struct {
	node   *pbft.Node
	logger hclog.Logger
}

// NewRouter returns the router serving node. /metrics is only mounted when
// gatherer is not nil.
func NewRouter(node *pbft.Node, gatherer prometheus.Gatherer, logger hclog.Logger) *mux.Router {
	if logger == nil {
		logger = hclog.New(&hclog.LoggerOptions{
			Name:   "PBFT-api",
			Output: hclog.DefaultOutput,
			Level:  hclog.DefaultLevel,
		})
	}
	s := &server{node: node, logger: logger}

	router := mux.NewRouter()
	router.Use(s.logRequests)
	router.HandleFunc("/propose", s.propose).Methods(http.MethodPost)
	router.HandleFunc("/preprepare", s.phase(node.HandlePrePrepare)).Methods(http.MethodPost)
	router.HandleFunc("/prepare", s.phase(node.HandlePrepare)).Methods(http.MethodPost)
	router.HandleFunc("/commit", s.phase(node.HandleCommit)).Methods(http.MethodPost)
	router.HandleFunc("/block", s.block).Methods(http.MethodPost)
	router.HandleFunc("/status", s.status).Methods(http.MethodGet)
	router.HandleFunc("/blocks", s.blocks).Methods(http.MethodGet)
	if gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
	return router
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Trace("request is served", "method", r.Method, "path", r.URL.Path,
			"remote", r.RemoteAddr, "elapsed", time.Since(start))
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.New("invalid json body")
	}
	return nil
}

func (s *server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("fail to write the response", "error", err)
	}
}

// writeError maps err onto a status code and an {"err": ...} body.
func (s *server) writeError(w http.ResponseWriter, err error) {
	var conflict *pbft.ChainConflictError
	switch {
	case errors.As(err, &conflict):
		s.writeJSON(w, http.StatusConflict, conflictBody(conflict))
	case errors.Is(err, pbft.ErrBadBlockSignature):
		s.writeJSON(w, http.StatusBadRequest, errorBody{Err: pbft.ErrBadBlockSignature.Error()})
	case errors.Is(err, pbft.ErrBadSignature):
		s.writeJSON(w, http.StatusBadRequest, errorBody{Err: pbft.ErrBadSignature.Error()})
	case errors.Is(err, pbft.ErrMalformed), errors.Is(err, pbft.ErrHashMismatch):
		s.writeJSON(w, http.StatusBadRequest, errorBody{Err: err.Error()})
	case errors.Is(err, pbft.ErrPrimaryUnreachable):
		s.writeJSON(w, http.StatusBadGateway, errorBody{Err: err.Error()})
	default:
		s.logger.Error("fail to serve the request", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, errorBody{Err: err.Error()})
	}
}

type errorBody struct {
	Err string `json:"err"`
}

func conflictBody(c *pbft.ChainConflictError) map[string]interface{} {
	body := map[string]interface{}{
		"err":             c.Reason,
		"local_tip_index": c.LocalTipIndex,
		"local_tip_hash":  nil,
	}
	if c.LocalTipIndex >= 0 {
		body["local_tip_hash"] = c.LocalTipHash
		body["expected_prev_hash"] = c.ExpectedPrevHash
		body["got_prev_hash"] = c.GotPrevHash
	}
	return body
}
