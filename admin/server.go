/*
Copyright Zhigui.com. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package admin serves the operator endpoints of a replica over HTTP.
package admin

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zhigui-projects/hotstuff-consensus/api"
	"github.com/zhigui-projects/hotstuff-consensus/common/log"
	"github.com/zhigui-projects/hotstuff-consensus/types"
)

var logger = log.GetLogger("module", "admin")

const (
	maxSubmitBody   = 1 << 20
	shutdownTimeout = 5 * time.Second
)

// Node is the part of the replica the admin endpoints read and drive.
type Node interface {
	Status() api.Status
	Submit(cmds []byte) error
}

// BlockReader looks up stored blocks, (nil, nil) meaning unknown.
type BlockReader interface {
	GetBlock(hash types.Hash) (*types.Block, error)
}

type Server struct {
	server *http.Server
	node   Node
	blocks BlockReader
}

// NewServer routes /status, /metrics, /blocks/{hash} and /submit. blocks may
// be nil, in which case block lookups answer 404.
func NewServer(address string, node Node, blocks BlockReader, gatherer prometheus.Gatherer) *Server {
	s := &Server{node: node, blocks: blocks}

	// path before method: a method matcher that succeeds on a later route
	// clears the mismatch of an earlier one and turns 405 into 404
	router := mux.NewRouter().StrictSlash(true)
	router.Path("/status").Methods(http.MethodGet).HandlerFunc(s.status)
	router.Path("/blocks/{hash:[0-9a-fA-F]{64}}").Methods(http.MethodGet).HandlerFunc(s.block)
	router.Path("/submit").Methods(http.MethodPost).HandlerFunc(s.submit)
	router.Path("/metrics").Methods(http.MethodGet).Handler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	router.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
	router.Use(logRequest)

	s.server = &http.Server{
		Addr:         address,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	errC := make(chan error, 1)
	go func() {
		logger.Info("admin server started", "address", s.server.Addr)
		errC <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errC:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logger.Warning("admin server shutdown", "error", err)
		}
		return nil
	}
}

type blockResponse struct {
	Hash       string `json:"hash"`
	ParentHash string `json:"parent_hash"`
	View       uint64 `json:"view"`
	Height     uint64 `json:"height"`
	Proposer   int64  `json:"proposer"`
	JustifyQC  uint64 `json:"justify_view"`
	Commands   int    `json:"commands"`
	Timestamp  int64  `json:"timestamp"`
}

type submitRequest struct {
	Cmd string `json:"cmd"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	logger.Debug("admin request rejected", "method", r.Method, "path", r.URL.Path)
	writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: r.Method + " not allowed on " + r.URL.Path})
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.node.Status())
}

func (s *Server) block(w http.ResponseWriter, r *http.Request) {
	hash, err := types.HexToHash(mux.Vars(r)["hash"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if s.blocks == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "block not found"})
		return
	}
	b, err := s.blocks.GetBlock(hash)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	if b == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "block not found"})
		return
	}
	cmds, err := types.DecodeBatch(b.Payload)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	resp := blockResponse{
		Hash:       b.Hash().String(),
		ParentHash: b.ParentHash.String(),
		View:       uint64(b.View),
		Height:     b.Height,
		Proposer:   int64(b.Proposer),
		Commands:   len(cmds),
		Timestamp:  b.Timestamp,
	}
	if b.Justify != nil {
		resp.JustifyQC = uint64(b.Justify.View)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxSubmitBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request: " + err.Error()})
		return
	}
	if req.Cmd == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "empty command"})
		return
	}
	if err := s.node.Submit([]byte(req.Cmd)); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("write response failed", "error", err)
	}
}

func logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("admin request", "method", r.Method, "path", r.URL.Path, "elapsed", time.Since(start))
	})
}
