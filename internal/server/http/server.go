package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/rzbill/ebb/internal/collection"
	"github.com/rzbill/ebb/internal/dump"
	"github.com/rzbill/ebb/internal/runtime"
)

// userHeader names the authenticated caller. Requests without it act as
// the superuser.
const userHeader = "X-Ebb-User"

type Server struct {
	rt  *runtime.Runtime
	srv *http.Server
	lis net.Listener
}

func New(rt *runtime.Runtime) *Server {
	mux := http.NewServeMux()
	s := &Server{rt: rt, srv: &http.Server{Handler: cors(mux)}}
	mux.HandleFunc("/v1/healthz", s.handleHealth)
	mux.HandleFunc("/v1/ns/create", s.handleNSCreate)
	mux.HandleFunc("/v1/collections/create", s.handleCollectionCreate)
	mux.HandleFunc("/v1/collections/drop", s.handleCollectionDrop)
	mux.HandleFunc("/v1/docs/insert", s.handleDocInsert)
	mux.HandleFunc("/v1/dumps/create", s.handleDumpCreate)
	mux.HandleFunc("/v1/dumps/next", s.handleDumpNext)
	mux.HandleFunc("/v1/dumps/drop", s.handleDumpDrop)
	mux.HandleFunc("/v1/dumps/stats", s.handleDumpStats)
	return s
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		return err
	}
}

// Handler exposes the routed handler, mainly for tests embedding the
// server in httptest.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+userHeader)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func callerUser(r *http.Request) string {
	if u := r.Header.Get(userHeader); u != "" {
		return u
	}
	return "root"
}

// writeError maps domain sentinel errors to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, collection.ErrNamespaceNotFound),
		errors.Is(err, collection.ErrCollectionNotFound),
		errors.Is(err, collection.ErrDocumentNotFound),
		errors.Is(err, dump.ErrContextNotFound):
		status = http.StatusNotFound
	case errors.Is(err, collection.ErrCollectionExists),
		errors.Is(err, collection.ErrCollectionInUse),
		errors.Is(err, collection.ErrNamespaceInUse):
		status = http.StatusConflict
	case errors.Is(err, dump.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, dump.ErrTooManyContexts):
		status = http.StatusTooManyRequests
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.rt.CheckHealth(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_serving"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type nsCreateReq struct {
	Namespace string `json:"namespace"`
}

func (s *Server) handleNSCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req nsCreateReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if req.Namespace == "" {
		req.Namespace = s.rt.Config().DefaultNamespaceName
	}
	if _, err := s.rt.EnsureNamespace(req.Namespace); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

type collectionReq struct {
	Namespace  string `json:"namespace"`
	Collection string `json:"collection"`
}

func (s *Server) namespaceOrDefault(ns string) string {
	if ns == "" {
		return s.rt.Config().DefaultNamespaceName
	}
	return ns
}

func (s *Server) handleCollectionCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req collectionReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Collection == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	meta, err := s.rt.CreateCollection(r.Context(), s.namespaceOrDefault(req.Namespace), req.Collection)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, meta)
}

func (s *Server) handleCollectionDrop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req collectionReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Collection == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := s.rt.DropCollection(r.Context(), s.namespaceOrDefault(req.Namespace), req.Collection); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type docInsertReq struct {
	Namespace  string          `json:"namespace"`
	Collection string          `json:"collection"`
	Key        string          `json:"key"`
	Doc        json.RawMessage `json:"doc"`
}

func (s *Server) handleDocInsert(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req docInsertReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Collection == "" || len(req.Doc) == 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	key, rev, err := s.rt.Insert(r.Context(), s.namespaceOrDefault(req.Namespace), req.Collection, req.Key, req.Doc)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"key": key, "rev": rev})
}

type dumpCreateReq struct {
	Namespace string       `json:"namespace"`
	Options   dump.Options `json:"options"`
}

type dumpCreateResp struct {
	ID      string       `json:"id"`
	Options dump.Options `json:"options"`
}

func (s *Server) handleDumpCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req dumpCreateReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	dc, err := s.rt.CreateDump(req.Options, callerUser(r), s.namespaceOrDefault(req.Namespace))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dumpCreateResp{ID: dc.ID(), Options: dc.Options()})
}

type dumpNextReq struct {
	Namespace string  `json:"namespace"`
	ID        string  `json:"id"`
	LastBatch *uint64 `json:"lastBatch"`
}

type dumpNextResp struct {
	BatchID uint64 `json:"batchId"`
	Shard   string `json:"shard"`
	Rows    uint64 `json:"rows"`
	Content string `json:"content"`
}

// handleDumpNext serves one batch of the pull protocol. 204 means
// end-of-stream; 410 means the dump failed and carries the stored error.
func (s *Server) handleDumpNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req dumpNextReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	dc, err := s.rt.FindDump(req.ID, s.namespaceOrDefault(req.Namespace), callerUser(r))
	if err != nil {
		writeError(w, err)
		return
	}
	batchID, batch, err := dc.Next(req.LastBatch)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusGone)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	if batch == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, dumpNextResp{
		BatchID: batchID,
		Shard:   batch.Shard,
		Rows:    batch.Rows,
		Content: string(batch.Content),
	})
}

type dumpDropReq struct {
	Namespace string `json:"namespace"`
	ID        string `json:"id"`
}

func (s *Server) handleDumpDrop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req dumpDropReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := s.rt.RemoveDump(req.ID, s.namespaceOrDefault(req.Namespace), callerUser(r)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDumpStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.rt.DumpStats())
}
