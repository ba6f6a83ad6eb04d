package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/roach88/flowrt/internal/engine"
	"github.com/roach88/flowrt/internal/ir"
	"github.com/roach88/flowrt/internal/rules"
)

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	ctxVersion, stateVersion := s.opts.Machine.Version()
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"flowId":         s.opts.FlowID,
		"dispatcher":     s.opts.Dispatcher.State().String(),
		"pending":        s.opts.Dispatcher.Pending(),
		"contextVersion": ctxVersion,
		"stateVersion":   stateVersion,
	})
}

type dispatchResponse struct {
	Accepted int   `json:"accepted"`
	Pending  int   `json:"pending"`
	LastSeq  int64 `json:"lastSeq"`
}

// handleDispatch queues actions for the dispatcher's worker. It accepts a
// single action object or {"actions": [...]}.
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	list, err := decodeActions(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	var resp dispatchResponse
	for _, a := range list {
		seq, ok := s.opts.Dispatcher.Submit(a)
		if !ok {
			respondError(w, http.StatusServiceUnavailable, "dispatcher stopped", engine.ErrStopped)
			return
		}
		resp.Accepted++
		resp.LastSeq = seq
	}
	resp.Pending = s.opts.Dispatcher.Pending()
	respondJSON(w, http.StatusAccepted, resp)
}

func decodeActions(r *http.Request) ([]ir.Action, error) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return nil, err
	}

	var list []ir.Action
	if batch, ok := raw["actions"]; ok {
		if err := json.Unmarshal(batch, &list); err != nil {
			return nil, err
		}
	} else {
		js, _ := json.Marshal(raw)
		var single ir.Action
		if err := json.Unmarshal(js, &single); err != nil {
			return nil, err
		}
		list = []ir.Action{single}
	}
	if len(list) == 0 {
		return nil, errors.New("no actions")
	}
	for i, a := range list {
		if a.Type == "" {
			return nil, errors.New("action type is required")
		}
		list[i].Seq = 0
	}
	return list, nil
}

type batchResponse struct {
	BatchID     string      `json:"batchId,omitempty"`
	Actions     []ir.Action `json:"actions"`
	ContextHash string      `json:"contextHash,omitempty"`
	Context     ir.Document `json:"context,omitempty"`
}

// handleProcess runs the pending batch synchronously. Used when the server
// runs without a background worker, and by tests. A client that goes away
// mid-batch does not abort it.
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	res, err := s.opts.Dispatcher.ProcessPending(r.Context())
	switch {
	case errors.Is(err, engine.ErrBatchInProgress):
		respondError(w, http.StatusConflict, "batch in progress", err)
		return
	case errors.Is(err, engine.ErrStopped):
		respondError(w, http.StatusServiceUnavailable, "dispatcher stopped", err)
		return
	case err != nil:
		var be *engine.BatchError
		if errors.As(err, &be) {
			respondJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":   "batch aborted",
				"details": be.Error(),
				"batchId": be.BatchID,
				"failed":  be.Failed,
				"dropped": be.Dropped,
			})
			return
		}
		respondError(w, http.StatusInternalServerError, "batch failed", err)
		return
	}
	if res == nil {
		respondJSON(w, http.StatusOK, batchResponse{Actions: []ir.Action{}})
		return
	}
	respondJSON(w, http.StatusOK, batchResponse{
		BatchID:     res.BatchID,
		Actions:     res.Actions,
		ContextHash: res.ContextHash,
		Context:     res.Context,
	})
}

func (s *Server) handleGetContext(w http.ResponseWriter, _ *http.Request) {
	doc, _, change := s.opts.Machine.Snapshot()
	hash, err := ir.DocumentHash(doc)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "hash context", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"version": change.ContextVersion,
		"hash":    hash,
		"context": doc,
	})
}

func (s *Server) handlePutContext(w http.ResponseWriter, r *http.Request) {
	var doc ir.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		respondError(w, http.StatusBadRequest, "invalid context", err)
		return
	}
	if doc == nil {
		doc = ir.Document{}
	}
	s.opts.Machine.SetContext(doc)
	s.handleGetContext(w, r)
}

// handleSetValue writes one value at a key path, the way a form element
// writes to its valueDestination.
func (s *Server) handleSetValue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path  string `json:"path"`
		Value any    `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	doc := s.opts.Machine.Context()
	if err := doc.Set(req.Path, req.Value); err != nil {
		respondError(w, http.StatusBadRequest, "invalid path", err)
		return
	}
	s.opts.Machine.SetContext(doc)
	s.handleGetContext(w, r)
}

func (s *Server) handleGetState(w http.ResponseWriter, _ *http.Request) {
	_, state, change := s.opts.Machine.Snapshot()
	respondJSON(w, http.StatusOK, map[string]any{
		"version": change.StateVersion,
		"state":   state,
	})
}

func (s *Server) handleSendEvent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string         `json:"name"`
		Payload map[string]any `json:"payload"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required", nil)
		return
	}
	if err := s.opts.Machine.SendEvent(r.Context(), req.Name, req.Payload); err != nil {
		respondError(w, http.StatusBadGateway, "send event failed", err)
		return
	}
	s.handleGetState(w, r)
}

// handleElements evaluates element rules against the live context. The
// page defaults to the current step, served from the element watcher when
// there is one; ?page= selects another, ?page=* all.
func (s *Server) handleElements(w http.ResponseWriter, r *http.Request) {
	if s.opts.Definition == nil {
		respondError(w, http.StatusNotFound, "no definition loaded", nil)
		return
	}
	doc, state, _ := s.opts.Machine.Snapshot()

	page := r.URL.Query().Get("page")
	switch page {
	case "":
		if cur, ok := state.Current(); ok {
			page = cur.Name
		}
	case "*":
		page = ""
	}

	var results []rules.ElementResult
	var err error
	if s.opts.Elements != nil && r.URL.Query().Get("page") == "" {
		results, err = s.opts.Elements.Results(), s.opts.Elements.Err()
	} else {
		results, err = s.opts.Executor.EvaluateElements(doc, s.opts.Definition, state, page)
	}
	if results == nil && err != nil {
		respondError(w, http.StatusNotFound, "evaluate elements", err)
		return
	}
	resp := map[string]any{"page": page, "elements": results}
	if err != nil {
		resp["errors"] = err.Error()
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleEvaluate tests ad-hoc rules against the live context, or against
// the context given in the request.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rules   []ir.Rule     `json:"rules"`
		Context ir.Document   `json:"context"`
		Element *ir.UIElement `json:"element"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	doc, state, _ := s.opts.Machine.Snapshot()
	if req.Context != nil {
		doc = req.Context
	}
	results, err := s.opts.Executor.Execute(doc, req.Rules, req.Element, state)
	resp := map[string]any{
		"results": results,
		"passed":  rules.AllPassed(results),
	}
	if err != nil {
		resp["errors"] = err.Error()
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBatches(w http.ResponseWriter, r *http.Request) {
	if s.opts.Journal == nil {
		respondError(w, http.StatusNotFound, "no journal configured", nil)
		return
	}
	batches, err := s.opts.Journal.ReadBatches(r.Context(), s.opts.FlowID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "read journal", err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"flowId": s.opts.FlowID, "batches": batches})
}
