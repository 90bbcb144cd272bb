package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"phobos.org.uk/toolstream/internal/api"
	"phobos.org.uk/toolstream/internal/logging"
	"phobos.org.uk/toolstream/internal/stream"
	"phobos.org.uk/toolstream/internal/toolerrors"
)

// maxBodySize bounds chunk and replay request bodies.
const maxBodySize = 8 << 20

// ChunksResponse is returned by chunk submission and replay.
type ChunksResponse struct {
	Results []*stream.StreamingResult `json:"results"`
}

// ParserFailure is returned when a registered parser fails with something
// other than incomplete input. Results holds what was produced before it.
type ParserFailure struct {
	Error      string                    `json:"error"`
	Message    string                    `json:"message"`
	Tool       string                    `json:"tool,omitempty"`
	ToolCallID string                    `json:"tool_call_id,omitempty"`
	ChunkIndex *int                      `json:"chunk_index,omitempty"`
	Results    []*stream.StreamingResult `json:"results"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Type:          api.TypeToolstream,
		Interfaces:    []string{api.InterfaceStatusable, api.InterfaceStreamable, api.InterfaceObservable},
		Version:       s.version,
		UptimeSeconds: time.Since(s.startTime).Seconds(),
		Tools:         s.tools,
		Sessions:      s.sessionInfos(),
		Config: StatusConfig{
			Port:               s.config.Port,
			MaxSessions:        s.config.Stream.MaxSessions,
			IdleTimeoutSeconds: s.config.Stream.SessionIdleTimeout.Seconds(),
			SubagentMaxDepth:   s.config.Subagent.MaxDepth,
		},
	}
	api.WriteJSON(w, http.StatusOK, resp)
}

// handleShutdown acknowledges the request and shuts down in the background.
func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TimeoutSeconds int `json:"timeout_seconds"`
	}
	req.TimeoutSeconds = 30

	// Defaults are safe when the body is empty or malformed
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.TimeoutSeconds <= 0 {
		req.TimeoutSeconds = 30
	}

	api.WriteJSON(w, http.StatusAccepted, map[string]any{
		"message":       "Shutdown initiated",
		"drain_timeout": req.TimeoutSeconds,
	})

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(req.TimeoutSeconds)*time.Second)
		defer cancel()
		s.Shutdown(ctx)
	}()
}

// handleCreateSession opens a session.
// Returns 201 with session_id, 409 when the session limit is reached.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	id, err := s.CreateSession()
	switch {
	case errors.Is(err, ErrSessionLimit):
		api.WriteError(w, http.StatusConflict, api.ErrorSessionLimit,
			fmt.Sprintf("At most %d sessions may be open", s.config.Stream.MaxSessions))
		return
	case errors.Is(err, ErrShuttingDown):
		api.WriteError(w, http.StatusServiceUnavailable, api.ErrorShuttingDown, err.Error())
		return
	case err != nil:
		api.WriteError(w, http.StatusInternalServerError, api.ErrorValidation, err.Error())
		return
	}

	api.WriteJSON(w, http.StatusCreated, map[string]string{"session_id": id})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	api.WriteJSON(w, http.StatusOK, sess.info())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.DeleteSession(id); err != nil {
		api.WriteError(w, http.StatusNotFound, api.ErrorNotFound, "Session not found")
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{"session_id": id, "deleted": true})
}

func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	cleared := sess.reset()
	s.log.WithSession(sess.id).Info("session reset", map[string]any{"cleared": cleared})
	api.WriteJSON(w, http.StatusOK, map[string]any{"session_id": sess.id, "cleared": cleared})
}

// handleChunks applies a chunk, or an array of chunks, to a session in order.
// Returns 200 with the results, 400 for undecodable bodies, 404 for unknown
// sessions and 500 when a parser fails.
func (s *Server) handleChunks(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, api.ErrorValidation, "Reading body: "+err.Error())
		return
	}

	chunks, err := decodeChunks(body)
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, api.ErrorValidation, err.Error())
		return
	}

	results, index, err := sess.process(chunks)
	if err != nil {
		writeParserFailure(w, err, &index, results)
		return
	}
	api.WriteJSON(w, http.StatusOK, ChunksResponse{Results: results})
}

// handleReplay runs an NDJSON chunk stream through a fresh coordinator that
// is discarded afterwards.
func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	log := s.log.WithSession("replay")
	results := stream.NewResultLogger(log)

	out := make([]*stream.StreamingResult, 0)
	err := stream.Replay(r.Context(), http.MaxBytesReader(w, r.Body, maxBodySize), s.newCoordinator(),
		func(res *stream.StreamingResult) error {
			results.LogResult(res)
			out = append(out, res)
			return nil
		})
	if err != nil {
		var perr *toolerrors.ParserError
		if errors.As(err, &perr) {
			results.LogParserError(perr)
			writeParserFailure(w, err, nil, out)
			return
		}
		log.Warn("replay failed", map[string]any{"error": err.Error()})
		api.WriteError(w, http.StatusBadRequest, api.ErrorReplay, err.Error())
		return
	}
	api.WriteJSON(w, http.StatusOK, ChunksResponse{Results: out})
}

// handleLogs returns stored log entries.
// Query params: level, session_id, tool_call_id, since, until (RFC3339), limit (1-1000).
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	limit, err := api.ParseIntParam(params.Get("limit"), 1, 1000, 100)
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, api.ErrorInvalidArgument, "limit "+err.Error())
		return
	}
	q := logging.Query{
		Limit:      limit,
		SessionID:  params.Get("session_id"),
		ToolCallID: params.Get("tool_call_id"),
	}

	if level := params.Get("level"); level != "" {
		lvl, ok := logging.ParseLevel(level)
		if !ok {
			api.WriteError(w, http.StatusBadRequest, api.ErrorInvalidArgument, "level must be debug, info, warn, or error")
			return
		}
		q.Level = lvl
	}
	if since := params.Get("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			q.Since = t
		}
	}
	if until := params.Get("until"); until != "" {
		if t, err := time.Parse(time.RFC3339, until); err == nil {
			q.Until = t
		}
	}

	api.WriteJSON(w, http.StatusOK, s.log.Query(q))
}

// handleLogStats returns log statistics without entries.
func (s *Server) handleLogStats(w http.ResponseWriter, r *http.Request) {
	api.WriteJSON(w, http.StatusOK, s.log.Stats())
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*session, bool) {
	sess, err := s.session(chi.URLParam(r, "id"))
	if err != nil {
		api.WriteError(w, http.StatusNotFound, api.ErrorNotFound, "Session not found")
		return nil, false
	}
	return sess, true
}

// decodeChunks accepts a single chunk object or an array of them. Array
// elements that are not objects are skipped.
func decodeChunks(body []byte) ([]*stream.Chunk, error) {
	raw := bytes.TrimSpace(body)
	if len(raw) == 0 {
		return nil, errors.New("request body is empty")
	}

	if raw[0] != '[' {
		chunk, err := stream.DecodeChunk(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
		if chunk == nil {
			return nil, errors.New("chunk must be a JSON object or an array of objects")
		}
		return []*stream.Chunk{chunk}, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	chunks := make([]*stream.Chunk, 0, len(items))
	for i, item := range items {
		chunk, err := stream.DecodeChunk(item)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i, err)
		}
		if chunk != nil {
			chunks = append(chunks, chunk)
		}
	}
	return chunks, nil
}

func writeParserFailure(w http.ResponseWriter, err error, index *int, results []*stream.StreamingResult) {
	resp := ParserFailure{
		Error:      api.ErrorParser,
		Message:    err.Error(),
		ChunkIndex: index,
		Results:    results,
	}
	var perr *toolerrors.ParserError
	if errors.As(err, &perr) {
		resp.Tool = perr.Tool
		resp.ToolCallID = perr.ToolCallID
	}
	api.WriteJSON(w, http.StatusInternalServerError, resp)
}
