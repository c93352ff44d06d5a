package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/GeneralBots/BotServer-sub001/internal/channel"
	"github.com/GeneralBots/BotServer-sub001/internal/compiler"
	"github.com/GeneralBots/BotServer-sub001/internal/engine"
	"github.com/GeneralBots/BotServer-sub001/internal/sandbox"
)

// maxBodyBytes bounds request bodies, scripts included.
const maxBodyBytes = 4 << 20

// SetupRoutes registers the API:
//
//	GET  /health
//	GET  /scripts
//	POST /compile           {"path"} or {"name", "source", "legacy"}
//	POST /run/{script}      {"args", "entities", "answers", "tenant", "user", "page_mode"}
//	GET  /runs?script=&limit=
//	GET  /schedules
func (s *Server) SetupRoutes(r chi.Router) {
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/scripts", s.listScripts)
	r.Post("/compile", s.compile)
	r.Post("/run/{script}", s.run)
	r.Get("/runs", s.listRuns)
	r.Get("/schedules", s.listSchedules)
}

// CompileRequest is the body of POST /compile.
type CompileRequest struct {
	Path   string `json:"path,omitempty"`
	Name   string `json:"name,omitempty"`
	Source string `json:"source,omitempty"`
	Legacy bool   `json:"legacy,omitempty"`
}

// RunRequest is the body of POST /run/{script}.
type RunRequest struct {
	Tenant   string         `json:"tenant,omitempty"`
	User     string         `json:"user,omitempty"`
	Channel  string         `json:"channel,omitempty"`
	Locale   string         `json:"locale,omitempty"`
	PageMode string         `json:"page_mode,omitempty"`
	Args     map[string]any `json:"args,omitempty"`
	Entities map[string]any `json:"entities,omitempty"`
	Answers  []string       `json:"answers,omitempty"`
}

// RunResponse is a finished API run.
type RunResponse struct {
	Session    string   `json:"session"`
	Result     any      `json:"result"`
	Exited     bool     `json:"exited"`
	Transcript []string `json:"transcript"`
	Steps      uint64   `json:"steps"`
	DurationMS int64    `json:"duration_ms"`
}

// ErrorResponse reports a failed request.
type ErrorResponse struct {
	Error     string          `json:"error"`
	Kind      string          `json:"kind,omitempty"`
	Line      int             `json:"line,omitempty"`
	Backtrace []sandbox.Frame `json:"backtrace,omitempty"`
	Session   string          `json:"session,omitempty"`
	Extra     map[string]any  `json:"extra,omitempty"`
}

func (s *Server) listScripts(w http.ResponseWriter, _ *http.Request) {
	programs := s.engine.Registry().List()
	if programs == nil {
		programs = []*compiler.Program{}
	}
	writeJSON(w, http.StatusOK, programs)
}

func (s *Server) compile(w http.ResponseWriter, r *http.Request) {
	var req CompileRequest
	if !decode(w, r, &req) {
		return
	}

	var (
		p   *compiler.Program
		err error
	)
	switch {
	case req.Path != "":
		p, err = s.engine.Compile(r.Context(), req.Path)
	case req.Name != "" && req.Source != "":
		p, err = compiler.Compile(req.Source, compiler.Options{Name: req.Name, Legacy: req.Legacy})
		if err == nil {
			err = s.engine.Publish(r.Context(), p)
		}
	default:
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "either path or name and source are required"})
		return
	}

	if err != nil {
		kind, line := compiler.Describe(err)
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Error: err.Error(), Kind: kind, Line: line})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) run(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if !decode(w, r, &req) {
		return
	}

	sessionID := uuid.NewString()
	s.transcripts.Begin(sessionID, req.Answers)

	res, err := s.engine.Run(r.Context(), chi.URLParam(r, "script"), engine.RunOptions{
		Tenant:  req.Tenant,
		Trigger: engine.TriggerAPI,
		Session: channel.Session{
			ID:      sessionID,
			User:    req.User,
			Channel: req.Channel,
			Locale:  req.Locale,
		},
		Args:     req.Args,
		Entities: req.Entities,
		PageMode: req.PageMode,
	})
	transcript := s.transcripts.End(sessionID)

	if err != nil {
		writeRunError(w, sessionID, transcript, err)
		return
	}
	writeJSON(w, http.StatusOK, RunResponse{
		Session:    res.SessionID,
		Result:     res.Value,
		Exited:     res.Exited,
		Transcript: transcript,
		Steps:      res.Steps,
		DurationMS: res.Duration.Milliseconds(),
	})
}

func writeRunError(w http.ResponseWriter, sessionID string, transcript []string, err error) {
	resp := ErrorResponse{
		Error:   err.Error(),
		Kind:    sandbox.Kind(err),
		Session: sessionID,
		Extra:   map[string]any{"transcript": transcript},
	}
	status := http.StatusUnprocessableEntity

	var (
		notFound *engine.ScriptNotFoundError
		se       *sandbox.ScriptError
		le       *sandbox.LimitError
	)
	switch {
	case errors.As(err, &notFound):
		status = http.StatusNotFound
		resp.Kind = "not_found"
	case errors.As(err, &se):
		resp.Line = se.Line
		resp.Backtrace = se.Frames
	case errors.As(err, &le):
		status = http.StatusRequestTimeout
		if le.Kind != sandbox.LimitTimeout {
			status = http.StatusUnprocessableEntity
		}
	default:
		if kind, line := compiler.Describe(err); kind != "internal" {
			resp.Kind, resp.Line = kind, line
		}
	}
	writeJSON(w, status, resp)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "limit must be an integer"})
			return
		}
		limit = n
	}
	runs, err := s.engine.Store().ListRuns(r.Context(), r.URL.Query().Get("script"), limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	if runs == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

type jobInfo struct {
	ID     string `json:"id"`
	Cron   string `json:"cron"`
	Script string `json:"script"`
	Line   int    `json:"line"`
	Next   string `json:"next,omitempty"`
}

func (s *Server) listSchedules(w http.ResponseWriter, _ *http.Request) {
	jobs := s.engine.Scheduler().Jobs()
	out := make([]jobInfo, 0, len(jobs))
	for _, j := range jobs {
		info := jobInfo{ID: j.ID(), Cron: j.Cron, Script: j.Owner, Line: j.Line}
		if !j.Next.IsZero() {
			info.Next = j.Next.Format(time.RFC3339)
		}
		out = append(out, info)
	}
	writeJSON(w, http.StatusOK, out)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
