// Package server exposes the drafting pipeline over JSON HTTP and WebSocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xhad/reachout/internal/models"
	"github.com/xhad/reachout/pkg/pipeline"
	"github.com/xhad/reachout/pkg/profile"
	"github.com/xhad/reachout/pkg/prompt"
	"github.com/xhad/reachout/pkg/resume"
)

// Drafter runs one drafting session.
type Drafter interface {
	Run(ctx context.Context, req pipeline.Request, opts ...pipeline.DraftOption) (*pipeline.Session, error)
}

// JobFetcher downloads a job posting by URL.
type JobFetcher interface {
	FetchJob(ctx context.Context, url string) (profile.JobPosting, error)
}

// Message is one WebSocket frame in either direction.
type Message struct {
	Type    string          `json:"type"`
	Content string          `json:"content,omitempty"`
	Stage   models.Stage    `json:"stage,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// DraftRequest asks for one email. JobURL takes precedence over JobText.
type DraftRequest struct {
	JobURL     string `json:"job_url,omitempty"`
	JobText    string `json:"job_text,omitempty"`
	ResumeText string `json:"resume_text"`
	Style      string `json:"style,omitempty"`
}

type DraftResponse struct {
	SessionID string                `json:"session_id"`
	Email     models.GeneratedEmail `json:"email"`
	Job       profile.JobPosting    `json:"job"`
	Match     profile.SkillMatch    `json:"match"`
}

type errorResponse struct {
	Error string       `json:"error"`
	Stage models.Stage `json:"stage,omitempty"`
}

type Config struct {
	Addr           string
	AllowedOrigins []string
	MaxBodyBytes   int64
}

type Server struct {
	config   Config
	drafter  Drafter
	fetcher  JobFetcher
	upgrader websocket.Upgrader
	mux      *http.ServeMux
}

// New builds the server. fetcher may be nil, in which case job URLs are rejected.
func New(drafter Drafter, fetcher JobFetcher, config Config) (*Server, error) {
	if drafter == nil {
		return nil, fmt.Errorf("%w: server needs a drafter", models.ErrInvalidConfig)
	}
	if config.Addr == "" {
		config.Addr = ":8080"
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = 2 << 20
	}

	s := &Server{
		config:  config,
		drafter: drafter,
		fetcher: fetcher,
		mux:     http.NewServeMux(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	s.mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	s.mux.HandleFunc("POST /draft", s.handleDraft)
	s.mux.HandleFunc("GET /ws", s.handleWebSocket)
	return s, nil
}

func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Starting server on %s", s.config.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.config.AllowedOrigins) == 0 {
		return true
	}
	return slices.Contains(s.config.AllowedOrigins, r.Header.Get("Origin"))
}

func (s *Server) handleDraft(w http.ResponseWriter, r *http.Request) {
	var req DraftRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid request body: %v", err)})
		return
	}

	resp, err := s.draft(r.Context(), req, nil)
	if err != nil {
		log.Printf("Draft failed: %v", err)
		stage, _ := models.FailedStage(err)
		writeJSON(w, statusFor(err), errorResponse{Error: err.Error(), Stage: stage})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// draft resolves the job posting, parses the resume and runs the pipeline.
func (s *Server) draft(ctx context.Context, req DraftRequest, progress func(models.Stage)) (DraftResponse, error) {
	if req.Style != "" && !slices.Contains(prompt.Styles(), req.Style) {
		return DraftResponse{}, fmt.Errorf("%w: unknown style %q", models.ErrInvalidArgument, req.Style)
	}

	var job profile.JobPosting
	switch {
	case strings.TrimSpace(req.JobURL) != "":
		if s.fetcher == nil {
			return DraftResponse{}, fmt.Errorf("%w: job urls are not supported", models.ErrInvalidArgument)
		}
		var err error
		job, err = s.fetcher.FetchJob(ctx, req.JobURL)
		if err != nil {
			return DraftResponse{}, fmt.Errorf("failed to fetch job: %w", err)
		}
	case strings.TrimSpace(req.JobText) != "":
		job = profile.JobFromText(req.JobText)
	default:
		return DraftResponse{}, fmt.Errorf("%w: job_url or job_text is required", models.ErrInvalidArgument)
	}

	res := resume.Parse(req.ResumeText)

	var opts []pipeline.DraftOption
	if req.Style != "" {
		opts = append(opts, pipeline.WithStyle(req.Style))
	}
	if progress != nil {
		opts = append(opts, pipeline.WithProgress(progress))
	}

	session, err := s.drafter.Run(ctx, pipeline.NewRequest(job, res), opts...)
	if err != nil {
		return DraftResponse{}, err
	}
	return DraftResponse{
		SessionID: session.ID,
		Email:     session.Email,
		Job:       job,
		Match:     profile.MatchSkills(job.Skills, res.Skills),
	}, nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, models.ErrEmbeddingService), errors.Is(err, models.ErrGeneration):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error writing response: %v", err)
	}
}

// wsConn serialises writes; gorilla connections allow one writer at a time.
type wsConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) send(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.WriteJSON(msg); err != nil {
		log.Printf("Error sending message: %v", err)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	conn := &wsConn{Conn: ws}
	ws.SetReadLimit(s.config.MaxBodyBytes)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	defer conn.Close()
	defer wg.Wait()
	defer cancel()

	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("Error reading message: %v", err)
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			conn.send(Message{Type: "error", Content: fmt.Sprintf("invalid message: %v", err)})
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleMessage(ctx, conn, msg)
		}()
	}
}

func (s *Server) handleMessage(ctx context.Context, conn *wsConn, msg Message) {
	switch msg.Type {
	case "ping":
		conn.send(Message{Type: "pong"})
	case "draft":
		var req DraftRequest
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			conn.send(Message{Type: "error", Content: fmt.Sprintf("invalid draft request: %v", err)})
			return
		}

		resp, err := s.draft(ctx, req, func(stage models.Stage) {
			conn.send(Message{Type: "status", Stage: stage, Content: statusText[stage]})
		})
		if err != nil {
			log.Printf("Draft failed: %v", err)
			stage, _ := models.FailedStage(err)
			conn.send(Message{Type: "error", Stage: stage, Content: err.Error()})
			return
		}

		data, err := json.Marshal(resp)
		if err != nil {
			conn.send(Message{Type: "error", Content: err.Error()})
			return
		}
		conn.send(Message{Type: "email", Content: resp.Email.Subject, Data: data})
	default:
		conn.send(Message{Type: "error", Content: fmt.Sprintf("unknown message type %q", msg.Type)})
	}
}

var statusText = map[models.Stage]string{
	models.StageIndexing:   "Indexing job posting and resume",
	models.StageRetrieval:  "Retrieving relevant context",
	models.StageGeneration: "Drafting email",
}
