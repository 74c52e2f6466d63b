package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relabs-tech/indoor_tracker/internal/position"
	"github.com/relabs-tech/indoor_tracker/internal/publish"
	"github.com/relabs-tech/indoor_tracker/internal/recorder"
	"github.com/relabs-tech/indoor_tracker/internal/route"
	"github.com/relabs-tech/indoor_tracker/internal/session"
)

const (
	maxRouteBytes   = 1 << 20
	liveBufferSize  = 64
	liveWriteWait   = time.Second
	startWaitExtra  = 2 * time.Second
	defaultSessions = 20
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// Server exposes a tracking session over HTTP.
type Server struct {
	sess      *session.Session
	publisher *publish.Publisher // optional
	recorder  *recorder.Recorder // optional
	staticDir string

	// startTimeout bounds POST /api/session/start. It outlasts the session
	// permission timeout so a slow platform reports ErrPermissionTimeout.
	startTimeout time.Duration
}

// NewServer builds the HTTP front end. publisher and rec may be nil.
func NewServer(sess *session.Session, publisher *publish.Publisher, rec *recorder.Recorder, staticDir string) *Server {
	return &Server{
		sess:         sess,
		publisher:    publisher,
		recorder:     rec,
		staticDir:    staticDir,
		startTimeout: sess.PermissionTimeout() + startWaitExtra,
	}
}

// Handler returns the routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/debug", s.handleDebug)
	mux.HandleFunc("GET /api/debug.png", s.handleDebugPNG)
	mux.HandleFunc("GET /api/position", s.handlePosition)
	mux.HandleFunc("GET /api/history", s.handleHistory)
	mux.HandleFunc("POST /api/position", s.handleSetPosition)
	mux.HandleFunc("POST /api/screen-rotation", s.handleScreenRotation)
	mux.HandleFunc("POST /api/session/start", s.handleStart)
	mux.HandleFunc("POST /api/session/stop", s.handleStop)
	mux.HandleFunc("POST /api/route", s.handleLoadRoute)
	mux.HandleFunc("DELETE /api/route", s.handleClearRoute)
	mux.HandleFunc("GET /api/navigation", s.handleProgress)
	mux.HandleFunc("POST /api/navigation/start", s.handleNavStart)
	mux.HandleFunc("POST /api/navigation/stop", s.handleNavStop)
	mux.HandleFunc("POST /api/navigation/reset", s.handleNavReset)
	mux.HandleFunc("GET /api/sessions", s.handleSessions)
	mux.HandleFunc("GET /api/sessions/{id}/path", s.handleSessionPath)
	mux.HandleFunc("/ws/live", s.handleLiveWS)
	mux.HandleFunc("/ws/calibration", s.HandleCalibrationWS)

	if s.staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(s.staticDir)))
	}
	return mux
}

// ListenAndServe serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("web: server listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("web: json encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleDebug(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sess.DebugSnapshot())
}

func (s *Server) handleDebugPNG(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	if err := WriteStatusPNG(w, s.sess.DebugSnapshot()); err != nil {
		log.Printf("web: %v", err)
	}
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sess.Position())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sess.History())
}

type positionRequest struct {
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Recalibrate bool    `json:"recalibrate"`
}

func (s *Server) handleSetPosition(w http.ResponseWriter, r *http.Request) {
	var req positionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var pos position.Position
	if req.Recalibrate {
		pos = s.sess.Recalibrate(req.X, req.Y)
	} else {
		pos = s.sess.SetInitialPosition(req.X, req.Y)
	}
	writeJSON(w, http.StatusOK, pos)
}

func (s *Server) handleScreenRotation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Degrees int `json:"degrees"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.sess.SetScreenRotation(req.Degrees)
	w.WriteHeader(http.StatusNoContent)
}

// startStatus maps session start errors to HTTP codes.
func startStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, session.ErrUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, session.ErrPermissionTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, session.ErrStopped):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.startTimeout)
	defer cancel()

	if err := s.sess.Start(ctx); err != nil {
		log.Printf("web: session start failed: %v", err)
		writeError(w, startStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": s.sess.ID(), "active": s.sess.Active()})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.sess.Stop()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLoadRoute(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRouteBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rt, err := route.Parse(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.sess.LoadRoute(rt); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sess.RouteProgress())
}

func (s *Server) handleClearRoute(w http.ResponseWriter, r *http.Request) {
	s.sess.ClearRoute()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.sess.RouteProgress())
}

func (s *Server) handleNavStart(w http.ResponseWriter, r *http.Request) {
	if err := s.sess.StartNavigation(); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, s.sess.RouteProgress())
}

func (s *Server) handleNavStop(w http.ResponseWriter, r *http.Request) {
	s.sess.StopNavigation()
	writeJSON(w, http.StatusOK, s.sess.RouteProgress())
}

func (s *Server) handleNavReset(w http.ResponseWriter, r *http.Request) {
	s.sess.ResetRoute()
	writeJSON(w, http.StatusOK, s.sess.RouteProgress())
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		http.Error(w, "recorder disabled", http.StatusNotFound)
		return
	}
	limit := defaultSessions
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	sessions, err := s.recorder.Sessions(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleSessionPath(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		http.Error(w, "recorder disabled", http.StatusNotFound)
		return
	}
	path, err := s.recorder.Path(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, path)
}

// LiveMessage is one frame on /ws/live.
type LiveMessage struct {
	Type     string             `json:"type"` // position, progress, lifecycle
	Position *position.Position `json:"position,omitempty"`
	Progress *route.Progress    `json:"progress,omitempty"`
	Session  *session.Lifecycle `json:"session,omitempty"`
}

// handleLiveWS streams session output to a renderer. Frames are dropped
// when the client falls behind.
func (s *Server) handleLiveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("web: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	out := make(chan LiveMessage, liveBufferSize)
	var (
		mu     sync.Mutex
		closed bool
	)
	send := func(m LiveMessage) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case out <- m:
		default:
		}
	}

	unsubs := []func(){
		s.sess.Positions().Subscribe(func(p position.Position) {
			send(LiveMessage{Type: "position", Position: &p})
		}),
		s.sess.Progress().Subscribe(func(p route.Progress) {
			send(LiveMessage{Type: "progress", Progress: &p})
		}),
		s.sess.Lifecycle().Subscribe(func(l session.Lifecycle) {
			send(LiveMessage{Type: "lifecycle", Session: &l})
		}),
	}
	defer func() {
		for _, u := range unsubs {
			u()
		}
		mu.Lock()
		closed = true
		close(out)
		mu.Unlock()
	}()

	// current state first
	pos := s.sess.Position()
	send(LiveMessage{Type: "position", Position: &pos})

	// reader detects the client going away
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case m := <-out:
			conn.SetWriteDeadline(time.Now().Add(liveWriteWait))
			if err := conn.WriteJSON(m); err != nil {
				log.Printf("web: live write error: %v", err)
				return
			}
		}
	}
}
