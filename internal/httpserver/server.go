// Package httpserver exposes the practice-session API: session lifecycle and
// controls over REST, live state over a snapshot WebSocket, and microphone
// media signaling.
package httpserver

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/labstack/echo/v4"

	"github.com/mirkodgzconsulting/phoebe-practice/internal/capture"
	"github.com/mirkodgzconsulting/phoebe-practice/internal/inference"
	"github.com/mirkodgzconsulting/phoebe-practice/internal/playback"
	"github.com/mirkodgzconsulting/phoebe-practice/internal/rtc"
	"github.com/mirkodgzconsulting/phoebe-practice/internal/script"
	"github.com/mirkodgzconsulting/phoebe-practice/internal/session"
)

// Deps are the server's collaborators, assembled in cmd/server.
type Deps struct {
	Scripts       *script.Registry
	Gateway       inference.Gateway
	Media         *rtc.Handler
	Archiver      session.Archiver // optional
	RecordingsDir string
}

// Server bundles the router and the live session registry.
type Server struct {
	e    *echo.Echo
	deps Deps

	mu       sync.Mutex
	sessions map[string]*liveSession
}

// liveSession holds one session's full audio wiring.
type liveSession struct {
	orch  atomic.Pointer[session.Orchestrator]
	rec   *capture.Recorder
	gate  *capture.Gate
	clips *playback.Controller
	voice *playback.Fanout
	hub   *eventHub
}

type createSessionRequest struct {
	ScenarioID string `json:"scenarioId"`
	LevelID    string `json:"levelId"`
	Learner    struct {
		Name             string `json:"name"`
		NativeLanguage   string `json:"nativeLanguage"`
		ProficiencyLevel string `json:"proficiencyLevel"`
	} `json:"learner"`
}

type selectLevelRequest struct {
	LevelID string `json:"levelId"`
}

// New constructs the HTTP server with routes.
func New(deps Deps) *Server {
	s := &Server{
		e:        newRouter(),
		deps:     deps,
		sessions: make(map[string]*liveSession),
	}

	s.e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	api := s.e.Group("/api")
	api.POST("/sessions", s.createSession)
	api.GET("/sessions/:id", s.withSession(s.getSnapshot))
	api.DELETE("/sessions/:id", s.withSession(s.deleteSession))
	api.GET("/sessions/:id/history", s.withSession(s.getHistory))
	api.GET("/sessions/:id/events", s.withSession(s.serveEvents))
	api.GET("/sessions/:id/mic", s.withSession(s.serveMic))
	api.POST("/sessions/:id/recording/toggle", s.withSession(s.toggleRecording))
	api.POST("/sessions/:id/turn/advance", s.withSession(s.advanceTurn))
	api.POST("/sessions/:id/level", s.withSession(s.selectLevel))
	api.POST("/sessions/:id/reset", s.withSession(s.resetSession))
	api.POST("/sessions/:id/feedback/replay", s.withSession(s.replayFeedback))
	api.POST("/sessions/:id/say-expected", s.withSession(s.sayExpected))
	api.POST("/sessions/:id/reanalyze", s.withSession(s.reanalyze))

	return s
}

// Router exposes the underlying handler, mainly for tests.
func (s *Server) Router() http.Handler { return s.e }

// Start serves until Shutdown.
func (s *Server) Start(addr string) error { return s.e.Start(addr) }

// Shutdown closes every live session and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	live := make([]*liveSession, 0, len(s.sessions))
	for id, ls := range s.sessions {
		live = append(live, ls)
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	for _, ls := range live {
		ls.orch.Load().Close()
		ls.hub.closeAll()
	}
	return s.e.Shutdown(ctx)
}

func (s *Server) createSession(c echo.Context) error {
	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid session request")
	}

	scenario := s.deps.Scripts.Resolve(req.ScenarioID)
	ls := &liveSession{
		gate:  capture.NewGate(),
		voice: playback.NewFanout(),
		hub:   newEventHub(),
	}
	ls.rec = capture.NewRecorder(capture.NewDevice(), s.deps.RecordingsDir)
	ls.clips = playback.NewController(playback.NewClipLoader(), func(st playback.Status) {
		if o := ls.orch.Load(); o != nil {
			o.HandlePlaybackStatus(st)
		}
	})
	ls.clips.SetSink(ls.voice)

	orch := session.New(scenario, req.LevelID, inference.LearnerProfile{
		NativeLanguage:   req.Learner.NativeLanguage,
		ProficiencyLevel: req.Learner.ProficiencyLevel,
		LearnerName:      req.Learner.Name,
	}, session.Deps{
		Recorder:    ls.rec,
		Playback:    ls.clips,
		Gateway:     s.deps.Gateway,
		Permissions: ls.gate,
		Archiver:    s.deps.Archiver,
		OnChange:    ls.hub.broadcast,
	}, session.Options{})
	ls.orch.Store(orch)

	s.mu.Lock()
	s.sessions[orch.ID()] = ls
	s.mu.Unlock()

	orch.Start()
	return c.JSON(http.StatusCreated, orch.Snapshot())
}

// withSession resolves the :id path param to a live session.
func (s *Server) withSession(fn func(echo.Context, *liveSession) error) echo.HandlerFunc {
	return func(c echo.Context) error {
		s.mu.Lock()
		ls, ok := s.sessions[c.Param("id")]
		s.mu.Unlock()
		if !ok {
			return echo.NewHTTPError(http.StatusNotFound, "unknown session")
		}
		return fn(c, ls)
	}
}

func (s *Server) getSnapshot(c echo.Context, ls *liveSession) error {
	return c.JSON(http.StatusOK, ls.orch.Load().Snapshot())
}

func (s *Server) deleteSession(c echo.Context, ls *liveSession) error {
	orch := ls.orch.Load()
	s.mu.Lock()
	delete(s.sessions, orch.ID())
	s.mu.Unlock()

	orch.Close()
	ls.hub.closeAll()
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) getHistory(c echo.Context, ls *liveSession) error {
	return c.JSON(http.StatusOK, ls.orch.Load().History())
}

func (s *Server) serveEvents(c echo.Context, ls *liveSession) error {
	return ls.hub.serve(c.Response(), c.Request(), ls.orch.Load().Snapshot())
}

func (s *Server) serveMic(c echo.Context, ls *liveSession) error {
	s.deps.Media.ServeWebSocket(c.Response(), c.Request(), rtc.Binding{
		SessionID: ls.orch.Load().ID(),
		Mic:       ls.rec,
		Gate:      ls.gate,
		Voice:     ls.voice,
	})
	return nil
}

func (s *Server) toggleRecording(c echo.Context, ls *liveSession) error {
	return c.JSON(http.StatusOK, ls.orch.Load().ToggleRecording(c.Request().Context()))
}

func (s *Server) advanceTurn(c echo.Context, ls *liveSession) error {
	return c.JSON(http.StatusOK, ls.orch.Load().AdvanceTurn())
}

func (s *Server) selectLevel(c echo.Context, ls *liveSession) error {
	var req selectLevelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid level request")
	}
	return c.JSON(http.StatusOK, ls.orch.Load().SelectLevel(req.LevelID))
}

func (s *Server) resetSession(c echo.Context, ls *liveSession) error {
	return c.JSON(http.StatusOK, ls.orch.Load().ResetSession())
}

func (s *Server) replayFeedback(c echo.Context, ls *liveSession) error {
	return c.JSON(http.StatusOK, ls.orch.Load().ReplayFeedback())
}

func (s *Server) sayExpected(c echo.Context, ls *liveSession) error {
	return c.JSON(http.StatusOK, ls.orch.Load().SayExpected())
}

func (s *Server) reanalyze(c echo.Context, ls *liveSession) error {
	return c.JSON(http.StatusOK, ls.orch.Load().Reanalyze())
}
