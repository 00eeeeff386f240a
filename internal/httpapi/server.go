// Package httpapi is the Echo application fronting registration, room
// browsing, and the WebSocket upgrade (C10). Its construction — Recover
// middleware, slog request logger, graceful Run(ctx) — is carried over
// unchanged from the teacher's chat-domain Echo app; only the routes and
// their handlers are rebuilt for rooms instead of channels.
package httpapi

import (
	"context"
	"crypto/tls"
	"errors"
	"html"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"amadeus/internal/catalog"
	"amadeus/internal/playerlink"
	"amadeus/internal/registry"
	"amadeus/internal/room"
	"amadeus/internal/session"
)

// sessionCookie is the HTTP-only cookie name carrying a session nonce.
const sessionCookie = "amadeus_session"

// Server is the Echo application.
type Server struct {
	echo     *echo.Echo
	rooms    *registry.Registry
	sessions *session.Directory
	catalog  *catalog.Catalog
	upgrader websocket.Upgrader
	log      *slog.Logger
}

// New constructs an Echo app wired to rooms, sessions, and the catalog.
func New(rooms *registry.Registry, sessions *session.Directory, cat *catalog.Catalog, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger(log))

	s := &Server{
		echo:     e,
		rooms:    rooms,
		sessions: sessions,
		catalog:  cat,
		upgrader: websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }},
		log:      log,
	}
	s.registerRoutes()
	return s
}

// requestLogger returns Echo middleware that logs each HTTP request via slog.
func requestLogger(log *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			path := req.URL.Path

			if strings.HasSuffix(path, "/ws") {
				log.Debug("http request",
					"method", req.Method,
					"path", path,
					"status", c.Response().Status,
					"duration_ms", time.Since(start).Milliseconds(),
				)
			} else {
				log.Info("http request",
					"method", req.Method,
					"path", path,
					"status", c.Response().Status,
					"duration_ms", time.Since(start).Milliseconds(),
					"remote", c.RealIP(),
				)
			}
			return nil
		}
	}
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo { return s.echo }

func (s *Server) registerRoutes() {
	s.echo.GET("/", s.handleLanding)
	s.echo.POST("/register", s.handleRegister)
	s.echo.GET("/room", s.handleListRooms)
	s.echo.POST("/room", s.handleCreateRoom)
	s.echo.GET("/room/:id", s.handleRoomPage)
	s.echo.GET("/room/:id/ws", s.handleRoomWS)
}

// Run starts Echo and blocks until ctx cancellation or startup failure.
func (s *Server) Run(ctx context.Context, addr string) error {
	return s.run(ctx, func() error { return s.echo.Start(addr) })
}

// RunTLS starts Echo behind tlsConfig (a self-signed cert, typically) and
// blocks until ctx cancellation or startup failure.
func (s *Server) RunTLS(ctx context.Context, addr string, tlsConfig *tls.Config) error {
	return s.run(ctx, func() error {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return err
		}
		tlsLn := tls.NewListener(ln, tlsConfig)
		s.echo.Listener = tlsLn
		return s.echo.Start(addr)
	})
}

func (s *Server) run(ctx context.Context, start func() error) error {
	errCh := make(chan error, 1)
	go func() {
		err := start()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.log.Info("shutting down http server")
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutCtx)
		s.log.Info("http server stopped")
		return nil
	}
}

const landingPage = `<!doctype html>
<html><head><title>amadeus</title></head>
<body>
<h1>amadeus</h1>
<form method="post" action="/register">
  <input name="name" placeholder="display name" required>
  <button type="submit">play</button>
</form>
</body></html>`

func (s *Server) handleLanding(c echo.Context) error {
	return c.HTML(http.StatusOK, landingPage)
}

type registerRequest struct {
	Name string `json:"name" form:"name"`
}

type registerResponse struct {
	Nonce string `json:"nonce"`
}

func (s *Server) handleRegister(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	nonce, err := s.sessions.Register(c.Request().Context(), req.Name)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	c.SetCookie(&http.Cookie{
		Name:     sessionCookie,
		Value:    nonce,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return c.JSON(http.StatusOK, registerResponse{Nonce: nonce})
}

type roomListing struct {
	ID             string `json:"id"`
	ConnectedCount int    `json:"connected_count"`
	MaxPlayers     int    `json:"max_players"`
	Phase          string `json:"phase"`
}

func (s *Server) handleListRooms(c echo.Context) error {
	listings := s.rooms.Listings()
	out := make([]roomListing, len(listings))
	for i, l := range listings {
		out[i] = roomListing{
			ID:             l.ID,
			ConnectedCount: l.ConnectedCount,
			MaxPlayers:     l.MaxPlayers,
			Phase:          l.Phase,
		}
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleCreateRoom(c echo.Context) error {
	id := registry.NewRoomID()
	cfg := room.DefaultConfiguration()
	s.rooms.GetOrCreate(id, cfg)
	return c.Redirect(http.StatusSeeOther, "/room/"+id)
}

func (s *Server) handleRoomPage(c echo.Context) error {
	id := c.Param("id")
	if _, ok := s.rooms.Get(id); !ok {
		return echo.NewHTTPError(http.StatusNotFound, "room not found")
	}
	safeID := html.EscapeString(id)
	page := `<!doctype html><html><head><title>amadeus room</title></head><body>` +
		`<script>window.AMADEUS_ROOM="` + safeID + `";` +
		`window.AMADEUS_WS="/room/` + safeID + `/ws";</script>` +
		`</body></html>`
	return c.HTML(http.StatusOK, page)
}

func (s *Server) handleRoomWS(c echo.Context) error {
	id := c.Param("id")
	ctrl, ok := s.rooms.Get(id)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "room not found")
	}

	cookie, err := c.Cookie(sessionCookie)
	if err != nil || cookie.Value == "" {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing session cookie")
	}
	if _, known := s.sessions.NameFor(cookie.Value); !known {
		return echo.NewHTTPError(http.StatusUnauthorized, "unknown session")
	}
	_ = s.sessions.Touch(c.Request().Context(), cookie.Value)

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "room", id, "err", err)
		return nil
	}

	playerlink.Serve(c.Request().Context(), conn, cookie.Value, ctrl, s.log)
	return nil
}
