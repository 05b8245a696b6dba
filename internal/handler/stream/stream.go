// Package stream pushes a game's broadcast events to WebSocket clients.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"nhooyr.io/websocket"

	"github.com/femildignizant/tambola/internal/broker"
	"github.com/femildignizant/tambola/internal/tambola"
)

const pingInterval = 30 * time.Second

type Subscriber interface {
	Subscribe(gameID string) chan broker.Message
	Unsubscribe(gameID string, ch chan broker.Message)
}

type Games interface {
	Game(ctx context.Context, gameID string) (tambola.Game, error)
}

// Frame is one event as written to the socket.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type Handler struct {
	logger *slog.Logger
	events Subscriber
	games  Games
}

func NewHandler(logger *slog.Logger, events Subscriber, games Games) *Handler {
	return &Handler{logger: logger, events: events, games: games}
}

// Routes expects to be mounted under a path carrying the {gameID} parameter.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.serve)
	return r
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request) {
	gameID := chi.URLParam(r, "gameID")
	if _, err := h.games.Game(r.Context(), gameID); err != nil {
		status := http.StatusNotFound
		if tambola.CodeOf(err) != tambola.CodeNotFound {
			h.logger.Error("loading game for stream", "game_id", gameID, "error", err)
			status = http.StatusInternalServerError
		}
		http.Error(w, http.StatusText(status), status)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Error("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	// Clients only listen; CloseRead handles their control frames and
	// cancels ctx when they go away.
	ctx := conn.CloseRead(r.Context())

	ch := h.events.Subscribe(gameID)
	defer h.events.Unsubscribe(gameID, ch)

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("websocket stream ended", "game_id", gameID, "error", ctx.Err())
			return
		case msg := <-ch:
			frame, err := json.Marshal(Frame{Type: msg.Type, Data: msg.Data})
			if err != nil {
				continue
			}
			if err := write(ctx, conn, frame); err != nil {
				h.logger.Debug("websocket write failed", "game_id", gameID, "error", err)
				return
			}
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
			err := conn.Ping(pctx)
			cancel()
			if err != nil {
				h.logger.Debug("websocket ping failed", "game_id", gameID, "error", err)
				return
			}
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
