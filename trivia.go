// Partybox Trivia Game
//
// A Jeopardy-style board game for one room of players. One host ("Trebek")
// drives the game: starts rounds, picks questions, and rules on answers.
// Players join a team and race to buzz in once the buzz window opens; a
// passive display screen mirrors the shared state for the big screen.
//
// Features:
// - WebSocket endpoint at /path/ws, shared by host, players, and displays
// - Host registration is last-writer-wins; host-only actions are enforced
// - Question catalog loaded from CSV when the host registers
// - Two rounds of categories x values, board cells marked used once picked
// - Fixed buzz delay after a question is revealed, then first-come buzzing
// - One attempt per team per question; wrong answers pass down the queue
// - Score deltas pushed to display screens after every ruling
// - Players reconnect with their stored player/team ids after a drop
// - In-browser QR button to share the game URL, backed by go-qrcode

package main

import (
	"crypto/rand"
	_ "embed"
	"encoding/hex"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// Messages coming from clients
type ClientMessage struct {
	Type     string `json:"type"`                // action name, e.g. "buzz"
	Name     string `json:"name,omitempty"`      // create_team / join_game
	TeamID   string `json:"team_id,omitempty"`   // join_game / reconnect_player
	PlayerID string `json:"player_id,omitempty"` // buzz / reconnect_player
	Round    int    `json:"round,omitempty"`     // start_round
	Category string `json:"category,omitempty"`  // select_question
	Value    int    `json:"value,omitempty"`     // select_question
	Correct  *bool  `json:"correct,omitempty"`   // adjudicate
}

// ConnectionResponseMessage is sent once when a client connects.
type ConnectionResponseMessage struct {
	Type   string `json:"type"` // "connection_response"
	Status string `json:"status"`
	SID    string `json:"sid"`
}

// GameUpdateMessage carries the full game summary to every client.
type GameUpdateMessage struct {
	Type string `json:"type"` // "game_update"
	GameSummary
}

// BoardUpdateMessage carries the board grid for one round.
type BoardUpdateMessage struct {
	Type  string                 `json:"type"` // "board_update"
	Round int                    `json:"round"`
	Board map[string][]BoardCell `json:"board"`
}

// RegistrationSuccessMessage confirms a role to the registering client.
type RegistrationSuccessMessage struct {
	Type     string `json:"type"` // "registration_success"
	Role     string `json:"role"` // "trebek", "display", or "player"
	PlayerID string `json:"player_id,omitempty"`
	TeamID   string `json:"team_id,omitempty"`
}

// ScoreUpdateMessage goes to display screens after each adjudication.
type ScoreUpdateMessage struct {
	Type        string `json:"type"` // "score_update"
	PlayerName  string `json:"player_name"`
	TeamID      string `json:"team_id"`
	Correct     bool   `json:"correct"`
	ScoreChange int    `json:"score_change"`
	OldScore    int    `json:"old_score"`
	NewScore    int    `json:"new_score"`
}

// BuzzRejectedMessage is sent only to a player whose buzz was refused.
type BuzzRejectedMessage struct {
	Type   string `json:"type"` // "buzz_rejected"
	Reason string `json:"reason"`
}

// ErrorMessage is for caller-directed failures, including unauthorized
// host actions.
type ErrorMessage struct {
	Type    string `json:"type"` // "error"
	Message string `json:"message"`
}

// ReconnectFailedMessage tells a client its cached identity is stale and
// should be discarded.
type ReconnectFailedMessage struct {
	Type string `json:"type"` // "reconnect_failed"
}

type Client struct {
	conn      *websocket.Conn
	send      chan any
	sessionID string
	display   bool // set when the client registers as a display screen
}

type clientEvent struct {
	client *Client
	msg    ClientMessage
}

// Hub owns the one game of this process: every inbound event and the buzz
// timer callback funnel through its run loop, so engine calls triggered by
// the network are serialized in arrival order.
type Hub struct {
	cfg    *Config
	engine *Engine
	timer  *buzzTimer

	clients  map[*Client]bool
	register chan *Client
	unreg    chan *Client
	events   chan clientEvent
	buzzOpen chan uint64 // armed question seq, delivered when the delay elapses
}

func newHub(cfg *Config, clock clockwork.Clock) *Hub {
	return &Hub{
		cfg:      cfg,
		engine:   newEngine(clock),
		timer:    newBuzzTimer(clock),
		clients:  make(map[*Client]bool),
		register: make(chan *Client),
		unreg:    make(chan *Client),
		events:   make(chan clientEvent),
		buzzOpen: make(chan uint64, 1),
	}
}

func (h *Hub) run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true

			h.sendTo(c, ConnectionResponseMessage{
				Type:   "connection_response",
				Status: "connected",
				SID:    c.sessionID,
			})
			h.sendTo(c, h.gameUpdate())

		case c := <-h.unreg:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}

			if _, found := h.engine.MarkDisconnected(c.sessionID); found {
				h.broadcast(h.gameUpdate())
			}

		case ev := <-h.events:
			h.dispatch(ev)

		case seq := <-h.buzzOpen:
			if h.engine.EnableBuzzing(seq) {
				h.broadcast(h.gameUpdate())
			}
		}
	}
}

func (h *Hub) dispatch(ev clientEvent) {
	c := ev.client
	msg := ev.msg

	switch msg.Type {
	case "register_host":
		h.engine.SetHost(c.sessionID)
		if err := loadQuestionsFile(h.engine, h.cfg.questions); err != nil {
			logf(h.cfg, "GAMES: %v", err)
		}
		h.sendTo(c, RegistrationSuccessMessage{
			Type: "registration_success",
			Role: "trebek",
		})
		h.sendTo(c, h.gameUpdate())
		logf(h.cfg, "GAMES: Host registered (%s)", c.sessionID)

	case "register_display":
		c.display = true
		h.sendTo(c, RegistrationSuccessMessage{
			Type: "registration_success",
			Role: "display",
		})
		h.sendTo(c, h.gameUpdate())

		// A display joining mid-round needs the board right away.
		if round := h.engine.CurrentRound(); round != 0 {
			h.sendTo(c, h.boardUpdate(round))
		}

	case "create_team":
		name := strings.TrimSpace(msg.Name)
		if name == "" {
			h.sendTo(c, ErrorMessage{Type: "error", Message: "Team name required"})
			return
		}

		team := h.engine.CreateTeam(name)
		logf(h.cfg, "GAMES: Team %q created (%s)", team.Name, team.ID)
		h.broadcast(h.gameUpdate())

	case "join_game":
		name := strings.TrimSpace(msg.Name)
		teamID := strings.TrimSpace(msg.TeamID)
		if name == "" || teamID == "" {
			h.sendTo(c, ErrorMessage{Type: "error", Message: "Name and team required"})
			return
		}

		player, err := h.engine.AddPlayer(name, teamID, c.sessionID)
		if err != nil {
			h.sendTo(c, ErrorMessage{Type: "error", Message: "Invalid team"})
			return
		}

		h.sendTo(c, RegistrationSuccessMessage{
			Type:     "registration_success",
			Role:     "player",
			PlayerID: player.ID,
			TeamID:   teamID,
		})
		logf(h.cfg, "GAMES: Player %q joined %s", player.Name, teamID)
		h.broadcast(h.gameUpdate())

	case "reconnect_player":
		player, err := h.engine.ReconnectPlayer(msg.PlayerID, msg.TeamID, c.sessionID)
		if err != nil {
			h.sendTo(c, ReconnectFailedMessage{Type: "reconnect_failed"})
			return
		}

		h.sendTo(c, RegistrationSuccessMessage{
			Type:     "registration_success",
			Role:     "player",
			PlayerID: player.ID,
			TeamID:   player.TeamID,
		})
		h.broadcast(h.gameUpdate())

	case "start_round":
		if !h.engine.IsHost(c.sessionID) {
			h.sendTo(c, ErrorMessage{Type: "error", Message: "Unauthorized"})
			return
		}

		round := msg.Round
		if round == 0 {
			round = 1
		}

		h.engine.StartRound(round)
		h.broadcast(h.gameUpdate())
		h.broadcast(h.boardUpdate(round))

	case "select_question":
		if !h.engine.IsHost(c.sessionID) {
			h.sendTo(c, ErrorMessage{Type: "error", Message: "Unauthorized"})
			return
		}

		_, seq, err := h.engine.SelectQuestion(msg.Category, msg.Value)
		if err != nil {
			h.sendTo(c, ErrorMessage{Type: "error", Message: "Question not available"})
			return
		}

		h.broadcast(h.gameUpdate())

		h.timer.Arm(h.cfg.buzzDelay, seq, func(seq uint64) {
			h.buzzOpen <- seq
		})

	case "buzz":
		if err := h.engine.BuzzIn(msg.PlayerID); err != nil {
			h.sendTo(c, BuzzRejectedMessage{
				Type:   "buzz_rejected",
				Reason: "Already buzzed or team already attempted",
			})
			return
		}
		h.broadcast(h.gameUpdate())

	case "adjudicate":
		if !h.engine.IsHost(c.sessionID) {
			h.sendTo(c, ErrorMessage{Type: "error", Message: "Unauthorized"})
			return
		}

		result := h.engine.Adjudicate(msg.Correct != nil && *msg.Correct)

		summary := h.engine.Summary()
		h.broadcast(GameUpdateMessage{Type: "game_update", GameSummary: summary})

		if result.Judged {
			h.broadcastDisplays(ScoreUpdateMessage{
				Type:        "score_update",
				PlayerName:  result.PlayerName,
				TeamID:      result.TeamID,
				Correct:     result.Correct,
				ScoreChange: result.ScoreChange,
				OldScore:    result.OldScore,
				NewScore:    result.NewScore,
			})
		}

		// Once the question ends the board comes back for everyone.
		if summary.CurrentQuestion == nil {
			if round := h.engine.CurrentRound(); round != 0 {
				h.broadcast(h.boardUpdate(round))
			}
		}

	case "skip_question":
		if !h.engine.IsHost(c.sessionID) {
			h.sendTo(c, ErrorMessage{Type: "error", Message: "Unauthorized"})
			return
		}

		h.timer.Cancel()
		h.engine.SkipQuestion()
		h.broadcast(h.gameUpdate())
		if round := h.engine.CurrentRound(); round != 0 {
			h.broadcast(h.boardUpdate(round))
		}

	case "request_game_state":
		h.sendTo(c, h.gameUpdate())

	default:
		// ignore unknown types
	}
}

func (h *Hub) gameUpdate() GameUpdateMessage {
	return GameUpdateMessage{
		Type:        "game_update",
		GameSummary: h.engine.Summary(),
	}
}

func (h *Hub) boardUpdate(round int) BoardUpdateMessage {
	return BoardUpdateMessage{
		Type:  "board_update",
		Round: round,
		Board: h.engine.BoardState(round),
	}
}

func (h *Hub) sendTo(c *Client, msg any) {
	if !h.clients[c] {
		return
	}

	select {
	case c.send <- msg:
	default:
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) broadcast(msg any) {
	for client := range h.clients {
		select {
		case client.send <- msg:
		default:
			delete(h.clients, client)
			close(client.send)
		}
	}
}

// broadcastDisplays sends only to clients registered as display screens.
func (h *Hub) broadcastDisplays(msg any) {
	for client := range h.clients {
		if !client.display {
			continue
		}

		select {
		case client.send <- msg:
		default:
			delete(h.clients, client)
			close(client.send)
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// newSessionID generates the per-connection session identifier. The host
// claim and player session binding both key off it.
func newSessionID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		log.Println("rand.Read error:", err)
		return ""
	}
	return hex.EncodeToString(buf)
}

func serveWS(cfg *Config, hub *Hub) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		sessionID := newSessionID()
		if sessionID == "" {
			http.Error(w, "unable to assign session id", http.StatusInternalServerError)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		client := &Client{
			conn:      conn,
			send:      make(chan any, 8),
			sessionID: sessionID,
		}

		hub.register <- client

		go client.writePump()
		client.readPump(hub)
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		h.unreg <- c
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		h.events <- clientEvent{
			client: c,
			msg:    msg,
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// QR handler: generates a PNG QR code for the game URL using go-qrcode.
func qrHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	// We are at /.../qr; strip the trailing "/qr" to get the game URL.
	path := strings.TrimSuffix(r.URL.Path, "/qr")

	url := scheme + "://" + r.Host + path

	const qrSize = 320 // mobile-friendly size
	png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
	if err != nil {
		http.Error(w, "qr generation failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// ---- Static file paths ----

//go:embed trivia/index.html
var indexHTML []byte

//go:embed trivia/display.html
var displayHTML []byte

//go:embed trivia/app.css
var triviaCSS []byte

//go:embed trivia/app.js
var triviaJS []byte

func staticHandler(cfg *Config, contentType string, data []byte) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(data)
	}
}

// registerTriviaGame sets up routes so that:
//   - $path           → host/player client (HTML)
//   - $path/display   → display screen client (HTML)
//   - $path/ws        → WebSocket shared by all roles
//   - $path/qr        → PNG QR code for the game URL
func registerTriviaGame(cfg *Config, path string, mux *httprouter.Router, clock clockwork.Clock) *Hub {
	hub := newHub(cfg, clock)
	go hub.run()

	mux.GET(cfg.prefix+path, staticHandler(cfg, "text/html; charset=utf-8", indexHTML))
	mux.GET(cfg.prefix+path+"/display", staticHandler(cfg, "text/html; charset=utf-8", displayHTML))

	// Shared assets
	mux.GET(cfg.prefix+"/assets/trivia/app.css", staticHandler(cfg, "text/css; charset=utf-8", triviaCSS))
	mux.GET(cfg.prefix+"/assets/trivia/app.js", staticHandler(cfg, "application/javascript; charset=utf-8", triviaJS))

	// WebSocket
	mux.GET(cfg.prefix+path+"/ws", serveWS(cfg, hub))

	// QR code
	mux.GET(cfg.prefix+path+"/qr", qrHandler)

	return hub
}
