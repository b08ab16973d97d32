/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestHub starts a hub against a temp catalog and a fake clock. Clients
// are plain structs fed through the hub's channels; no websocket needed.
func newTestHub(t *testing.T) (*Hub, *clockwork.FakeClock) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "questions.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0o644))

	fc := clockwork.NewFakeClock()
	hub := newHub(&Config{
		questions: path,
		buzzDelay: 4 * time.Second,
	}, fc)
	go hub.run()

	return hub, fc
}

func connect(t *testing.T, hub *Hub, sessionID string) *Client {
	t.Helper()

	c := &Client{
		send:      make(chan any, 64),
		sessionID: sessionID,
	}
	hub.register <- c

	require.IsType(t, ConnectionResponseMessage{}, recvMsg(t, c))
	require.IsType(t, GameUpdateMessage{}, recvMsg(t, c))

	return c
}

func (c *Client) say(hub *Hub, msg ClientMessage) {
	hub.events <- clientEvent{client: c, msg: msg}
}

func recvMsg(t *testing.T, c *Client) any {
	t.Helper()

	select {
	case msg, ok := <-c.send:
		require.True(t, ok, "send channel closed")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func recvGameUpdate(t *testing.T, c *Client) GameUpdateMessage {
	t.Helper()

	msg := recvMsg(t, c)
	require.IsType(t, GameUpdateMessage{}, msg)
	return msg.(GameUpdateMessage)
}

func assertQuiet(t *testing.T, c *Client) {
	t.Helper()

	select {
	case msg := <-c.send:
		t.Fatalf("unexpected message: %#v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func registerHost(t *testing.T, hub *Hub, c *Client) {
	t.Helper()

	c.say(hub, ClientMessage{Type: "register_host"})

	msg := recvMsg(t, c)
	require.IsType(t, RegistrationSuccessMessage{}, msg)
	require.Equal(t, "trebek", msg.(RegistrationSuccessMessage).Role)
	recvGameUpdate(t, c)
}

func TestHubConnectSendsState(t *testing.T) {
	hub, _ := newTestHub(t)

	c := &Client{send: make(chan any, 64), sessionID: "s1"}
	hub.register <- c

	hello := recvMsg(t, c)
	require.IsType(t, ConnectionResponseMessage{}, hello)
	assert.Equal(t, "connected", hello.(ConnectionResponseMessage).Status)
	assert.Equal(t, "s1", hello.(ConnectionResponseMessage).SID)

	update := recvGameUpdate(t, c)
	assert.Equal(t, PhaseLobby, update.Phase)

	c.say(hub, ClientMessage{Type: "request_game_state"})
	recvGameUpdate(t, c)
}

func TestHubHostOnlyActions(t *testing.T) {
	hub, _ := newTestHub(t)
	stranger := connect(t, hub, "s1")

	for _, action := range []string{"start_round", "select_question", "adjudicate", "skip_question"} {
		stranger.say(hub, ClientMessage{Type: action})

		msg := recvMsg(t, stranger)
		require.IsType(t, ErrorMessage{}, msg, "action %s", action)
		assert.Equal(t, "Unauthorized", msg.(ErrorMessage).Message)
	}

	// None of the refused calls moved the game.
	assert.Equal(t, PhaseLobby, hub.engine.Phase())
}

func TestHubHostClaimLastWriterWins(t *testing.T) {
	hub, _ := newTestHub(t)

	first := connect(t, hub, "s1")
	second := connect(t, hub, "s2")

	registerHost(t, hub, first)
	registerHost(t, hub, second)

	// The displaced host is now unauthorized.
	first.say(hub, ClientMessage{Type: "start_round", Round: 1})
	require.IsType(t, ErrorMessage{}, recvMsg(t, first))

	second.say(hub, ClientMessage{Type: "start_round", Round: 1})
	update := recvGameUpdate(t, second)
	assert.Equal(t, PhaseRound1, update.Phase)
}

func TestHubCreateTeamValidation(t *testing.T) {
	hub, _ := newTestHub(t)
	c := connect(t, hub, "s1")

	c.say(hub, ClientMessage{Type: "create_team", Name: "   "})
	msg := recvMsg(t, c)
	require.IsType(t, ErrorMessage{}, msg)
	assert.Equal(t, "Team name required", msg.(ErrorMessage).Message)

	c.say(hub, ClientMessage{Type: "create_team", Name: "Alpha"})
	update := recvGameUpdate(t, c)
	require.Len(t, update.Teams, 1)
	assert.Equal(t, "Alpha", update.Teams[0].Name)
}

func TestHubJoinGame(t *testing.T) {
	hub, _ := newTestHub(t)
	c := connect(t, hub, "s1")

	c.say(hub, ClientMessage{Type: "create_team", Name: "Alpha"})
	recvGameUpdate(t, c)

	c.say(hub, ClientMessage{Type: "join_game", Name: "Alice", TeamID: "team_1"})
	msg := recvMsg(t, c)
	require.IsType(t, RegistrationSuccessMessage{}, msg)
	reg := msg.(RegistrationSuccessMessage)
	assert.Equal(t, "player", reg.Role)
	assert.Equal(t, "player_1", reg.PlayerID)
	assert.Equal(t, "team_1", reg.TeamID)
	recvGameUpdate(t, c)

	// Unknown team is a caller-directed error, not a crash.
	c.say(hub, ClientMessage{Type: "join_game", Name: "Bob", TeamID: "team_99"})
	msg = recvMsg(t, c)
	require.IsType(t, ErrorMessage{}, msg)
	assert.Equal(t, "Invalid team", msg.(ErrorMessage).Message)
}

func TestHubReconnect(t *testing.T) {
	hub, _ := newTestHub(t)

	original := connect(t, hub, "s1")
	original.say(hub, ClientMessage{Type: "create_team", Name: "Alpha"})
	recvGameUpdate(t, original)
	original.say(hub, ClientMessage{Type: "join_game", Name: "Alice", TeamID: "team_1"})
	require.IsType(t, RegistrationSuccessMessage{}, recvMsg(t, original))
	recvGameUpdate(t, original)

	// Fresh connection with the stored identity.
	returning := connect(t, hub, "s2")
	returning.say(hub, ClientMessage{Type: "reconnect_player", PlayerID: "player_1", TeamID: "team_1"})

	msg := recvMsg(t, returning)
	require.IsType(t, RegistrationSuccessMessage{}, msg)
	assert.Equal(t, "player_1", msg.(RegistrationSuccessMessage).PlayerID)
	recvGameUpdate(t, returning)

	// Stale identity: discard and start over.
	imposter := connect(t, hub, "s3")
	imposter.say(hub, ClientMessage{Type: "reconnect_player", PlayerID: "player_9", TeamID: "team_1"})
	require.IsType(t, ReconnectFailedMessage{}, recvMsg(t, imposter))
}

func TestHubDisconnectMarksPlayer(t *testing.T) {
	hub, _ := newTestHub(t)

	player := connect(t, hub, "s1")
	watcher := connect(t, hub, "s2")

	player.say(hub, ClientMessage{Type: "create_team", Name: "Alpha"})
	recvGameUpdate(t, player)
	recvGameUpdate(t, watcher)
	player.say(hub, ClientMessage{Type: "join_game", Name: "Alice", TeamID: "team_1"})
	require.IsType(t, RegistrationSuccessMessage{}, recvMsg(t, player))
	recvGameUpdate(t, player)
	recvGameUpdate(t, watcher)

	hub.unreg <- player

	update := recvGameUpdate(t, watcher)
	require.Len(t, update.Teams, 1)
	require.Len(t, update.Teams[0].Players, 1)
	assert.False(t, update.Teams[0].Players[0].Connected)
}

func TestHubGameFlow(t *testing.T) {
	hub, fc := newTestHub(t)

	host := connect(t, hub, "host")
	display := connect(t, hub, "screen")
	alice := connect(t, hub, "alice")

	registerHost(t, hub, host)

	display.say(hub, ClientMessage{Type: "register_display"})
	msg := recvMsg(t, display)
	require.IsType(t, RegistrationSuccessMessage{}, msg)
	require.Equal(t, "display", msg.(RegistrationSuccessMessage).Role)
	recvGameUpdate(t, display)

	host.say(hub, ClientMessage{Type: "create_team", Name: "Alpha"})
	for _, c := range []*Client{host, display, alice} {
		recvGameUpdate(t, c)
	}

	alice.say(hub, ClientMessage{Type: "join_game", Name: "Alice", TeamID: "team_1"})
	require.IsType(t, RegistrationSuccessMessage{}, recvMsg(t, alice))
	for _, c := range []*Client{host, display, alice} {
		recvGameUpdate(t, c)
	}

	host.say(hub, ClientMessage{Type: "start_round", Round: 1})
	for _, c := range []*Client{host, display, alice} {
		update := recvGameUpdate(t, c)
		assert.Equal(t, PhaseRound1, update.Phase)

		board := recvMsg(t, c)
		require.IsType(t, BoardUpdateMessage{}, board)
		assert.Equal(t, 1, board.(BoardUpdateMessage).Round)
		assert.Contains(t, board.(BoardUpdateMessage).Board, "Geography")
	}

	host.say(hub, ClientMessage{Type: "select_question", Category: "Geography", Value: 100})
	for _, c := range []*Client{host, display, alice} {
		update := recvGameUpdate(t, c)
		assert.Equal(t, QuestionRevealed, update.QuestionState)
		assert.True(t, update.BuzzTimerActive)
	}

	// Buzzing before the window opens is refused.
	alice.say(hub, ClientMessage{Type: "buzz", PlayerID: "player_1"})
	require.IsType(t, BuzzRejectedMessage{}, recvMsg(t, alice))

	// Let the buzz delay elapse.
	fc.BlockUntil(1)
	fc.Advance(4 * time.Second)
	for _, c := range []*Client{host, display, alice} {
		update := recvGameUpdate(t, c)
		assert.Equal(t, BuzzingOpen, update.QuestionState)
		assert.False(t, update.BuzzTimerActive)
	}

	alice.say(hub, ClientMessage{Type: "buzz", PlayerID: "player_1"})
	for _, c := range []*Client{host, display, alice} {
		update := recvGameUpdate(t, c)
		require.Len(t, update.BuzzQueue, 1)
		assert.Equal(t, "Alice", update.BuzzQueue[0].PlayerName)
	}

	correct := true
	host.say(hub, ClientMessage{Type: "adjudicate", Correct: &correct})

	for _, c := range []*Client{host, display, alice} {
		update := recvGameUpdate(t, c)
		assert.Nil(t, update.CurrentQuestion)
		require.Len(t, update.Teams, 1)
		assert.Equal(t, 100, update.Teams[0].Score)
	}

	// The score notice goes to the display group only.
	score := recvMsg(t, display)
	require.IsType(t, ScoreUpdateMessage{}, score)
	notice := score.(ScoreUpdateMessage)
	assert.Equal(t, "Alice", notice.PlayerName)
	assert.Equal(t, "team_1", notice.TeamID)
	assert.True(t, notice.Correct)
	assert.Equal(t, 100, notice.ScoreChange)
	assert.Equal(t, 0, notice.OldScore)
	assert.Equal(t, 100, notice.NewScore)

	// Question over: the board comes back for everyone. The players see it
	// right after the summary, with no score notice in between.
	for _, c := range []*Client{host, display, alice} {
		board := recvMsg(t, c)
		require.IsType(t, BoardUpdateMessage{}, board)
		assert.True(t, board.(BoardUpdateMessage).Board["Geography"][0].Used)
	}

	for _, c := range []*Client{host, display, alice} {
		assertQuiet(t, c)
	}
}

func TestHubSkipQuestionCancelsTimer(t *testing.T) {
	hub, fc := newTestHub(t)
	host := connect(t, hub, "host")
	registerHost(t, hub, host)

	host.say(hub, ClientMessage{Type: "start_round", Round: 1})
	recvGameUpdate(t, host)
	require.IsType(t, BoardUpdateMessage{}, recvMsg(t, host))

	host.say(hub, ClientMessage{Type: "select_question", Category: "Geography", Value: 100})
	recvGameUpdate(t, host)
	fc.BlockUntil(1)

	host.say(hub, ClientMessage{Type: "skip_question"})
	update := recvGameUpdate(t, host)
	assert.Nil(t, update.CurrentQuestion)
	assert.Equal(t, BoardActive, update.QuestionState)
	require.IsType(t, BoardUpdateMessage{}, recvMsg(t, host))

	// The buzz delay elapsing later must not reopen anything.
	fc.Advance(time.Minute)
	assertQuiet(t, host)
}

func TestWireTokens(t *testing.T) {
	data, err := json.Marshal(GameUpdateMessage{
		Type: "game_update",
		GameSummary: GameSummary{
			Phase:         PhaseRound1,
			QuestionState: BuzzingOpen,
			Teams:         []TeamSummary{},
			BuzzQueue:     []BuzzEntry{},
		},
	})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "game_update", decoded["type"])
	assert.Equal(t, "round_1", decoded["phase"])
	assert.Equal(t, "buzzing_open", decoded["question_state"])
	assert.Nil(t, decoded["current_question"])
	assert.Equal(t, false, decoded["buzz_timer_active"])
	assert.Contains(t, decoded, "round_1_complete")
	assert.Contains(t, decoded, "round_2_complete")
}

func TestWirePhaseTokens(t *testing.T) {
	for phase, token := range map[GamePhase]string{
		PhaseLobby:    "lobby",
		PhaseRound1:   "round_1",
		PhaseRound2:   "round_2",
		PhaseGameOver: "game_over",
	} {
		data, err := json.Marshal(phase)
		require.NoError(t, err)
		assert.Equal(t, `"`+token+`"`, string(data))
	}

	for state, token := range map[QuestionState]string{
		BoardActive:      "board_active",
		QuestionRevealed: "question_revealed",
		BuzzingOpen:      "buzzing_open",
		AnswerInProgress: "answer_in_progress",
	} {
		data, err := json.Marshal(state)
		require.NoError(t, err)
		assert.Equal(t, `"`+token+`"`, string(data))
	}
}

func TestBuzzEntryWireShape(t *testing.T) {
	data, err := json.Marshal(BuzzEntry{
		PlayerID:   "player_1",
		PlayerName: "Alice",
		TeamID:     "team_1",
		TeamName:   "Alpha",
		Timestamp:  12345,
	})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "Alice", decoded["player_name"])
	assert.Equal(t, "Alpha", decoded["team_name"])
	// The raw timestamp stays server-side.
	assert.NotContains(t, decoded, "timestamp")
	assert.NotContains(t, decoded, "Timestamp")
}
