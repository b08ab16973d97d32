/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jonboulle/clockwork"
)

var (
	ErrTeamNotFound        = errors.New("team not found")
	ErrQuestionUnavailable = errors.New("question not available")
	ErrBuzzRejected        = errors.New("buzz rejected")
	ErrLoadFailure         = errors.New("question load failed")
	ErrReconnectFailed     = errors.New("reconnect failed")
)

// Team colors are assigned round-robin at creation time. The palette index
// persists for the whole game, not per team.
var teamColors = []string{"#FFD700", "#4169E1", "#DC143C", "#32CD32", "#FF8C00", "#9370DB"}

// Engine owns the single GameState for one game session and serializes
// every operation on it. All methods are safe for concurrent use; each one
// either completes fully or leaves the state untouched.
type Engine struct {
	mu    sync.Mutex
	state GameState

	clock         clockwork.Clock
	nextColorIdx  int
	questionSeq   uint64
	lastBuzzStamp float64
}

func newEngine(clock clockwork.Clock) *Engine {
	return &Engine{
		state: GameState{
			Teams:          make(map[string]*Team),
			Players:        make(map[string]*Player),
			TeamsAttempted: make(map[string]bool),
		},
		clock: clock,
	}
}

// LoadQuestions replaces the entire catalog with the given records, all
// unused. A full replace, never a merge: loading mid-game wipes prior used
// state, so it is only done once, when the host registers. Zero records is
// a load failure and leaves the catalog empty.
func (e *Engine) LoadQuestions(records []QuestionRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.Questions = nil
	if len(records) == 0 {
		return fmt.Errorf("%w: no records", ErrLoadFailure)
	}

	questions := make([]*Question, 0, len(records))
	for _, rec := range records {
		questions = append(questions, &Question{
			Round:    rec.Round,
			Category: rec.Category,
			Value:    rec.Value,
			Question: rec.Question,
			Answer:   rec.Answer,
		})
	}
	e.state.Questions = questions

	return nil
}

// CreateTeam always succeeds; empty and duplicate names are allowed.
func (e *Engine) CreateTeam(name string) Team {
	e.mu.Lock()
	defer e.mu.Unlock()

	team := &Team{
		ID:    fmt.Sprintf("team_%d", len(e.state.Teams)+1),
		Name:  name,
		Color: teamColors[e.nextColorIdx%len(teamColors)],
	}
	e.nextColorIdx++

	e.state.Teams[team.ID] = team
	e.state.TeamOrder = append(e.state.TeamOrder, team.ID)

	return *team
}

// AddPlayer fails only when the team does not exist. Duplicate and empty
// player names are allowed.
func (e *Engine) AddPlayer(name, teamID, sessionID string) (Player, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	team, ok := e.state.Teams[teamID]
	if !ok {
		return Player{}, ErrTeamNotFound
	}

	player := &Player{
		ID:        fmt.Sprintf("player_%d", len(e.state.Players)+1),
		Name:      name,
		TeamID:    teamID,
		SessionID: sessionID,
		Connected: true,
	}

	e.state.Players[player.ID] = player
	team.PlayerIDs = append(team.PlayerIDs, player.ID)

	return *player, nil
}

// SetHost unconditionally hands the privileged session to the caller.
// Last writer wins; there is no challenge.
func (e *Engine) SetHost(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.TrebekSessionID = sessionID
}

func (e *Engine) IsHost(sessionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return sessionID != "" && sessionID == e.state.TrebekSessionID
}

// ReconnectPlayer re-attaches a session to an existing player, matched by
// (player id, team id). On a mismatch the caller should discard its cached
// identity and join fresh.
func (e *Engine) ReconnectPlayer(playerID, teamID, sessionID string) (Player, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	player, ok := e.state.Players[playerID]
	if !ok || player.TeamID != teamID {
		return Player{}, ErrReconnectFailed
	}

	player.SessionID = sessionID
	player.Connected = true

	return *player, nil
}

// MarkDisconnected flags whichever player owns the session as disconnected.
// The player record itself is kept so they can reconnect later.
func (e *Engine) MarkDisconnected(sessionID string) (Player, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, player := range e.state.Players {
		if player.SessionID == sessionID {
			player.Connected = false
			return *player, true
		}
	}

	return Player{}, false
}

// StartRound enters round 1 or 2 and puts the board up. Any other round
// number leaves the phase unchanged.
func (e *Engine) StartRound(round int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch round {
	case 1:
		e.state.Phase = PhaseRound1
	case 2:
		e.state.Phase = PhaseRound2
	}
	e.state.QuestionState = BoardActive
}

func (e *Engine) Phase() GamePhase {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state.Phase
}

// CurrentRound returns the round derived from the phase, or 0 when no
// round is active.
func (e *Engine) CurrentRound() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.state.Phase.Round()
}

// BoardCell is one value slot on the board, as sent to clients.
type BoardCell struct {
	Value    int    `json:"value"`
	Used     bool   `json:"used"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// BoardState returns the round's questions grouped by category, values
// ascending within each category. Categories with no questions in the
// round are absent; an unknown round yields an empty map.
func (e *Engine) BoardState(round int) map[string][]BoardCell {
	e.mu.Lock()
	defer e.mu.Unlock()

	board := make(map[string][]BoardCell)
	for _, q := range e.state.Questions {
		if q.Round != round {
			continue
		}
		board[q.Category] = append(board[q.Category], BoardCell{
			Value:    q.Value,
			Used:     q.Used,
			Question: q.Question,
			Answer:   q.Answer,
		})
	}

	for _, cells := range board {
		sort.Slice(cells, func(i, j int) bool {
			return cells[i].Value < cells[j].Value
		})
	}

	return board
}

// SelectQuestion marks the matching unused question of the current round
// as used, makes it current, and opens a fresh buzz window (pending the
// buzz delay). The returned sequence number identifies this selection for
// the buzz timer; a stale timer callback carrying an old sequence is a
// no-op in EnableBuzzing.
func (e *Engine) SelectQuestion(category string, value int) (Question, uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	round := e.state.Phase.Round()
	if round == 0 {
		return Question{}, 0, ErrQuestionUnavailable
	}

	for _, q := range e.state.Questions {
		if q.Round != round || q.Category != category || q.Value != value || q.Used {
			continue
		}

		q.Used = true
		e.state.CurrentQuestion = q
		e.state.QuestionState = QuestionRevealed
		e.state.BuzzQueue = nil
		e.state.TeamsAttempted = make(map[string]bool)
		e.state.BuzzTimerActive = true
		e.questionSeq++

		return *q, e.questionSeq, nil
	}

	return Question{}, 0, ErrQuestionUnavailable
}

// EnableBuzzing opens the buzz window. It is the sole callback target of
// the buzz timer; seq must match the selection that armed the timer, so a
// callback firing after a skip or a new selection cannot resurrect a
// question that is no longer current.
func (e *Engine) EnableBuzzing(seq uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.CurrentQuestion == nil || seq != e.questionSeq {
		return false
	}

	e.state.QuestionState = BuzzingOpen
	e.state.BuzzTimerActive = false

	return true
}

// BuzzIn appends the player to the buzz queue: first to buzz while the
// window is open answers first. Rejected when the window is closed, the
// player is unknown, the player's team already spent its attempt, or the
// player is already queued.
func (e *Engine) BuzzIn(playerID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.QuestionState != BuzzingOpen {
		return ErrBuzzRejected
	}

	player, ok := e.state.Players[playerID]
	if !ok {
		return ErrBuzzRejected
	}

	if e.state.TeamsAttempted[player.TeamID] {
		return ErrBuzzRejected
	}

	for _, entry := range e.state.BuzzQueue {
		if entry.PlayerID == playerID {
			return ErrBuzzRejected
		}
	}

	stamp := float64(e.clock.Now().UnixNano()) / 1e9
	if stamp < e.lastBuzzStamp {
		stamp = e.lastBuzzStamp
	}
	e.lastBuzzStamp = stamp

	e.state.BuzzQueue = append(e.state.BuzzQueue, BuzzEntry{
		PlayerID:   playerID,
		PlayerName: player.Name,
		TeamID:     player.TeamID,
		TeamName:   e.state.Teams[player.TeamID].Name,
		Timestamp:  stamp,
	})

	return nil
}

// AdjudicationResult reports what an adjudication did, including the
// before/after scores the display's score notice needs.
type AdjudicationResult struct {
	Judged       bool   // false when there was nothing to adjudicate
	Correct      bool
	NextPlayerID string // next buzzer up after a wrong answer, if any
	ScoreChange  int
	PlayerName   string
	TeamID       string
	OldScore     int
	NewScore     int
}

// Adjudicate rules on the head of the buzz queue. Correct: award the
// points and end the question. Incorrect: deduct the points, burn the
// team's attempt, and pass to the next buzzer; if the queue drains, the
// question ends and the board comes back even if other teams never
// buzzed — ending is driven by queue emptiness, not attempt exhaustion.
// With no current question or an empty queue this is a no-op.
func (e *Engine) Adjudicate(correct bool) AdjudicationResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state.CurrentQuestion == nil || len(e.state.BuzzQueue) == 0 {
		return AdjudicationResult{}
	}

	head := e.state.BuzzQueue[0]
	team := e.state.Teams[head.TeamID]
	value := e.state.CurrentQuestion.Value

	result := AdjudicationResult{
		Judged:     true,
		Correct:    correct,
		PlayerName: head.PlayerName,
		TeamID:     head.TeamID,
		OldScore:   team.Score,
	}

	if correct {
		team.Score += value
		e.state.CurrentQuestion = nil
		e.state.BuzzQueue = nil
		e.state.TeamsAttempted = make(map[string]bool)
		e.state.QuestionState = BoardActive

		result.ScoreChange = value
		result.NewScore = team.Score

		return result
	}

	team.Score -= value
	e.state.TeamsAttempted[head.TeamID] = true
	e.state.BuzzQueue = e.state.BuzzQueue[1:]

	result.ScoreChange = -value
	result.NewScore = team.Score

	if len(e.state.BuzzQueue) > 0 {
		result.NextPlayerID = e.state.BuzzQueue[0].PlayerID
		return result
	}

	e.state.CurrentQuestion = nil
	e.state.TeamsAttempted = make(map[string]bool)
	e.state.QuestionState = BoardActive

	return result
}

// SkipQuestion is the host override: drop the current question and return
// to the board unconditionally.
func (e *Engine) SkipQuestion() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.CurrentQuestion = nil
	e.state.BuzzQueue = nil
	e.state.TeamsAttempted = make(map[string]bool)
	e.state.QuestionState = BoardActive
}

// IsRoundComplete reports whether every question of the round has been
// used. Vacuously true when the round has no questions.
func (e *Engine) IsRoundComplete(round int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.isRoundCompleteLocked(round)
}

func (e *Engine) isRoundCompleteLocked(round int) bool {
	for _, q := range e.state.Questions {
		if q.Round == round && !q.Used {
			return false
		}
	}
	return true
}

// PlayerSummary is the per-player slice of the game summary.
type PlayerSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
}

// TeamSummary is the per-team slice of the game summary.
type TeamSummary struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Score   int             `json:"score"`
	Color   string          `json:"color"`
	Players []PlayerSummary `json:"players"`
}

// CurrentQuestionView is the current question as shown to clients. The
// answer is included for every recipient; hiding it from players is a
// client concern, not the engine's.
type CurrentQuestionView struct {
	Category string `json:"category"`
	Value    int    `json:"value"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// GameSummary is the full broadcastable snapshot produced after every
// mutation.
type GameSummary struct {
	Phase           GamePhase            `json:"phase"`
	QuestionState   QuestionState        `json:"question_state"`
	Teams           []TeamSummary        `json:"teams"`
	CurrentQuestion *CurrentQuestionView `json:"current_question"`
	BuzzQueue       []BuzzEntry          `json:"buzz_queue"`
	BuzzTimerActive bool                 `json:"buzz_timer_active"`
	Round1Complete  bool                 `json:"round_1_complete"`
	Round2Complete  bool                 `json:"round_2_complete"`
}

// Summary snapshots the whole game state for broadcast. Teams appear in
// creation order, players in join order.
func (e *Engine) Summary() GameSummary {
	e.mu.Lock()
	defer e.mu.Unlock()

	teams := make([]TeamSummary, 0, len(e.state.TeamOrder))
	for _, teamID := range e.state.TeamOrder {
		team := e.state.Teams[teamID]

		players := make([]PlayerSummary, 0, len(team.PlayerIDs))
		for _, playerID := range team.PlayerIDs {
			player, ok := e.state.Players[playerID]
			if !ok {
				continue
			}
			players = append(players, PlayerSummary{
				ID:        player.ID,
				Name:      player.Name,
				Connected: player.Connected,
			})
		}

		teams = append(teams, TeamSummary{
			ID:      team.ID,
			Name:    team.Name,
			Score:   team.Score,
			Color:   team.Color,
			Players: players,
		})
	}

	var current *CurrentQuestionView
	if q := e.state.CurrentQuestion; q != nil {
		current = &CurrentQuestionView{
			Category: q.Category,
			Value:    q.Value,
			Question: q.Question,
			Answer:   q.Answer,
		}
	}

	queue := make([]BuzzEntry, len(e.state.BuzzQueue))
	copy(queue, e.state.BuzzQueue)

	round := e.state.Phase.Round()

	return GameSummary{
		Phase:           e.state.Phase,
		QuestionState:   e.state.QuestionState,
		Teams:           teams,
		CurrentQuestion: current,
		BuzzQueue:       queue,
		BuzzTimerActive: e.state.BuzzTimerActive,
		Round1Complete:  round >= 1 && e.isRoundCompleteLocked(1),
		Round2Complete:  round >= 2 && e.isRoundCompleteLocked(2),
	}
}
