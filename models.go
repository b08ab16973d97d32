/*
Copyright © 2025 Seednode <seednode@seedno.de>
*/

package main

import "fmt"

// GamePhase tracks which part of the game is running.
type GamePhase int

const (
	PhaseLobby GamePhase = iota
	PhaseRound1
	PhaseRound2
	PhaseGameOver
)

var phaseTokens = [...]string{
	PhaseLobby:    "lobby",
	PhaseRound1:   "round_1",
	PhaseRound2:   "round_2",
	PhaseGameOver: "game_over",
}

func (p GamePhase) String() string {
	if int(p) < len(phaseTokens) {
		return phaseTokens[p]
	}
	return fmt.Sprintf("GamePhase(%d)", int(p))
}

// MarshalJSON emits the wire token ("lobby", "round_1", ...) so clients
// never see the internal enum values.
func (p GamePhase) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}

// Round returns the board round a phase plays, or 0 outside the rounds.
func (p GamePhase) Round() int {
	switch p {
	case PhaseRound1:
		return 1
	case PhaseRound2:
		return 2
	}
	return 0
}

// QuestionState tracks the lifecycle of the current question.
type QuestionState int

const (
	BoardActive QuestionState = iota
	QuestionRevealed
	BuzzingOpen
	AnswerInProgress
)

var questionStateTokens = [...]string{
	BoardActive:      "board_active",
	QuestionRevealed: "question_revealed",
	BuzzingOpen:      "buzzing_open",
	AnswerInProgress: "answer_in_progress",
}

func (s QuestionState) String() string {
	if int(s) < len(questionStateTokens) {
		return questionStateTokens[s]
	}
	return fmt.Sprintf("QuestionState(%d)", int(s))
}

func (s QuestionState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Player holds the data we store server-side for one contestant.
// Players are never deleted; a rejoin swaps the session id in place.
type Player struct {
	ID        string
	Name      string
	TeamID    string
	SessionID string
	Connected bool
}

// Team holds one team and its roster, in join order.
type Team struct {
	ID        string
	Name      string
	Score     int
	PlayerIDs []string
	Color     string
}

// Question is one cell on the board. Identity is (Round, Category, Value);
// Used flips to true exactly once, when the host selects it.
type Question struct {
	Round    int
	Category string
	Value    int
	Question string
	Answer   string
	Used     bool
}

// BuzzEntry is one player's spot in the buzz queue. Names are snapshotted
// at buzz time so later renames or lookups can't change what's announced.
type BuzzEntry struct {
	PlayerID   string  `json:"player_id"`
	PlayerName string  `json:"player_name"`
	TeamID     string  `json:"team_id"`
	TeamName   string  `json:"team_name"`
	Timestamp  float64 `json:"-"`
}

// GameState is the single shared state for one game session.
type GameState struct {
	Phase           GamePhase
	QuestionState   QuestionState
	Teams           map[string]*Team
	TeamOrder       []string // creation order, for stable iteration
	Players         map[string]*Player
	Questions       []*Question
	CurrentQuestion *Question
	BuzzQueue       []BuzzEntry
	TeamsAttempted  map[string]bool
	TrebekSessionID string
	BuzzTimerActive bool
}
