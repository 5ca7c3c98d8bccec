package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	gametypes "github.com/yal212/chess-web-sub000/pkg/game/types"
	"github.com/yal212/chess-web-sub000/pkg/log"
	"github.com/yal212/chess-web-sub000/pkg/position"
	"github.com/yal212/chess-web-sub000/pkg/repositories"
	"github.com/yal212/chess-web-sub000/pkg/rules"
)

var gameIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// Subscriber serves push channel subscriptions for a game.
type Subscriber interface {
	ServeWS(w http.ResponseWriter, r *http.Request, gameID string)
}

type CreateGameRequest struct {
	// ID is generated when empty
	ID string `json:"id,omitempty"`
}

type UpdateGameRequest struct {
	Position        *string  `json:"position,omitempty"`
	MoveLog         []string `json:"moveLog,omitempty"`
	Status          *string  `json:"status,omitempty"`
	ExpectedVersion *int64   `json:"expectedVersion,omitempty"`
}

type SubmitMoveRequest struct {
	Move            string `json:"move"`
	ExpectedVersion *int64 `json:"expectedVersion,omitempty"`
}

type SubmitMoveResponse struct {
	Game    *gametypes.GameSession `json:"game"`
	Move    string                 `json:"move"`
	Outcome rules.Outcome          `json:"outcome"`
	Method  string                 `json:"method,omitempty"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

func HandleHealth(repository repositories.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := repository.Ping(r.Context()); err != nil {
			log.Error("failed to ping repository: %v", err)
			writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
	}
}

func HandleCreateGame(repository repositories.Repository, changes chan<- gametypes.ChangeEvent) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := &CreateGameRequest{}
		if r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(req); err != nil {
				http.Error(w, "Failed to decode request", http.StatusBadRequest)
				return
			}
		}

		id := req.ID
		if id == "" {
			id = uuid.NewString()
		}
		if !gameIDRegex.MatchString(id) {
			http.Error(w, "Game id must be 1 to 64 letters, digits, dashes or underscores", http.StatusBadRequest)
			return
		}

		game, err := repository.CreateGame(r.Context(), &gametypes.GameSession{
			ID:       id,
			Position: position.Initial,
			MoveLog:  []string{},
			Status:   gametypes.GameStatusWaiting,
		})
		if err != nil {
			if repositories.IsAlreadyExists(err) {
				http.Error(w, "Game already exists", http.StatusConflict)
				return
			}
			log.Error("failed to create game: %v", err)
			http.Error(w, "Failed to create game", http.StatusInternalServerError)
			return
		}

		publish(changes, gametypes.ChangeEvent{Type: gametypes.ChangeTypeInsert, New: game})
		writeJSON(w, http.StatusCreated, game)
	}
}

func HandleGetGame(repository repositories.Repository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		game, err := repository.FetchGame(r.Context(), mux.Vars(r)["gameID"])
		if err != nil {
			writeRepositoryError(w, "fetch game", err)
			return
		}
		writeJSON(w, http.StatusOK, game)
	}
}

func HandleUpdateGame(repository repositories.Repository, changes chan<- gametypes.ChangeEvent) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gameID := mux.Vars(r)["gameID"]

		req := &UpdateGameRequest{}
		if err := json.NewDecoder(r.Body).Decode(req); err != nil {
			http.Error(w, "Failed to decode request", http.StatusBadRequest)
			return
		}

		update := gametypes.GameUpdate{
			Position: req.Position,
			MoveLog:  req.MoveLog,
		}
		if req.Position != nil {
			if _, err := position.Parse(*req.Position); err != nil {
				http.Error(w, fmt.Sprintf("Invalid position: %v", err), http.StatusUnprocessableEntity)
				return
			}
		}
		if req.Status != nil {
			status, err := gametypes.ParseGameStatus(*req.Status)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnprocessableEntity)
				return
			}
			update.Status = &status
		}

		old, err := repository.FetchGame(r.Context(), gameID)
		if err != nil {
			writeRepositoryError(w, "fetch game", err)
			return
		}
		if req.MoveLog != nil && len(req.MoveLog) < old.MoveCount() {
			http.Error(w, "Move log is append-only", http.StatusUnprocessableEntity)
			return
		}

		game, err := repository.UpdateGame(r.Context(), gameID, update, req.ExpectedVersion)
		if err != nil {
			writeRepositoryError(w, "update game", err)
			return
		}

		publish(changes, gametypes.ChangeEvent{Type: gametypes.ChangeTypeUpdate, Old: old, New: game})
		writeJSON(w, http.StatusOK, game)
	}
}

// HandleSubmitMove applies a move to the stored position. The write is
// conditional on the version that was read, so concurrent moves conflict
// instead of overwriting each other.
func HandleSubmitMove(repository repositories.Repository, ruleEngine rules.RuleEngine, changes chan<- gametypes.ChangeEvent) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gameID := mux.Vars(r)["gameID"]

		req := &SubmitMoveRequest{}
		if err := json.NewDecoder(r.Body).Decode(req); err != nil {
			http.Error(w, "Failed to decode request", http.StatusBadRequest)
			return
		}
		if req.Move == "" {
			http.Error(w, "Missing move", http.StatusBadRequest)
			return
		}

		old, err := repository.FetchGame(r.Context(), gameID)
		if err != nil {
			writeRepositoryError(w, "fetch game", err)
			return
		}
		if req.ExpectedVersion != nil && *req.ExpectedVersion != old.Version {
			http.Error(w, "Game was modified", http.StatusConflict)
			return
		}
		if old.Status.IsFinal() {
			http.Error(w, "Game is over", http.StatusUnprocessableEntity)
			return
		}

		result, err := ruleEngine.ApplyMove(old.Position, req.Move)
		if err != nil {
			if rules.IsInvalidMove(err) {
				http.Error(w, err.Error(), http.StatusUnprocessableEntity)
				return
			}
			log.Error("failed to apply move: %v", err)
			http.Error(w, "Failed to apply move", http.StatusInternalServerError)
			return
		}

		notation := result.Notation
		if notation == "" {
			notation = req.Move
		}
		moveLog := make([]string, 0, old.MoveCount()+1)
		moveLog = append(moveLog, old.MoveLog...)
		moveLog = append(moveLog, notation)

		status := gametypes.GameStatusActive
		if result.Terminal {
			status = gametypes.GameStatusCompleted
		}

		expected := old.Version
		game, err := repository.UpdateGame(r.Context(), gameID, gametypes.GameUpdate{
			Position: &result.Position,
			MoveLog:  moveLog,
			Status:   &status,
		}, &expected)
		if err != nil {
			writeRepositoryError(w, "update game", err)
			return
		}

		publish(changes, gametypes.ChangeEvent{Type: gametypes.ChangeTypeUpdate, Old: old, New: game})
		writeJSON(w, http.StatusOK, SubmitMoveResponse{
			Game:    game,
			Move:    notation,
			Outcome: result.Outcome,
			Method:  result.Method,
		})
	}
}

func HandleSubscribe(repository repositories.Repository, subscriber Subscriber) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		gameID := mux.Vars(r)["gameID"]
		if _, err := repository.FetchGame(r.Context(), gameID); err != nil {
			writeRepositoryError(w, "fetch game", err)
			return
		}
		subscriber.ServeWS(w, r, gameID)
	}
}

// publish hands the event to the broadcast worker without blocking the request.
func publish(changes chan<- gametypes.ChangeEvent, event gametypes.ChangeEvent) {
	if changes == nil {
		return
	}
	select {
	case changes <- event:
	default:
		log.Warn("Broadcast channel full, dropping %s event for game %s", event.Type, event.GameID())
	}
}

func writeRepositoryError(w http.ResponseWriter, action string, err error) {
	switch {
	case repositories.IsNotFound(err):
		http.Error(w, "Game not found", http.StatusNotFound)
	case repositories.IsConflict(err):
		http.Error(w, "Game was modified", http.StatusConflict)
	default:
		log.Error("failed to %s: %v", action, err)
		http.Error(w, fmt.Sprintf("Failed to %s", action), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("failed to encode response: %v", err)
	}
}
