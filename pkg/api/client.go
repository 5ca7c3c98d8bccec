package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/yal212/chess-web-sub000/pkg/api/handlers"
	gametypes "github.com/yal212/chess-web-sub000/pkg/game/types"
	"github.com/yal212/chess-web-sub000/pkg/repositories"
)

// ErrUnexpectedStatus is returned for responses that do not map to a
// repository error.
type ErrUnexpectedStatus struct {
	StatusCode int
	Body       string
}

func (e *ErrUnexpectedStatus) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

func IsUnexpectedStatus(err error) bool {
	var target *ErrUnexpectedStatus
	return errors.As(err, &target)
}

// APIClient talks to an APIServer. It satisfies the store used by the
// sync engine.
type APIClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type NewAPIClientOptions struct {
	URL string
	// Token is sent as a bearer token when set
	Token      string
	HTTPClient *http.Client
}

func NewAPIClient(opts NewAPIClientOptions) *APIClient {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &APIClient{
		baseURL:    strings.TrimSuffix(opts.URL, "/"),
		token:      opts.Token,
		httpClient: httpClient,
	}
}

func (c *APIClient) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", "", nil, nil, nil)
}

func (c *APIClient) CreateGame(ctx context.Context, id string) (*gametypes.GameSession, error) {
	game := &gametypes.GameSession{}
	if err := c.do(ctx, http.MethodPost, "/games", id, handlers.CreateGameRequest{ID: id}, game, nil); err != nil {
		return nil, fmt.Errorf("failed to create game: %w", err)
	}
	return game, nil
}

func (c *APIClient) FetchGame(ctx context.Context, id string) (*gametypes.GameSession, error) {
	game := &gametypes.GameSession{}
	if err := c.do(ctx, http.MethodGet, gamePath(id), id, nil, game, nil); err != nil {
		return nil, fmt.Errorf("failed to fetch game: %w", err)
	}
	return game, nil
}

func (c *APIClient) UpdateGame(ctx context.Context, id string, update gametypes.GameUpdate, expectedVersion *int64) (*gametypes.GameSession, error) {
	req := handlers.UpdateGameRequest{
		Position:        update.Position,
		MoveLog:         update.MoveLog,
		ExpectedVersion: expectedVersion,
	}
	if update.Status != nil {
		status := string(*update.Status)
		req.Status = &status
	}
	game := &gametypes.GameSession{}
	if err := c.do(ctx, http.MethodPatch, gamePath(id), id, req, game, expectedVersion); err != nil {
		return nil, fmt.Errorf("failed to update game: %w", err)
	}
	return game, nil
}

// SubmitMove asks the server to apply a move to the stored position.
func (c *APIClient) SubmitMove(ctx context.Context, id string, move string, expectedVersion *int64) (*handlers.SubmitMoveResponse, error) {
	resp := &handlers.SubmitMoveResponse{}
	req := handlers.SubmitMoveRequest{Move: move, ExpectedVersion: expectedVersion}
	if err := c.do(ctx, http.MethodPost, gamePath(id)+"/moves", id, req, resp, expectedVersion); err != nil {
		return nil, fmt.Errorf("failed to submit move: %w", err)
	}
	return resp, nil
}

func gamePath(id string) string {
	return "/games/" + url.PathEscape(id)
}

func (c *APIClient) do(ctx context.Context, method string, path string, gameID string, body interface{}, out interface{}, expectedVersion *int64) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %v", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound && gameID != "":
		return &repositories.ErrNotFound{ID: gameID}
	case resp.StatusCode == http.StatusConflict && gameID != "":
		if method == http.MethodPost && path == "/games" {
			return &repositories.ErrAlreadyExists{ID: gameID}
		}
		// the server does not report the stored version
		conflict := &repositories.ErrConflict{ID: gameID, Actual: -1}
		if expectedVersion != nil {
			conflict.Expected = *expectedVersion
		}
		return conflict
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		b, _ := io.ReadAll(resp.Body)
		return &ErrUnexpectedStatus{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %v", err)
	}
	return nil
}
