package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tecu23/gtp-bridge/pkg/messages"
)

// API is the REST surface the connection uses for challenges and friends.
type API interface {
	AcceptChallenge(ctx context.Context, auth messages.Auth, challengeID int64) error
	DeclineChallenge(ctx context.Context, auth messages.Auth, challengeID int64) error
	AcceptFriend(ctx context.Context, auth messages.Auth, userID int64) error
}

// RESTClient talks to the server's versioned REST API with form encoded
// credentials.
type RESTClient struct {
	base   string
	client *http.Client
	logger *zap.Logger
}

// NewRESTClient talks to the REST API rooted at base.
func NewRESTClient(base string, logger *zap.Logger) *RESTClient {
	return &RESTClient{
		base:   strings.TrimSuffix(base, "/") + "/",
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger.With(zap.String("component", "rest")),
	}
}

func (c *RESTClient) AcceptChallenge(ctx context.Context, auth messages.Auth, challengeID int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("me/challenges/%d/accept", challengeID), authForm(auth))
}

func (c *RESTClient) DeclineChallenge(ctx context.Context, auth messages.Auth, challengeID int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("me/challenges/%d", challengeID), authForm(auth))
}

func (c *RESTClient) AcceptFriend(ctx context.Context, auth messages.Auth, userID int64) error {
	form := authForm(auth)
	form.Set("from_user", strconv.FormatInt(userID, 10))
	return c.do(ctx, http.MethodPost, "me/friends/invitations", form)
}

func authForm(auth messages.Auth) url.Values {
	form := url.Values{}
	form.Set("apikey", auth.APIKey)
	form.Set("bot_id", strconv.FormatInt(auth.BotID, 10))
	form.Set("player_id", strconv.FormatInt(auth.PlayerID, 10))
	if auth.JWT != "" {
		form.Set("jwt", auth.JWT)
	}
	return form
}

func (c *RESTClient) do(ctx context.Context, method, path string, form url.Values) error {
	endpoint := c.base + path
	c.logger.Debug("Request", zap.String("method", method), zap.String("url", endpoint))

	req, err := http.NewRequestWithContext(ctx, method, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s %s: %d - %s", method, path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
