// Package discord implements the OAuth dance against the Discord API: the
// authorize redirect, the code-for-token exchange, and the guild membership
// lookup used to gate sign-in.
package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const apiBase = "https://discord.com/api/v10"

// Client is the struct that provides interactivity with discord
type Client struct {
	clientID     string
	clientSecret string // The secret
	redirectURL  string
	httpClient   *http.Client

	l *zap.SugaredLogger
}

type ClientConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// NewClient produces a new client with the given config
func NewClient(c ClientConfig, l *zap.SugaredLogger) *Client {
	return &Client{
		clientID:     c.ClientID,
		clientSecret: c.ClientSecret,
		redirectURL:  c.RedirectURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		l: l,
	}
}

// AuthURL returns the Discord authorize URL to redirect the operator to.
// The `guilds` scope is what lets us check membership after the exchange.
func (c *Client) AuthURL(state string) string {
	q := url.Values{}
	q.Set("client_id", c.clientID)
	q.Set("redirect_uri", c.redirectURL)
	q.Set("response_type", "code")
	q.Set("scope", "identify guilds")
	q.Set("state", state)

	return fmt.Sprintf("%s/oauth2/authorize?%s", apiBase, q.Encode())
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope"`
}

// ExchangeCode trades an authorization code for a bearer access token
func (c *Client) ExchangeCode(ctx context.Context, code string) (string, error) {
	form := url.Values{}
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", c.redirectURL)

	u := fmt.Sprintf("%s/oauth2/token", apiBase)
	req, err := http.NewRequest(http.MethodPost, u, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("error creating token request: %s", err)
	}
	req = req.WithContext(ctx)
	req.Header.Add("Content-Type", "application/x-www-form-urlencoded")

	c.l.Debugw("calling to exchange oauth code", "url", u)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("error doing request: %s", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		er, err := readErr(res.Body)
		if err != nil {
			return "", fmt.Errorf("error reading error from body: %s", err)
		}

		c.l.Errorw("received error response from api", "err", er, "status_code", res.StatusCode)
		return "", er
	}

	var tr tokenResponse
	if err := json.NewDecoder(res.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("error reading from response body: %s", err)
	}

	return tr.AccessToken, nil
}

// Identify returns the id and username of the account the token belongs to
func (c *Client) Identify(ctx context.Context, accessToken string) (string, string, error) {
	s, err := c.bearerSession(accessToken)
	if err != nil {
		return "", "", err
	}

	u, err := s.User("@me")
	if err != nil {
		return "", "", fmt.Errorf("error fetching user: %s", err)
	}

	return u.ID, u.Username, nil
}

// MemberOfGuild reports whether the account the token belongs to is a member
// of the given guild
func (c *Client) MemberOfGuild(ctx context.Context, accessToken, guildID string) (bool, error) {
	s, err := c.bearerSession(accessToken)
	if err != nil {
		return false, err
	}

	guilds, err := s.UserGuilds(200, "", "")
	if err != nil {
		return false, fmt.Errorf("error fetching guilds: %s", err)
	}

	for _, g := range guilds {
		if g.ID == guildID {
			return true, nil
		}
	}

	return false, nil
}

// bearerSession builds a discordgo session around a user's OAuth bearer
// token instead of a bot token
func (c *Client) bearerSession(accessToken string) (*discordgo.Session, error) {
	s, err := discordgo.New(fmt.Sprintf("Bearer %s", accessToken))
	if err != nil {
		return nil, fmt.Errorf("error creating discord session: %s", err)
	}
	s.Client = c.httpClient

	return s, nil
}
