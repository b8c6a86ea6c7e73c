package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const DefaultPushoverEndpoint = "https://api.pushover.net/1/messages.json"

// Pushover posts events to the Pushover messages API.
type Pushover struct {
	client    *http.Client
	endpoint  string
	appToken  string
	userToken string
}

var _ Sink = (*Pushover)(nil)

func NewPushover(client *http.Client, endpoint, appToken, userToken string) *Pushover {
	if client == nil {
		client = http.DefaultClient
	}
	if endpoint == "" {
		endpoint = DefaultPushoverEndpoint
	}
	return &Pushover{client: client, endpoint: endpoint, appToken: appToken, userToken: userToken}
}

func (p *Pushover) Name() string { return "pushover" }

func (p *Pushover) Send(ctx context.Context, ev Event) error {
	form := url.Values{
		"token":   {p.appToken},
		"user":    {p.userToken},
		"message": {ev.Message},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting to pushover: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("pushover returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	return nil
}
