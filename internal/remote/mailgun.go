package remote

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"mailbuild/internal/stage"
)

// DefaultMailgunAPI is the Mailgun API base URL.
const DefaultMailgunAPI = "https://api.mailgun.net"

// Mailgun sends messages through the Mailgun messages API.
type Mailgun struct {
	key    string
	domain string
	base   string
}

// NewMailgun creates a Mailgun client for c.Domain.
func NewMailgun(c stage.MailgunConnection) (stage.Mailer, error) {
	if c.Key == "" {
		return nil, fmt.Errorf("mailgun api key is required")
	}
	if c.Domain == "" {
		return nil, fmt.Errorf("mailgun domain is required")
	}
	base := c.APIBase
	if base == "" {
		base = DefaultMailgunAPI
	}
	return &Mailgun{key: c.Key, domain: c.Domain, base: strings.TrimRight(base, "/")}, nil
}

type mailgunResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

func (m *Mailgun) Send(ctx context.Context, msg stage.Message) (string, error) {
	form := url.Values{}
	form.Set("from", msg.From)
	for _, to := range msg.To {
		form.Add("to", to)
	}
	form.Set("subject", msg.Subject)
	form.Set("html", msg.HTML)
	for _, tag := range msg.Tags {
		form.Add("o:tag", tag)
	}

	var out mailgunResponse
	resp, err := newClient(m.base).R().
		SetContext(ctx).
		SetBasicAuth("api", m.key).
		SetFormDataFromValues(form).
		SetResult(&out).
		Post("/v3/" + url.PathEscape(m.domain) + "/messages")
	if err := checkResponse("sending message", resp, err); err != nil {
		return "", err
	}
	return out.ID, nil
}

var _ stage.Mailer = (*Mailgun)(nil)
