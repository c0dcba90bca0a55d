package stage

import (
	"context"
	"fmt"
	"os"
	"strings"

	"mailbuild/internal/fs"
	"mailbuild/internal/pipeline"
)

// Mailgun sends every source file as the HTML body of a test email.
type Mailgun struct {
	deps Dependencies
}

type mailgunOptions struct {
	Key       string   `mapstructure:"key" validate:"required"`
	Sender    string   `mapstructure:"sender" validate:"required"`
	Recipient []string `mapstructure:"recipient" validate:"required,min=1"`
	Subject   string   `mapstructure:"subject"`
	Domain    string   `mapstructure:"domain"`
	APIBase   string   `mapstructure:"api_base" validate:"omitempty,url"`
	Tags      []string `mapstructure:"tags"`
}

func (m *Mailgun) Run(ctx context.Context, inv *pipeline.Invocation) (*pipeline.Output, error) {
	opts := mailgunOptions{Subject: "Test email"}
	if err := inv.Decode(&opts); err != nil {
		return nil, err
	}
	recipients := splitList(opts.Recipient)
	if len(recipients) == 0 {
		return nil, fmt.Errorf("no recipients")
	}
	domain := opts.Domain
	if domain == "" {
		domain = senderDomain(opts.Sender)
	}
	if domain == "" {
		return nil, fmt.Errorf("option domain is required when sender has no domain")
	}
	if m.deps.NewMailer == nil {
		return nil, fmt.Errorf("no mailer configured")
	}
	mailer, err := m.deps.NewMailer(MailgunConnection{Key: opts.Key, Domain: domain, APIBase: opts.APIBase})
	if err != nil {
		return nil, fmt.Errorf("creating mailer: %w", err)
	}

	var ids []string
	for _, src := range inv.SourceFiles() {
		html, err := os.ReadFile(src)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", src, err)
		}
		id, err := mailer.Send(ctx, Message{
			From:    opts.Sender,
			To:      recipients,
			Subject: opts.Subject,
			HTML:    string(html),
			Tags:    opts.Tags,
		})
		if err != nil {
			return nil, fmt.Errorf("sending %s: %w", fs.RelSlash(inv.Root, src), err)
		}
		inv.Logger.Info("sent test email", "file", fs.RelSlash(inv.Root, src), "to", strings.Join(recipients, ","), "id", id)
		ids = append(ids, id)
	}
	return &pipeline.Output{Files: len(ids), Status: strings.Join(ids, ", ")}, nil
}

// splitList flattens comma separated entries and drops blanks.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// senderDomain returns the domain of an address like "Name <a@example.com>".
func senderDomain(sender string) string {
	s := strings.TrimSpace(sender)
	if i := strings.LastIndex(s, "<"); i >= 0 {
		s = strings.TrimSuffix(s[i+1:], ">")
	}
	_, domain, ok := strings.Cut(s, "@")
	if !ok {
		return ""
	}
	return strings.TrimSpace(domain)
}
