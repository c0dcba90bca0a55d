package remote

import (
	"context"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"

	"mailbuild/internal/stage"
)

// Litmus creates email render tests through the Litmus test set API.
type Litmus struct {
	username string
	password string
	base     string
}

// NewLitmus creates a client for the account at c.URL.
func NewLitmus(c stage.LitmusConnection) (stage.RenderTester, error) {
	if c.URL == "" {
		return nil, fmt.Errorf("litmus url is required")
	}
	return &Litmus{username: c.Username, password: c.Password, base: strings.TrimRight(c.URL, "/")}, nil
}

type litmusApplication struct {
	Code string `xml:"code"`
}

type litmusTestSet struct {
	XMLName      xml.Name           `xml:"test_set"`
	Applications litmusApplications `xml:"applications"`
	SaveDefaults bool               `xml:"save_defaults"`
	UseDefaults  bool               `xml:"use_defaults"`
	EmailSource  litmusEmailSource  `xml:"email_source"`
}

type litmusApplications struct {
	Type  string              `xml:"type,attr"`
	Items []litmusApplication `xml:"application"`
}

type litmusEmailSource struct {
	Body    litmusCDATA `xml:"body"`
	Subject string      `xml:"subject"`
}

type litmusCDATA struct {
	Text string `xml:",cdata"`
}

type litmusResult struct {
	ID int64 `xml:"id"`
}

func (l *Litmus) Submit(ctx context.Context, test stage.RenderTest) (string, error) {
	set := litmusTestSet{
		Applications: litmusApplications{Type: "array"},
		EmailSource: litmusEmailSource{
			Body:    litmusCDATA{Text: test.HTML},
			Subject: test.Title,
		},
	}
	for _, c := range test.Clients {
		set.Applications.Items = append(set.Applications.Items, litmusApplication{Code: c})
	}
	body, err := xml.Marshal(set)
	if err != nil {
		return "", fmt.Errorf("encoding test set: %w", err)
	}

	resp, err := newClient(l.base).R().
		SetContext(ctx).
		SetBasicAuth(l.username, l.password).
		SetHeader("Content-Type", "application/xml").
		SetHeader("Accept", "application/xml").
		SetBody(append([]byte(xml.Header), body...)).
		Post("/emails.xml")
	if err := checkResponse("creating litmus test", resp, err); err != nil {
		return "", err
	}

	var result litmusResult
	if err := xml.Unmarshal(resp.Body(), &result); err != nil {
		return "", fmt.Errorf("decoding litmus response: %w", err)
	}
	return strconv.FormatInt(result.ID, 10), nil
}

var _ stage.RenderTester = (*Litmus)(nil)
