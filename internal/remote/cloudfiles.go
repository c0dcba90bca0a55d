package remote

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"mailbuild/internal/stage"
)

// DefaultIdentityURL is the Rackspace identity endpoint.
const DefaultIdentityURL = "https://identity.api.rackspacecloud.com"

// CloudFilesStore uploads objects to a Rackspace Cloud Files container.
type CloudFilesStore struct {
	region    string
	container string
	storage   string
	token     string
}

type identityRequest struct {
	Auth struct {
		Credentials struct {
			Username string `json:"username"`
			APIKey   string `json:"apiKey"`
		} `json:"RAX-KSKEY:apiKeyCredentials"`
	} `json:"auth"`
}

type identityResponse struct {
	Access struct {
		Token struct {
			ID string `json:"id"`
		} `json:"token"`
		ServiceCatalog []struct {
			Name      string `json:"name"`
			Type      string `json:"type"`
			Endpoints []struct {
				Region    string `json:"region"`
				PublicURL string `json:"publicURL"`
			} `json:"endpoints"`
		} `json:"serviceCatalog"`
	} `json:"access"`
}

// NewCloudFilesStore authenticates against the identity service and looks
// up the object-store endpoint for c.Region.
func NewCloudFilesStore(ctx context.Context, c stage.CloudFilesConnection) (stage.ObjectStore, error) {
	authURL := c.AuthURL
	if authURL == "" {
		authURL = DefaultIdentityURL
	}

	var req identityRequest
	req.Auth.Credentials.Username = c.User
	req.Auth.Credentials.APIKey = c.Key

	var out identityResponse
	resp, err := newClient(authURL).R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		SetResult(&out).
		Post("/v2.0/tokens")
	if err := checkResponse("authenticating with cloud files", resp, err); err != nil {
		return nil, err
	}
	if out.Access.Token.ID == "" {
		return nil, fmt.Errorf("authenticating with cloud files: no token in response")
	}

	storage := ""
	for _, svc := range out.Access.ServiceCatalog {
		if svc.Type != "object-store" {
			continue
		}
		for _, ep := range svc.Endpoints {
			if strings.EqualFold(ep.Region, c.Region) {
				storage = ep.PublicURL
			}
		}
	}
	if storage == "" {
		return nil, fmt.Errorf("no cloud files endpoint for region %s", c.Region)
	}

	return &CloudFilesStore{
		region:    strings.ToUpper(c.Region),
		container: c.Container,
		storage:   strings.TrimRight(storage, "/"),
		token:     out.Access.Token.ID,
	}, nil
}

func (c *CloudFilesStore) Destination() string {
	return "cloudfiles://" + c.region + "/" + c.container
}

func (c *CloudFilesStore) Put(ctx context.Context, obj stage.Object) error {
	if _, err := obj.Body.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding body: %w", err)
	}
	body, err := io.ReadAll(obj.Body)
	if err != nil {
		return fmt.Errorf("reading body: %w", err)
	}

	req := newClient(c.storage).R().
		SetContext(ctx).
		SetHeader("X-Auth-Token", c.token).
		SetHeader("Content-Type", obj.ContentType).
		SetBody(body)
	if obj.ContentEncoding != "" {
		req.SetHeader("Content-Encoding", obj.ContentEncoding)
	}
	if obj.CacheControl != "" {
		req.SetHeader("Cache-Control", obj.CacheControl)
	}

	resp, err := req.Put("/" + url.PathEscape(c.container) + "/" + escapeKey(obj.Key))
	return checkResponse("put "+obj.Key, resp, err)
}

// escapeKey escapes every path segment of key.
func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

var _ stage.ObjectStore = (*CloudFilesStore)(nil)
