package stage

import (
	"context"
	"fmt"

	"mailbuild/internal/pipeline"
)

// CloudFiles uploads files to a Rackspace Cloud Files container.
type CloudFiles struct {
	deps Dependencies
}

type cloudFilesOptions struct {
	User      string `mapstructure:"user" validate:"required"`
	Key       string `mapstructure:"key" validate:"required"`
	Region    string `mapstructure:"region" validate:"required"`
	Container string `mapstructure:"container" validate:"required"`
	AuthURL   string `mapstructure:"auth_url" validate:"omitempty,url"`
	Dest      string `mapstructure:"dest"`
}

func (c *CloudFiles) Run(ctx context.Context, inv *pipeline.Invocation) (*pipeline.Output, error) {
	var opts cloudFilesOptions
	if err := inv.Decode(&opts); err != nil {
		return nil, err
	}
	if c.deps.NewCloudFilesStore == nil {
		return nil, fmt.Errorf("no cloud files client configured")
	}
	store, err := c.deps.NewCloudFilesStore(ctx, CloudFilesConnection{
		User:      opts.User,
		Key:       opts.Key,
		Region:    opts.Region,
		Container: opts.Container,
		AuthURL:   opts.AuthURL,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to cloud files: %w", err)
	}

	u := &uploader{deps: c.deps, inv: inv, store: store, prepare: plainObject}
	if err := u.run(ctx, collectUploads(inv, opts.Dest)); err != nil {
		return nil, err
	}
	return u.output(), nil
}
