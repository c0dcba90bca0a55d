package stage

import (
	"context"
	"fmt"

	"mailbuild/internal/pipeline"
)

// Publish copies files into a local directory, e.g. a mounted share that a
// web server or ESP picks them up from.
type Publish struct {
	deps Dependencies
}

type publishOptions struct {
	Dir    string `mapstructure:"dir" validate:"required"`
	Prefix string `mapstructure:"prefix"`
}

func (p *Publish) Run(ctx context.Context, inv *pipeline.Invocation) (*pipeline.Output, error) {
	var opts publishOptions
	if err := inv.Decode(&opts); err != nil {
		return nil, err
	}
	if p.deps.NewDirStore == nil {
		return nil, fmt.Errorf("no directory store configured")
	}
	store, err := p.deps.NewDirStore(inv.Abs(opts.Dir))
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", opts.Dir, err)
	}

	u := &uploader{deps: p.deps, inv: inv, store: store, prepare: plainObject}
	if err := u.run(ctx, collectUploads(inv, opts.Prefix)); err != nil {
		return nil, err
	}
	return u.output(), nil
}
