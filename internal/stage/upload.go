package stage

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/sync/errgroup"

	"mailbuild/internal/fs"
	"mailbuild/internal/pipeline"
)

// uploadItem is one local file and the key it is stored under.
type uploadItem struct {
	Src string
	Key string
}

// collectUploads lists every source file of inv with its object key.
func collectUploads(inv *pipeline.Invocation, prefix string) []uploadItem {
	var items []uploadItem
	for _, set := range inv.Files {
		for _, src := range set.Src {
			items = append(items, uploadItem{Src: src, Key: objectKey(inv.Root, prefix, set, src)})
		}
	}
	return items
}

// prepareFunc builds the object for an item. The returned fingerprint
// identifies the stored bytes and their encoding in the ledger.
type prepareFunc func(item uploadItem, data []byte) (obj Object, fingerprint string, err error)

type uploader struct {
	deps     Dependencies
	inv      *pipeline.Invocation
	store    ObjectStore
	prepare  prepareFunc
	parallel int

	uploaded atomic.Int64
	skipped  atomic.Int64
}

// run uploads items, skipping those the ledger already holds with the same
// fingerprint. With parallel > 1 up to that many uploads run at once; run
// returns only after all of them finished.
func (u *uploader) run(ctx context.Context, items []uploadItem) error {
	if u.parallel < 1 {
		u.parallel = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.parallel)
	for _, item := range items {
		item := item
		g.Go(func() error {
			return u.one(gctx, item)
		})
	}
	return g.Wait()
}

func (u *uploader) one(ctx context.Context, item uploadItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := os.ReadFile(item.Src)
	if err != nil {
		return fmt.Errorf("reading %s: %w", item.Src, err)
	}
	obj, fingerprint, err := u.prepare(item, data)
	if err != nil {
		return fmt.Errorf("preparing %s: %w", item.Key, err)
	}

	dest := u.store.Destination()
	if u.deps.Ledger != nil {
		rec, err := u.deps.Ledger.Lookup(ctx, dest, item.Key)
		if err != nil {
			return fmt.Errorf("checking ledger: %w", err)
		}
		if rec != nil && rec.Checksum == fingerprint {
			u.inv.Logger.Debug("object unchanged, skipping upload", "key", item.Key, "destination", dest)
			u.skipped.Add(1)
			return nil
		}
	}

	if err := u.store.Put(ctx, obj); err != nil {
		return fmt.Errorf("uploading %s: %w", item.Key, err)
	}
	u.inv.Logger.Info("uploaded object", "key", item.Key, "destination", dest, "size", obj.Size)
	u.uploaded.Add(1)

	if u.deps.Ledger == nil {
		return nil
	}
	rec := UploadRecord{
		Destination: dest,
		Key:         item.Key,
		Checksum:    fingerprint,
		Size:        obj.Size,
		UploadedAt:  now(u.deps),
		RunID:       u.inv.RunID,
	}
	if err := u.deps.Ledger.Record(ctx, rec); err != nil {
		return fmt.Errorf("recording upload: %w", err)
	}
	return nil
}

func (u *uploader) output() *pipeline.Output {
	return &pipeline.Output{
		Files:  int(u.uploaded.Load()),
		Status: fmt.Sprintf("%d uploaded, %d unchanged", u.uploaded.Load(), u.skipped.Load()),
	}
}

// plainObject stores data as is.
func plainObject(item uploadItem, data []byte) (Object, string, error) {
	sum, _, err := fs.Checksum(bytes.NewReader(data))
	if err != nil {
		return Object{}, "", err
	}
	return Object{
		Key:         item.Key,
		Body:        bytes.NewReader(data),
		Size:        int64(len(data)),
		ContentType: contentType(item.Src, data),
	}, sum, nil
}

// contentType guesses from the file extension first, then from the content.
func contentType(name string, data []byte) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return mimetype.Detect(data).String()
}
