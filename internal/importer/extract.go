package importer

import (
	"context"
	"os"

	"github.com/evanoberholster/imagemeta"

	"github.com/mkaverti/fieldvault/internal/model"
	"github.com/mkaverti/fieldvault/internal/probe"
)

// extractMeta fills the outcome's structural metadata from the placed
// file. Failures degrade to nulls: the row is still created, and the
// metadata job can retry the heavier extraction later.
func extractMeta(ctx context.Context, path string, out *model.FileOutcome) {
	if info, err := os.Stat(path); err == nil {
		out.SizeBytes = info.Size()
	}

	switch model.MediaType(out.MediaType) {
	case model.MediaImage:
		f, err := os.Open(path)
		if err != nil {
			return
		}
		defer f.Close()
		meta, err := imagemeta.Decode(f)
		if err != nil {
			return
		}
		if meta.ImageWidth > 0 {
			w := int64(meta.ImageWidth)
			h := int64(meta.ImageHeight)
			out.Width = &w
			out.Height = &h
		}
	case model.MediaVideo:
		res, err := probe.Probe(ctx, path)
		if err != nil {
			return
		}
		if res.Width > 0 {
			w := int64(res.Width)
			h := int64(res.Height)
			out.Width = &w
			out.Height = &h
		}
		if res.DurationSecs > 0 {
			d := res.DurationSecs
			out.DurationSecs = &d
		}
	}
}
