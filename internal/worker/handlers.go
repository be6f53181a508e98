package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/evanoberholster/imagemeta"

	"github.com/mkaverti/fieldvault/internal/content"
	"github.com/mkaverti/fieldvault/internal/db"
	"github.com/mkaverti/fieldvault/internal/events"
	"github.com/mkaverti/fieldvault/internal/model"
	"github.com/mkaverti/fieldvault/internal/phash"
	"github.com/mkaverti/fieldvault/internal/probe"
	"github.com/mkaverti/fieldvault/internal/thumbs"
)

// mediaPayload is the job payload shared by all per-asset queues.
type mediaPayload struct {
	MediaID     string `json:"mediaId"`
	Hash        string `json:"hash"`
	MediaType   string `json:"mediaType"`
	ArchivePath string `json:"archivePath"`
	LocID       string `json:"locid"`
	SubID       string `json:"subid"`
}

func (p *Pool) mediaForJob(job *model.Job) (*model.MediaFile, string, error) {
	var payload mediaPayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return nil, "", fmt.Errorf("decode payload: %w", err)
	}
	media, err := db.GetMediaFile(p.database, payload.MediaID)
	if err != nil {
		return nil, "", err
	}
	if media == nil {
		return nil, "", fmt.Errorf("media %s: not found", payload.MediaID)
	}

	root, err := db.GetSetting(p.database, db.ArchiveFolderKey)
	if err != nil {
		return nil, "", err
	}
	if root == "" {
		return nil, "", model.ErrArchiveNotConfigured
	}
	src := filepath.Join(root, "locations", media.LocID, filepath.FromSlash(media.ArchivePath))
	return media, src, nil
}

// derivedPath places derivatives outside the bags so thumbnails and
// proxies never perturb payload manifests.
func (p *Pool) derivedPath(media *model.MediaFile, kind, ext string) (string, error) {
	root, err := db.GetSetting(p.database, db.ArchiveFolderKey)
	if err != nil {
		return "", err
	}
	if root == "" {
		return "", model.ErrArchiveNotConfigured
	}
	return filepath.Join(root, "derived", media.LocID, kind, content.ShortID(media.Hash)+ext), nil
}

func (p *Pool) handleThumbnail(ctx context.Context, job *model.Job) error {
	media, src, err := p.mediaForJob(job)
	if err != nil {
		return err
	}

	dst, err := p.derivedPath(media, "thumbs", ".jpg")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("create thumbs dir: %w", err)
	}

	switch media.MediaType {
	case model.MediaImage:
		if err := thumbs.FromImage(src, dst); err != nil {
			return err
		}
	case model.MediaVideo:
		seek := 1.0
		if media.DurationSecs != nil && *media.DurationSecs > 2 {
			seek = *media.DurationSecs / 10
		}
		if err := probe.ExtractVideoFrame(ctx, src, dst, seek); err != nil {
			return err
		}
	default:
		return nil
	}

	if err := db.SetMediaThumbPath(p.database, media.ID, dst); err != nil {
		return err
	}
	data, _ := json.Marshal(map[string]string{"mediaId": media.ID, "thumbPath": dst})
	p.hub.Publish("media:"+media.ID, events.Event{Type: events.TypeThumbnailReady, Data: string(data)})
	return nil
}

// handleMetadata performs the heavier extraction pass: full EXIF for
// images, stream probing for video. It backfills dimensions the import
// pipeline could not read.
func (p *Pool) handleMetadata(ctx context.Context, job *model.Job) error {
	media, src, err := p.mediaForJob(job)
	if err != nil {
		return err
	}

	switch media.MediaType {
	case model.MediaImage:
		f, err := os.Open(src)
		if err != nil {
			return fmt.Errorf("open %s: %w", src, err)
		}
		defer f.Close()
		meta, err := imagemeta.Decode(f)
		if err != nil {
			return fmt.Errorf("decode exif: %w", err)
		}
		if meta.ImageWidth > 0 && media.Width == nil {
			w := int64(meta.ImageWidth)
			h := int64(meta.ImageHeight)
			return db.SetMediaDimensions(p.database, media.ID, &w, &h, media.DurationSecs)
		}
	case model.MediaVideo:
		res, err := probe.Probe(ctx, src)
		if err != nil {
			return err
		}
		if res.Width > 0 {
			w := int64(res.Width)
			h := int64(res.Height)
			d := res.DurationSecs
			return db.SetMediaDimensions(p.database, media.ID, &w, &h, &d)
		}
	}
	return nil
}

func (p *Pool) handlePHash(ctx context.Context, job *model.Job) error {
	media, src, err := p.mediaForJob(job)
	if err != nil {
		return err
	}
	if media.MediaType != model.MediaImage {
		return nil
	}
	h, err := phash.File(src)
	if err != nil {
		return err
	}
	return db.SetMediaPHash(p.database, media.ID, phash.Format(h))
}

func (p *Pool) handleProxy(ctx context.Context, job *model.Job) error {
	media, src, err := p.mediaForJob(job)
	if err != nil {
		return err
	}
	if media.MediaType != model.MediaVideo {
		return nil
	}
	if p.transcoder == nil {
		return fmt.Errorf("no transcoder configured")
	}

	dst, err := p.derivedPath(media, "proxy", ".mp4")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("create proxy dir: %w", err)
	}
	if err := p.transcoder.TranscodeProxy(ctx, src, dst); err != nil {
		return err
	}

	if err := db.SetMediaProxyPath(p.database, media.ID, dst); err != nil {
		return err
	}
	data, _ := json.Marshal(map[string]string{"mediaId": media.ID, "proxyPath": dst})
	p.hub.Publish("media:"+media.ID, events.Event{Type: events.TypeProxyReady, Data: string(data)})
	return nil
}

// handleRollup recomputes a location's aggregate media counters.
func (p *Pool) handleRollup(ctx context.Context, job *model.Job) error {
	var payload struct {
		LocID string `json:"locid"`
	}
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return db.UpdateLocationCounters(p.database, payload.LocID)
}
