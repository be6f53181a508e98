package worker

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fieldvault "github.com/mkaverti/fieldvault"
	"github.com/mkaverti/fieldvault/internal/db"
	"github.com/mkaverti/fieldvault/internal/events"
	"github.com/mkaverti/fieldvault/internal/model"
	"github.com/mkaverti/fieldvault/internal/queue"
)

type handlerFixture struct {
	pool    *Pool
	archive string
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	database, err := db.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.Migrate(database, fieldvault.MigrationFS))

	archive := t.TempDir()
	require.NoError(t, db.SetSetting(database, db.ArchiveFolderKey, archive))
	require.NoError(t, db.CreateLocation(database, &model.Location{ID: "loc-001", Name: "Site"}))

	pool := NewPool(database, queue.New(database), events.New(), nil, time.Second)
	return &handlerFixture{pool: pool, archive: archive}
}

// placeImage stores a decodable PNG at the media row's archive path.
func (f *handlerFixture) placeImage(t *testing.T, media *model.MediaFile) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{uint8(x * 4), uint8(y * 5), 128, 255})
		}
	}
	full := filepath.Join(f.archive, "locations", media.LocID, filepath.FromSlash(media.ArchivePath))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
	out, err := os.Create(full)
	require.NoError(t, err)
	require.NoError(t, png.Encode(out, img))
	require.NoError(t, out.Close())
}

func mediaJob(t *testing.T, media *model.MediaFile) *model.Job {
	t.Helper()
	payload, err := json.Marshal(map[string]string{
		"mediaId":     media.ID,
		"hash":        media.Hash,
		"mediaType":   string(media.MediaType),
		"archivePath": media.ArchivePath,
		"locid":       media.LocID,
	})
	require.NoError(t, err)
	return &model.Job{ID: "j1", Payload: string(payload)}
}

func TestHandleThumbnailForImage(t *testing.T) {
	f := newHandlerFixture(t)
	media := &model.MediaFile{
		ID: "m1", LocID: "loc-001", MediaType: model.MediaImage,
		OriginalName: "a.png", ArchivePath: "data/images/aaaa0000bbbb1111.png",
		Hash: "aaaa0000bbbb1111ffffffffffffffffffffffffffffffffffffffffffffffff", SizeBytes: 1,
	}
	require.NoError(t, db.CreateMediaFile(f.pool.database, media))
	f.placeImage(t, media)

	require.NoError(t, f.pool.handleThumbnail(context.Background(), mediaJob(t, media)))

	stored, err := db.GetMediaFile(f.pool.database, "m1")
	require.NoError(t, err)
	require.NotNil(t, stored.ThumbPath)
	assert.Contains(t, *stored.ThumbPath, filepath.Join("derived", "loc-001", "thumbs"))
	if _, err := os.Stat(*stored.ThumbPath); err != nil {
		t.Errorf("thumbnail not written: %v", err)
	}
}

func TestHandlePHashForImage(t *testing.T) {
	f := newHandlerFixture(t)
	media := &model.MediaFile{
		ID: "m2", LocID: "loc-001", MediaType: model.MediaImage,
		OriginalName: "b.png", ArchivePath: "data/images/cccc.png",
		Hash: "cccc", SizeBytes: 1,
	}
	require.NoError(t, db.CreateMediaFile(f.pool.database, media))
	f.placeImage(t, media)

	require.NoError(t, f.pool.handlePHash(context.Background(), mediaJob(t, media)))

	stored, err := db.GetMediaFile(f.pool.database, "m2")
	require.NoError(t, err)
	require.NotNil(t, stored.PHash)
	assert.Len(t, *stored.PHash, 16)
}

func TestHandlersFailOnMissingMedia(t *testing.T) {
	f := newHandlerFixture(t)
	job := &model.Job{ID: "j1", Payload: `{"mediaId":"nope"}`}

	assert.Error(t, f.pool.handleThumbnail(context.Background(), job))
	assert.Error(t, f.pool.handleMetadata(context.Background(), job))
	assert.Error(t, f.pool.handlePHash(context.Background(), job))
	assert.Error(t, f.pool.handleProxy(context.Background(), job))
}

func TestHandleThumbnailFailsOnMissingSourceFile(t *testing.T) {
	f := newHandlerFixture(t)
	media := &model.MediaFile{
		ID: "m3", LocID: "loc-001", MediaType: model.MediaImage,
		OriginalName: "gone.png", ArchivePath: "data/images/dddd.png",
		Hash: "dddd", SizeBytes: 1,
	}
	require.NoError(t, db.CreateMediaFile(f.pool.database, media))

	err := f.pool.handleThumbnail(context.Background(), mediaJob(t, media))
	assert.Error(t, err, "a vanished payload file must surface as a job failure")
}

func TestHandleRollup(t *testing.T) {
	f := newHandlerFixture(t)
	for _, m := range []model.MediaFile{
		{ID: "r1", LocID: "loc-001", MediaType: model.MediaImage, OriginalName: "a.jpg",
			ArchivePath: "data/images/a.jpg", Hash: "ra", SizeBytes: 111},
		{ID: "r2", LocID: "loc-001", MediaType: model.MediaImage, OriginalName: "b.jpg",
			ArchivePath: "data/images/b.jpg", Hash: "rb", SizeBytes: 222},
	} {
		m := m
		require.NoError(t, db.CreateMediaFile(f.pool.database, &m))
	}

	job := &model.Job{ID: "j1", Payload: `{"locid":"loc-001"}`}
	require.NoError(t, f.pool.handleRollup(context.Background(), job))

	loc, err := db.GetLocation(f.pool.database, "loc-001")
	require.NoError(t, err)
	assert.Equal(t, 2, loc.MediaCount)
	assert.Equal(t, int64(333), loc.MediaBytes)
}
