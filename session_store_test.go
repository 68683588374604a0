package ocrsession

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/couchbaselabs/go.assert"
)

func TestMemoryStoreSessionLifecycle(t *testing.T) {

	store := NewMemorySessionStore()
	ctx := context.Background()

	session := &OcrSession{Name: "morning service", Category: "obituary", Status: SessionActive}
	err := store.CreateSession(ctx, session)
	assert.True(t, err == nil)
	assert.True(t, session.ID != "")
	assert.False(t, session.CreatedAt.IsZero())

	loaded, err := store.GetSession(ctx, session.ID)
	assert.True(t, err == nil)
	assert.Equals(t, loaded.Name, "morning service")

	loaded.CombinedText = "some extracted text"
	err = store.UpdateSession(ctx, loaded)
	assert.True(t, err == nil)

	reloaded, err := store.GetSession(ctx, session.ID)
	assert.True(t, err == nil)
	assert.Equals(t, reloaded.CombinedText, "some extracted text")

	err = store.DeleteSession(ctx, session.ID)
	assert.True(t, err == nil)
	_, err = store.GetSession(ctx, session.ID)
	assert.True(t, errors.Is(err, ErrNotFound))

}

func TestMemoryStoreReturnsCopies(t *testing.T) {

	store := NewMemorySessionStore()
	ctx := context.Background()

	session := &OcrSession{Name: "original"}
	err := store.CreateSession(ctx, session)
	assert.True(t, err == nil)

	// mutating a loaded copy must not leak into the store
	loaded, err := store.GetSession(ctx, session.ID)
	assert.True(t, err == nil)
	loaded.Name = "tampered"

	reloaded, err := store.GetSession(ctx, session.ID)
	assert.True(t, err == nil)
	assert.Equals(t, reloaded.Name, "original")

}

func TestMemoryStoreListSessionsNewestFirst(t *testing.T) {

	store := NewMemorySessionStore()
	ctx := context.Background()

	older := &OcrSession{Name: "older"}
	err := store.CreateSession(ctx, older)
	assert.True(t, err == nil)

	time.Sleep(2 * time.Millisecond)

	newer := &OcrSession{Name: "newer"}
	err = store.CreateSession(ctx, newer)
	assert.True(t, err == nil)

	sessions, err := store.ListSessions(ctx)
	assert.True(t, err == nil)
	assert.Equals(t, len(sessions), 2)
	assert.Equals(t, sessions[0].Name, "newer")
	assert.Equals(t, sessions[1].Name, "older")

}

func TestMemoryStoreListImagesAscendingOrder(t *testing.T) {

	store := NewMemorySessionStore()
	ctx := context.Background()

	session := &OcrSession{Name: "ordered"}
	err := store.CreateSession(ctx, session)
	assert.True(t, err == nil)

	// insert out of order on purpose
	for _, idx := range []int{2, 0, 1} {
		unit := &ImageUnit{SessionID: session.ID, OrderIndex: idx, Status: StatusPending}
		err = store.AddImage(ctx, unit)
		assert.True(t, err == nil)
		assert.True(t, unit.ID != "")
	}

	images, err := store.ListImages(ctx, session.ID)
	assert.True(t, err == nil)
	assert.Equals(t, len(images), 3)
	for i, unit := range images {
		assert.Equals(t, unit.OrderIndex, i)
	}

}

func TestMemoryStoreImageLifecycle(t *testing.T) {

	store := NewMemorySessionStore()
	ctx := context.Background()

	session := &OcrSession{Name: "holder"}
	err := store.CreateSession(ctx, session)
	assert.True(t, err == nil)

	unit := &ImageUnit{SessionID: session.ID, BlobKey: "some.img", Status: StatusPending}
	err = store.AddImage(ctx, unit)
	assert.True(t, err == nil)

	loaded, err := store.GetImage(ctx, unit.ID)
	assert.True(t, err == nil)
	assert.Equals(t, loaded.BlobKey, "some.img")

	loaded.Status = StatusCompleted
	loaded.Text = "found words"
	err = store.UpdateImage(ctx, loaded)
	assert.True(t, err == nil)

	reloaded, err := store.GetImage(ctx, unit.ID)
	assert.True(t, err == nil)
	assert.Equals(t, reloaded.Status, StatusCompleted)
	assert.Equals(t, reloaded.Text, "found words")

	err = store.DeleteImage(ctx, unit.ID)
	assert.True(t, err == nil)
	_, err = store.GetImage(ctx, unit.ID)
	assert.True(t, errors.Is(err, ErrNotFound))

}

func TestMemoryStoreRejectsOrphanImages(t *testing.T) {

	store := NewMemorySessionStore()
	ctx := context.Background()

	unit := &ImageUnit{SessionID: "no-such-session"}
	err := store.AddImage(ctx, unit)
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = store.ListImages(ctx, "no-such-session")
	assert.True(t, errors.Is(err, ErrNotFound))

}

func TestMemoryStoreDeleteSessionCascades(t *testing.T) {

	store := NewMemorySessionStore()
	ctx := context.Background()

	keep := &OcrSession{Name: "keep"}
	doomed := &OcrSession{Name: "doomed"}
	err := store.CreateSession(ctx, keep)
	assert.True(t, err == nil)
	err = store.CreateSession(ctx, doomed)
	assert.True(t, err == nil)

	keptUnit := &ImageUnit{SessionID: keep.ID}
	err = store.AddImage(ctx, keptUnit)
	assert.True(t, err == nil)
	doomedUnit := &ImageUnit{SessionID: doomed.ID}
	err = store.AddImage(ctx, doomedUnit)
	assert.True(t, err == nil)

	err = store.DeleteSession(ctx, doomed.ID)
	assert.True(t, err == nil)

	_, err = store.GetImage(ctx, doomedUnit.ID)
	assert.True(t, errors.Is(err, ErrNotFound))

	// unrelated sessions keep their members
	survivor, err := store.GetImage(ctx, keptUnit.ID)
	assert.True(t, err == nil)
	assert.Equals(t, survivor.SessionID, keep.ID)

}

func TestFsBlobStoreRoundtrip(t *testing.T) {

	blobs, err := NewFsBlobStore(t.TempDir())
	assert.True(t, err == nil)

	payload := []byte{0x89, 'P', 'N', 'G', 0x00, 0x01, 0x02}
	key, err := blobs.Save(payload)
	assert.True(t, err == nil)
	assert.True(t, key != "")

	loaded, err := blobs.Load(key)
	assert.True(t, err == nil)
	assert.Equals(t, string(loaded), string(payload))

	err = blobs.Delete(key)
	assert.True(t, err == nil)
	_, err = blobs.Load(key)
	assert.True(t, err != nil)

}
