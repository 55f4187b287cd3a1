package cvstore

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"cvSync/internal/cv"
	"cvSync/internal/testutil"
)

var shareKeyRe = regexp.MustCompile(`^[A-Za-z0-9]{30}$`)

func newTestStore(t *testing.T) (*Store, uint) {
	t.Helper()
	db := testutil.NewTestDB(t)
	userID := testutil.SeedUser(t, db, "owner")
	return New(db), userID
}

func TestCreate_ShareKeyFormatAndUniqueness(t *testing.T) {
	ctx := context.Background()
	store, userID := newTestStore(t)

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		record, err := store.Create(ctx, userID, "cv")
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if !shareKeyRe.MatchString(record.ShareKey) {
			t.Fatalf("share key %q does not match pattern", record.ShareKey)
		}
		if seen[record.ShareKey] {
			t.Fatalf("duplicate share key %q", record.ShareKey)
		}
		seen[record.ShareKey] = true
	}
}

func TestCreate_SeedsEmptySlotsWithShape(t *testing.T) {
	ctx := context.Background()
	store, userID := newTestStore(t)

	record, err := store.Create(ctx, userID, "x")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	content, err := CanonicalContent(record)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := content[cv.PersonalInfo].(map[string]any); !ok {
		t.Fatalf("personal_info should be a mapping, got %#v", content[cv.PersonalInfo])
	}
	if _, ok := content[cv.Experience].([]any); !ok {
		t.Fatalf("experience should be a sequence, got %#v", content[cv.Experience])
	}
}

func TestCreate_KeyExhaustionAfterFiveCollisions(t *testing.T) {
	ctx := context.Background()
	store, userID := newTestStore(t)

	const fixed = "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	store.generateKey = func() (string, error) { return fixed, nil }
	if _, err := store.Create(ctx, userID, "first"); err != nil {
		t.Fatalf("first create: %v", err)
	}

	calls := 0
	store.generateKey = func() (string, error) {
		calls++
		return fixed, nil
	}
	_, err := store.Create(ctx, userID, "second")
	if !errors.Is(err, ErrKeyExhaustion) {
		t.Fatalf("expected ErrKeyExhaustion got %v", err)
	}
	if calls != maxShareKeyAttempts {
		t.Fatalf("expected %d attempts got %d", maxShareKeyAttempts, calls)
	}
}

func TestLoadForViewer_WrongKeyIsNotFound(t *testing.T) {
	ctx := context.Background()
	store, userID := newTestStore(t)

	record, err := store.Create(ctx, userID, "x")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.LoadForViewer(ctx, record.ID, record.ShareKey); err != nil {
		t.Fatalf("load with correct key: %v", err)
	}

	wrong := []byte(record.ShareKey)
	if wrong[0] == 'A' {
		wrong[0] = 'B'
	} else {
		wrong[0] = 'A'
	}
	if _, err := store.LoadForViewer(ctx, record.ID, string(wrong)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound got %v", err)
	}
	if _, err := store.LoadForViewer(ctx, record.ID+100, record.ShareKey); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown id got %v", err)
	}
}

func TestPutTranslation_UpsertsAndBumpsUpdatedAt(t *testing.T) {
	ctx := context.Background()
	store, userID := newTestStore(t)

	record, err := store.Create(ctx, userID, "x")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	bumped := record.UpdatedAt.Add(time.Hour)
	store.now = func() time.Time { return bumped }

	first := cv.Content{cv.PersonalInfo: map[string]any{"name": "Ada"}}
	if err := store.PutTranslation(ctx, record.ID, cv.English, first); err != nil {
		t.Fatalf("put translation: %v", err)
	}
	second := cv.Content{
		cv.PersonalInfo: map[string]any{"name": "Grace"},
		cv.Experience:   []any{map[string]any{"company": "Navy"}},
	}
	if err := store.PutTranslation(ctx, record.ID, cv.English, second); err != nil {
		t.Fatalf("put translation again: %v", err)
	}

	list, err := store.ListTranslations(ctx, record.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected exactly one row, got %d", len(list))
	}
	got := list[0].Content
	if got[cv.PersonalInfo].(map[string]any)["name"] != "Grace" {
		t.Fatalf("expected upserted name, got %v", got[cv.PersonalInfo])
	}
	if exp, ok := got[cv.Experience].([]any); !ok || len(exp) != 1 {
		t.Fatalf("experience shape lost: %#v", got[cv.Experience])
	}
	if _, ok := got[cv.Skills].([]any); !ok {
		t.Fatalf("missing slots should be completed with empty sequences, got %#v", got[cv.Skills])
	}

	reloaded, err := store.Load(ctx, record.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !reloaded.UpdatedAt.Equal(bumped) {
		t.Fatalf("expected updated_at %v got %v", bumped, reloaded.UpdatedAt)
	}
}

func TestPutTranslation_RejectsShapeChange(t *testing.T) {
	ctx := context.Background()
	store, userID := newTestStore(t)

	record, err := store.Create(ctx, userID, "x")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	bad := cv.Content{cv.Education: map[string]any{"school": "MIT"}}
	if err := store.PutTranslation(ctx, record.ID, cv.English, bad); !errors.Is(err, cv.ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch got %v", err)
	}
}

func TestGetTranslation_Missing(t *testing.T) {
	ctx := context.Background()
	store, userID := newTestStore(t)

	record, err := store.Create(ctx, userID, "x")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.GetTranslation(ctx, record.ID, cv.German); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound got %v", err)
	}
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store, userID := newTestStore(t)

	record, err := store.Create(ctx, userID, "x")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	boom := errors.New("boom")
	step := 4
	err = store.WithTx(ctx, func(tx *Store) error {
		if err := tx.UpdateCanonical(ctx, record.ID, CanonicalUpdate{CurrentStep: &step}); err != nil {
			return err
		}
		if err := tx.PutTranslation(ctx, record.ID, cv.Turkish, cv.Empty()); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected wrapped store error got %v", err)
	}

	reloaded, err := store.Load(ctx, record.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.CurrentStep != 0 {
		t.Fatalf("expected rollback of current_step, got %d", reloaded.CurrentStep)
	}
	if _, err := store.GetTranslation(ctx, record.ID, cv.Turkish); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected rolled back translation, got %v", err)
	}
}

func TestSetVideo_ReturnsPreviousKey(t *testing.T) {
	ctx := context.Background()
	store, userID := newTestStore(t)

	record, err := store.Create(ctx, userID, "x")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	prev, err := store.SetVideo(ctx, record.ID, "cv-videos/1/a.mp4", "https://cdn/a.mp4")
	if err != nil || prev != "" {
		t.Fatalf("first set video: prev=%q err=%v", prev, err)
	}
	prev, err = store.SetVideo(ctx, record.ID, "cv-videos/1/b.mp4", "https://cdn/b.mp4")
	if err != nil || prev != "cv-videos/1/a.mp4" {
		t.Fatalf("second set video: prev=%q err=%v", prev, err)
	}
	if _, err := store.SetVideo(ctx, record.ID+99, "k", "u"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound got %v", err)
	}
}
