package editing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/gorm"

	"cvSync/internal/cv"
	"cvSync/internal/cvstore"
	"cvSync/internal/database"
	"cvSync/internal/llm"
	"cvSync/internal/realtime"
	"cvSync/internal/testutil"
	"cvSync/internal/translation"
)

const templateID = "web-template1"

var languages = []cv.Language{cv.English, cv.Turkish, cv.Spanish, cv.German}

type fixture struct {
	db     *gorm.DB
	store  *cvstore.Store
	bus    *realtime.Bus
	mock   *testutil.MockLLM
	coord  *Coordinator
	userID uint
	record *database.CV
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewTestDB(t)
	userID := testutil.SeedUser(t, db, "owner")
	store := cvstore.New(db)
	record, err := store.Create(context.Background(), userID, "x")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	mock := &testutil.MockLLM{TranslateFunc: testutil.Tagged()}
	orch := translation.New(store, mock, translation.Config{Languages: languages})
	bus := realtime.NewBus(nil)
	return &fixture{
		db:     db,
		store:  store,
		bus:    bus,
		mock:   mock,
		coord:  NewCoordinator(store, orch, bus, cv.NewClock(), nil, nil),
		userID: userID,
		record: record,
	}
}

func (f *fixture) group(lang cv.Language) string {
	return cv.GroupKey{TemplateID: templateID, CVID: f.record.ID, ShareKey: f.record.ShareKey, Language: lang}.String()
}

func (f *fixture) edit(lang cv.Language, patch cv.Content) Edit {
	return Edit{EditorID: f.userID, CVID: f.record.ID, Language: lang, Patch: patch, TemplateID: templateID}
}

func (f *fixture) translation(t *testing.T, lang cv.Language) cv.Content {
	t.Helper()
	row, err := f.store.GetTranslation(context.Background(), f.record.ID, lang)
	if err != nil {
		t.Fatalf("get %s: %v", lang, err)
	}
	return row.Content
}

func name(content cv.Content) any {
	return content[cv.PersonalInfo].(map[string]any)["name"]
}

func receive(t *testing.T, sub *realtime.Subscription) *cv.Projection {
	t.Helper()
	select {
	case ev := <-sub.Queue().C():
		return ev.Projection
	case <-time.After(2 * time.Second):
		t.Fatalf("no event received")
		return nil
	}
}

func TestApplyEdit_SingleLanguageNoSubscribers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.coord.ApplyEdit(ctx, f.edit(cv.English, cv.Content{cv.PersonalInfo: map[string]any{"name": "Ada"}}))
	if err != nil {
		t.Fatalf("apply edit: %v", err)
	}
	if p.Action != cv.ActionUpdate || p.Language != cv.English || p.TemplateID != templateID {
		t.Fatalf("unexpected projection %+v", p)
	}
	if p.TranslationKey != f.group(cv.English) {
		t.Fatalf("translation key %q, want %q", p.TranslationKey, f.group(cv.English))
	}

	if got := name(f.translation(t, cv.English)); got != "Ada" {
		t.Fatalf("en name %v", got)
	}
	if got := name(f.translation(t, cv.Turkish)); got != "Ada [tr]" {
		t.Fatalf("tr name %v", got)
	}

	rows, err := f.store.ListTranslations(ctx, f.record.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != len(languages) {
		t.Fatalf("expected one row per language, got %d", len(rows))
	}
	for _, row := range rows {
		for _, slot := range cv.Slots {
			if _, ok := row.Content[slot]; !ok {
				t.Fatalf("%s missing slot %s", row.Language, slot)
			}
		}
	}

	record, err := f.store.Load(ctx, f.record.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	canonical, _ := cvstore.CanonicalContent(record)
	if name(canonical) != "Ada" || record.SourceLanguage != string(cv.English) {
		t.Fatalf("canonical fields not updated: %v %s", canonical[cv.PersonalInfo], record.SourceLanguage)
	}
}

func TestApplyEdit_ShapeAndNonTextFieldsMatchAcrossLanguages(t *testing.T) {
	f := newFixture(t)
	patch := cv.Content{
		cv.Education: []any{
			map[string]any{"school": "MIT", "degree": "BSc", "start_date": "2001-09", "end_date": "2005-06"},
			map[string]any{"school": "ETH", "degree": "MSc", "start_date": "2005-09"},
		},
		cv.Languages: []any{map[string]any{"name": "German", "level": "C1"}},
		cv.Certificates: []any{
			map[string]any{"name": "CKA", "issuer": "CNCF", "document_id": "doc-1", "url": "https://cert.example/1"},
		},
	}
	if _, err := f.coord.ApplyEdit(context.Background(), f.edit(cv.English, patch)); err != nil {
		t.Fatalf("apply edit: %v", err)
	}

	ref := f.translation(t, cv.English)
	for _, lang := range languages {
		got := f.translation(t, lang)
		for _, slot := range []cv.Slot{cv.Education, cv.Languages, cv.Certificates} {
			want := ref[slot].([]any)
			list := got[slot].([]any)
			if len(list) != len(want) {
				t.Fatalf("%s/%s length %d want %d", lang, slot, len(list), len(want))
			}
		}
		edu := got[cv.Education].([]any)[0].(map[string]any)
		if edu["start_date"] != "2001-09" || edu["end_date"] != "2005-06" {
			t.Fatalf("%s: dates changed %v", lang, edu)
		}
		if lvl := got[cv.Languages].([]any)[0].(map[string]any)["level"]; lvl != "C1" {
			t.Fatalf("%s: level changed %v", lang, lvl)
		}
		cert := got[cv.Certificates].([]any)[0].(map[string]any)
		if cert["document_id"] != "doc-1" || cert["url"] != "https://cert.example/1" {
			t.Fatalf("%s: certificate refs changed %v", lang, cert)
		}
	}
}

func TestApplyEdit_LLMOutageStillSucceeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seed := cv.Content{cv.Experience: []any{map[string]any{"company": "Navy", "position": "Officer"}}}
	if _, err := f.coord.ApplyEdit(ctx, f.edit(cv.English, seed)); err != nil {
		t.Fatalf("seed edit: %v", err)
	}

	f.mock.PolishFunc = func(context.Context, cv.Language, map[string]string) (map[string]string, error) {
		return nil, llm.ErrUnavailable
	}
	f.mock.TranslateFunc = func(context.Context, cv.Language, cv.Language, map[string]string) (map[string]string, error) {
		return nil, llm.ErrUnavailable
	}
	sub := f.bus.Subscribe(f.group(cv.English), 8)
	defer f.bus.Unsubscribe(sub)

	patch := cv.Content{cv.Experience: []any{map[string]any{"company": "Bell Labs", "position": "Researcher"}}}
	if _, err := f.coord.ApplyEdit(ctx, f.edit(cv.English, patch)); err != nil {
		t.Fatalf("edit during outage: %v", err)
	}

	en := f.translation(t, cv.English)[cv.Experience].([]any)[0].(map[string]any)
	if en["company"] != "Bell Labs" {
		t.Fatalf("en should reflect new experience, got %v", en)
	}
	tr := f.translation(t, cv.Turkish)[cv.Experience].([]any)[0].(map[string]any)
	if tr["company"] != "Navy [tr]" {
		t.Fatalf("tr should keep prior experience, got %v", tr)
	}
	if p := receive(t, sub); p.Action != cv.ActionUpdate {
		t.Fatalf("expected update event, got %+v", p)
	}
}

func TestApplyEdit_RejectsNonOwner(t *testing.T) {
	f := newFixture(t)
	sub := f.bus.Subscribe(f.group(cv.English), 8)
	defer f.bus.Unsubscribe(sub)

	edit := f.edit(cv.English, cv.Content{cv.PersonalInfo: map[string]any{"name": "Eve"}})
	edit.EditorID = f.userID + 1
	if _, err := f.coord.ApplyEdit(context.Background(), edit); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden got %v", err)
	}
	if sub.Queue().Len() != 0 {
		t.Fatalf("rejected edit must not publish")
	}
	if f.mock.Count("") != 0 {
		t.Fatalf("rejected edit must not call the llm")
	}
}

func TestApplyEdit_StoreFailureDoesNotPublish(t *testing.T) {
	f := newFixture(t)
	sub := f.bus.Subscribe(f.group(cv.English), 8)
	defer f.bus.Unsubscribe(sub)

	sqlDB, err := f.db.DB()
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	_ = sqlDB.Close()

	_, err = f.coord.ApplyEdit(context.Background(), f.edit(cv.English, cv.Content{cv.PersonalInfo: map[string]any{"name": "Ada"}}))
	if !errors.Is(err, cvstore.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable got %v", err)
	}
	if sub.Queue().Len() != 0 {
		t.Fatalf("failed edit must not publish")
	}
}

func TestApplyEdit_ReapplyingViewIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.coord.ApplyEdit(ctx, f.edit(cv.English, cv.Content{cv.PersonalInfo: map[string]any{"name": "Ada"}})); err != nil {
		t.Fatalf("first edit: %v", err)
	}
	before, err := f.store.Load(ctx, f.record.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	f.mock.Reset()

	view := f.translation(t, cv.English)
	if _, err := f.coord.ApplyEdit(ctx, f.edit(cv.English, view)); err != nil {
		t.Fatalf("reapply: %v", err)
	}
	if f.mock.Count("") != 0 {
		t.Fatalf("unchanged input must not call the llm, got %d calls", f.mock.Count(""))
	}
	after, err := f.store.Load(ctx, f.record.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !after.UpdatedAt.Equal(before.UpdatedAt) {
		t.Fatalf("unchanged input must not rewrite the cv")
	}
}

func TestApplyEdit_CurrentStepOnlyEmitsUpdate(t *testing.T) {
	f := newFixture(t)
	sub := f.bus.Subscribe(f.group(cv.English), 8)
	defer f.bus.Unsubscribe(sub)

	step := 3
	edit := f.edit(cv.English, nil)
	edit.CurrentStep = &step
	p, err := f.coord.ApplyEdit(context.Background(), edit)
	if err != nil {
		t.Fatalf("apply edit: %v", err)
	}
	if p.CurrentStep != 3 {
		t.Fatalf("projection current_step %d", p.CurrentStep)
	}
	if got := receive(t, sub); got.CurrentStep != 3 {
		t.Fatalf("published current_step %d", got.CurrentStep)
	}

	bad := 7
	edit.CurrentStep = &bad
	if _, err := f.coord.ApplyEdit(context.Background(), edit); !errors.Is(err, ErrInvalidStep) {
		t.Fatalf("expected ErrInvalidStep got %v", err)
	}
}

func TestApplyEdit_PublishesDirtyLanguagesToWatchedGroups(t *testing.T) {
	f := newFixture(t)
	trSub := f.bus.Subscribe(f.group(cv.Turkish), 8)
	defer f.bus.Unsubscribe(trSub)

	if _, err := f.coord.ApplyEdit(context.Background(), f.edit(cv.English, cv.Content{cv.PersonalInfo: map[string]any{"name": "Ada"}})); err != nil {
		t.Fatalf("apply edit: %v", err)
	}
	p := receive(t, trSub)
	if p.Language != cv.Turkish || name(p.Content()) != "Ada [tr]" {
		t.Fatalf("unexpected tr projection %+v", p)
	}
}

func TestApplyEdit_SerializesPerCVAndOrdersEvents(t *testing.T) {
	f := newFixture(t)
	sub := f.bus.Subscribe(f.group(cv.English), 16)
	defer f.bus.Unsubscribe(sub)

	var inflight, maxInflight int32
	f.mock.PolishFunc = func(_ context.Context, _ cv.Language, texts map[string]string) (map[string]string, error) {
		n := atomic.AddInt32(&inflight, 1)
		for {
			m := atomic.LoadInt32(&maxInflight)
			if n <= m || atomic.CompareAndSwapInt32(&maxInflight, m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inflight, -1)
		out := make(map[string]string, len(texts))
		for k, v := range texts {
			out[k] = v
		}
		return out, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			patch := cv.Content{cv.PersonalInfo: map[string]any{"name": fmt.Sprintf("name-%d", i)}}
			if _, err := f.coord.ApplyEdit(context.Background(), f.edit(cv.English, patch)); err != nil {
				t.Errorf("edit %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if atomic.LoadInt32(&maxInflight) != 1 {
		t.Fatalf("edits to one cv must not overlap, saw %d concurrent", maxInflight)
	}
	var last *cv.Projection
	for i := 0; i < 5; i++ {
		p := receive(t, sub)
		if last != nil && p.Timestamp <= last.Timestamp {
			t.Fatalf("timestamps not strictly increasing: %d then %d", last.Timestamp, p.Timestamp)
		}
		last = p
	}
	if got := name(f.translation(t, cv.English)); got != name(last.Content()) {
		t.Fatalf("last event %v does not match persisted %v", name(last.Content()), got)
	}
	if f.coord.locks.Size() != 0 {
		t.Fatalf("locks should be released, %d left", f.coord.locks.Size())
	}
}
