package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"cvSync/internal/cv"
)

func TestCreateCV_ReturnsShareKey(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.do(http.MethodPost, "/v1/cvs", map[string]any{"title": "  Second  "}, s.token(s.userID), nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 got %d body=%s", resp.StatusCode, body)
	}
	var created cvResponse
	if err := json.Unmarshal(body, &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Title != "Second" || !cv.ValidShareKey(created.ShareKey) {
		t.Fatalf("unexpected response %+v", created)
	}
	if created.ShareKey == s.record.ShareKey {
		t.Fatal("share keys must differ between cvs")
	}
}

func TestCreateCV_RequiresToken(t *testing.T) {
	s := newTestServer(t)

	resp, _ := s.do(http.MethodPost, "/v1/cvs", map[string]any{"title": "x"}, "", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.StatusCode)
	}
	resp, _ = s.do(http.MethodPost, "/v1/cvs", map[string]any{"title": "x"}, "not-a-jwt", nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token got %d", resp.StatusCode)
	}
}

func TestUpdateCV_PropagatesToEveryLanguage(t *testing.T) {
	s := newTestServer(t)
	patch := map[string]any{
		"language":      "en",
		"template_id":   testTemplate,
		"personal_info": map[string]any{"name": "Grace", "email": "ada@example.com"},
	}

	resp, body := s.do(http.MethodPatch, s.cvPath(""), patch, s.token(s.userID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%s", resp.StatusCode, body)
	}
	p := decodeProjection(t, body)
	if p.Action != cv.ActionUpdate || p.Language != cv.English || personalName(p) != "Grace" {
		t.Fatalf("unexpected projection %+v", p)
	}
	if p.TemplateID != testTemplate {
		t.Fatalf("expected template %q got %q", testTemplate, p.TemplateID)
	}

	resp, body = s.do(http.MethodGet, s.cvPath("/"+s.record.ShareKey+"/tr"), nil, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("view tr: %d body=%s", resp.StatusCode, body)
	}
	view := decodeProjection(t, body)
	if personalName(view) != "Grace [tr]" {
		t.Fatalf("expected translated name, got %v", personalName(view))
	}
	if view.PersonalInfo.(map[string]any)["email"] != "ada@example.com" {
		t.Fatalf("non-text field must be preserved: %v", view.PersonalInfo)
	}
	if view.Action != cv.ActionInitial {
		t.Fatalf("view action should be initial, got %q", view.Action)
	}
}

func TestUpdateCV_LanguageFromAcceptLanguage(t *testing.T) {
	s := newTestServer(t)
	patch := map[string]any{"personal_info": map[string]any{"name": "Grete"}}
	header := http.Header{"Accept-Language": {"de-DE,de;q=0.9,en;q=0.5"}}

	resp, body := s.do(http.MethodPatch, s.cvPath(""), patch, s.token(s.userID), header)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%s", resp.StatusCode, body)
	}
	if p := decodeProjection(t, body); p.Language != cv.German {
		t.Fatalf("expected de projection, got %q", p.Language)
	}
}

func TestUpdateCV_Rejections(t *testing.T) {
	s := newTestServer(t)
	cases := []struct {
		name  string
		body  map[string]any
		token string
		want  int
	}{
		{"shape mismatch", map[string]any{"personal_info": []any{"x"}}, s.token(s.userID), http.StatusBadRequest},
		{"step out of range", map[string]any{"current_step": 7}, s.token(s.userID), http.StatusBadRequest},
		{"unsupported language", map[string]any{"language": "fr"}, s.token(s.userID), http.StatusBadRequest},
		{"bad template", map[string]any{"template_id": "../x"}, s.token(s.userID), http.StatusBadRequest},
		{"not owner", map[string]any{"current_step": 1}, s.token(s.userID + 1), http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, body := s.do(http.MethodPatch, s.cvPath(""), tc.body, tc.token, nil)
			if resp.StatusCode != tc.want {
				t.Fatalf("expected %d got %d body=%s", tc.want, resp.StatusCode, body)
			}
		})
	}
	if s.mock.Count("") != 0 {
		t.Fatalf("rejected edits must not reach the llm, got %d calls", s.mock.Count(""))
	}
}

func TestUpdateCV_StoreUnavailable(t *testing.T) {
	s := newTestServer(t)
	token := s.token(s.userID)
	sub := s.bus.Subscribe(cv.GroupKey{TemplateID: DefaultTemplateID, CVID: s.record.ID, ShareKey: s.record.ShareKey, Language: cv.English}.String(), 4)
	defer s.bus.Unsubscribe(sub)

	sqlDB, err := s.db.DB()
	if err != nil {
		t.Fatalf("unwrap db: %v", err)
	}
	_ = sqlDB.Close()

	resp, body := s.do(http.MethodPatch, s.cvPath(""), map[string]any{"current_step": 2}, token, nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d body=%s", resp.StatusCode, body)
	}
	if sub.Queue().Len() != 0 {
		t.Fatal("a failed edit must not publish")
	}
}

func TestGetCV_OwnerRetrieve(t *testing.T) {
	s := newTestServer(t)

	resp, body := s.do(http.MethodGet, s.cvPath("?language=tr&template_id="+testTemplate), nil, s.token(s.userID), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%s", resp.StatusCode, body)
	}
	p := decodeProjection(t, body)
	if p.Language != cv.Turkish || p.TemplateID != testTemplate {
		t.Fatalf("unexpected projection %+v", p)
	}
	if !strings.HasPrefix(p.TranslationKey, "cv:"+testTemplate+":") {
		t.Fatalf("unexpected translation key %q", p.TranslationKey)
	}
	rows, err := s.store.ListTranslations(context.Background(), s.record.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != len(testLanguages) {
		t.Fatalf("retrieve should seed every language, got %d rows", len(rows))
	}

	header := http.Header{"Accept-Language": []string{"de"}}
	resp, body = s.do(http.MethodGet, s.cvPath(""), map[string]any{"language": "tr"}, s.token(s.userID), header)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 got %d body=%s", resp.StatusCode, body)
	}
	if p := decodeProjection(t, body); p.Language != cv.Turkish {
		t.Fatalf("body language should win over Accept-Language, got %s", p.Language)
	}

	resp, _ = s.do(http.MethodGet, s.cvPath(""), nil, s.token(s.userID+1), nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for other editor got %d", resp.StatusCode)
	}
}

func TestViewCV_NotFound(t *testing.T) {
	s := newTestServer(t)
	wrong := []byte(s.record.ShareKey)
	if wrong[0] == 'A' {
		wrong[0] = 'B'
	} else {
		wrong[0] = 'A'
	}

	for _, path := range []string{
		s.cvPath("/" + string(wrong) + "/en"),
		s.cvPath("/short/en"),
		s.cvPath("/" + s.record.ShareKey + "/xx"),
		"/v1/cvs/abc/" + s.record.ShareKey + "/en",
	} {
		resp, body := s.do(http.MethodGet, path, nil, "", nil)
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("GET %s: expected 404 got %d body=%s", path, resp.StatusCode, body)
		}
	}

	resp, body := s.do(http.MethodGet, s.cvPath("/"+s.record.ShareKey+"/de"), nil, "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("missing language should fall back to en, got %d body=%s", resp.StatusCode, body)
	}
	if p := decodeProjection(t, body); p.Language != cv.English || personalName(p) != "Ada" {
		t.Fatalf("unexpected fallback projection %+v", p)
	}
}
