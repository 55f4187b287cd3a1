package api

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"cvSync/internal/auth"
	"cvSync/internal/config"
	"cvSync/internal/cv"
	"cvSync/internal/cvlock"
	"cvSync/internal/cvstore"
	"cvSync/internal/database"
	"cvSync/internal/editing"
	"cvSync/internal/realtime"
	"cvSync/internal/testutil"
	"cvSync/internal/translation"
	"cvSync/internal/view"
)

const testTemplate = "web-template1"

var testLanguages = []cv.Language{cv.English, cv.Turkish, cv.German}

var (
	keysOnce sync.Once
	privPEM  []byte
	pubPEM   []byte
)

func testKeys(t *testing.T) ([]byte, []byte) {
	t.Helper()
	keysOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		privPEM = pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
		pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
		if err != nil {
			panic(err)
		}
		pubPEM = pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	})
	return privPEM, pubPEM
}

type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []*asynq.Task
	err   error
}

func (f *fakeEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.tasks = append(f.tasks, task)
	return &asynq.TaskInfo{ID: strconv.Itoa(len(f.tasks)), Type: task.Type()}, nil
}

func (f *fakeEnqueuer) enqueued() []*asynq.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*asynq.Task(nil), f.tasks...)
}

type testServer struct {
	t        *testing.T
	srv      *httptest.Server
	db       *gorm.DB
	store    *cvstore.Store
	bus      *realtime.Bus
	mock     *testutil.MockLLM
	objects  *testutil.FakeObjects
	enqueuer *fakeEnqueuer
	auth     *auth.AuthService
	userID   uint
	record   *database.CV
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.NewTestDB(t)
	userID := testutil.SeedUser(t, db, "owner")
	store := cvstore.New(db)
	record, err := store.Create(context.Background(), userID, "My CV")
	if err != nil {
		t.Fatalf("create cv: %v", err)
	}
	seed := cv.Content{cv.PersonalInfo: map[string]any{"name": "Ada", "email": "ada@example.com"}}
	if err := store.PutTranslation(context.Background(), record.ID, cv.English, seed); err != nil {
		t.Fatalf("seed translation: %v", err)
	}

	priv, pub := testKeys(t)
	authService, err := auth.NewAuthService(priv, pub, time.Hour)
	if err != nil {
		t.Fatalf("auth service: %v", err)
	}

	mock := &testutil.MockLLM{TranslateFunc: testutil.Tagged()}
	clock := cv.NewClock()
	locks := cvlock.New()
	bus := realtime.NewBus(nil)
	orch := translation.New(store, mock, translation.Config{Languages: testLanguages})
	objects := testutil.NewFakeObjects()
	enqueuer := &fakeEnqueuer{}

	router := NewRouter(slogDiscard())
	RegisterRoutes(router, Deps{
		Store:     store,
		Editor:    editing.NewCoordinator(store, orch, bus, clock, locks, nil),
		Viewer:    view.NewGateway(store, orch, testLanguages, clock, locks, nil),
		Bus:       bus,
		Clock:     clock,
		Tokens:    authService,
		Objects:   objects,
		Tasks:     enqueuer,
		Languages: testLanguages,
		Upload:    config.UploadConfig{MaxVideoBytes: 1 << 20, MaxCertificateBytes: 1 << 20},
		Session:   realtime.SessionConfig{HeartbeatInterval: time.Minute, IdleTimeout: 2 * time.Minute},
		Logger:    slogDiscard(),
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	t.Cleanup(bus.Close)

	return &testServer{
		t:        t,
		srv:      srv,
		db:       db,
		store:    store,
		bus:      bus,
		mock:     mock,
		objects:  objects,
		enqueuer: enqueuer,
		auth:     authService,
		userID:   userID,
		record:   record,
	}
}

func (s *testServer) token(userID uint) string {
	s.t.Helper()
	token, err := s.auth.GenerateAccessToken(userID)
	if err != nil {
		s.t.Fatalf("token: %v", err)
	}
	return token
}

func (s *testServer) do(method, path string, body any, token string, header http.Header) (*http.Response, []byte) {
	s.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			s.t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, reader)
	if err != nil {
		s.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, values := range header {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		s.t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		s.t.Fatalf("read body: %v", err)
	}
	return resp, data
}

func (s *testServer) cvPath(suffix string) string {
	return "/v1/cvs/" + strconv.FormatUint(uint64(s.record.ID), 10) + suffix
}

func decodeProjection(t *testing.T, data []byte) cv.Projection {
	t.Helper()
	var p cv.Projection
	if err := json.Unmarshal(data, &p); err != nil {
		t.Fatalf("decode projection %s: %v", data, err)
	}
	return p
}

func personalName(p cv.Projection) any {
	info, _ := p.PersonalInfo.(map[string]any)
	return info["name"]
}
