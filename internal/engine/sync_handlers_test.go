package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/printmesh/printmesh/internal/accesscontrol"
	"github.com/printmesh/printmesh/internal/mutation"
	"github.com/printmesh/printmesh/internal/sync"
	"github.com/printmesh/printmesh/pkg/database"
	"github.com/printmesh/printmesh/pkg/health"
	"github.com/printmesh/printmesh/pkg/logger"
)

type fakePusher struct {
	err error
	got *sync.PushRequest
}

func (p *fakePusher) Push(ctx context.Context, principal *accesscontrol.Principal, req *sync.PushRequest) error {
	p.got = req
	return p.err
}

type fakePuller struct {
	resp *sync.PullResponse
	err  error
}

func (p *fakePuller) Pull(ctx context.Context, principal *accesscontrol.Principal, req *sync.PullRequest) (*sync.PullResponse, error) {
	return p.resp, p.err
}

func testEngine(pusher PushProcessor, puller PullProcessor) *Engine {
	log := logger.New("engine-test", "0.0.0")
	log.DisableConsoleOutput()
	return NewEngine(log, nil, pusher, puller, nil, nil, nil, DefaultACL(), health.NewChecker())
}

// testRouter wires the sync routes with a stub principal instead of the
// real authentication middleware.
func testRouter(engine *Engine) http.Handler {
	handlers := NewSyncHandlers(engine)
	router := mux.NewRouter()
	router.HandleFunc("/{tenant_url}/api/v1/sync/push", handlers.Push).Methods(http.MethodPost)
	router.HandleFunc("/{tenant_url}/api/v1/sync/pull", handlers.Pull).Methods(http.MethodPost)

	principal := accesscontrol.NewPrincipal("user-1", "tenant-1", accesscontrol.RoleOperator, nil)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), principalContextKey, principal)
		router.ServeHTTP(w, r.WithContext(ctx))
	})
}

func doPush(t *testing.T, handler http.Handler, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/acme/api/v1/sync/push", bytes.NewBuffer(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestPushHandler(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		pusher := &fakePusher{}
		handler := testRouter(testEngine(pusher, &fakePuller{}))

		w := doPush(t, handler, sync.PushRequest{
			PushVersion:   sync.ProtocolVersion,
			ClientGroupID: "g1",
			Mutations:     []sync.Mutation{{ID: 1, ClientID: "c1", Name: "createOrder", Args: json.RawMessage(`{}`)}},
		})

		assert.Equal(t, http.StatusOK, w.Code)
		require.NotNil(t, pusher.got)
		assert.Equal(t, "g1", pusher.got.ClientGroupID)
	})

	t.Run("malformed body", func(t *testing.T) {
		handler := testRouter(testEngine(&fakePusher{}, &fakePuller{}))
		req := httptest.NewRequest(http.MethodPost, "/acme/api/v1/sync/push", bytes.NewBufferString("{nope"))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("protocol errors ship as 200 with an error body", func(t *testing.T) {
		for _, tc := range []struct {
			err  error
			want string
		}{
			{sync.ErrClientStateNotFound, "ClientStateNotFound"},
			{sync.ErrVersionNotSupported, "VersionNotSupported"},
		} {
			handler := testRouter(testEngine(&fakePusher{err: tc.err}, &fakePuller{}))
			w := doPush(t, handler, sync.PushRequest{PushVersion: 1, ClientGroupID: "g1"})

			assert.Equal(t, http.StatusOK, w.Code)
			var body SyncErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tc.want, body.Error)
		}
	})

	t.Run("access denied is 403", func(t *testing.T) {
		pusher := &fakePusher{err: &accesscontrol.AccessDeniedError{Reason: "not yours"}}
		handler := testRouter(testEngine(pusher, &fakePuller{}))
		w := doPush(t, handler, sync.PushRequest{PushVersion: 1, ClientGroupID: "g1"})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("validation and ordering errors are 400", func(t *testing.T) {
		for _, err := range []error{
			&mutation.ValidationError{Mutation: "createOrder", Reason: "bad"},
			&mutation.UnknownMutationError{Name: "nope"},
			&sync.FutureMutationError{ClientID: "c1", MutationID: 5, Expected: 2},
		} {
			handler := testRouter(testEngine(&fakePusher{err: err}, &fakePuller{}))
			w := doPush(t, handler, sync.PushRequest{PushVersion: 1, ClientGroupID: "g1"})
			assert.Equal(t, http.StatusBadRequest, w.Code)
		}
	})

	t.Run("exhausted conflicts are 503", func(t *testing.T) {
		pusher := &fakePusher{err: database.ErrConflictExhausted}
		handler := testRouter(testEngine(pusher, &fakePuller{}))
		w := doPush(t, handler, sync.PushRequest{PushVersion: 1, ClientGroupID: "g1"})
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})

	t.Run("unexpected errors are 500", func(t *testing.T) {
		pusher := &fakePusher{err: errors.New("boom")}
		handler := testRouter(testEngine(pusher, &fakePuller{}))
		w := doPush(t, handler, sync.PushRequest{PushVersion: 1, ClientGroupID: "g1"})
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

func TestPullHandler(t *testing.T) {
	puller := &fakePuller{resp: &sync.PullResponse{
		Cookie:                sync.Cookie{Order: 3},
		LastMutationIDChanges: map[string]int64{"c1": 7},
		Patch: []sync.PatchOperation{
			{Op: "put", Key: "order/o1", Value: map[string]any{"id": "o1"}},
		},
	}}
	handler := testRouter(testEngine(&fakePusher{}, puller))

	raw, err := json.Marshal(sync.PullRequest{PullVersion: 1, ClientGroupID: "g1"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/acme/api/v1/sync/pull", bytes.NewBuffer(raw))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp sync.PullResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(3), resp.Cookie.Order)
	assert.Equal(t, map[string]int64{"c1": 7}, resp.LastMutationIDChanges)
	require.Len(t, resp.Patch, 1)
	assert.Equal(t, "put", resp.Patch[0].Op)
	assert.Equal(t, "order/o1", resp.Patch[0].Key)
}

func TestHealthEndpoint(t *testing.T) {
	engine := testEngine(&fakePusher{}, &fakePuller{})
	server := NewServer(engine, ":0")

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	server.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestExtractBearerToken(t *testing.T) {
	newReq := func(header string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		return r
	}

	assert.Equal(t, "abc", extractBearerToken(newReq("Bearer abc")))
	assert.Equal(t, "abc", extractBearerToken(newReq("bearer abc")))
	assert.Equal(t, "", extractBearerToken(newReq("Basic abc")))
	assert.Equal(t, "", extractBearerToken(newReq("")))
}

func TestACLMatchesCatalog(t *testing.T) {
	catalog := BuildCatalog()
	require.NoError(t, DefaultACL().Validate(catalog))
}
