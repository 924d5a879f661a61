package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/dynamic/fake"
	k8sfake "k8s.io/client-go/kubernetes/fake"
	k8sscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/tools/clientcmd/api"

	"github.com/kubelens/kubelens/pkg/api/middleware"
	"github.com/kubelens/kubelens/pkg/k8s"
	"github.com/kubelens/kubelens/pkg/models"
	"github.com/kubelens/kubelens/pkg/notify"
	"github.com/kubelens/kubelens/pkg/store"
)

const testJWTSecret = "test-secret"

type testEnv struct {
	App        *fiber.App
	TempDir    string
	Store      *store.SQLiteStore
	K8sClient  *k8s.MultiClusterClient
	Hub        *Hub
	Toaster    *notify.Toaster
	User       *models.User
	kubeconfig *api.Config
}

// setupTestEnv creates a fresh Fiber app behind the JWT middleware, a SQLite
// store in a temporary directory with one editor user, and a k8s client with
// no clusters. Use injectCluster to add clusters.
func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()
	tempDir := t.TempDir()

	db, err := store.NewSQLiteStore(filepath.Join(tempDir, "kubelens.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	user := &models.User{Username: "alice", Role: models.UserRoleEditor}
	require.NoError(t, db.CreateUser(user))

	k8sClient, err := k8s.NewMultiClusterClient("")
	require.NoError(t, err)
	kubeconfig := api.NewConfig()
	k8sClient.SetRawConfig(kubeconfig)

	hub := NewHub(testJWTSecret, nil)
	go hub.Run()
	t.Cleanup(hub.Close)

	app := fiber.New(fiber.Config{ErrorHandler: testErrorHandler})
	app.Use("/api", middleware.JWTAuth(testJWTSecret))

	toaster := notify.NewToaster(db, hub, nil)
	toaster.SetErrorMessage(ErrorMessage)

	return &testEnv{
		App:        app,
		TempDir:    tempDir,
		Store:      db,
		K8sClient:  k8sClient,
		Hub:        hub,
		Toaster:    toaster,
		User:       user,
		kubeconfig: kubeconfig,
	}
}

// testErrorHandler renders errors the way the server does.
func testErrorHandler(c *fiber.Ctx, err error) error {
	return c.Status(StatusFor(err)).JSON(fiber.Map{"error": ErrorMessage(err)})
}

func newK8sScheme() *runtime.Scheme {
	scheme := runtime.NewScheme()
	_ = k8sscheme.AddToScheme(scheme)
	return scheme
}

// injectCluster adds a kubeconfig context named cluster and backs it with
// fake dynamic and typed clients seeded with objs. Returns the dynamic client
// for reactor registration.
func injectCluster(env *testEnv, cluster string, objs ...runtime.Object) *fake.FakeDynamicClient {
	env.kubeconfig.Clusters[cluster] = &api.Cluster{Server: fmt.Sprintf("https://%s.example.com:6443", cluster)}
	env.kubeconfig.Contexts[cluster] = &api.Context{Cluster: cluster, AuthInfo: cluster}
	env.K8sClient.SetRawConfig(env.kubeconfig)

	dyn := fake.NewSimpleDynamicClient(newK8sScheme(), objs...)
	env.K8sClient.InjectDynamicClient(cluster, dyn)
	env.K8sClient.InjectClient(cluster, k8sfake.NewSimpleClientset(objs...))
	return dyn
}

// tokenFor signs a JWT for user without a session.
func tokenFor(t *testing.T, user *models.User) string {
	t.Helper()
	claims := middleware.UserClaims{
		UserID:   user.ID,
		Username: user.Username,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Subject:   user.ID.String(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return signed
}

// addUser creates another user with role.
func (env *testEnv) addUser(t *testing.T, name string, role models.UserRole) *models.User {
	t.Helper()
	user := &models.User{ID: uuid.New(), Username: name, Role: role}
	require.NoError(t, env.Store.CreateUser(user))
	return user
}

// do sends a request as the env user.
func (env *testEnv) do(t *testing.T, method, path string, body []byte) *http.Response {
	t.Helper()
	return env.doAs(t, env.User, method, path, body)
}

// doAs sends a request as user. A nil user sends no token.
func (env *testEnv) doAs(t *testing.T, user *models.User, method, path string, body []byte) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, path, r)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != nil {
		req.Header.Set("Authorization", "Bearer "+tokenFor(t, user))
	}
	resp, err := env.App.Test(req, 5000)
	require.NoError(t, err)
	return resp
}

// decode reads a JSON response body into v.
func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

// readBody returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

// errorBody is the JSON error envelope.
type errorBody struct {
	Error string `json:"error"`
}
