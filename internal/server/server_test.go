package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"lumen/internal/config"
	"lumen/internal/database"
	"lumen/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// fakeBlobStore keeps uploaded objects in memory.
type fakeBlobStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: map[string][]byte{}}
}

func (f *fakeBlobStore) Put(_ context.Context, key string, data []byte, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
	return nil
}

func (f *fakeBlobStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

func (f *fakeBlobStore) URL(key string) string {
	return "mem://" + key
}

func (f *fakeBlobStore) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

func testConfig() *config.Config {
	return &config.Config{
		Port:                   "0",
		Env:                    "test",
		JWTSecret:              "server-test-secret-32-characters!!!!",
		AccessTokenTTLMinutes:  15,
		RefreshTokenTTLMinutes: 60 * 24,
		RefreshTokenLimit:      5,
		UploadMaxBytes:         10 * 1024 * 1024,
		RateLimitRequests:      0, // global limiter off; limiter has its own tests
		RateLimitWindowSeconds: 60,
		// Fiber's test transport reports 0.0.0.0; trusting it lets each
		// test pick a distinct forwarded IP so the per-route limiters on
		// /auth/* do not couple unrelated tests.
		RateLimitTrustedProxies: "0.0.0.0/0",
		RateLimitIPHeaders:      "X-Forwarded-For",
	}
}

func newTestServer(t *testing.T) (*Server, *fiber.App, *gorm.DB, *fakeBlobStore) {
	t.Helper()
	return newTestServerWithConfig(t, testConfig())
}

func newTestServerWithConfig(t *testing.T, cfg *config.Config) (*Server, *fiber.App, *gorm.DB, *fakeBlobStore) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(database.PersistentModels()...))

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	blobs := newFakeBlobStore()
	srv, err := NewServerWithDeps(cfg, db, redisClient, blobs)
	require.NoError(t, err)

	return srv, srv.App(), db, blobs
}

// doJSON performs a JSON request carrying the given cookies.
func doJSON(t *testing.T, app *fiber.App, method, path string, body any, cookies []*http.Cookie) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dest any) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dest))
}

func newAuthorizedRequest(method, path, authorization string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("Authorization", authorization)
	return req
}

func cookieByName(cookies []*http.Cookie, name string) *http.Cookie {
	for _, c := range cookies {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// ipCounter hands each registered test account its own client IP so the
// per-route auth limiters never couple accounts within a test.
var ipCounter atomic.Uint32

func nextClientIP() string {
	n := ipCounter.Add(1)
	return fmt.Sprintf("10.50.%d.%d", (n>>8)&0xff, n&0xff)
}

func doJSONFrom(t *testing.T, app *fiber.App, method, path string, body any, clientIP string) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Forwarded-For", clientIP)

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

// registerAndLogin creates an account through the API and returns the
// session cookies.
func registerAndLogin(t *testing.T, app *fiber.App, username string) []*http.Cookie {
	t.Helper()

	ip := nextClientIP()
	resp := doJSONFrom(t, app, http.MethodPost, "/auth/register", fiber.Map{
		"username": username,
		"email":    username + "@example.com",
		"password": "password123",
	}, ip)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	_ = resp.Body.Close()

	resp = doJSONFrom(t, app, http.MethodPost, "/auth/login", fiber.Map{
		"username": username,
		"password": "password123",
	}, ip)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cookies := resp.Cookies()
	_ = resp.Body.Close()

	require.NotNil(t, cookieByName(cookies, accessCookieName))
	require.NotNil(t, cookieByName(cookies, refreshCookieName))
	return cookies
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// createPostMultipart uploads an image through POST /posts.
func createPostMultipart(t *testing.T, app *fiber.App, cookies []*http.Cookie, caption string) models.Post {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("image", "photo.png")
	require.NoError(t, err)
	_, err = part.Write(testPNG(t, 32, 24))
	require.NoError(t, err)
	require.NoError(t, writer.WriteField("caption", caption))
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/posts", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	for _, c := range cookies {
		req.AddCookie(c)
	}

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode, "create post %q", caption)

	var post models.Post
	decodeBody(t, resp, &post)
	require.NotZero(t, post.ID)
	return post
}
