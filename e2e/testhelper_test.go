package e2e

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/modporter/api/internal/auth"
	"github.com/modporter/api/internal/config"
	"github.com/modporter/api/internal/handler"
	"github.com/modporter/api/internal/middleware"
	"github.com/modporter/api/internal/pipeline"
	"github.com/modporter/api/internal/service"
	"github.com/modporter/api/internal/store"
)

const testJWTSecret = "test-secret-for-e2e"

// testApp holds all components needed for testing
type testApp struct {
	app *fiber.App
}

// highLimit keeps admission control out of the way for tests that are not
// about it.
var highLimit = config.RouteLimit{Burst: 10000, PerSec: 10000}

// setupApp wires the app the way main.go does, but on in-memory stores with
// no Redis, no queue, and the simulated stage executor. Conversions run
// inline on a goroutine.
func setupApp(t *testing.T) *testApp {
	return setupAppWithLimits(t, highLimit, highLimit, highLimit)
}

func setupAppWithLimits(t *testing.T, uploadLimit, convertLimit, queryLimit config.RouteLimit) *testApp {
	t.Helper()

	validate := validator.New()

	jobStore := store.NewMemoryJobStore()
	sessionStore := store.NewMemorySessionStore()
	artifactStore := store.NewMemoryArtifactStore()

	uploadCfg := &config.UploadConfig{
		SpoolDir:      t.TempDir(),
		SessionTTLMin: 30,
		MaxChunkBytes: 8 * 1024 * 1024,
	}

	coordinator := pipeline.NewCoordinator(jobStore, pipeline.NewSimulator(), pipeline.RetryPolicy{MaxRetries: 1})

	uploadService := service.NewUploadService(sessionStore, artifactStore, nil, uploadCfg)
	convertService := service.NewConvertService(jobStore, artifactStore, nil)
	convertService.SetLocalRunner(coordinator)

	uploadHandler := handler.NewUploadHandler(uploadService, validate, uploadCfg.MaxChunkBytes)
	convertHandler := handler.NewConvertHandler(convertService, validate)

	authMiddleware := middleware.NewAuthMiddleware(testJWTSecret)
	rateLimiter := middleware.NewRateLimiter(nil) // nil Redis → in-process buckets

	app := fiber.New(fiber.Config{
		BodyLimit: 16 * 1024 * 1024,
	})

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api", authMiddleware.Authenticate())

	upload := api.Group("/upload", rateLimiter.Limit("upload", uploadLimit))
	upload.Post("/init", uploadHandler.Init)
	upload.Post("/chunk", uploadHandler.Chunk)
	upload.Post("/complete", uploadHandler.Complete)
	upload.Get("/:sessionId/progress", uploadHandler.Progress)
	upload.Delete("/:sessionId", uploadHandler.Cancel)

	convert := api.Group("/convert")
	convert.Post("/", rateLimiter.Limit("convert", convertLimit), convertHandler.Start)
	convert.Get("/status/:jobId", rateLimiter.Limit("query", queryLimit), convertHandler.Status)
	convert.Get("/result/:jobId", rateLimiter.Limit("query", queryLimit), convertHandler.Result)
	convert.Post("/cancel/:jobId", convertHandler.Cancel)
	convert.Get("/jobs", rateLimiter.Limit("query", queryLimit), convertHandler.List)

	return &testApp{app: app}
}

// generateToken creates an HMAC JWT token for test requests.
func generateToken(t *testing.T) string {
	t.Helper()
	claims := auth.Claims{
		UserID: "test-user-123",
		Email:  "test@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer: "modporter-api",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return signed
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs an authenticated request.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	token := generateToken(t)
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

// uploadChunk posts one multipart chunk for a session.
func uploadChunk(t *testing.T, app *fiber.App, sessionID string, index int, data string) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.WriteField("sessionId", sessionID); err != nil {
		t.Fatalf("failed to write field: %v", err)
	}
	if err := w.WriteField("chunkNumber", strconv.Itoa(index)); err != nil {
		t.Fatalf("failed to write field: %v", err)
	}
	fw, err := w.CreateFormFile("file", "chunk.bin")
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	if _, err := fw.Write([]byte(data)); err != nil {
		t.Fatalf("failed to write chunk data: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, "/api/upload/chunk", &buf)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+generateToken(t))

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("chunk request failed: %v", err)
	}
	return resp
}

// uploadArtifact runs a full chunked upload and returns the artifact id.
func uploadArtifact(t *testing.T, app *fiber.App, chunks []string) string {
	t.Helper()

	resp, err := doAuthRequest(t, app, http.MethodPost, "/api/upload/init",
		`{"totalChunks": `+strconv.Itoa(len(chunks))+`}`)
	if err != nil {
		t.Fatalf("init request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusCreated)
	sessionID := parseJSON(t, resp)["sessionId"].(string)

	for i, data := range chunks {
		resp := uploadChunk(t, app, sessionID, i, data)
		assertStatus(t, resp, http.StatusOK)
		resp.Body.Close()
	}

	resp, err = doAuthRequest(t, app, http.MethodPost, "/api/upload/complete",
		`{"sessionId": "`+sessionID+`"}`)
	if err != nil {
		t.Fatalf("complete request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	return parseJSON(t, resp)["artifactId"].(string)
}

// waitForStatus polls the status endpoint until the job reaches one of the
// wanted statuses or the deadline passes.
func waitForStatus(t *testing.T, app *fiber.App, jobID string, wanted ...string) map[string]interface{} {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := doAuthRequest(t, app, http.MethodGet, "/api/convert/status/"+jobID, "")
		if err != nil {
			t.Fatalf("status request failed: %v", err)
		}
		result := parseJSON(t, resp)
		status, _ := result["status"].(string)
		for _, w := range wanted {
			if status == w {
				return result
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached %v", jobID, wanted)
	return nil
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}
