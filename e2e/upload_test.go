package e2e

import (
	"net/http"
	"testing"

	"github.com/google/uuid"
)

func TestUploadInit_Success(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/upload/init", `{"totalChunks": 3}`)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}

	assertStatus(t, resp, http.StatusCreated)

	result := parseJSON(t, resp)
	if result["sessionId"] == nil || result["sessionId"] == "" {
		t.Error("expected 'sessionId' in response")
	}
	if result["totalChunks"] != float64(3) {
		t.Errorf("expected totalChunks 3, got %v", result["totalChunks"])
	}
}

func TestUploadInit_InvalidBody(t *testing.T) {
	ta := setupApp(t)

	for _, body := range []string{
		`{}`,
		`{"totalChunks": 0}`,
		`{"totalChunks": -5}`,
		`{"totalChunks": 100000}`,
	} {
		resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/upload/init", body)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		assertStatus(t, resp, http.StatusBadRequest)
		resp.Body.Close()
	}
}

func TestUploadChunk_OutOfOrderAndDuplicate(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/upload/init", `{"totalChunks": 3}`)
	if err != nil {
		t.Fatalf("init failed: %v", err)
	}
	sessionID := parseJSON(t, resp)["sessionId"].(string)

	// chunk 2 before chunk 0
	r := uploadChunk(t, ta.app, sessionID, 2, "gamma")
	assertStatus(t, r, http.StatusOK)
	result := parseJSON(t, r)
	if result["status"] != "accepted" {
		t.Errorf("expected status accepted, got %v", result["status"])
	}

	r = uploadChunk(t, ta.app, sessionID, 0, "alpha")
	assertStatus(t, r, http.StatusOK)
	r.Body.Close()

	// resend of chunk 0 is a duplicate, count unchanged
	r = uploadChunk(t, ta.app, sessionID, 0, "alpha")
	assertStatus(t, r, http.StatusOK)
	result = parseJSON(t, r)
	if result["status"] != "duplicate" {
		t.Errorf("expected status duplicate, got %v", result["status"])
	}
	if result["received"] != float64(2) {
		t.Errorf("expected received 2, got %v", result["received"])
	}

	// final chunk completes the set
	r = uploadChunk(t, ta.app, sessionID, 1, "beta")
	assertStatus(t, r, http.StatusOK)
	result = parseJSON(t, r)
	if result["status"] != "complete" {
		t.Errorf("expected status complete, got %v", result["status"])
	}
}

func TestUploadChunk_UnknownSession(t *testing.T) {
	ta := setupApp(t)

	r := uploadChunk(t, ta.app, uuid.New().String(), 0, "data")
	assertStatus(t, r, http.StatusNotFound)
	r.Body.Close()
}

func TestUploadChunk_IndexOutOfRange(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/upload/init", `{"totalChunks": 2}`)
	if err != nil {
		t.Fatalf("init failed: %v", err)
	}
	sessionID := parseJSON(t, resp)["sessionId"].(string)

	r := uploadChunk(t, ta.app, sessionID, 2, "oops")
	assertStatus(t, r, http.StatusUnprocessableEntity)
	r.Body.Close()
}

func TestUploadComplete_Incomplete(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/upload/init", `{"totalChunks": 2}`)
	if err != nil {
		t.Fatalf("init failed: %v", err)
	}
	sessionID := parseJSON(t, resp)["sessionId"].(string)

	r := uploadChunk(t, ta.app, sessionID, 0, "half")
	r.Body.Close()

	resp, err = doAuthRequest(t, ta.app, http.MethodPost, "/api/upload/complete",
		`{"sessionId": "`+sessionID+`"}`)
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	assertStatus(t, resp, http.StatusConflict)

	result := parseJSON(t, resp)
	errObj := result["error"].(map[string]interface{})
	if errObj["code"] != "CONFLICT" {
		t.Errorf("expected error code CONFLICT, got %v", errObj["code"])
	}

	// the session must survive a rejected completion
	resp, err = doAuthRequest(t, ta.app, http.MethodGet, "/api/upload/"+sessionID+"/progress", "")
	if err != nil {
		t.Fatalf("progress failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	progress := parseJSON(t, resp)
	if progress["received"] != float64(1) {
		t.Errorf("expected received 1, got %v", progress["received"])
	}
}

func TestUploadComplete_FullFlow(t *testing.T) {
	ta := setupApp(t)

	artifactID := uploadArtifact(t, ta.app, []string{"part-a", "part-b", "part-c"})
	if artifactID == "" {
		t.Fatal("expected a non-empty artifactId")
	}
}

func TestUploadComplete_SessionGoneAfterwards(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/upload/init", `{"totalChunks": 1}`)
	if err != nil {
		t.Fatalf("init failed: %v", err)
	}
	sessionID := parseJSON(t, resp)["sessionId"].(string)

	r := uploadChunk(t, ta.app, sessionID, 0, "everything")
	r.Body.Close()

	resp, err = doAuthRequest(t, ta.app, http.MethodPost, "/api/upload/complete",
		`{"sessionId": "`+sessionID+`"}`)
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	// second complete and progress both see a missing session
	resp, err = doAuthRequest(t, ta.app, http.MethodPost, "/api/upload/complete",
		`{"sessionId": "`+sessionID+`"}`)
	if err != nil {
		t.Fatalf("second complete failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp, err = doAuthRequest(t, ta.app, http.MethodGet, "/api/upload/"+sessionID+"/progress", "")
	if err != nil {
		t.Fatalf("progress failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestUploadCancel_Idempotent(t *testing.T) {
	ta := setupApp(t)

	resp, err := doAuthRequest(t, ta.app, http.MethodPost, "/api/upload/init", `{"totalChunks": 2}`)
	if err != nil {
		t.Fatalf("init failed: %v", err)
	}
	sessionID := parseJSON(t, resp)["sessionId"].(string)

	resp, err = doAuthRequest(t, ta.app, http.MethodDelete, "/api/upload/"+sessionID, "")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()

	// canceling again is still a 204
	resp, err = doAuthRequest(t, ta.app, http.MethodDelete, "/api/upload/"+sessionID, "")
	if err != nil {
		t.Fatalf("second cancel failed: %v", err)
	}
	assertStatus(t, resp, http.StatusNoContent)
	resp.Body.Close()
}
