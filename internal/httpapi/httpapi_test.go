package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Arke-Institute/arke-organizer-service/internal/batch"
	"github.com/Arke-Institute/arke-organizer-service/internal/model"
	"github.com/Arke-Institute/arke-organizer-service/internal/organize"
)

type fakeOrganizer struct {
	err error
}

func (f *fakeOrganizer) Run(ctx context.Context, req model.OrganizeRequest) (organize.Result, error) {
	if f.err != nil {
		return organize.Result{}, f.err
	}
	return organize.Result{Plan: model.OrganizePlan{Description: "ok"}, PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15, Cost: 0.0001}, nil
}

type fakeSubmitter struct {
	status string
}

func (f *fakeSubmitter) Submit(ctx context.Context, batchID, chunkID string, ids []string, customPrompt string) (string, error) {
	return f.status, nil
}

type fakeStatusReader struct {
	state *model.BatchState
	err   error
}

func (f *fakeStatusReader) Get(ctx context.Context, batchID, chunkID string) (*model.BatchState, error) {
	return f.state, f.err
}

func TestHandleOrganize_Success(t *testing.T) {
	srv := &Server{Organizer: &fakeOrganizer{}}
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	body, _ := json.Marshal(model.OrganizeRequest{Files: []model.FileInput{{Name: "a.txt", Kind: model.KindText, Content: "x"}}})
	resp, err := http.Post(ts.URL+"/organize", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out organizeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "ok", out.Description)
	assert.Equal(t, 15, out.TotalTokens)
	assert.InDelta(t, 0.0001, out.Cost, 1e-9)
}

func TestHandleOrganize_RejectsDuplicateNames(t *testing.T) {
	srv := &Server{Organizer: &fakeOrganizer{}}
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	body, _ := json.Marshal(model.OrganizeRequest{Files: []model.FileInput{
		{Name: "a.txt", Kind: model.KindText, Content: "x"},
		{Name: "a.txt", Kind: model.KindText, Content: "y"},
	}})
	resp, err := http.Post(ts.URL+"/organize", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleOrganize_RejectsOversizedBody(t *testing.T) {
	srv := &Server{Organizer: &fakeOrganizer{}}
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	huge := bytes.Repeat([]byte("x"), maxRequestBodyBytes+1)
	req := model.OrganizeRequest{Files: []model.FileInput{{Name: "a.txt", Kind: model.KindText, Content: string(huge)}}}
	body, _ := json.Marshal(req)
	resp, err := http.Post(ts.URL+"/organize", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestHandleOrganize_RejectsEmptyFiles(t *testing.T) {
	srv := &Server{Organizer: &fakeOrganizer{}}
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	body, _ := json.Marshal(model.OrganizeRequest{})
	resp, err := http.Post(ts.URL+"/organize", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleProcess_ReturnsSubmitStatus(t *testing.T) {
	srv := &Server{Batch: &fakeSubmitter{status: "accepted"}}
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	body, _ := json.Marshal(map[string]any{"batch_id": "b1", "chunk_id": "c1", "ids": []string{"d1"}})
	resp, err := http.Post(ts.URL+"/process", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "accepted", out["status"])
}

func TestHandleStatus_NotFound(t *testing.T) {
	srv := &Server{Status: &fakeStatusReader{err: batch.ErrNotFound}}
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/status/b1/c1")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "not_found", out["status"])
}

func TestHandleHealth(t *testing.T) {
	srv := &Server{}
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
