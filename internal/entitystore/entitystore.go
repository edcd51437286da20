// Package entitystore is a thin REST client for the external
// content-addressed entity store (spec §6 "Entity store"). It is the only
// package that knows the store's wire shapes; internal/contextfetch and
// internal/publish depend on its narrow Client interface so they can be
// tested against a fake.
package entitystore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/Arke-Institute/arke-organizer-service/internal/model"
)

// ErrCASConflict is returned by AppendVersion when expect_tip no longer
// matches the entity's current tip. Callers must refetch the tip and retry
// — never reuse the tip captured before the retry loop began.
var ErrCASConflict = fmt.Errorf("entitystore: CAS conflict")

// ErrNotFound is returned when the store has no entity with the given id.
var ErrNotFound = fmt.Errorf("entitystore: entity not found")

// Client is the narrow surface internal/contextfetch and internal/publish
// need from the entity store.
type Client interface {
	GetEntity(ctx context.Context, id string) (model.Entity, error)
	Cat(ctx context.Context, cid string) ([]byte, error)
	Upload(ctx context.Context, filename string, data []byte) (cid string, err error)
	CreateEntity(ctx context.Context, components map[string]string, parent, entityType, note string) (model.Entity, error)
	AppendVersion(ctx context.Context, id, expectTip string, addComponents map[string]string, removeComponents []string, note string) (model.Entity, error)
}

// HTTPClient implements Client against the REST contract of spec §6.
type HTTPClient struct {
	BaseURL string
	HTTP    *http.Client
}

// New constructs an HTTPClient. baseURL should not have a trailing slash.
func New(baseURL string, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPClient{BaseURL: baseURL, HTTP: httpClient}
}

type entityWire struct {
	ID         string            `json:"id"`
	Tip        string            `json:"tip"`
	Version    int               `json:"ver"`
	Components map[string]string `json:"components"`
	Parent     string            `json:"parent"`
	Children   []string          `json:"children"`
}

func (w entityWire) toModel() model.Entity {
	return model.Entity{
		ID:         w.ID,
		Tip:        w.Tip,
		Version:    w.Version,
		Components: w.Components,
		Parent:     w.Parent,
		Children:   w.Children,
	}
}

func (c *HTTPClient) GetEntity(ctx context.Context, id string) (model.Entity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/entities/"+id, nil)
	if err != nil {
		return model.Entity{}, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return model.Entity{}, fmt.Errorf("entitystore: get entity %s: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return model.Entity{}, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return model.Entity{}, fmt.Errorf("entitystore: get entity %s: status %d: %s", id, resp.StatusCode, body)
	}

	var w entityWire
	if err := json.NewDecoder(resp.Body).Decode(&w); err != nil {
		return model.Entity{}, fmt.Errorf("entitystore: decode entity %s: %w", id, err)
	}
	return w.toModel(), nil
}

func (c *HTTPClient) Cat(ctx context.Context, cid string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/cat/"+cid, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("entitystore: cat %s: %w", cid, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("entitystore: cat %s: status %d: %s", cid, resp.StatusCode, body)
	}
	return io.ReadAll(resp.Body)
}

func (c *HTTPClient) Upload(ctx context.Context, filename string, data []byte) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/upload", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("entitystore: upload %s: %w", filename, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("entitystore: upload %s: status %d: %s", filename, resp.StatusCode, body)
	}

	var results []struct {
		CID string `json:"cid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return "", fmt.Errorf("entitystore: decode upload response for %s: %w", filename, err)
	}
	if len(results) == 0 {
		return "", fmt.Errorf("entitystore: upload %s: empty response", filename)
	}
	return results[0].CID, nil
}

type createEntityRequest struct {
	Components map[string]string `json:"components"`
	Parent     string             `json:"parent,omitempty"`
	Type       string             `json:"type,omitempty"`
	Note       string             `json:"note,omitempty"`
}

func (c *HTTPClient) CreateEntity(ctx context.Context, components map[string]string, parent, entityType, note string) (model.Entity, error) {
	body, err := json.Marshal(createEntityRequest{Components: components, Parent: parent, Type: entityType, Note: note})
	if err != nil {
		return model.Entity{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/entities", bytes.NewReader(body))
	if err != nil {
		return model.Entity{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return model.Entity{}, fmt.Errorf("entitystore: create entity: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(resp.Body)
		return model.Entity{}, fmt.Errorf("entitystore: create entity: status %d: %s", resp.StatusCode, b)
	}

	var w entityWire
	if err := json.NewDecoder(resp.Body).Decode(&w); err != nil {
		return model.Entity{}, fmt.Errorf("entitystore: decode create entity response: %w", err)
	}
	return w.toModel(), nil
}

type appendVersionRequest struct {
	ExpectTip        string            `json:"expect_tip"`
	Components       map[string]string `json:"components,omitempty"`
	ComponentsRemove []string          `json:"components_remove,omitempty"`
	Note             string            `json:"note,omitempty"`
}

func (c *HTTPClient) AppendVersion(ctx context.Context, id, expectTip string, addComponents map[string]string, removeComponents []string, note string) (model.Entity, error) {
	body, err := json.Marshal(appendVersionRequest{
		ExpectTip:        expectTip,
		Components:       addComponents,
		ComponentsRemove: removeComponents,
		Note:             note,
	})
	if err != nil {
		return model.Entity{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/entities/"+id+"/versions", bytes.NewReader(body))
	if err != nil {
		return model.Entity{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return model.Entity{}, fmt.Errorf("entitystore: append version on %s: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return model.Entity{}, ErrCASConflict
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return model.Entity{}, fmt.Errorf("entitystore: append version on %s: status %d: %s", id, resp.StatusCode, b)
	}

	var w entityWire
	if err := json.NewDecoder(resp.Body).Decode(&w); err != nil {
		return model.Entity{}, fmt.Errorf("entitystore: decode append version response for %s: %w", id, err)
	}
	return w.toModel(), nil
}
