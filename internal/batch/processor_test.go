package batch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Arke-Institute/arke-organizer-service/internal/contextfetch"
	"github.com/Arke-Institute/arke-organizer-service/internal/model"
	"github.com/Arke-Institute/arke-organizer-service/internal/organize"
	"github.com/Arke-Institute/arke-organizer-service/internal/publish"
)

type fakeFetcher struct {
	byID map[string]contextfetch.Result
}

func (f *fakeFetcher) Fetch(ctx context.Context, id string) (contextfetch.Result, error) {
	r, ok := f.byID[id]
	if !ok {
		return contextfetch.Result{}, assertErr("no such directory")
	}
	return r, nil
}

type fakeOrganizer struct{}

func (f *fakeOrganizer) Run(ctx context.Context, req model.OrganizeRequest) (organize.Result, error) {
	files := make([]string, len(req.Files))
	for i, fl := range req.Files {
		files[i] = fl.Name
	}
	return organize.Result{Plan: model.OrganizePlan{
		Groups:      []model.Group{{GroupName: "all", Description: "d", Files: files}},
		Description: "grouped",
	}}, nil
}

type fakePublisher struct{}

func (f *fakePublisher) Publish(ctx context.Context, item model.ItemState, plan model.OrganizePlan) (publish.Result, error) {
	var created []model.GroupCreated
	for _, g := range plan.Groups {
		created = append(created, model.GroupCreated{GroupName: g.GroupName, ID: "child-" + item.ID, Files: g.Files, Description: g.Description})
	}
	return publish.Result{NewParentTip: "tip-2", NewParentVersion: 2, GroupsCreated: created}, nil
}

type fakeCallback struct {
	sent []CallbackPayload
}

func (f *fakeCallback) Send(ctx context.Context, payload CallbackPayload) error {
	f.sent = append(f.sent, payload)
	return nil
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

func threeFiles(prefix string) []model.FileInput {
	return []model.FileInput{
		{Name: prefix + "a.txt", Kind: model.KindText, Content: "a"},
		{Name: prefix + "b.txt", Kind: model.KindText, Content: "b"},
		{Name: prefix + "c.txt", Kind: model.KindText, Content: "c"},
	}
}

func TestProcessor_EndToEndTwoDirectories(t *testing.T) {
	fetcher := &fakeFetcher{byID: map[string]contextfetch.Result{
		"dir1": {Tip: "tip-1", Components: map[string]string{"a.txt": "c1", "b.txt": "c2", "c.txt": "c3"}, Files: threeFiles("")},
		"dir2": {Tip: "tip-1", Components: map[string]string{"a.txt": "c1", "b.txt": "c2", "c.txt": "c3"}, Files: threeFiles("")},
	}}
	cb := &fakeCallback{}
	store := newMemStore()
	p := New(store, fetcher, &fakeOrganizer{}, &fakePublisher{}, cb, nil, Config{MaxRetriesPerItem: 3, MaxCallbackRetries: 3})

	status, err := p.Submit(context.Background(), "batch1", "chunk1", []string{"dir1", "dir2"}, "")
	require.NoError(t, err)
	assert.Equal(t, "accepted", status)

	require.NoError(t, p.Tick(context.Background()))

	require.Len(t, cb.sent, 1)
	payload := cb.sent[0]
	assert.Equal(t, "success", payload.Status)
	assert.Len(t, payload.Results, 2)
	assert.Len(t, payload.NewPIs, 2)
	for _, r := range payload.Results {
		assert.Equal(t, "success", r.Status)
		assert.Equal(t, "tip-2", r.NewTip)
	}
	assert.GreaterOrEqual(t, payload.Summary.ProcessingTimeMS, int64(0), "processing_time_ms should be stamped from CompletedAt/StartedAt")

	_, err = store.Get(context.Background(), "batch1", "chunk1")
	assert.ErrorIs(t, err, ErrNotFound, "batch state should be deleted after DONE")
}

func TestProcessor_Submit_RejectsDuplicateWhileActive(t *testing.T) {
	store := newMemStore()
	p := New(store, &fakeFetcher{byID: map[string]contextfetch.Result{}}, &fakeOrganizer{}, &fakePublisher{}, &fakeCallback{}, nil, Config{MaxRetriesPerItem: 3, MaxCallbackRetries: 3})

	status1, err := p.Submit(context.Background(), "b1", "c1", []string{"dirX"}, "")
	require.NoError(t, err)
	assert.Equal(t, "accepted", status1)

	status2, err := p.Submit(context.Background(), "b1", "c1", []string{"dirX"}, "")
	require.NoError(t, err)
	assert.Equal(t, "already_processing", status2)
}

func TestProcessor_FewerThanThreeFilesMarksDoneWithoutOrganizing(t *testing.T) {
	fetcher := &fakeFetcher{byID: map[string]contextfetch.Result{
		"dir1": {Tip: "tip-1", Components: map[string]string{"a.txt": "c1"}, Files: []model.FileInput{{Name: "a.txt", Kind: model.KindText, Content: "a"}}},
	}}
	cb := &fakeCallback{}
	store := newMemStore()
	p := New(store, fetcher, &fakeOrganizer{}, &fakePublisher{}, cb, nil, Config{MaxRetriesPerItem: 3, MaxCallbackRetries: 3})

	_, err := p.Submit(context.Background(), "b1", "c1", []string{"dir1"}, "")
	require.NoError(t, err)
	require.NoError(t, p.Tick(context.Background()))

	require.Len(t, cb.sent, 1)
	assert.Equal(t, "success", cb.sent[0].Status)
	assert.Empty(t, cb.sent[0].NewPIs)
}

func TestProcessor_ItemErrorsAfterMaxRetries(t *testing.T) {
	fetcher := &fakeFetcher{byID: map[string]contextfetch.Result{}} // dir1 always fails
	cb := &fakeCallback{}
	store := newMemStore()
	p := New(store, fetcher, &fakeOrganizer{}, &fakePublisher{}, cb, nil, Config{MaxRetriesPerItem: 2, MaxCallbackRetries: 3})

	_, err := p.Submit(context.Background(), "b1", "c1", []string{"dir1"}, "")
	require.NoError(t, err)

	// Tick until the item reaches error status (bounded loop to avoid
	// hanging the test if something regresses).
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Tick(context.Background()))
		if len(cb.sent) > 0 {
			break
		}
	}

	require.Len(t, cb.sent, 1)
	assert.Equal(t, "error", cb.sent[0].Status)
	assert.Equal(t, "error", cb.sent[0].Results[0].Status)
}
