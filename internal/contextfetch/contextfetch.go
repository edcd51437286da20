// Package contextfetch implements component H of the organizer: given a
// directory identifier, it resolves the entity's component manifest into
// the FileInput set the organize service needs, fetching blobs in
// parallel and tolerating individual fetch failures as warnings rather
// than aborting the whole directory.
package contextfetch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/Arke-Institute/arke-organizer-service/internal/entitystore"
	"github.com/Arke-Institute/arke-organizer-service/internal/model"
)

// skippedComponents are metadata components produced by a prior
// organizer run; they describe the organization, they are not content to
// re-organize.
var skippedComponents = map[string]bool{
	"reorganization-description.txt": true,
}

var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".json": true, ".csv": true, ".tsv": true,
	".log": true, ".xml": true, ".yaml": true, ".yml": true, ".html": true,
}

func isRefComponent(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".ref.json")
}

func isTextComponent(name string) bool {
	lower := strings.ToLower(name)
	for ext := range textExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// Result is the per-directory context the organize service needs.
type Result struct {
	Tip        string
	Components map[string]string
	Files      []model.FileInput
	Warnings   []string
}

// Fetcher resolves directory identifiers into organize-ready file sets,
// caching blob bodies so a component referenced by multiple directories
// (rare but possible when entities share a CAS blob) is only fetched once.
type Fetcher struct {
	Store        entitystore.Client
	Concurrency  int
	blobCache    *lru.Cache[string, []byte]
}

// New constructs a Fetcher with an LRU cache of the given blob capacity.
func New(store entitystore.Client, concurrency, cacheSize int) (*Fetcher, error) {
	if concurrency <= 0 {
		concurrency = 8
	}
	if cacheSize <= 0 {
		cacheSize = 256
	}
	cache, err := lru.New[string, []byte](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("contextfetch: build blob cache: %w", err)
	}
	return &Fetcher{Store: store, Concurrency: concurrency, blobCache: cache}, nil
}

func (f *Fetcher) cat(ctx context.Context, cid string) ([]byte, error) {
	if data, ok := f.blobCache.Get(cid); ok {
		return data, nil
	}
	data, err := f.Store.Cat(ctx, cid)
	if err != nil {
		return nil, err
	}
	f.blobCache.Add(cid, data)
	return data, nil
}

type refMetadata struct {
	OCR      string `json:"ocr"`
	Type     string `json:"type"`
	Filename string `json:"filename"`
	Size     int64  `json:"size"`
}

// Fetch resolves directory id into a Result. It never returns an error for
// a failed sub-fetch — those become warnings and the file is omitted —
// but does return an error if the entity itself cannot be retrieved.
func (f *Fetcher) Fetch(ctx context.Context, id string) (Result, error) {
	entity, err := f.Store.GetEntity(ctx, id)
	if err != nil {
		return Result{}, fmt.Errorf("contextfetch: fetch entity %s: %w", id, err)
	}

	type fetched struct {
		file model.FileInput
		warn string
		ok   bool
	}

	names := make([]string, 0, len(entity.Components))
	for name := range entity.Components {
		if skippedComponents[name] {
			continue
		}
		names = append(names, name)
	}

	results := make([]fetched, len(names))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.Concurrency)

	for i, name := range names {
		i, name := i, name
		cid := entity.Components[name]
		g.Go(func() error {
			switch {
			case isRefComponent(name):
				results[i] = f.fetchRef(gctx, name, cid)
			case isTextComponent(name):
				results[i] = f.fetchText(gctx, name, cid)
			default:
				results[i] = fetched{warn: fmt.Sprintf("skipped component %q: unrecognized extension", name)}
			}
			return nil
		})
	}
	// errgroup.Go's function never returns a non-nil error above, so Wait
	// cannot fail; it only blocks until every fetch completes.
	_ = g.Wait()

	res := Result{Tip: entity.Tip, Components: entity.Components}
	for _, r := range results {
		if r.ok {
			res.Files = append(res.Files, r.file)
		}
		if r.warn != "" {
			res.Warnings = append(res.Warnings, r.warn)
		}
	}
	return res, nil
}

func (f *Fetcher) fetchText(ctx context.Context, name, cid string) fetched {
	data, err := f.cat(ctx, cid)
	if err != nil {
		return fetched{warn: fmt.Sprintf("failed to fetch %q: %v", name, err)}
	}
	return fetched{ok: true, file: model.FileInput{
		Name:    name,
		Kind:    model.KindText,
		Content: string(data),
		Size:    int64(len(data)),
	}}
}

func (f *Fetcher) fetchRef(ctx context.Context, name, cid string) fetched {
	data, err := f.cat(ctx, cid)
	if err != nil {
		return fetched{warn: fmt.Sprintf("failed to fetch %q: %v", name, err)}
	}

	var meta refMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		// Not struct-decodable (malformed JSON, or a field whose type
		// differs from refMetadata's, such as a string size); fall back to
		// gjson path lookups so one badly typed field doesn't sink the
		// whole component.
		meta.OCR = gjson.GetBytes(data, "ocr").String()
		meta.Type = gjson.GetBytes(data, "type").String()
		meta.Filename = gjson.GetBytes(data, "filename").String()
		meta.Size = gjson.GetBytes(data, "size").Int()
	}

	content := fmt.Sprintf("[Binary file: %s]", displayName(meta.Filename, name))
	if meta.OCR != "" {
		content = fmt.Sprintf("[Image/Document: %s]\n%s", displayName(meta.Filename, name), meta.OCR)
	}

	return fetched{ok: true, file: model.FileInput{
		Name:         name,
		Kind:         model.KindRef,
		Content:      content,
		OriginalName: meta.Filename,
		MIME:         meta.Type,
		Size:         meta.Size,
	}}
}

func displayName(filename, component string) string {
	if filename != "" {
		return filename
	}
	return component
}
