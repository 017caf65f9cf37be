package migrate

import (
	"context"
	"errors"
	"testing"

	"nsprovider/internal/schema"
	"nsprovider/internal/storeerr"
)

// fakeBackend is an in-memory Backend used to exercise engine.Run's
// algorithm independently of any real SQL or bbolt wiring.
type fakeBackend struct {
	version      int
	hasVersion   bool
	meta         map[string]schema.IndexMetadata
	stores       map[string]schema.StoreSchema // shape currently persisted
	items        map[string][]map[string]any
	dropCalls    []string
	createCalls  []string
	forceDrifted map[string]bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		meta:         make(map[string]schema.IndexMetadata),
		stores:       make(map[string]schema.StoreSchema),
		items:        make(map[string][]map[string]any),
		forceDrifted: make(map[string]bool),
	}
}

func (f *fakeBackend) ReadSchemaVersion(context.Context) (int, bool, error) {
	return f.version, f.hasVersion, nil
}
func (f *fakeBackend) WriteSchemaVersion(_ context.Context, v int) error {
	f.version = v
	f.hasVersion = true
	return nil
}
func (f *fakeBackend) ReadAllIndexMetadata(context.Context) (map[string]schema.IndexMetadata, error) {
	out := make(map[string]schema.IndexMetadata, len(f.meta))
	for k, v := range f.meta {
		out[k] = v
	}
	return out, nil
}
func (f *fakeBackend) WriteIndexMetadata(_ context.Context, m schema.IndexMetadata) error {
	f.meta[m.Key] = m
	return nil
}
func (f *fakeBackend) DeleteIndexMetadata(_ context.Context, key string) error {
	delete(f.meta, key)
	return nil
}
func (f *fakeBackend) ListStoreNames(context.Context) ([]string, error) {
	names := make([]string, 0, len(f.stores))
	for n := range f.stores {
		names = append(names, n)
	}
	return names, nil
}
func (f *fakeBackend) StoreExists(_ context.Context, name string) (bool, error) {
	_, ok := f.stores[name]
	return ok, nil
}
func (f *fakeBackend) StoreShapeDrifted(_ context.Context, store schema.StoreSchema, _ map[string]schema.IndexMetadata) (bool, error) {
	return f.forceDrifted[store.Name], nil
}
func (f *fakeBackend) DropStore(_ context.Context, name string) error {
	delete(f.stores, name)
	delete(f.items, name)
	f.dropCalls = append(f.dropCalls, name)
	return nil
}
func (f *fakeBackend) CreateStore(_ context.Context, store schema.StoreSchema) error {
	f.stores[store.Name] = store
	for _, idx := range store.Indexes {
		f.meta[schema.MetadataKey(store.Name, idx.Name)] = schema.ToMetadata(store.Name, idx)
	}
	f.createCalls = append(f.createCalls, store.Name)
	return nil
}
func (f *fakeBackend) ReadAllItems(_ context.Context, storeName string) ([]map[string]any, error) {
	return f.items[storeName], nil
}

func userSchema(version int) schema.Schema {
	return schema.Schema{
		Version: version,
		Stores: []schema.StoreSchema{
			{
				Name:           "users",
				PrimaryKeyPath: schema.Single("id"),
				Indexes: []schema.IndexSchema{
					{Name: "by_email", KeyPath: schema.Single("email"), Unique: true},
				},
			},
		},
	}
}

func TestRunCreatesMissingStore(t *testing.T) {
	b := newFakeBackend()
	s := userSchema(1)

	if err := Run(context.Background(), s, b, false, nil); err != nil {
		t.Fatal(err)
	}
	if _, ok := b.stores["users"]; !ok {
		t.Fatal("expected users store to be created")
	}
	if b.version != 1 {
		t.Fatalf("version = %d, want 1", b.version)
	}
	if _, ok := b.meta["users_by_email"]; !ok {
		t.Fatal("expected index metadata to be written")
	}
}

func TestRunDropsUndeclaredStore(t *testing.T) {
	b := newFakeBackend()
	b.stores["ghost"] = schema.StoreSchema{Name: "ghost", PrimaryKeyPath: schema.Single("id")}
	s := userSchema(1)

	if err := Run(context.Background(), s, b, false, nil); err != nil {
		t.Fatal(err)
	}
	if _, ok := b.stores["ghost"]; ok {
		t.Fatal("expected ghost store to be dropped")
	}
}

func TestRunRebuildsDriftedStoreAndReinsertsItems(t *testing.T) {
	b := newFakeBackend()
	b.stores["users"] = schema.StoreSchema{Name: "users", PrimaryKeyPath: schema.Single("id")}
	b.forceDrifted["users"] = true
	b.items["users"] = []map[string]any{{"id": "1"}, {"id": "2"}}
	s := userSchema(1)

	var reinsertedStore string
	var reinsertedItems []map[string]any
	reinsert := func(_ context.Context, storeName string, items []map[string]any) error {
		reinsertedStore = storeName
		reinsertedItems = items
		return nil
	}

	if err := Run(context.Background(), s, b, false, reinsert); err != nil {
		t.Fatal(err)
	}
	if reinsertedStore != "users" {
		t.Fatalf("reinsertedStore = %q, want users", reinsertedStore)
	}
	if len(reinsertedItems) != 2 {
		t.Fatalf("len(reinsertedItems) = %d, want 2", len(reinsertedItems))
	}
}

func TestRunNoOpWhenNotDrifted(t *testing.T) {
	b := newFakeBackend()
	b.stores["users"] = schema.StoreSchema{Name: "users", PrimaryKeyPath: schema.Single("id")}
	b.items["users"] = []map[string]any{{"id": "1"}}
	s := userSchema(1)

	if err := Run(context.Background(), s, b, false, nil); err != nil {
		t.Fatal(err)
	}
	if len(b.dropCalls) != 0 {
		t.Fatalf("expected no drop calls, got %v", b.dropCalls)
	}
}

func TestRunVersionTooNewWithoutWipe(t *testing.T) {
	b := newFakeBackend()
	b.version = 5
	b.hasVersion = true
	s := userSchema(1)

	err := Run(context.Background(), s, b, false, nil)
	if !errors.Is(err, storeerr.ErrVersionTooNew) {
		t.Fatalf("expected ErrVersionTooNew, got %v", err)
	}
}

func TestRunWipeIfExistsOverridesVersionTooNew(t *testing.T) {
	b := newFakeBackend()
	b.version = 5
	b.hasVersion = true
	b.stores["users"] = schema.StoreSchema{Name: "users", PrimaryKeyPath: schema.Single("id")}
	s := userSchema(1)

	if err := Run(context.Background(), s, b, true, nil); err != nil {
		t.Fatal(err)
	}
	if b.version != 1 {
		t.Fatalf("version = %d, want 1", b.version)
	}
}

func TestRunLastUsableVersionForcesWipe(t *testing.T) {
	b := newFakeBackend()
	b.version = 1
	b.hasVersion = true
	b.stores["users"] = schema.StoreSchema{Name: "users", PrimaryKeyPath: schema.Single("id")}
	b.items["users"] = []map[string]any{{"id": "stale"}}

	minUsable := 2
	s := userSchema(3)
	s.LastUsableVersion = &minUsable

	if err := Run(context.Background(), s, b, false, nil); err != nil {
		t.Fatal(err)
	}
	// wipe drops then recreates; items are not preserved across a
	// LastUsableVersion wipe (unlike a drift rebuild).
	if len(b.items["users"]) != 0 {
		t.Fatalf("expected items cleared by wipe, got %v", b.items["users"])
	}
}
