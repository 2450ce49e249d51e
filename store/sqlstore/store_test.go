package sqlstore_test

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"github.com/jacentio/bibliodigit/store"
	"github.com/jacentio/bibliodigit/store/sqlstore"
)

// --- Helpers ---

func openStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	cfg := sqlstore.DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "records.db")
	s, err := sqlstore.Open(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newRecord(t *testing.T, kind string, fields map[string]any) *store.Record {
	t.Helper()
	id, err := store.NewID()
	if err != nil {
		t.Fatalf("new id: %v", err)
	}
	return &store.Record{Kind: kind, ID: id, Fields: fields}
}

func mustCreate(t *testing.T, s *sqlstore.Store, rec *store.Record) *store.Record {
	t.Helper()
	if err := s.Create(context.Background(), rec); err != nil {
		t.Fatalf("create %s: %v", rec.Ref(), err)
	}
	return rec
}

func collect(t *testing.T, s *sqlstore.Store, q store.Query) []*store.Record {
	t.Helper()
	ctx := context.Background()
	cur, err := s.Query(ctx, q)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	recs, err := store.Collect(ctx, cur)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	return recs
}

// --- Create / Get ---

func TestCreateGet(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	fields := map[string]any{"name": "Ursula K. Le Guin", "nationality": "US", "books": float64(23)}
	rec := mustCreate(t, s, newRecord(t, "author", fields))

	if rec.Version != 1 {
		t.Errorf("expected version 1, got %d", rec.Version)
	}
	if rec.CreatedAt.IsZero() || !rec.CreatedAt.Equal(rec.UpdatedAt) {
		t.Errorf("expected equal non-zero timestamps, got %v / %v", rec.CreatedAt, rec.UpdatedAt)
	}

	got, err := s.Get(ctx, rec.Ref())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !reflect.DeepEqual(got.Fields, fields) {
		t.Errorf("expected fields %v, got %v", fields, got.Fields)
	}
	if got.Version != 1 {
		t.Errorf("expected version 1, got %d", got.Version)
	}
	if !got.CreatedAt.Equal(rec.CreatedAt) {
		t.Errorf("expected created_at %v, got %v", rec.CreatedAt, got.CreatedAt)
	}
}

func TestCreate_MissingID(t *testing.T) {
	s := openStore(t)
	err := s.Create(context.Background(), &store.Record{Kind: "author"})
	if err == nil {
		t.Fatal("expected error for record without id")
	}
}

func TestCreate_AlreadyExists(t *testing.T) {
	s := openStore(t)
	rec := mustCreate(t, s, newRecord(t, "author", map[string]any{"name": "A"}))

	dup := &store.Record{Kind: "author", ID: rec.ID, Fields: map[string]any{"name": "B"}}
	if err := s.Create(context.Background(), dup); !errors.Is(err, store.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestCreate_ParentNotFound(t *testing.T) {
	s := openStore(t)
	child := newRecord(t, "book", map[string]any{"title": "Orphan"})
	child.Parents = []store.Ref{store.NewRef("author", "missing")}

	if err := s.Create(context.Background(), child); !errors.Is(err, store.ErrParentNotFound) {
		t.Errorf("expected ErrParentNotFound, got %v", err)
	}
	if _, err := s.Get(context.Background(), child.Ref()); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected failed create to leave nothing behind, got %v", err)
	}
}

func TestCreate_DuplicateUniqueValue(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	first := newRecord(t, "category", map[string]any{"name": "Poetry"})
	first.Unique = map[string]string{"name": "Poetry"}
	mustCreate(t, s, first)

	second := newRecord(t, "category", map[string]any{"name": "Poetry"})
	second.Unique = map[string]string{"name": "Poetry"}
	if err := s.Create(ctx, second); !errors.Is(err, store.ErrDuplicateValue) {
		t.Fatalf("expected ErrDuplicateValue, got %v", err)
	}

	// Same value under another kind is fine.
	other := newRecord(t, "author", map[string]any{"name": "Poetry"})
	other.Unique = map[string]string{"name": "Poetry"}
	mustCreate(t, s, other)
}

// --- Update ---

func TestUpdate(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	rec := mustCreate(t, s, newRecord(t, "author", map[string]any{"name": "A"}))
	created := rec.CreatedAt

	rec.Fields = map[string]any{"name": "B"}
	if err := s.Update(ctx, rec, 1); err != nil {
		t.Fatalf("update: %v", err)
	}
	if rec.Version != 2 {
		t.Errorf("expected version 2, got %d", rec.Version)
	}
	if !rec.CreatedAt.Equal(created) {
		t.Errorf("expected created_at to stay %v, got %v", created, rec.CreatedAt)
	}

	got, err := s.Get(ctx, rec.Ref())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Fields["name"] != "B" || got.Version != 2 {
		t.Errorf("expected name B at version 2, got %v at %d", got.Fields["name"], got.Version)
	}
}

func TestUpdate_VersionMismatch(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	rec := mustCreate(t, s, newRecord(t, "author", map[string]any{"name": "A"}))

	rec.Fields = map[string]any{"name": "B"}
	if err := s.Update(ctx, rec, 7); !errors.Is(err, store.ErrConcurrentModification) {
		t.Errorf("expected ErrConcurrentModification, got %v", err)
	}

	got, _ := s.Get(ctx, rec.Ref())
	if got.Fields["name"] != "A" {
		t.Errorf("expected unchanged record, got %v", got.Fields)
	}
}

func TestUpdate_NotFound(t *testing.T) {
	s := openStore(t)
	rec := newRecord(t, "author", map[string]any{"name": "A"})
	if err := s.Update(context.Background(), rec, 1); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdate_Deleted(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	rec := mustCreate(t, s, newRecord(t, "author", map[string]any{"name": "A"}))
	if err := s.Delete(ctx, rec.Ref(), store.DeleteOptions{}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Update(ctx, rec, 1); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdate_ConcurrentStaleVersion(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	rec := mustCreate(t, s, newRecord(t, "copy", map[string]any{"available": true}))

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		conflicts int
		others    []error
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			update := &store.Record{
				Kind:   rec.Kind,
				ID:     rec.ID,
				Fields: map[string]any{"available": false, "holder": float64(i)},
			}
			err := s.Update(ctx, update, 1)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, store.ErrConcurrentModification):
				conflicts++
			default:
				others = append(others, err)
			}
		}(i)
	}
	wg.Wait()

	if len(others) > 0 {
		t.Fatalf("unexpected errors: %v", others)
	}
	if succeeded != 1 {
		t.Errorf("expected exactly 1 successful update, got %d", succeeded)
	}
	if conflicts != writers-1 {
		t.Errorf("expected %d conflicts, got %d", writers-1, conflicts)
	}

	got, _ := s.Get(ctx, rec.Ref())
	if got.Version != 2 {
		t.Errorf("expected version 2, got %d", got.Version)
	}
}

func TestUpdate_MovesUniqueValue(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	rec := newRecord(t, "category", map[string]any{"name": "Poetry"})
	rec.Unique = map[string]string{"name": "Poetry"}
	mustCreate(t, s, rec)

	rec.Fields = map[string]any{"name": "Verse"}
	rec.Unique = map[string]string{"name": "Verse"}
	if err := s.Update(ctx, rec, 1); err != nil {
		t.Fatalf("update: %v", err)
	}

	// Old value is free again, new value is taken.
	reuse := newRecord(t, "category", map[string]any{"name": "Poetry"})
	reuse.Unique = map[string]string{"name": "Poetry"}
	mustCreate(t, s, reuse)

	clash := newRecord(t, "category", map[string]any{"name": "Verse"})
	clash.Unique = map[string]string{"name": "Verse"}
	if err := s.Create(ctx, clash); !errors.Is(err, store.ErrDuplicateValue) {
		t.Errorf("expected ErrDuplicateValue, got %v", err)
	}
}

func TestUpdate_DuplicateLeavesRecordUnchanged(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	a := newRecord(t, "category", map[string]any{"name": "A"})
	a.Unique = map[string]string{"name": "A"}
	mustCreate(t, s, a)
	b := newRecord(t, "category", map[string]any{"name": "B"})
	b.Unique = map[string]string{"name": "B"}
	mustCreate(t, s, b)

	b.Fields = map[string]any{"name": "A"}
	b.Unique = map[string]string{"name": "A"}
	if err := s.Update(ctx, b, 1); !errors.Is(err, store.ErrDuplicateValue) {
		t.Fatalf("expected ErrDuplicateValue, got %v", err)
	}

	got, _ := s.Get(ctx, b.Ref())
	if got.Fields["name"] != "B" || got.Version != 1 {
		t.Errorf("expected B at version 1, got %v at %d", got.Fields["name"], got.Version)
	}
	// B still owns its value.
	again := newRecord(t, "category", map[string]any{"name": "B"})
	again.Unique = map[string]string{"name": "B"}
	if err := s.Create(ctx, again); !errors.Is(err, store.ErrDuplicateValue) {
		t.Errorf("expected ErrDuplicateValue, got %v", err)
	}
}

func TestUpdate_MovesParent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	a1 := mustCreate(t, s, newRecord(t, "author", map[string]any{"name": "A1"}))
	a2 := mustCreate(t, s, newRecord(t, "author", map[string]any{"name": "A2"}))
	book := newRecord(t, "book", map[string]any{"title": "T"})
	book.Parents = []store.Ref{a1.Ref()}
	mustCreate(t, s, book)

	book.Parents = []store.Ref{a2.Ref()}
	if err := s.Update(ctx, book, 1); err != nil {
		t.Fatalf("update: %v", err)
	}

	if got := collect(t, s, store.Query{Kind: "book", Parent: a1.Ref()}); len(got) != 0 {
		t.Errorf("expected no books under old author, got %d", len(got))
	}
	if got := collect(t, s, store.Query{Kind: "book", Parent: a2.Ref()}); len(got) != 1 {
		t.Errorf("expected 1 book under new author, got %d", len(got))
	}

	book.Parents = []store.Ref{store.NewRef("author", "missing")}
	if err := s.Update(ctx, book, 2); !errors.Is(err, store.ErrParentNotFound) {
		t.Errorf("expected ErrParentNotFound, got %v", err)
	}
}

// --- Delete ---

func TestDelete(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	rec := mustCreate(t, s, newRecord(t, "author", map[string]any{"name": "A"}))

	if err := s.Delete(ctx, rec.Ref(), store.DeleteOptions{}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, rec.Ref()); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.Delete(ctx, rec.Ref(), store.DeleteOptions{}); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestDelete_IDNeverReused(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	rec := mustCreate(t, s, newRecord(t, "author", map[string]any{"name": "A"}))
	if err := s.Delete(ctx, rec.Ref(), store.DeleteOptions{}); err != nil {
		t.Fatalf("delete: %v", err)
	}

	again := &store.Record{Kind: "author", ID: rec.ID, Fields: map[string]any{"name": "B"}}
	if err := s.Create(ctx, again); !errors.Is(err, store.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists for a deleted id, got %v", err)
	}
}

func TestDelete_ReleasesUniqueValues(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	rec := newRecord(t, "user", map[string]any{"email": "a@example.com"})
	rec.Unique = map[string]string{"email": "a@example.com"}
	mustCreate(t, s, rec)

	if err := s.Delete(ctx, rec.Ref(), store.DeleteOptions{}); err != nil {
		t.Fatalf("delete: %v", err)
	}

	next := newRecord(t, "user", map[string]any{"email": "a@example.com"})
	next.Unique = map[string]string{"email": "a@example.com"}
	mustCreate(t, s, next)
}

func TestDelete_Restrict(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	author := mustCreate(t, s, newRecord(t, "author", map[string]any{"name": "A"}))
	book := newRecord(t, "book", map[string]any{"title": "T"})
	book.Parents = []store.Ref{author.Ref()}
	mustCreate(t, s, book)

	opts := store.DeleteOptions{Restrict: []string{"book"}}
	if err := s.Delete(ctx, author.Ref(), opts); !errors.Is(err, store.ErrHasChildren) {
		t.Fatalf("expected ErrHasChildren, got %v", err)
	}
	if _, err := s.Get(ctx, author.Ref()); err != nil {
		t.Fatalf("expected author to survive, got %v", err)
	}

	// Restrictions only apply to the listed kinds.
	if err := s.Delete(ctx, author.Ref(), store.DeleteOptions{Restrict: []string{"essay"}}); err != nil {
		t.Fatalf("expected delete to pass for unrelated kind, got %v", err)
	}
}

func TestDelete_RestrictIgnoresDeletedChildren(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	author := mustCreate(t, s, newRecord(t, "author", map[string]any{"name": "A"}))
	book := newRecord(t, "book", map[string]any{"title": "T"})
	book.Parents = []store.Ref{author.Ref()}
	mustCreate(t, s, book)

	if err := s.Delete(ctx, book.Ref(), store.DeleteOptions{}); err != nil {
		t.Fatalf("delete book: %v", err)
	}
	if err := s.Delete(ctx, author.Ref(), store.DeleteOptions{Restrict: []string{"book"}}); err != nil {
		t.Errorf("expected delete to succeed once children are gone, got %v", err)
	}
}

func TestDelete_Cascade(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	book := mustCreate(t, s, newRecord(t, "book", map[string]any{"title": "T"}))
	var copies []*store.Record
	for i := 0; i < 3; i++ {
		c := newRecord(t, "copy", map[string]any{"available": true})
		c.Parents = []store.Ref{book.Ref()}
		copies = append(copies, mustCreate(t, s, c))
	}
	note := newRecord(t, "note", map[string]any{"text": "worn"})
	note.Parents = []store.Ref{copies[0].Ref()}
	mustCreate(t, s, note)

	if err := s.Delete(ctx, book.Ref(), store.DeleteOptions{Cascade: true}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	for _, c := range append(copies, note) {
		if _, err := s.Get(ctx, c.Ref()); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("expected %s to be cascaded, got %v", c.Ref(), err)
		}
	}
}

func TestDelete_NoCascadeKeepsChildren(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	book := mustCreate(t, s, newRecord(t, "book", map[string]any{"title": "T"}))
	c := newRecord(t, "copy", map[string]any{"available": true})
	c.Parents = []store.Ref{book.Ref()}
	mustCreate(t, s, c)

	if err := s.Delete(ctx, book.Ref(), store.DeleteOptions{}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Get(ctx, c.Ref()); err != nil {
		t.Errorf("expected child to remain, got %v", err)
	}
}

// --- Query ---

func seedBooks(t *testing.T, s *sqlstore.Store) (store.Ref, []*store.Record) {
	t.Helper()
	author := mustCreate(t, s, newRecord(t, "author", map[string]any{"name": "A"}))
	var books []*store.Record
	for _, b := range []struct {
		title    string
		year     int
		borrowed bool
	}{
		{"The Dispossessed", 1974, false},
		{"The Left Hand of Darkness", 1969, true},
		{"A Wizard of Earthsea", 1968, false},
		{"100% Pure_Text", 2001, false},
	} {
		rec := newRecord(t, "book", map[string]any{"title": b.title, "year": b.year, "borrowed": b.borrowed})
		if b.year < 2000 {
			rec.Parents = []store.Ref{author.Ref()}
		}
		books = append(books, mustCreate(t, s, rec))
	}
	return author.Ref(), books
}

func TestQuery_Filters(t *testing.T) {
	s := openStore(t)
	author, _ := seedBooks(t, s)

	tests := []struct {
		name     string
		query    store.Query
		expected []string
	}{
		{
			name:     "all in id order",
			query:    store.Query{Kind: "book"},
			expected: []string{"The Dispossessed", "The Left Hand of Darkness", "A Wizard of Earthsea", "100% Pure_Text"},
		},
		{
			name:     "eq number",
			query:    store.Query{Kind: "book", Filters: []store.Filter{store.Eq("year", 1969)}},
			expected: []string{"The Left Hand of Darkness"},
		},
		{
			name:     "eq bool",
			query:    store.Query{Kind: "book", Filters: []store.Filter{store.Eq("borrowed", true)}},
			expected: []string{"The Left Hand of Darkness"},
		},
		{
			name:     "contains ignores case",
			query:    store.Query{Kind: "book", Filters: []store.Filter{store.Contains("title", "THE")}},
			expected: []string{"The Dispossessed", "The Left Hand of Darkness"},
		},
		{
			name:     "contains escapes wildcards",
			query:    store.Query{Kind: "book", Filters: []store.Filter{store.Contains("title", "0% p")}},
			expected: []string{"100% Pure_Text"},
		},
		{
			name:     "contains literal underscore",
			query:    store.Query{Kind: "book", Filters: []store.Filter{store.Contains("title", "e_t")}},
			expected: []string{"100% Pure_Text"},
		},
		{
			name:     "between inclusive",
			query:    store.Query{Kind: "book", Filters: []store.Filter{store.Between("year", 1968, 1969)}},
			expected: []string{"The Left Hand of Darkness", "A Wizard of Earthsea"},
		},
		{
			name:     "ne",
			query:    store.Query{Kind: "book", Filters: []store.Filter{store.Ne("year", 1974), store.Lt("year", 2000)}},
			expected: []string{"The Left Hand of Darkness", "A Wizard of Earthsea"},
		},
		{
			name:     "parent",
			query:    store.Query{Kind: "book", Parent: author, Filters: []store.Filter{store.Gte("year", 1969)}},
			expected: []string{"The Dispossessed", "The Left Hand of Darkness"},
		},
		{
			name:     "order by year desc with limit",
			query:    store.Query{Kind: "book", OrderBy: "year", Descending: true, Limit: 2},
			expected: []string{"100% Pure_Text", "The Dispossessed"},
		},
		{
			name:     "missing field eq nil",
			query:    store.Query{Kind: "book", Filters: []store.Filter{store.Eq("isbn", nil)}},
			expected: []string{"The Dispossessed", "The Left Hand of Darkness", "A Wizard of Earthsea", "100% Pure_Text"},
		},
		{
			name:     "other kind",
			query:    store.Query{Kind: "magazine"},
			expected: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var titles []string
			for _, rec := range collect(t, s, tt.query) {
				titles = append(titles, rec.Fields["title"].(string))
			}
			if !reflect.DeepEqual(titles, tt.expected) {
				t.Errorf("expected %v, got %v", tt.expected, titles)
			}
		})
	}
}

func TestQuery_ContainsFoldsUnicode(t *testing.T) {
	s := openStore(t)
	for _, title := range []string{"Cien AÑOS de Soledad", "ÉXODO", "Crónica de una muerte anunciada"} {
		mustCreate(t, s, newRecord(t, "book", map[string]any{"title": title}))
	}

	tests := []struct {
		substr   string
		expected []string
	}{
		{substr: "años", expected: []string{"Cien AÑOS de Soledad"}},
		{substr: "éxodo", expected: []string{"ÉXODO"}},
		{substr: "CRÓNICA", expected: []string{"Crónica de una muerte anunciada"}},
		{substr: "anos", expected: nil},
	}
	for _, tt := range tests {
		t.Run(tt.substr, func(t *testing.T) {
			f := store.Contains("title", tt.substr)
			var titles []string
			for _, rec := range collect(t, s, store.Query{Kind: "book", Filters: []store.Filter{f}, OrderBy: "title"}) {
				if !f.Match(rec.Fields) {
					t.Errorf("in-memory match disagrees for %q", rec.Fields["title"])
				}
				titles = append(titles, rec.Fields["title"].(string))
			}
			if !reflect.DeepEqual(titles, tt.expected) {
				t.Errorf("expected %v, got %v", tt.expected, titles)
			}
		})
	}
}

func TestQuery_SkipsDeleted(t *testing.T) {
	s := openStore(t)
	_, books := seedBooks(t, s)
	if err := s.Delete(context.Background(), books[0].Ref(), store.DeleteOptions{}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got := collect(t, s, store.Query{Kind: "book"}); len(got) != len(books)-1 {
		t.Errorf("expected %d books, got %d", len(books)-1, len(got))
	}
}

func TestQuery_CursorIsSingleUse(t *testing.T) {
	s := openStore(t)
	seedBooks(t, s)
	ctx := context.Background()

	cur, err := s.Query(ctx, store.Query{Kind: "book"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	n := 0
	for cur.Next(ctx) {
		n++
	}
	if err := cur.Err(); err != nil {
		t.Fatalf("cursor: %v", err)
	}
	if n != 4 {
		t.Errorf("expected 4 records, got %d", n)
	}
	if cur.Next(ctx) {
		t.Error("expected exhausted cursor to stay exhausted")
	}
}

func TestQuery_InvalidField(t *testing.T) {
	s := openStore(t)
	_, err := s.Query(context.Background(), store.Query{
		Kind:    "book",
		Filters: []store.Filter{store.Eq("title') OR 1=1 --", "x")},
	})
	if !errors.Is(err, store.ErrInvalidQuery) {
		t.Errorf("expected ErrInvalidQuery, got %v", err)
	}
}

func TestPing(t *testing.T) {
	s := openStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("expected ping to succeed, got %v", err)
	}
}

func TestOpen_MigratesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.db")
	cfg := sqlstore.DefaultConfig()
	cfg.Path = path
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s, err := sqlstore.Open(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	rec := mustCreate(t, s, newRecord(t, "author", map[string]any{"name": "A"}))
	s.Close()

	s, err = sqlstore.Open(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer s.Close()
	if _, err := s.Get(context.Background(), rec.Ref()); err != nil {
		t.Errorf("expected record to survive reopen, got %v", err)
	}
}

func TestCorruptTimestampIsAnError(t *testing.T) {
	ctx := context.Background()
	cfg := sqlstore.DefaultConfig()
	cfg.Path = filepath.Join(t.TempDir(), "records.db")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s, err := sqlstore.Open(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	rec := mustCreate(t, s, newRecord(t, "author", map[string]any{"name": "A"}))
	s.Close()

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		t.Fatalf("open raw: %v", err)
	}
	if _, err := db.ExecContext(ctx, `UPDATE records SET created_at = 'yesterday' WHERE id = ?`, rec.ID); err != nil {
		t.Fatalf("corrupt: %v", err)
	}
	db.Close()

	s, err = sqlstore.Open(ctx, cfg, logger)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	if _, err := s.Get(ctx, rec.Ref()); err == nil || errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected decode error from get, got %v", err)
	}

	cur, err := s.Query(ctx, store.Query{Kind: "author"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if _, err := store.Collect(ctx, cur); err == nil {
		t.Error("expected decode error from query")
	}

	update := &store.Record{Kind: "author", ID: rec.ID, Fields: map[string]any{"name": "B"}}
	if err := s.Update(ctx, update, 1); err == nil {
		t.Fatal("expected update to fail")
	}
	var version int64
	db, err = sql.Open("sqlite", cfg.Path)
	if err != nil {
		t.Fatalf("open raw: %v", err)
	}
	defer db.Close()
	if err := db.QueryRowContext(ctx, `SELECT version FROM records WHERE id = ?`, rec.ID).Scan(&version); err != nil {
		t.Fatalf("read version: %v", err)
	}
	if version != 1 {
		t.Errorf("expected failed update to roll back, got version %d", version)
	}
}
