package curate

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Develata/rss-ai-news/internal/ai"
	"github.com/Develata/rss-ai-news/internal/config"
	"github.com/Develata/rss-ai-news/internal/store"
	"github.com/Develata/rss-ai-news/internal/strategy"
)

type mockClient struct {
	mu      sync.Mutex
	calls   int
	respond func(call int) (string, error)
}

func (m *mockClient) Complete(ctx context.Context, system, user string, temperature float64) (string, error) {
	m.mu.Lock()
	m.calls++
	call := m.calls
	m.mu.Unlock()
	return m.respond(call)
}

// keyedClient answers by prompt content instead of call order.
type keyedClient struct {
	respond func(user string) (string, error)
}

func (k *keyedClient) Complete(ctx context.Context, system, user string, temperature float64) (string, error) {
	return k.respond(user)
}

func newTestCurator(t *testing.T, client ai.Client) (*Curator, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	reg, err := strategy.NewRegistry([]config.Category{
		{Key: "Tech", Prompt: "evaluate", MaxInputChars: 2000},
	})
	if err != nil {
		t.Fatalf("building registry: %v", err)
	}

	c := New(st, client, reg,
		config.Curate{BatchSize: 50, CommitEvery: 10},
		config.AI{MaxWorkers: 1, MaxRetries: 3, BaseDelaySeconds: 0.001})
	c.Sleep = func(context.Context, time.Duration) {}
	return c, st
}

func seedRecords(t *testing.T, st *store.Store, n int) {
	t.Helper()
	var records []store.Record
	for i := range n {
		records = append(records, store.Record{
			Title:     fmt.Sprintf("Article %d", i),
			Link:      fmt.Sprintf("https://example.com/%d", i),
			Body:      "body text for evaluation",
			Category:  "Tech",
			CreatedAt: time.Now().UTC(),
		})
	}
	if _, err := st.InsertBatch(records); err != nil {
		t.Fatalf("seeding: %v", err)
	}
}

func TestCuratorProcessesBatch(t *testing.T) {
	client := &mockClient{respond: func(int) (string, error) {
		return "A summary.\n|TAGS| Linux\n|SCORE| 85", nil
	}}
	c, st := newTestCurator(t, client)
	seedRecords(t, st, 3)

	applied, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if applied != 3 {
		t.Errorf("expected 3 records curated, got %d", applied)
	}

	ids, _ := st.UnprocessedIDs(10)
	if len(ids) != 0 {
		t.Errorf("expected no unprocessed records, got %d", len(ids))
	}

	rec, _ := st.GetByLink("https://example.com/0")
	if rec.Score != 85 || rec.Summary != "A summary." {
		t.Errorf("curation not persisted: %+v", rec)
	}
}

func TestCuratorPersistsFilteredRecords(t *testing.T) {
	client := &mockClient{respond: func(int) (string, error) {
		return "PASS", nil
	}}
	c, st := newTestCurator(t, client)
	seedRecords(t, st, 1)

	applied, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if applied != 1 {
		t.Errorf("expected 1 record applied, got %d", applied)
	}

	rec, _ := st.GetByLink("https://example.com/0")
	if !rec.Processed || rec.Score != 0 || rec.Summary != FilteredMarker {
		t.Errorf("expected filtered record persisted as processed: %+v", rec)
	}
}

func TestCuratorRetriesRateLimit(t *testing.T) {
	client := &mockClient{respond: func(call int) (string, error) {
		if call < 3 {
			return "", fmt.Errorf("%w: 429", ai.ErrRateLimited)
		}
		return "Recovered.\n|SCORE| 70", nil
	}}
	c, st := newTestCurator(t, client)
	seedRecords(t, st, 1)

	var delays []time.Duration
	c.Sleep = func(_ context.Context, d time.Duration) { delays = append(delays, d) }

	applied, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if applied != 1 {
		t.Errorf("expected the record to be curated after retries, got %d", applied)
	}
	if len(delays) != 2 {
		t.Fatalf("expected 2 backoff sleeps, got %d", len(delays))
	}
	if delays[1] != 2*delays[0] {
		t.Errorf("expected linear backoff, got %v then %v", delays[0], delays[1])
	}
}

func TestCuratorConnectionErrorsLeaveRecordsUnprocessed(t *testing.T) {
	// A dead endpoint fails every record the same way. The run ends cleanly
	// once a round applies nothing; the records stay queued for next time.
	client := &mockClient{respond: func(int) (string, error) {
		return "", fmt.Errorf("%w: dial tcp: refused", ai.ErrConnection)
	}}
	c, st := newTestCurator(t, client)
	seedRecords(t, st, 5)

	applied, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if applied != 0 {
		t.Errorf("expected nothing applied, got %d", applied)
	}

	ids, _ := st.UnprocessedIDs(10)
	if len(ids) != 5 {
		t.Errorf("expected all records left unprocessed, got %d remaining", len(ids))
	}
}

func TestCuratorSkipsRecordOnAPIError(t *testing.T) {
	// One oversized or rejected record must not take the rest of the batch
	// down with it.
	client := &keyedClient{respond: func(user string) (string, error) {
		if strings.Contains(user, "Article 0") {
			return "", &ai.APIError{StatusCode: 400, Message: "context length exceeded"}
		}
		return "Fine.\n|SCORE| 65", nil
	}}
	c, st := newTestCurator(t, client)
	seedRecords(t, st, 5)

	applied, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if applied != 4 {
		t.Errorf("expected 4 records curated around the bad one, got %d", applied)
	}

	rec, _ := st.GetByLink("https://example.com/0")
	if rec.Processed {
		t.Error("expected the failing record to stay unprocessed")
	}
	rec, _ = st.GetByLink("https://example.com/4")
	if !rec.Processed || rec.Score != 65 {
		t.Errorf("expected the rest of the batch persisted: %+v", rec)
	}
}

func TestCuratorDropsSubBatchOnCommitFailure(t *testing.T) {
	client := &mockClient{respond: func(int) (string, error) {
		return "Fine.\n|SCORE| 60", nil
	}}
	c, st := newTestCurator(t, client)
	seedRecords(t, st, 3)

	ids, err := st.UnprocessedIDs(10)
	if err != nil {
		t.Fatalf("polling: %v", err)
	}
	records, err := st.RecordsByIDs(ids)
	if err != nil {
		t.Fatalf("loading: %v", err)
	}
	st.Close()

	applied, err := c.curateBatch(context.Background(), records)
	if err != nil {
		t.Fatalf("expected failed commit to be swallowed, got %v", err)
	}
	if applied != 0 {
		t.Errorf("expected nothing counted as applied, got %d", applied)
	}
}

func TestCuratorZeroRetriesStillAttemptsOnce(t *testing.T) {
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	reg, err := strategy.NewRegistry([]config.Category{
		{Key: "Tech", Prompt: "evaluate", MaxInputChars: 2000},
	})
	if err != nil {
		t.Fatalf("building registry: %v", err)
	}
	client := &mockClient{respond: func(int) (string, error) {
		return "Good.\n|SCORE| 40", nil
	}}
	c := New(st, client, reg,
		config.Curate{BatchSize: 50, CommitEvery: 10},
		config.AI{MaxWorkers: 1, MaxRetries: 0})
	c.Sleep = func(context.Context, time.Duration) {}
	seedRecords(t, st, 1)

	applied, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if applied != 1 {
		t.Errorf("expected 1 record curated, got %d", applied)
	}
	if client.calls != 1 {
		t.Errorf("expected exactly one completion call, got %d", client.calls)
	}
	rec, _ := st.GetByLink("https://example.com/0")
	if rec.Score != 40 || rec.Summary != "Good." {
		t.Errorf("curation not persisted: %+v", rec)
	}
}

func TestCuratorStopsWhenNothingApplied(t *testing.T) {
	// Exhausting retries skips a record without marking it processed. A round
	// that skips everything must terminate the loop instead of re-polling the
	// same records forever.
	client := &mockClient{respond: func(int) (string, error) {
		return "", fmt.Errorf("%w: 429", ai.ErrRateLimited)
	}}
	c, st := newTestCurator(t, client)
	seedRecords(t, st, 2)

	applied, err := c.Run(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if applied != 0 {
		t.Errorf("expected nothing applied, got %d", applied)
	}
	if client.calls != 6 {
		t.Errorf("expected one round of retries (2 records x 3 attempts), got %d calls", client.calls)
	}
}
