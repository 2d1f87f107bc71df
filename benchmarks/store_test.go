package benchmarks

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/ironbell/sourced/pkg/sourced/checkpoint"
	"github.com/ironbell/sourced/pkg/sourced/event"
	"github.com/ironbell/sourced/pkg/sourced/store"
)

// creditPayload is a realistic small event payload.
type creditPayload struct {
	Account  string `json:"account"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Memo     string `json:"memo"`
}

// BenchmarkMemoryEventStore_Append measures in-memory event appends.
func BenchmarkMemoryEventStore_Append(b *testing.B) {
	ctx := context.Background()
	es := store.NewMemoryEventStore()
	defer es.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = es.Append(ctx, store.Any(), []event.Envelope{benchEvent(i)})
	}
}

// BenchmarkMemoryEventStore_ReadStream measures stream reads over a
// 100-event aggregate.
func BenchmarkMemoryEventStore_ReadStream(b *testing.B) {
	ctx := context.Background()
	es := store.NewMemoryEventStore()
	defer es.Close()
	seedStream(b, es, "acc-1", 100)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = es.ReadStream(ctx, "account", "acc-1")
	}
}

// BenchmarkSQLiteEventStore_Append measures durable event appends.
func BenchmarkSQLiteEventStore_Append(b *testing.B) {
	ctx := context.Background()
	es, cleanup := createSQLiteEventStore(b)
	defer cleanup()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = es.Append(ctx, store.Any(), []event.Envelope{benchEvent(i)})
	}
}

// BenchmarkSQLiteEventStore_ReadAll measures paged log reads.
func BenchmarkSQLiteEventStore_ReadAll(b *testing.B) {
	ctx := context.Background()
	es, cleanup := createSQLiteEventStore(b)
	defer cleanup()
	seedStream(b, es, "acc-1", 256)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = es.ReadAll(ctx, 0, 256)
	}
}

// BenchmarkCheckpointStore_Save measures checkpoint writes.
func BenchmarkCheckpointStore_Save(b *testing.B) {
	ctx := context.Background()
	cs := checkpoint.NewMemoryStore()
	defer cs.Close()

	state := []byte(`{"totals":{"acc-1":100,"acc-2":250,"acc-3":75}}`)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = cs.Save(ctx, checkpoint.New("balances", int64(i), state, int64(i)))
	}
}

// Helper functions

func benchEvent(i int) event.Envelope {
	return event.New("account.credited", creditPayload{
		Account:  "acc-1",
		Amount:   int64(i),
		Currency: "USD",
		Memo:     "benchmark credit",
	}).WithAggregate("account", fmt.Sprintf("agg-%d", i), 1)
}

func seedStream(b *testing.B, es store.EventStore, id string, n int) {
	b.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		env := event.New("account.credited", creditPayload{Account: id, Amount: int64(i)}).
			WithAggregate("account", id, int64(i+1))
		if _, err := es.Append(ctx, store.Any(), []event.Envelope{env}); err != nil {
			b.Fatal(err)
		}
	}
}

func createSQLiteEventStore(b *testing.B) (*store.SQLiteEventStore, func()) {
	b.Helper()
	tmpFile, err := os.CreateTemp("", "bench-*.db")
	if err != nil {
		b.Fatal(err)
	}
	tmpFile.Close()

	es, err := store.NewSQLiteEventStore(tmpFile.Name())
	if err != nil {
		os.Remove(tmpFile.Name())
		b.Fatal(err)
	}

	return es, func() {
		es.Close()
		os.Remove(tmpFile.Name())
	}
}
