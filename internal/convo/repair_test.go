package convo

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestRepairNoUsers(t *testing.T) {
	svc, _ := testService(t)

	stats, err := svc.Repair(context.Background())
	if err != nil {
		t.Fatalf("Repair() error = %v", err)
	}
	if stats.Changed() {
		t.Errorf("stats = %+v, want no changes", stats)
	}
}

func TestRepairIsNoOpOnConsistentState(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()
	registerPair(t, svc)

	if _, err := svc.CreateConversation(ctx, CreateParams{
		SelfKey: "a-gmail-com", SelfName: "Alice",
		CounterpartyKey: "b-gmail-com", CounterpartyName: "Bob",
		FirstMessage: Message{ID: "m1", Kind: KindText, Body: "hi"},
	}); err != nil {
		t.Fatal(err)
	}

	stats, err := svc.Repair(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Changed() {
		t.Errorf("stats = %+v, want no changes on consistent state", stats)
	}
	if stats.RefsScanned == 0 {
		t.Error("RefsScanned = 0, repair did not walk the lists")
	}
}

func TestRepairFixesDriftedPreview(t *testing.T) {
	svc, store := testService(t)
	ctx := context.Background()
	registerPair(t, svc)

	id, err := svc.CreateConversation(ctx, CreateParams{
		SelfKey: "a-gmail-com", SelfName: "Alice",
		CounterpartyKey: "b-gmail-com", CounterpartyName: "Bob",
		FirstMessage: Message{ID: "m1", Kind: KindText, Body: "latest truth", SentAt: time.UnixMilli(5000)},
	})
	if err != nil {
		t.Fatal(err)
	}

	// Corrupt Bob's preview as if the second list write had been lost.
	stale, _ := json.Marshal([]json.RawMessage{mustMarshal(t, refToDoc(ConversationRef{
		ID: id, CounterpartyKey: "a-gmail-com", DisplayName: "Alice",
		Latest: LatestMessage{SentAt: time.UnixMilli(1), Body: "stale"},
	}))})
	if err := store.WriteWhole(ctx, "b-gmail-com/conversations", stale); err != nil {
		t.Fatal(err)
	}

	stats, err := svc.Repair(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.PreviewsRepaired == 0 {
		t.Error("PreviewsRepaired = 0, drift not detected")
	}

	refs := conversationsOnce(t, svc, "b-gmail-com")
	if len(refs) != 1 || refs[0].Latest.Body != "latest truth" {
		t.Errorf("refs = %+v, preview not repaired", refs)
	}
}

func TestRepairPreservesOneSidedDeletion(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()
	registerPair(t, svc)

	id, err := svc.CreateConversation(ctx, CreateParams{
		SelfKey: "a-gmail-com", SelfName: "Alice",
		CounterpartyKey: "b-gmail-com", CounterpartyName: "Bob",
		FirstMessage: Message{ID: "m1", Kind: KindText, Body: "hi", SentAt: time.UnixMilli(5000)},
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.DeleteConversation(ctx, "b-gmail-com", id); err != nil {
		t.Fatal(err)
	}

	stats, err := svc.Repair(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Changed() {
		t.Errorf("stats = %+v, deletion must not read as drift", stats)
	}

	if refs := conversationsOnce(t, svc, "b-gmail-com"); len(refs) != 0 {
		t.Errorf("bob refs = %+v, deleted conversation came back", refs)
	}
	// Alice's side keeps its copy untouched.
	if refs := conversationsOnce(t, svc, "a-gmail-com"); len(refs) != 1 || refs[0].ID != id {
		t.Errorf("alice refs = %+v, want surviving copy", refs)
	}
}

func mustMarshal(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}
