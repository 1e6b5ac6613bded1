package store

import (
	"context"
	"fmt"
	"testing"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func Test_Open_SeedsDefaults(t *testing.T) {
	t.Parallel()
	s := testStore(t)
	ctx := context.Background()

	settings, err := s.Settings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if settings.Chat.Temperature != 0.7 || settings.RAG.ChunkSize != 500 {
		t.Errorf("seeded settings = %+v, want defaults", settings)
	}

	models, err := s.ModelConfigs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(models) != 3 {
		t.Fatalf("want 3 seeded model rows, got %d", len(models))
	}
	for _, mt := range []ModelType{ModelChat, ModelEmbedding, ModelRerank} {
		m, err := s.ModelByType(ctx, mt)
		if err != nil {
			t.Fatal(err)
		}
		if m == nil {
			t.Errorf("no seeded row for type %s", mt)
			continue
		}
		if m.Configured() {
			t.Errorf("seeded %s row must start unconfigured", mt)
		}
		if m.ContextLength != 8192 || m.MaxOutput != 4096 {
			t.Errorf("seeded %s limits = %d/%d", mt, m.ContextLength, m.MaxOutput)
		}
	}
}

func Test_Settings_Roundtrip(t *testing.T) {
	t.Parallel()
	s := testStore(t)
	ctx := context.Background()

	in := DefaultSettings()
	in.Chat.Temperature = 1.2
	in.Chat.Thinking = true
	in.RAG.TopK = 7
	in.UI.LogoText = "custom"
	if err := s.SaveSettings(ctx, in); err != nil {
		t.Fatal(err)
	}

	out, err := s.Settings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if out != in {
		t.Errorf("settings roundtrip: got %+v, want %+v", out, in)
	}
}

func Test_ModelConfig_SaveAndDelete(t *testing.T) {
	t.Parallel()
	s := testStore(t)
	ctx := context.Background()

	saved, err := s.SaveModelConfig(ctx, ModelConfig{
		APIURL:     "https://api.example.com/v1",
		APIKey:     "sk-test",
		ModelID:    "gpt-x",
		Type:       ModelChat,
		Capability: Capability{Vision: true, Reasoning: true},
	})
	if err != nil {
		t.Fatal(err)
	}
	if saved.ID == "" {
		t.Error("SaveModelConfig must assign an ID")
	}
	if saved.Name != "gpt-x" {
		t.Errorf("empty name must default to the model ID, got %q", saved.Name)
	}

	// Two chat rows exist now (seed + saved), so look the saved row up
	// from the full listing rather than by type.
	all, err := s.ModelConfigs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var found *ModelConfig
	for i := range all {
		if all[i].ID == saved.ID {
			found = &all[i]
		}
	}
	if found == nil {
		t.Fatal("saved model row not listed")
	}
	if !found.Configured() {
		t.Error("saved row must be configured")
	}
	if !found.Capability.Vision || !found.Capability.Reasoning || found.Capability.Tools {
		t.Errorf("capability roundtrip: %+v", found.Capability)
	}

	if err := s.DeleteModelConfig(ctx, saved.ID); err != nil {
		t.Fatal(err)
	}
	all, _ = s.ModelConfigs(ctx)
	for _, m := range all {
		if m.ID == saved.ID {
			t.Error("deleted row still listed")
		}
	}
}

func Test_ModelConfig_ConfiguredNilSafe(t *testing.T) {
	t.Parallel()
	var m *ModelConfig
	if m.Configured() {
		t.Error("nil model must not be configured")
	}
	if (&ModelConfig{APIURL: "https://x"}).Configured() {
		t.Error("missing model ID must not be configured")
	}
}

func Test_CreateChat_EvictsBeyondCap(t *testing.T) {
	t.Parallel()
	s := testStore(t)
	ctx := context.Background()

	for i := 0; i < 15; i++ {
		if _, err := s.CreateChat(ctx, fmt.Sprintf("chat %d", i)); err != nil {
			t.Fatal(err)
		}
	}
	chats, err := s.Chats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(chats) != maxChats {
		t.Errorf("want %d retained chats, got %d", maxChats, len(chats))
	}
}

func Test_CreateChat_DefaultTitle(t *testing.T) {
	t.Parallel()
	s := testStore(t)

	c, err := s.CreateChat(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if c.Title != "New Chat" {
		t.Errorf("title = %q, want New Chat", c.Title)
	}
}

func Test_Messages_OrderAndCount(t *testing.T) {
	t.Parallel()
	s := testStore(t)
	ctx := context.Background()

	c, err := s.CreateChat(ctx, "t")
	if err != nil {
		t.Fatal(err)
	}
	for i, turn := range []struct {
		role    Role
		content string
	}{
		{RoleUser, "question"},
		{RoleAssistant, "answer"},
		{RoleUser, "followup"},
	} {
		if _, err := s.AddMessage(ctx, c.ID, turn.role, turn.content); err != nil {
			t.Fatalf("message %d: %v", i, err)
		}
	}

	msgs, err := s.Messages(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("want 3 messages, got %d", len(msgs))
	}
	if msgs[0].Content != "question" || msgs[2].Content != "followup" {
		t.Errorf("messages out of insertion order: %v", msgs)
	}
	if msgs[1].Role != RoleAssistant {
		t.Errorf("role = %s, want assistant", msgs[1].Role)
	}

	n, err := s.MessageCount(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("count = %d, want 3", n)
	}
}

func Test_DeleteChat_RemovesMessages(t *testing.T) {
	t.Parallel()
	s := testStore(t)
	ctx := context.Background()

	c, _ := s.CreateChat(ctx, "t")
	_, _ = s.AddMessage(ctx, c.ID, RoleUser, "hi")

	if err := s.DeleteChat(ctx, c.ID); err != nil {
		t.Fatal(err)
	}
	n, err := s.MessageCount(ctx, c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("want 0 messages after chat delete, got %d", n)
	}
}

func Test_ChunkPage_SkipsMissingEmbeddings(t *testing.T) {
	t.Parallel()
	s := testStore(t)
	ctx := context.Background()

	docID, err := s.SaveDocument(ctx, "doc.txt", "full text")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SaveChunk(ctx, docID, "embedded one", []float32{0.1, 0.2}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveChunk(ctx, docID, "pending backfill", nil); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveChunk(ctx, docID, "embedded two", []float32{0.3, 0.4}); err != nil {
		t.Fatal(err)
	}

	page, err := s.ChunkPage(ctx, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 {
		t.Fatalf("want 2 retrievable chunks, got %d", len(page))
	}
	if page[0].Content != "embedded one" || page[1].Content != "embedded two" {
		t.Errorf("chunks out of insertion order: %v", page)
	}
	if len(page[0].Embedding) != 2 || page[0].Embedding[0] != 0.1 {
		t.Errorf("embedding roundtrip: %v", page[0].Embedding)
	}
}

func Test_ChunkPage_Pagination(t *testing.T) {
	t.Parallel()
	s := testStore(t)
	ctx := context.Background()

	docID, _ := s.SaveDocument(ctx, "doc.txt", "text")
	for i := 0; i < 5; i++ {
		if err := s.SaveChunk(ctx, docID, fmt.Sprintf("chunk %d", i), []float32{1}); err != nil {
			t.Fatal(err)
		}
	}

	first, err := s.ChunkPage(ctx, 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	last, err := s.ChunkPage(ctx, 4, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 2 || len(last) != 1 {
		t.Errorf("page sizes = %d/%d, want 2/1", len(first), len(last))
	}
	if first[0].Content != "chunk 0" || last[0].Content != "chunk 4" {
		t.Errorf("pages out of order: %v / %v", first, last)
	}
}

func Test_DeleteDocument_RemovesChunks(t *testing.T) {
	t.Parallel()
	s := testStore(t)
	ctx := context.Background()

	docID, _ := s.SaveDocument(ctx, "doc.txt", "text")
	_ = s.SaveChunk(ctx, docID, "chunk", []float32{1})

	if err := s.DeleteDocument(ctx, docID); err != nil {
		t.Fatal(err)
	}
	page, err := s.ChunkPage(ctx, 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 0 {
		t.Errorf("want no chunks after document delete, got %d", len(page))
	}
	docs, _ := s.Documents(ctx)
	if len(docs) != 0 {
		t.Errorf("want no documents after delete, got %d", len(docs))
	}
}
