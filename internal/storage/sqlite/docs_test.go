package sqlite

import (
	"testing"

	"github.com/elemental-run/elemental/internal/storage"
	"github.com/elemental-run/elemental/internal/types"
)

func createDocument(t *testing.T, env *testEnv, content string) *types.Element {
	t.Helper()
	el := &types.Element{
		Type: types.TypeDocument,
		Document: &types.Document{
			ContentType: types.ContentText,
			Content:     content,
			Version:     1,
		},
	}
	if err := env.Store.CreateElement(env.Ctx, el, "test-user"); err != nil {
		t.Fatalf("CreateElement(document) failed: %v", err)
	}
	return el
}

func TestAppendDocumentVersion_AdvancesVersionAndContent(t *testing.T) {
	env := newTestEnv(t)
	doc := createDocument(t, env, "v1 content")

	updated, err := env.Store.AppendDocumentVersion(env.Ctx, doc.ID, types.ContentText, "v2 content", "test-user")
	if err != nil {
		t.Fatalf("AppendDocumentVersion failed: %v", err)
	}
	if updated.Document.Version != 2 {
		t.Errorf("Version = %d, want 2", updated.Document.Version)
	}
	if updated.Document.Content != "v2 content" {
		t.Errorf("Content = %q, want %q", updated.Document.Content, "v2 content")
	}
}

func TestGetDocumentHistory_ReturnsEveryVersionOldestFirst(t *testing.T) {
	env := newTestEnv(t)
	doc := createDocument(t, env, "v1")
	if _, err := env.Store.AppendDocumentVersion(env.Ctx, doc.ID, types.ContentText, "v2", "test-user"); err != nil {
		t.Fatalf("AppendDocumentVersion failed: %v", err)
	}
	if _, err := env.Store.AppendDocumentVersion(env.Ctx, doc.ID, types.ContentText, "v3", "test-user"); err != nil {
		t.Fatalf("AppendDocumentVersion failed: %v", err)
	}

	history, err := env.Store.GetDocumentHistory(env.Ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetDocumentHistory failed: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("len(history) = %d, want 3", len(history))
	}
	for i, want := range []string{"v1", "v2", "v3"} {
		if history[i].Document.Content != want {
			t.Errorf("history[%d].Content = %q, want %q", i, history[i].Document.Content, want)
		}
	}
}

func TestRollbackDocument_AppendsOldContentAsNewestVersion(t *testing.T) {
	env := newTestEnv(t)
	doc := createDocument(t, env, "v1 content")
	if _, err := env.Store.AppendDocumentVersion(env.Ctx, doc.ID, types.ContentText, "v2 content", "test-user"); err != nil {
		t.Fatalf("AppendDocumentVersion failed: %v", err)
	}
	if _, err := env.Store.AppendDocumentVersion(env.Ctx, doc.ID, types.ContentText, "v3 content", "test-user"); err != nil {
		t.Fatalf("AppendDocumentVersion failed: %v", err)
	}

	rolled, err := env.Store.RollbackDocument(env.Ctx, doc.ID, 1, "test-user")
	if err != nil {
		t.Fatalf("RollbackDocument failed: %v", err)
	}
	if rolled.Document.Version != 4 {
		t.Errorf("Version = %d, want 4 (rollback is a new version, not a rewrite)", rolled.Document.Version)
	}
	if rolled.Document.Content != "v1 content" {
		t.Errorf("Content = %q, want %q", rolled.Document.Content, "v1 content")
	}

	history, err := env.Store.GetDocumentHistory(env.Ctx, doc.ID)
	if err != nil {
		t.Fatalf("GetDocumentHistory failed: %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("len(history) = %d, want 4 (original 3 plus the rollback)", len(history))
	}
	if history[1].Document.Content != "v2 content" {
		t.Errorf("expected v2 still present in history, got %q", history[1].Document.Content)
	}
}

func TestHydrateContent_PopulatesFromTaskDescriptionRef(t *testing.T) {
	env := newTestEnv(t)
	doc := createDocument(t, env, "the task description")
	task := env.CreateTask("task with description")
	if err := env.Store.UpdateElement(env.Ctx, task.ID, func(el *types.Element) error {
		el.Task.DescriptionRef = doc.ID
		return nil
	}, "test-user", nil); err != nil {
		t.Fatalf("UpdateElement failed: %v", err)
	}

	got, err := env.Store.GetElement(env.Ctx, task.ID, storage.GetOptions{HydrateContent: true})
	if err != nil {
		t.Fatalf("GetElement(hydrate) failed: %v", err)
	}
	if got.HydratedContent != "the task description" {
		t.Errorf("HydratedContent = %q, want %q", got.HydratedContent, "the task description")
	}

	plain, err := env.Store.GetElement(env.Ctx, task.ID, storage.GetOptions{})
	if err != nil {
		t.Fatalf("GetElement failed: %v", err)
	}
	if plain.HydratedContent != "" {
		t.Errorf("expected HydratedContent empty without the hydrate option, got %q", plain.HydratedContent)
	}
}
