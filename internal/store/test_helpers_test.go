package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/avaraline/incarnator/internal/models"
)

var testNow = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

// setupTestStore creates a new temp-dir store for testing.
func setupTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestIdentity inserts an identity named handle.
func createTestIdentity(t *testing.T, s *Store, handle string, local bool) models.Identity {
	t.Helper()
	ident := models.Identity{
		Handle:   handle,
		ActorURI: "https://example.com/users/" + handle,
		InboxURI: "https://example.com/users/" + handle + "/inbox",
		Local:    local,
	}
	if err := s.CreateIdentity(context.Background(), &ident, testNow); err != nil {
		t.Fatalf("CreateIdentity() failed: %v", err)
	}
	return ident
}

// createTestPost inserts a public post by author.
func createTestPost(t *testing.T, s *Store, author models.Identity, uri string, tags ...string) models.Post {
	t.Helper()
	post := models.Post{
		AuthorID:  author.ID,
		ObjectURI: uri,
		Local:     author.Local,
		Hashtags:  tags,
	}
	if err := s.CreatePost(context.Background(), &post, testNow); err != nil {
		t.Fatalf("CreatePost() failed: %v", err)
	}
	return post
}
