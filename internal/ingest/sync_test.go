package ingest

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/examloop/examloop/internal/storage"
)

func testSyncer(t *testing.T) (*Syncer, *storage.DB, string) {
	t.Helper()
	dir := t.TempDir()
	db, err := storage.Open(filepath.Join(dir, "examloop.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	corpus := filepath.Join(dir, "corpus")
	require.NoError(t, os.MkdirAll(corpus, 0o755))
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewSyncer(db, filepath.Join(dir, "repos"), log), db, corpus
}

func writeCorpusFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestAddSourceDetectsTypeAndIsIdempotent(t *testing.T) {
	s, db, corpus := testSyncer(t)

	id, err := s.AddSource(corpus)
	require.NoError(t, err)
	again, err := s.AddSource(corpus)
	require.NoError(t, err)
	assert.Equal(t, id, again)

	src, err := db.FindSourceByPath(corpus)
	require.NoError(t, err)
	require.NotNil(t, src)
	assert.Equal(t, "local", src.Type)

	_, err = s.AddSource("https://example.com/decks/law.git")
	require.NoError(t, err)
	gitSrc, err := db.FindSourceByPath("https://example.com/decks/law.git")
	require.NoError(t, err)
	require.NotNil(t, gitSrc)
	assert.Equal(t, "git", gitSrc.Type)
}

func TestSyncAllInsertsQuestionsWithCards(t *testing.T) {
	s, db, corpus := testSyncer(t)
	writeCorpusFile(t, corpus, "contracts.md", `
T: contracts
Q: What makes a contract binding?
A: Offer, acceptance, consideration.
---
Q: What is consideration?
A: Something of value exchanged by each party.
`)
	_, err := s.AddSource(corpus)
	require.NoError(t, err)

	now := time.Now().UTC()
	st, err := s.SyncAll(now)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Parsed)
	assert.Equal(t, 2, st.Inserted)
	assert.Zero(t, st.Removed)
	assert.Zero(t, st.Errors)

	fresh, err := db.QueryNew(10)
	require.NoError(t, err)
	require.Len(t, fresh, 2, "every ingested question gets a schedulable card")
	for _, c := range fresh {
		assert.Equal(t, "contracts", c.Topic)
	}
}

func TestSyncAllIsIdempotent(t *testing.T) {
	s, _, corpus := testSyncer(t)
	writeCorpusFile(t, corpus, "deck.txt", "Q: One\nA: 1\n---\nQ: Two\nA: 2\n")
	_, err := s.AddSource(corpus)
	require.NoError(t, err)

	now := time.Now().UTC()
	_, err = s.SyncAll(now)
	require.NoError(t, err)

	st, err := s.SyncAll(now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, st.Parsed)
	assert.Zero(t, st.Inserted, "unchanged questions must not be re-inserted")
	assert.Zero(t, st.Removed)
}

func TestSyncAllRemovesVanishedQuestions(t *testing.T) {
	s, db, corpus := testSyncer(t)
	writeCorpusFile(t, corpus, "deck.md", "Q: Keep me\nA: yes\n---\nQ: Drop me\nA: soon\n")
	_, err := s.AddSource(corpus)
	require.NoError(t, err)

	now := time.Now().UTC()
	_, err = s.SyncAll(now)
	require.NoError(t, err)

	writeCorpusFile(t, corpus, "deck.md", "Q: Keep me\nA: yes\n")
	st, err := s.SyncAll(now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, st.Parsed)
	assert.Equal(t, 1, st.Removed)

	fresh, err := db.QueryNew(10)
	require.NoError(t, err)
	assert.Len(t, fresh, 1)
}

func TestTopicFallsBackToFilename(t *testing.T) {
	s, db, corpus := testSyncer(t)
	writeCorpusFile(t, corpus, "roman-history.md", "Q: Who crossed the Rubicon?\nA: Caesar.\n")
	_, err := s.AddSource(corpus)
	require.NoError(t, err)

	_, err = s.SyncAll(time.Now().UTC())
	require.NoError(t, err)

	fresh, err := db.QueryNew(10)
	require.NoError(t, err)
	require.Len(t, fresh, 1)
	assert.Equal(t, "roman-history", fresh[0].Topic)
}

func TestSyncAllSkipsUnknownExtensions(t *testing.T) {
	s, db, corpus := testSyncer(t)
	writeCorpusFile(t, corpus, "notes.rst", "Q: Ignored?\nA: yes\n")
	_, err := s.AddSource(corpus)
	require.NoError(t, err)

	st, err := s.SyncAll(time.Now().UTC())
	require.NoError(t, err)
	assert.Zero(t, st.Parsed)

	fresh, err := db.QueryNew(10)
	require.NoError(t, err)
	assert.Empty(t, fresh)
}

func TestGitURLToLocalPath(t *testing.T) {
	cases := []struct {
		url  string
		want string
		ok   bool
	}{
		{"https://github.com/alice/decks.git", filepath.Join("repos", "github.com", "alice", "decks"), true},
		{"git@github.com:alice/decks.git", filepath.Join("repos", "github.com", "alice/decks"), true},
		{"not a url", "", false},
	}
	for _, tc := range cases {
		got, err := gitURLToLocalPath("repos", tc.url)
		if !tc.ok {
			assert.Error(t, err, tc.url)
			continue
		}
		require.NoError(t, err, tc.url)
		assert.Equal(t, tc.want, got, tc.url)
	}
}
