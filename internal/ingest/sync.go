// Package ingest reconciles the question database with the registered
// corpus sources. Questions are identified by content hash: a reworded
// question is a new question, an unchanged one keeps its card and
// history, and a question that disappeared from its source is removed
// (its review events stay).
package ingest

import (
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/examloop/examloop/internal/gitsource"
	"github.com/examloop/examloop/internal/parser"
	"github.com/examloop/examloop/internal/qhash"
	"github.com/examloop/examloop/internal/storage"
)

// corpus file extensions recognized while walking a source.
var corpusExtensions = map[string]bool{".md": true, ".txt": true}

// Syncer reconciles sources into the database.
type Syncer struct {
	db       *storage.DB
	reposDir string
	log      *slog.Logger
}

// NewSyncer wires an ingest run. reposDir is where git sources are
// checked out; it is created on demand.
func NewSyncer(db *storage.DB, reposDir string, log *slog.Logger) *Syncer {
	if log == nil {
		log = slog.Default()
	}
	return &Syncer{db: db, reposDir: reposDir, log: log}
}

// AddSource registers a corpus source. Git URLs are detected by their
// scheme or scp-like form; everything else is treated as a local path.
// Re-adding an existing path is a no-op.
func (s *Syncer) AddSource(path string) (int64, error) {
	existing, err := s.db.FindSourceByPath(path)
	if err != nil {
		return 0, err
	}
	if existing != nil {
		return existing.ID, nil
	}
	sourceType := "local"
	if isGitURL(path) {
		sourceType = "git"
	}
	id, err := s.db.InsertSource(sourceType, path)
	if err != nil {
		return 0, err
	}
	s.log.Info("source registered", "id", id, "type", sourceType, "path", path)
	return id, nil
}

// Stats summarize one reconciliation run.
type Stats struct {
	Sources  int
	Parsed   int
	Inserted int
	Removed  int
	Errors   int
}

// SyncAll reconciles every registered source. Per-source failures are
// logged and counted, not fatal: one broken corpus must not block the
// others.
func (s *Syncer) SyncAll(now time.Time) (Stats, error) {
	sources, err := s.db.AllSources()
	if err != nil {
		return Stats{}, fmt.Errorf("load sources: %w", err)
	}
	if len(sources) == 0 {
		s.log.Info("no sources configured")
		return Stats{}, nil
	}

	var total Stats
	total.Sources = len(sources)
	for _, source := range sources {
		s.log.Info("syncing source", "id", source.ID, "type", source.Type, "path", source.Path)

		scanPath := source.Path
		if source.Type == "git" {
			scanPath, err = gitURLToLocalPath(s.reposDir, source.Path)
			if err != nil {
				s.log.Error("cannot place git source", "url", source.Path, "error", err)
				total.Errors++
				continue
			}
			if err := os.MkdirAll(s.reposDir, 0o755); err != nil {
				return total, fmt.Errorf("create checkout dir: %w", err)
			}
			if err := gitsource.Sync(source.Path, scanPath, s.log); err != nil {
				s.log.Error("git sync failed", "url", source.Path, "error", err)
				total.Errors++
				continue
			}
		}

		st, err := s.reconcile(source, scanPath, now)
		if err != nil {
			s.log.Error("reconcile failed", "path", scanPath, "error", err)
			total.Errors++
			continue
		}
		total.Parsed += st.Parsed
		total.Inserted += st.Inserted
		total.Removed += st.Removed
		total.Errors += st.Errors
	}
	s.log.Info("sync complete", "sources", total.Sources,
		"parsed", total.Parsed, "inserted", total.Inserted,
		"removed", total.Removed, "errors", total.Errors)
	return total, nil
}

// reconcile walks one source directory, inserts unseen questions and
// removes questions no longer present in the files.
func (s *Syncer) reconcile(source storage.Source, scanPath string, now time.Time) (Stats, error) {
	var st Stats
	found := map[string]bool{}

	walkErr := filepath.WalkDir(scanPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !corpusExtensions[strings.ToLower(filepath.Ext(d.Name()))] {
			return nil
		}
		questions, parseErr := parser.ParseFile(path, topicFromFilename(path))
		if parseErr != nil {
			s.log.Warn("parse failed", "file", path, "error", parseErr)
			st.Errors++
			return nil
		}
		for _, q := range questions {
			q.ID = qhash.Hash(q)
			q.SourceID = source.ID
			st.Parsed++
			if found[q.ID] {
				s.log.Warn("duplicate question in source", "id", q.ID, "file", path)
				continue
			}
			found[q.ID] = true

			existing, err := s.db.FindQuestion(q.ID)
			if err != nil {
				return err
			}
			if existing != nil {
				continue
			}
			if err := s.db.InsertQuestion(q, now); err != nil {
				return err
			}
			st.Inserted++
			s.log.Info("question added", "id", q.ID[:12], "topic", q.Topic)
		}
		return nil
	})
	if walkErr != nil {
		return st, fmt.Errorf("walk %s: %w", scanPath, walkErr)
	}

	known, err := s.db.QuestionsBySource(source.ID)
	if err != nil {
		return st, err
	}
	for _, q := range known {
		if found[q.ID] {
			continue
		}
		if err := s.db.DeleteQuestion(q.ID); err != nil {
			s.log.Warn("failed to remove vanished question", "id", q.ID, "error", err)
			st.Errors++
			continue
		}
		st.Removed++
		s.log.Info("question removed", "id", q.ID[:12])
	}

	if err := s.db.UpdateSourceScanned(source.ID, now); err != nil {
		s.log.Warn("failed to stamp source scan time", "source", source.ID, "error", err)
	}
	return st, nil
}

// topicFromFilename is the fallback topic for files without T: lines:
// the file name without its extension.
func topicFromFilename(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func isGitURL(s string) bool {
	if strings.HasSuffix(s, ".git") {
		return true
	}
	u, err := url.Parse(s)
	if err == nil && (u.Scheme == "http" || u.Scheme == "https" || u.Scheme == "git" || u.Scheme == "ssh") {
		return true
	}
	return strings.Contains(s, "@") && strings.Contains(s, ":")
}

// gitURLToLocalPath maps a git URL onto a stable checkout directory
// under baseDir, handling both https and scp-like forms.
func gitURLToLocalPath(baseDir, repoURL string) (string, error) {
	parsed, err := url.Parse(repoURL)
	if err == nil && (parsed.Scheme == "https" || parsed.Scheme == "http") {
		return filepath.Join(baseDir, parsed.Host, strings.TrimSuffix(parsed.Path, ".git")), nil
	}
	if strings.Contains(repoURL, "@") {
		parts := strings.SplitN(repoURL, ":", 2)
		if len(parts) == 2 {
			hostAndUser := strings.SplitN(parts[0], "@", 2)
			if len(hostAndUser) == 2 {
				return filepath.Join(baseDir, hostAndUser[1], strings.TrimSuffix(parts[1], ".git")), nil
			}
		}
	}
	return "", fmt.Errorf("could not parse git URL: %s", repoURL)
}
