// Package ledger keeps an append-only audit trail of application state in
// per-application git repositories. Every applied transition and reviewer
// change commits a JSON snapshot, so the full decision history of a record
// can be reconstructed independently of the database.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"civicgate/api/internal/store"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Snapshot is the state written to the ledger on each change.
type Snapshot struct {
	Kind       string `json:"kind"`
	ID         string `json:"id"`
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
	ReviewerID string `json:"reviewer_id,omitempty"`
	Title      string `json:"title"`
	Version    int64  `json:"version"`
	ChangedBy  string `json:"changed_by"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Append records a snapshot for the application, creating the repository on
// first use. It returns the commit info, whose short hash callers persist
// alongside the status history row.
func (s *Service) Append(kind, applicationID string, snapshot Snapshot, author, message string) (store.SnapshotInfo, error) {
	lock := s.recordLock(kind, applicationID)
	lock.Lock()
	defer lock.Unlock()

	path := s.repoPath(kind, applicationID)
	repo, err := s.openOrInit(path)
	if err != nil {
		return store.SnapshotInfo{}, err
	}

	hash, err := s.commit(repo, snapshot, author, message)
	if err != nil {
		return store.SnapshotInfo{}, err
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return store.SnapshotInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toSnapshotInfo(commitObj), nil
}

// History lists snapshots newest-first, up to limit (0 for all).
func (s *Service) History(kind, applicationID string, limit int) ([]store.SnapshotInfo, error) {
	lock := s.recordLock(kind, applicationID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(kind, applicationID))
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		return nil, fmt.Errorf("resolve main: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]store.SnapshotInfo, 0, limit)
	count := 0
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toSnapshotInfo(commitObj))
		count++
		if limit > 0 && count >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// GetSnapshot reads the snapshot stored at a given commit hash (full or
// abbreviated).
func (s *Service) GetSnapshot(kind, applicationID, hash string) (Snapshot, error) {
	lock := s.recordLock(kind, applicationID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(kind, applicationID))
	if err != nil {
		return Snapshot{}, fmt.Errorf("open repo: %w", err)
	}

	resolvedHash, err := resolveHash(repo, hash)
	if err != nil {
		return Snapshot{}, err
	}
	commitObj, err := repo.CommitObject(resolvedHash)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	return readSnapshotFromCommit(commitObj)
}

func (s *Service) repoPath(kind, applicationID string) string {
	return filepath.Join(s.baseDir, kind, applicationID)
}

func (s *Service) recordLock(kind, applicationID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	key := kind + "/" + applicationID
	lock, ok := s.locks[key]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[key] = lock
	return lock
}

func (s *Service) openOrInit(path string) (*git.Repository, error) {
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return nil, fmt.Errorf("set HEAD to main: %w", err)
	}
	return repo, nil
}

func (s *Service) commit(repo *git.Repository, snapshot Snapshot, author, message string) (plumbing.Hash, error) {
	worktree, err := repo.Worktree()
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("open worktree: %w", err)
	}

	payload, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("marshal snapshot: %w", err)
	}

	repoRoot := worktree.Filesystem.Root()
	if err := os.WriteFile(filepath.Join(repoRoot, "snapshot.json"), append(payload, '\n'), 0o644); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("write snapshot.json: %w", err)
	}

	if _, err := worktree.Add("snapshot.json"); err != nil {
		return plumbing.ZeroHash, fmt.Errorf("git add snapshot: %w", err)
	}

	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@local.civicgate.dev", sanitizeEmail(author)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("commit snapshot: %w", err)
	}
	return hash, nil
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}

	// Abbreviated hash, walk the log for a prefix match.
	ref, err := repo.Reference(plumbing.NewBranchReferenceName("main"), true)
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("resolve main: %w", err)
	}
	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	var found plumbing.Hash
	err = iter.ForEach(func(commitObj *object.Commit) error {
		if len(hash) > 0 && len(commitObj.Hash.String()) >= len(hash) && commitObj.Hash.String()[:len(hash)] == hash {
			found = commitObj.Hash
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return plumbing.ZeroHash, fmt.Errorf("iterate log: %w", err)
	}
	if found.IsZero() {
		return plumbing.ZeroHash, fmt.Errorf("commit %s not found", hash)
	}
	return found, nil
}

func readSnapshotFromCommit(commitObj *object.Commit) (Snapshot, error) {
	file, err := commitObj.File("snapshot.json")
	if err != nil {
		return Snapshot{}, fmt.Errorf("load snapshot.json from commit: %w", err)
	}
	reader, err := file.Reader()
	if err != nil {
		return Snapshot{}, fmt.Errorf("open snapshot reader: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read snapshot bytes: %w", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snapshot, nil
}

func toSnapshotInfo(commitObj *object.Commit) store.SnapshotInfo {
	return store.SnapshotInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   commitObj.Message,
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}
