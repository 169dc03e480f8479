// Package gitrepo backs [knowledge.Repository] with a real in-memory
// go-git repository: one commit history per tenant, with layers mapped to
// top-level directories. HEAD, commit log, and diff-since-commit are
// genuine git operations rather than a hand-rolled log.
package gitrepo

import (
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/storage/memory"

	"github.com/loomctx/loomctx/pkg/identity"
)

// tenantRepo pairs an in-memory git repository with its worktree. Worktree
// operations (Add/Remove/Commit) mutate shared index state and are not safe
// for concurrent use, so every access is serialized through mu.
type tenantRepo struct {
	mu       sync.Mutex
	repo     *git.Repository
	worktree *git.Worktree
	fs       billy.Filesystem
}

func newTenantRepo() (*tenantRepo, error) {
	fs := memfs.New()
	repo, err := git.Init(memory.NewStorage(), fs)
	if err != nil {
		return nil, err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, err
	}
	return &tenantRepo{repo: repo, worktree: wt, fs: fs}, nil
}

// Store is a tenant-isolated collection of in-memory git repositories
// implementing [github.com/loomctx/loomctx/pkg/knowledge.Repository].
// Tenant isolation is by construction: each tenant gets its own repository,
// so there is no shared filesystem state to leak across tenants.
type Store struct {
	mu    sync.Mutex
	repos map[identity.TenantID]*tenantRepo
}

// New returns an empty Store. Each tenant's repository is created lazily on
// first use.
func New() *Store {
	return &Store{repos: make(map[identity.TenantID]*tenantRepo)}
}

func (s *Store) tenant(tc identity.TenantContext) (*tenantRepo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tr, ok := s.repos[tc.TenantID]; ok {
		return tr, nil
	}
	tr, err := newTenantRepo()
	if err != nil {
		return nil, err
	}
	s.repos[tc.TenantID] = tr
	return tr, nil
}
