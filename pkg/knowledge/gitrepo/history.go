package gitrepo

import (
	"context"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"

	"github.com/loomctx/loomctx/internal/loomerr"
	"github.com/loomctx/loomctx/pkg/identity"
	"github.com/loomctx/loomctx/pkg/knowledge"
)

// lastCommitFor returns the hash, author name, and author time of the most
// recent commit that touched path. It returns zero values when the
// repository has no HEAD yet (no commits); when no commit touched path,
// it returns HEAD's commit.
func lastCommitFor(repo *git.Repository, path string) (hash, author string, when time.Time, err error) {
	head, err := repo.Head()
	if err != nil {
		if err == plumbing.ErrReferenceNotFound {
			return "", "", time.Time{}, nil
		}
		return "", "", time.Time{}, err
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash(), FileName: &path})
	if err != nil {
		return "", "", time.Time{}, err
	}
	defer iter.Close()

	commit, err := iter.Next()
	if err != nil {
		// No commit touched this exact path (e.g. it was only ever part of
		// a batch the log filter didn't match); fall back to HEAD.
		headCommit, herr := repo.CommitObject(head.Hash())
		if herr != nil {
			return "", "", time.Time{}, herr
		}
		return headCommit.Hash.String(), headCommit.Author.Name, headCommit.Author.When, nil
	}
	return commit.Hash.String(), commit.Author.Name, commit.Author.When, nil
}

// GetHeadCommit implements [knowledge.Repository].
func (s *Store) GetHeadCommit(ctx context.Context, tc identity.TenantContext) (*string, error) {
	tr, err := s.tenant(tc)
	if err != nil {
		return nil, loomerr.Internal("gitrepo_tenant", "failed to open tenant repository", err)
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()

	head, err := tr.repo.Head()
	if err != nil {
		if err == plumbing.ErrReferenceNotFound {
			return nil, nil
		}
		return nil, loomerr.Internal("gitrepo_head", "failed to resolve HEAD", err)
	}
	hash := head.Hash().String()
	return &hash, nil
}

// GetAffectedItems implements [knowledge.Repository]. It walks the commit
// log from HEAD back to sinceCommit (exclusive), collecting the files each
// commit changed via the commit's tree diff against its parent, then
// returns them oldest-first.
func (s *Store) GetAffectedItems(ctx context.Context, tc identity.TenantContext, sinceCommit string) ([]knowledge.AffectedItem, error) {
	tr, err := s.tenant(tc)
	if err != nil {
		return nil, loomerr.Internal("gitrepo_tenant", "failed to open tenant repository", err)
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()

	head, err := tr.repo.Head()
	if err != nil {
		if err == plumbing.ErrReferenceNotFound {
			return nil, nil
		}
		return nil, loomerr.Internal("gitrepo_head", "failed to resolve HEAD", err)
	}

	iter, err := tr.repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, loomerr.Internal("gitrepo_log", "failed to walk commit log", err)
	}
	defer iter.Close()

	seen := make(map[string]bool)
	var ordered []knowledge.AffectedItem

	err = iter.ForEach(func(c *object.Commit) error {
		if c.Hash.String() == sinceCommit {
			return storer.ErrStop
		}
		stats, err := c.Stats()
		if err != nil {
			return err
		}
		for _, st := range stats {
			if strings.HasSuffix(st.Name, metaSuffix) {
				continue
			}
			layer, within, ok := splitLayerPath(st.Name)
			if !ok {
				continue
			}
			key := layer.String() + "/" + within
			if seen[key] {
				continue
			}
			seen[key] = true
			ordered = append(ordered, knowledge.AffectedItem{Layer: layer, Path: within})
		}
		return nil
	})
	if err != nil && err != storer.ErrStop {
		return nil, loomerr.Internal("gitrepo_log_walk", "failed while walking commit log", err)
	}

	// ForEach visits newest-first; reverse for commit order (oldest first).
	for i, j := 0, len(ordered)-1; i < j; i, j = i+1, j-1 {
		ordered[i], ordered[j] = ordered[j], ordered[i]
	}
	return ordered, nil
}

// Search implements [knowledge.Repository] with a linear scan for query as
// a case-insensitive substring of an entry's content or path. No corpus
// library here does free-text document search over a git tree; a
// relevance-ranked search belongs to the memory/vector layer, not this
// repository.
func (s *Store) Search(ctx context.Context, tc identity.TenantContext, query string, layers []knowledge.Layer, limit int) ([]knowledge.Entry, error) {
	if limit <= 0 {
		return nil, nil
	}
	if len(layers) == 0 {
		layers = knowledge.AllLayers()
	}
	needle := strings.ToLower(query)

	var out []knowledge.Entry
	for _, layer := range layers {
		entries, err := s.List(ctx, tc, layer, "")
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if strings.Contains(strings.ToLower(e.Content), needle) || strings.Contains(strings.ToLower(e.Path), needle) {
				out = append(out, e)
				if len(out) >= limit {
					return out, nil
				}
			}
		}
	}
	return out, nil
}
