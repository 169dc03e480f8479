package gitrepo

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/loomctx/loomctx/internal/loomerr"
	"github.com/loomctx/loomctx/pkg/identity"
	"github.com/loomctx/loomctx/pkg/knowledge"
)

var _ knowledge.Repository = (*Store)(nil)

func readFile(fs billy.Filesystem, p string) ([]byte, error) {
	f, err := fs.Open(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func writeFile(fs billy.Filesystem, p string, data []byte) error {
	if err := fs.MkdirAll(path.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := fs.Create(p)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(data)
	return err
}

func signature(tc identity.TenantContext) *object.Signature {
	name := string(tc.UserID)
	if name == "" {
		name = "system"
	}
	return &object.Signature{
		Name:  name,
		Email: name + "@" + string(tc.TenantID),
		When:  time.Now(),
	}
}

// Get implements [knowledge.Repository].
func (s *Store) Get(ctx context.Context, tc identity.TenantContext, layer knowledge.Layer, p string) (*knowledge.Entry, error) {
	tr, err := s.tenant(tc)
	if err != nil {
		return nil, loomerr.Internal("gitrepo_tenant", "failed to open tenant repository", err)
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()

	content, err := readFile(tr.fs, contentPath(layer, p))
	if err != nil {
		return nil, loomerr.Internal("gitrepo_read", "failed to read entry content", err)
	}
	if content == nil {
		return nil, nil
	}
	metaBytes, err := readFile(tr.fs, metaPath(layer, p))
	if err != nil {
		return nil, loomerr.Internal("gitrepo_read_meta", "failed to read entry metadata", err)
	}
	meta, err := unmarshalMeta(metaBytes)
	if err != nil {
		return nil, loomerr.Corruption("gitrepo_meta_decode", "entry metadata is not valid JSON", err)
	}

	hash, author, when, err := lastCommitFor(tr.repo, contentPath(layer, p))
	if err != nil {
		return nil, loomerr.Internal("gitrepo_log", "failed to resolve last commit for entry", err)
	}

	entry := &knowledge.Entry{
		Path:       p,
		Content:    string(content),
		Layer:      layer,
		Kind:       meta.Kind,
		Status:     meta.Status,
		Metadata:   meta.Metadata,
		CommitHash: hash,
		Author:     author,
		UpdatedAt:  when,
		Summaries:  meta.Summaries,
	}
	return entry, nil
}

// Store implements [knowledge.Repository]. Writing content and metadata and
// creating the commit all happen under the tenant's worktree lock, so a
// reader never observes a commit with only the content file or only the
// metadata file staged.
func (s *Store) Store(ctx context.Context, tc identity.TenantContext, entry knowledge.Entry, message string) (string, error) {
	if !entry.Layer.IsValid() {
		return "", loomerr.Validation("gitrepo_invalid_layer", "entry layer is not a recognized knowledge layer")
	}
	tr, err := s.tenant(tc)
	if err != nil {
		return "", loomerr.Internal("gitrepo_tenant", "failed to open tenant repository", err)
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()

	cPath := contentPath(entry.Layer, entry.Path)
	mPath := metaPath(entry.Layer, entry.Path)

	if err := writeFile(tr.fs, cPath, []byte(entry.Content)); err != nil {
		return "", loomerr.Internal("gitrepo_write", "failed to write entry content", err)
	}
	metaBytes, err := marshalMeta(entryMeta{Kind: entry.Kind, Status: entry.Status, Metadata: entry.Metadata, Summaries: entry.Summaries})
	if err != nil {
		return "", loomerr.Internal("gitrepo_meta_encode", "failed to encode entry metadata", err)
	}
	if err := writeFile(tr.fs, mPath, metaBytes); err != nil {
		return "", loomerr.Internal("gitrepo_write_meta", "failed to write entry metadata", err)
	}

	if _, err := tr.worktree.Add(cPath); err != nil {
		return "", loomerr.Internal("gitrepo_add", "failed to stage entry content", err)
	}
	if _, err := tr.worktree.Add(mPath); err != nil {
		return "", loomerr.Internal("gitrepo_add_meta", "failed to stage entry metadata", err)
	}

	hash, err := tr.worktree.Commit(message, &git.CommitOptions{Author: signature(tc)})
	if err != nil {
		return "", loomerr.Internal("gitrepo_commit", "failed to commit entry", err)
	}
	return hash.String(), nil
}

// Delete implements [knowledge.Repository].
func (s *Store) Delete(ctx context.Context, tc identity.TenantContext, layer knowledge.Layer, p string, message string) (string, error) {
	tr, err := s.tenant(tc)
	if err != nil {
		return "", loomerr.Internal("gitrepo_tenant", "failed to open tenant repository", err)
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()

	cPath := contentPath(layer, p)
	mPath := metaPath(layer, p)

	if content, err := readFile(tr.fs, cPath); err != nil {
		return "", loomerr.Internal("gitrepo_read", "failed to check entry before delete", err)
	} else if content == nil {
		return "", loomerr.Validation("gitrepo_entry_not_found", fmt.Sprintf("no entry at %s/%s", layer, p))
	}

	if _, err := tr.worktree.Remove(cPath); err != nil {
		return "", loomerr.Internal("gitrepo_remove", "failed to remove entry content", err)
	}
	// The metadata sidecar may be absent on entries written before summaries
	// existed; removal failures for it are not fatal to the delete commit.
	_, _ = tr.worktree.Remove(mPath)

	hash, err := tr.worktree.Commit(message, &git.CommitOptions{Author: signature(tc)})
	if err != nil {
		return "", loomerr.Internal("gitrepo_commit", "failed to commit delete", err)
	}
	return hash.String(), nil
}

// List implements [knowledge.Repository].
func (s *Store) List(ctx context.Context, tc identity.TenantContext, layer knowledge.Layer, prefix string) ([]knowledge.Entry, error) {
	tr, err := s.tenant(tc)
	if err != nil {
		return nil, loomerr.Internal("gitrepo_tenant", "failed to open tenant repository", err)
	}
	tr.mu.Lock()
	paths, err := walkContentPaths(tr.fs, layer.String())
	tr.mu.Unlock()
	if err != nil {
		return nil, loomerr.Internal("gitrepo_walk", "failed to list entries", err)
	}

	var out []knowledge.Entry
	for _, p := range paths {
		if prefix != "" && !strings.HasPrefix(p, prefix) {
			continue
		}
		entry, err := s.Get(ctx, tc, layer, p)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			out = append(out, *entry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// walkContentPaths recursively lists every within-layer path (i.e. relative
// to the layer directory) holding entry content, skipping metadata
// sidecars.
func walkContentPaths(fs billy.Filesystem, dir string) ([]string, error) {
	infos, err := fs.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, info := range infos {
		full := path.Join(dir, info.Name())
		if info.IsDir() {
			sub, err := walkContentPaths(fs, full)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)
			continue
		}
		if strings.HasSuffix(full, metaSuffix) {
			continue
		}
		_, within, ok := splitLayerPath(full)
		if !ok {
			continue
		}
		out = append(out, within)
	}
	return out, nil
}
