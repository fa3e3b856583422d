package registry

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Relative layout of the docker distribution content store below the
// registry root. Only the manifest link structure is consumed; blobs are
// left to the registry's own garbage collector.
const (
	relativeRepositoriesRoot = "docker/registry/v2/repositories"
	manifestsDirectory       = "_manifests"
	revisionsDirectory       = "_manifests/revisions/sha256"
	tagsDirectory            = "_manifests/tags"
	tagCurrentDirectory      = "current"
	linkFilename             = "link"
)

// LocalRegistry is a read-only view of a registry's on-disk content store.
// Derived data is computed on first access and cached for the lifetime of
// the instance, so one instance keeps presenting the same snapshot even if
// the registry changes mid-run.
type LocalRegistry struct {
	repositoriesRoot string

	pathsDone bool
	paths     []string
	pathsErr  error

	stored map[string][]string
	tags   map[string][]string
	tagged map[string][]string
}

// NewLocalRegistry creates a view over the content store below registryRoot.
func NewLocalRegistry(registryRoot string) *LocalRegistry {
	return &LocalRegistry{
		repositoriesRoot: filepath.Join(registryRoot, relativeRepositoriesRoot),
		stored:           make(map[string][]string),
		tags:             make(map[string][]string),
		tagged:           make(map[string][]string),
	}
}

// RepositoryPaths walks the repositories tree and returns the relative path
// of every directory that holds a manifests directory. Walk errors are
// returned instead of swallowed: an unreadable or misconfigured root must
// not be mistaken for an empty registry.
func (r *LocalRegistry) RepositoryPaths() ([]string, error) {
	if r.pathsDone {
		return r.paths, r.pathsErr
	}
	r.pathsDone = true

	var paths []string
	err := filepath.WalkDir(r.repositoriesRoot, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !entry.IsDir() {
			return nil
		}
		// Repositories never nest below the manifests structure itself.
		if entry.Name() == manifestsDirectory {
			return filepath.SkipDir
		}
		if info, err := os.Stat(filepath.Join(path, manifestsDirectory)); err != nil || !info.IsDir() {
			return nil
		}
		relPath, err := filepath.Rel(r.repositoriesRoot, path)
		if err != nil {
			return err
		}
		paths = append(paths, relPath)
		return nil
	})
	if err != nil {
		r.pathsErr = fmt.Errorf("failed to walk repositories root %s: %w", r.repositoriesRoot, err)
		return nil, r.pathsErr
	}

	r.paths = paths
	return r.paths, nil
}

// StoredDigests returns every digest that has a manifest revision on disk
// for the given repository. Unreadable entries are skipped: the registry is
// a live system and a partially written revision is not cleanup material.
func (r *LocalRegistry) StoredDigests(repository string) []string {
	if digests, ok := r.stored[repository]; ok {
		return digests
	}

	var digests []string
	revisionsPath := filepath.Join(r.repositoriesRoot, repository, revisionsDirectory)
	entries, err := os.ReadDir(revisionsPath)
	if err != nil {
		entries = nil
	}
	for _, entry := range entries {
		digest, err := readLink(filepath.Join(revisionsPath, entry.Name(), linkFilename))
		if err != nil {
			continue
		}
		digests = append(digests, digest)
	}

	r.stored[repository] = digests
	return digests
}

// Tags returns the tag names of the given repository. A repository without
// a tags directory simply has no tags.
func (r *LocalRegistry) Tags(repository string) []string {
	if tags, ok := r.tags[repository]; ok {
		return tags
	}

	var tags []string
	entries, err := os.ReadDir(filepath.Join(r.repositoriesRoot, repository, tagsDirectory))
	if err == nil {
		for _, entry := range entries {
			tags = append(tags, entry.Name())
		}
	}

	r.tags[repository] = tags
	return tags
}

// TaggedDigests returns the digests currently reachable through the tags of
// the given repository. Tags whose current link cannot be read are skipped.
func (r *LocalRegistry) TaggedDigests(repository string) []string {
	if digests, ok := r.tagged[repository]; ok {
		return digests
	}

	var digests []string
	for _, tag := range r.Tags(repository) {
		linkPath := filepath.Join(r.repositoriesRoot, repository, tagsDirectory, tag, tagCurrentDirectory, linkFilename)
		digest, err := readLink(linkPath)
		if err != nil {
			continue
		}
		digests = append(digests, digest)
	}

	r.tagged[repository] = digests
	return digests
}

// UntaggedDigests returns the stored digests of the given repository that no
// tag resolves to anymore, sorted for reproducible runs.
func (r *LocalRegistry) UntaggedDigests(repository string) []string {
	tagged := make(map[string]struct{})
	for _, digest := range r.TaggedDigests(repository) {
		tagged[digest] = struct{}{}
	}

	seen := make(map[string]struct{})
	var untagged []string
	for _, digest := range r.StoredDigests(repository) {
		if _, ok := tagged[digest]; ok {
			continue
		}
		if _, ok := seen[digest]; ok {
			continue
		}
		seen[digest] = struct{}{}
		untagged = append(untagged, digest)
	}
	sort.Strings(untagged)
	return untagged
}

// readLink reads a registry link file and returns the digest recorded on its
// first line.
func readLink(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	line, _, _ := strings.Cut(string(data), "\n")
	return strings.TrimSpace(line), nil
}
