package cleanup

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/sciapp/gitlab-registry-cleanup/pkg/gitlab"
	"github.com/sciapp/gitlab-registry-cleanup/pkg/registry"
)

type fakeInspector struct {
	repositories []string
	err          error
	untagged     map[string][]string
}

func (f *fakeInspector) RepositoryPaths() ([]string, error) {
	return f.repositories, f.err
}

func (f *fakeInspector) UntaggedDigests(repository string) []string {
	return f.untagged[repository]
}

type fakeDeleter struct {
	calls []string
	errs  map[string]error
}

func (f *fakeDeleter) DeleteImage(repository, digest string) error {
	key := repository + "@" + digest
	f.calls = append(f.calls, key)
	return f.errs[key]
}

type attempt struct {
	repository string
	digest     string
	successful bool
}

func collect(attempts *[]attempt) NotifyFunc {
	return func(repository, digest string, successful bool) {
		*attempts = append(*attempts, attempt{repository, digest, successful})
	}
}

func TestRun_DryRunNeverDeletes(t *testing.T) {
	inspector := &fakeInspector{
		repositories: []string{"a/b"},
		untagged:     map[string][]string{"a/b": {"sha256:2"}},
	}
	deleter := &fakeDeleter{}

	var attempts []attempt
	stats, err := Run(inspector, deleter, true, collect(&attempts))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(deleter.calls) != 0 {
		t.Errorf("Expected no delete calls in dry-run mode, got %v", deleter.calls)
	}
	want := []attempt{{"a/b", "sha256:2", true}}
	if !reflect.DeepEqual(attempts, want) {
		t.Errorf("Expected attempts %v, got %v", want, attempts)
	}
	if stats.Simulated != 1 || stats.Deleted != 0 || stats.Failed != 0 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestRun_ClassifiedFailureContinues(t *testing.T) {
	inspector := &fakeInspector{
		repositories: []string{"a/b"},
		untagged:     map[string][]string{"a/b": {"sha256:1", "sha256:2", "sha256:3"}},
	}
	deleter := &fakeDeleter{errs: map[string]error{
		"a/b@sha256:1": fmt.Errorf("%w: delete disabled", gitlab.ErrImageDelete),
		"a/b@sha256:2": fmt.Errorf("%w: bad token", gitlab.ErrAuthToken),
	}}

	var attempts []attempt
	stats, err := Run(inspector, deleter, false, collect(&attempts))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := []attempt{
		{"a/b", "sha256:1", false},
		{"a/b", "sha256:2", false},
		{"a/b", "sha256:3", true},
	}
	if !reflect.DeepEqual(attempts, want) {
		t.Errorf("Expected attempts %v, got %v", want, attempts)
	}
	if stats.Failed != 2 || stats.Deleted != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestRun_UnexpectedErrorAborts(t *testing.T) {
	boom := errors.New("connection refused")
	inspector := &fakeInspector{
		repositories: []string{"a/b"},
		untagged:     map[string][]string{"a/b": {"sha256:1", "sha256:2"}},
	}
	deleter := &fakeDeleter{errs: map[string]error{"a/b@sha256:1": boom}}

	_, err := Run(inspector, deleter, false, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("Expected the unexpected error to propagate, got %v", err)
	}
	if len(deleter.calls) != 1 {
		t.Errorf("Expected the run to abort after the first failure, got calls %v", deleter.calls)
	}
}

func TestRun_RepositoriesProcessedInSortedOrder(t *testing.T) {
	inspector := &fakeInspector{
		repositories: []string{"z/last", "a/first", "m/middle"},
		untagged: map[string][]string{
			"z/last":   {"sha256:3"},
			"a/first":  {"sha256:1"},
			"m/middle": {"sha256:2"},
		},
	}
	deleter := &fakeDeleter{}

	if _, err := Run(inspector, deleter, false, nil); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := []string{"a/first@sha256:1", "m/middle@sha256:2", "z/last@sha256:3"}
	if !reflect.DeepEqual(deleter.calls, want) {
		t.Errorf("Expected delete order %v, got %v", want, deleter.calls)
	}
}

func TestRun_InspectorErrorIsFatal(t *testing.T) {
	walkErr := errors.New("permission denied")
	inspector := &fakeInspector{err: walkErr}

	if _, err := Run(inspector, &fakeDeleter{}, false, nil); !errors.Is(err, walkErr) {
		t.Fatalf("Expected the inspector error to propagate, got %v", err)
	}
}

func TestRun_WithLocalRegistry(t *testing.T) {
	root := t.TempDir()
	manifests := filepath.Join(root, "docker/registry/v2/repositories/a/b/_manifests")

	writeLink := func(dir, digest string) {
		t.Helper()
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("Failed to create %s: %v", dir, err)
		}
		if err := os.WriteFile(filepath.Join(dir, "link"), []byte(digest+"\n"), 0644); err != nil {
			t.Fatalf("Failed to write link in %s: %v", dir, err)
		}
	}
	writeLink(filepath.Join(manifests, "revisions/sha256/1"), "sha256:1")
	writeLink(filepath.Join(manifests, "revisions/sha256/2"), "sha256:2")
	writeLink(filepath.Join(manifests, "tags/latest/current"), "sha256:1")

	deleter := &fakeDeleter{}
	var attempts []attempt
	stats, err := Run(registry.NewLocalRegistry(root), deleter, true, collect(&attempts))
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	want := []attempt{{"a/b", "sha256:2", true}}
	if !reflect.DeepEqual(attempts, want) {
		t.Errorf("Expected attempts %v, got %v", want, attempts)
	}
	if len(deleter.calls) != 0 {
		t.Errorf("Expected no delete calls in dry-run mode, got %v", deleter.calls)
	}
	if stats.Simulated != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestRun_NilNotify(t *testing.T) {
	inspector := &fakeInspector{
		repositories: []string{"a/b"},
		untagged:     map[string][]string{"a/b": {"sha256:1"}},
	}

	stats, err := Run(inspector, &fakeDeleter{}, true, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if stats.Total() != 1 {
		t.Errorf("Expected one recorded attempt, got %+v", stats)
	}
}
