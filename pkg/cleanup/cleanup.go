package cleanup

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/sciapp/gitlab-registry-cleanup/pkg/gitlab"
	"github.com/sciapp/gitlab-registry-cleanup/pkg/metrics"
)

// Inspector provides the per-repository view of untagged digests, usually a
// registry.LocalRegistry.
type Inspector interface {
	RepositoryPaths() ([]string, error)
	UntaggedDigests(repository string) []string
}

// Deleter requests deletion of a single manifest revision.
type Deleter interface {
	DeleteImage(repository, digest string) error
}

// NotifyFunc is called once per deletion attempt, after its outcome is
// known. It must not mutate the inspector's data.
type NotifyFunc func(repository, digest string, successful bool)

// Run soft-deletes every untagged digest known to the inspector.
//
// Repositories are processed in sorted path order. The two expected failure
// kinds of the deleter (gitlab.ErrAuthToken, gitlab.ErrImageDelete) mark the
// attempt unsuccessful and the run moves on without retrying; any other
// error aborts the run. In dry-run mode the deleter is never invoked and
// every attempt is reported as successful.
func Run(inspector Inspector, deleter Deleter, dryRun bool, notify NotifyFunc) (metrics.RunStats, error) {
	var stats metrics.RunStats

	repositories, err := inspector.RepositoryPaths()
	if err != nil {
		return stats, fmt.Errorf("failed to list repositories: %w", err)
	}
	repositories = append([]string(nil), repositories...)
	sort.Strings(repositories)

	log := logrus.WithField("run_id", uuid.NewString())
	timer := metrics.NewTimer("registry cleanup")
	defer timer.Stop()

	for _, repository := range repositories {
		for _, digest := range inspector.UntaggedDigests(repository) {
			successful := true
			if !dryRun {
				if err := deleter.DeleteImage(repository, digest); err != nil {
					if !errors.Is(err, gitlab.ErrAuthToken) && !errors.Is(err, gitlab.ErrImageDelete) {
						return stats, err
					}
					log.WithFields(logrus.Fields{
						"repository": repository,
						"digest":     digest,
					}).Warnf("Delete attempt failed: %v", err)
					successful = false
				}
			}
			stats.Record(successful, dryRun)
			if notify != nil {
				notify(repository, digest, successful)
			}
		}
	}

	return stats, nil
}
