package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
)

const (
	// DefaultRegistryRoot is where an Omnibus GitLab installation keeps the
	// container registry's content store.
	DefaultRegistryRoot = "/var/opt/gitlab/gitlab-rails/shared/registry"

	// DefaultUsername is the GitLab account used when none is given.
	DefaultUsername = "root"

	registryRootEnv = "GITLAB_REGISTRY_CLEANUP_ROOT"
)

// Configuration problems are fatal: the run aborts before any cleanup state
// is produced.
var (
	ErrMissingServerName = errors.New("missing server name")
	ErrInvalidServerName = errors.New("invalid server name")
	ErrCredentialsRead   = errors.New("could not read credentials")
)

// DefaultRoot returns the registry content store path, honoring the
// GITLAB_REGISTRY_CLEANUP_ROOT environment variable.
func DefaultRoot() string {
	if root := os.Getenv(registryRootEnv); root != "" {
		return root
	}
	return DefaultRegistryRoot
}

// ValidateServers checks that both server names were given and reports which
// one is missing.
func ValidateServers(gitlabServer, registryServer string) error {
	switch {
	case gitlabServer == "" && registryServer == "":
		return fmt.Errorf("%w: neither a GitLab server nor a registry server is given", ErrMissingServerName)
	case gitlabServer == "":
		return fmt.Errorf("%w: no GitLab server is given", ErrMissingServerName)
	case registryServer == "":
		return fmt.Errorf("%w: no registry server is given", ErrMissingServerName)
	}
	return nil
}

// NormalizeServerName strips an optional http(s) scheme and trailing slash
// from a server name given on the command line.
func NormalizeServerName(server string) (string, error) {
	normalized := strings.TrimPrefix(server, "https://")
	normalized = strings.TrimPrefix(normalized, "http://")
	normalized = strings.TrimSuffix(normalized, "/")
	if normalized == "" {
		return "", fmt.Errorf("%w: %q is not a valid server name", ErrInvalidServerName, server)
	}
	return normalized, nil
}

// ReadCredentialsFile reads a username and a password or access token from
// the first two lines of the file at path.
func ReadCredentialsFile(path string) (username, password string, err error) {
	file, err := os.Open(path)
	if err != nil {
		return "", "", fmt.Errorf("%w: could not read credentials file %s: %v", ErrCredentialsRead, path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var lines []string
	for len(lines) < 2 && scanner.Scan() {
		lines = append(lines, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return "", "", fmt.Errorf("%w: could not read credentials file %s: %v", ErrCredentialsRead, path, err)
	}
	if len(lines) < 2 || lines[0] == "" || lines[1] == "" {
		return "", "", fmt.Errorf("%w: credentials file %s must contain a username and a password on two separate lines", ErrCredentialsRead, path)
	}
	return lines[0], lines[1], nil
}
