package gitlab

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/remote/transport"
	"github.com/sirupsen/logrus"
)

// The registry refuses a deletion in two distinguishable ways: the token
// handshake with GitLab is rejected, or the delete request itself fails.
// Callers tell them apart from unexpected transport failures via errors.Is.
var (
	ErrAuthToken   = errors.New("registry authentication failed")
	ErrImageDelete = errors.New("image delete request failed")
)

// Client soft-deletes image manifests through the registry's V2 API,
// authenticating as a GitLab administrator. The registry's token challenge
// points at the GitLab JWT endpoint and is answered by the transport with
// the admin credentials.
type Client struct {
	gitlabServer   string
	registryServer string
	auth           authn.Authenticator
	nameOpts       []name.Option
}

// Option configures a Client.
type Option func(*Client)

// WithPlainHTTP makes the client talk to the registry without TLS.
func WithPlainHTTP() Option {
	return func(c *Client) {
		c.nameOpts = append(c.nameOpts, name.Insecure)
	}
}

// NewClient creates a delete client for the given registry, authenticating
// with the given GitLab admin account.
func NewClient(gitlabServer, registryServer, username, password string, opts ...Option) *Client {
	client := &Client{
		gitlabServer:   gitlabServer,
		registryServer: registryServer,
		auth:           &authn.Basic{Username: username, Password: password},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// DeleteImage requests deletion of the manifest revision stored for digest
// in repository. The registry only drops the manifest link; reclaiming blob
// storage is left to its garbage collector.
func (c *Client) DeleteImage(repository, digest string) error {
	ref, err := name.NewDigest(fmt.Sprintf("%s/%s@%s", c.registryServer, repository, digest), c.nameOpts...)
	if err != nil {
		return fmt.Errorf("%w: invalid reference %s@%s: %v", ErrImageDelete, repository, digest, err)
	}

	if err := remote.Delete(ref, remote.WithAuth(c.auth)); err != nil {
		return c.classify(repository, digest, err)
	}

	logrus.WithFields(logrus.Fields{
		"repository": repository,
		"digest":     digest,
	}).Debug("Manifest deleted")
	return nil
}

// classify maps HTTP-level failures onto the two expected failure kinds.
// Anything else (DNS failure, refused connection, ...) is outside the
// expected taxonomy and returned untouched so the caller aborts.
func (c *Client) classify(repository, digest string, err error) error {
	var terr *transport.Error
	if !errors.As(err, &terr) {
		return err
	}
	switch terr.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w for %s@%s via %s: %v", ErrAuthToken, repository, digest, c.gitlabServer, err)
	default:
		return fmt.Errorf("%w for %s@%s: %v", ErrImageDelete, repository, digest, err)
	}
}
