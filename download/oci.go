package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2/content"
	"oras.land/oras-go/v2/errdef"
	"oras.land/oras-go/v2/registry"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/credentials"
	"oras.land/oras-go/v2/registry/remote/retry"
)

// DefaultUserAgent identifies registry requests.
const DefaultUserAgent = "modlist/1.0"

// OCI downloads archives stored as blobs in an OCI registry.
type OCI struct {
	plainHTTP bool
	userAgent string
	creds     credentials.Store
	client    *auth.Client
	logger    *slog.Logger
}

// OCIOption configures the OCI downloader.
type OCIOption func(*OCI)

// WithPlainHTTP talks to registries without TLS.
func WithPlainHTTP(enabled bool) OCIOption {
	return func(o *OCI) {
		o.plainHTTP = enabled
	}
}

// WithCredentials sets the store credentials are looked up in.
func WithCredentials(store credentials.Store) OCIOption {
	return func(o *OCI) {
		o.creds = store
	}
}

// WithDockerCredentials uses the docker CLI configuration when it can be
// loaded, and anonymous access otherwise.
func WithDockerCredentials() OCIOption {
	return func(o *OCI) {
		if store, err := DockerCredentials(); err == nil {
			o.creds = store
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) OCIOption {
	return func(o *OCI) {
		o.userAgent = ua
	}
}

// WithOCILogger sets the logger for registry events.
func WithOCILogger(logger *slog.Logger) OCIOption {
	return func(o *OCI) {
		o.logger = logger
	}
}

// NewOCI creates an OCI downloader. Tokens are cached across archives.
func NewOCI(opts ...OCIOption) *OCI {
	o := &OCI{userAgent: DefaultUserAgent}
	for _, opt := range opts {
		opt(o)
	}
	o.client = &auth.Client{
		Client: retry.DefaultClient,
		Cache:  auth.NewCache(),
		Credential: func(ctx context.Context, hostport string) (auth.Credential, error) {
			if o.creds == nil {
				return auth.EmptyCredential, nil
			}
			return o.creds.Get(ctx, hostport)
		},
		Header: http.Header{"User-Agent": []string{o.userAgent}},
	}
	return o
}

func (o *OCI) log() *slog.Logger {
	if o.logger != nil {
		return o.logger
	}
	return slog.New(slog.DiscardHandler)
}

func (o *OCI) Kind() Kind                      { return KindOCI }
func (o *OCI) Prepare(_ context.Context) error { return nil }

// Download fetches the blob and verifies it against its digest while copying.
func (o *OCI) Download(ctx context.Context, archive *Archive, dest string) error {
	state, repo, err := o.repository(archive)
	if err != nil {
		return err
	}
	desc, err := repo.Blobs().Resolve(ctx, state.Digest.String())
	if err != nil {
		return fmt.Errorf("resolve %s: %w", state.Digest, err)
	}
	if state.MediaType != "" {
		desc.MediaType = state.MediaType
	}
	o.log().Debug("fetching blob", "archive", archive.Name, "digest", desc.Digest, "size", desc.Size)

	rc, err := repo.Blobs().Fetch(ctx, desc)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", desc.Digest, err)
	}
	defer rc.Close()

	return writeAtomic(dest, func(out *os.File) error {
		vr := content.NewVerifyReader(rc, desc)
		if _, err := io.Copy(out, vr); err != nil {
			return err
		}
		return vr.Verify()
	})
}

// Verify reports whether the registry still has the blob.
func (o *OCI) Verify(ctx context.Context, archive *Archive) (bool, error) {
	state, repo, err := o.repository(archive)
	if err != nil {
		return false, err
	}
	ok, err := repo.Blobs().Exists(ctx, ocispec.Descriptor{Digest: state.Digest, Size: archive.Size})
	if errors.Is(err, errdef.ErrNotFound) {
		return false, nil
	}
	return ok, err
}

func (o *OCI) repository(archive *Archive) (*OCIState, *remote.Repository, error) {
	state, ok := archive.State.(*OCIState)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s is not an oci archive", ErrNoDownloader, archive.Name)
	}
	ref, err := registry.ParseReference(state.Reference)
	if err != nil {
		return nil, nil, fmt.Errorf("parse reference %q: %w", state.Reference, err)
	}
	repo, err := remote.NewRepository(ref.Registry + "/" + ref.Repository)
	if err != nil {
		return nil, nil, fmt.Errorf("parse reference %q: %w", state.Reference, err)
	}
	repo.PlainHTTP = o.plainHTTP
	repo.Client = o.client
	return state, repo, nil
}
