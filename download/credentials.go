package download

import (
	"context"
	"errors"
	"strings"

	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/credentials"
)

var dockerHubHosts = []string{
	"https://index.docker.io/v1/",
	"index.docker.io",
	"registry-1.docker.io",
	"docker.io",
}

// DockerCredentials returns the credential store configured for the docker
// CLI, including its credential helpers.
func DockerCredentials() (credentials.Store, error) {
	store, err := credentials.NewStoreFromDocker(credentials.StoreOptions{})
	if err != nil {
		return nil, err
	}
	return &hubAwareStore{store: store}, nil
}

// StaticCredentials returns a read-only store holding one username and
// password for registry.
func StaticCredentials(registry, username, password string) credentials.Store {
	return &staticStore{
		host: registryHost(registry),
		cred: auth.Credential{Username: username, Password: password},
	}
}

type staticStore struct {
	host string
	cred auth.Credential
}

func (s *staticStore) Get(_ context.Context, server string) (auth.Credential, error) {
	host := registryHost(server)
	if host == s.host || (isHubHost(host) && isHubHost(s.host)) {
		return s.cred, nil
	}
	return auth.EmptyCredential, nil
}

func (s *staticStore) Put(context.Context, string, auth.Credential) error {
	return errors.New("download: static credentials are read-only")
}

func (s *staticStore) Delete(context.Context, string) error {
	return errors.New("download: static credentials are read-only")
}

// hubAwareStore retries lookups for Docker Hub under each of its aliases,
// since docker login stores them under a legacy URL.
type hubAwareStore struct {
	store credentials.Store
}

func (s *hubAwareStore) Get(ctx context.Context, server string) (auth.Credential, error) {
	cred, err := s.store.Get(ctx, server)
	if err == nil && !emptyCredential(cred) {
		return cred, nil
	}
	if isHubHost(registryHost(server)) {
		for _, alt := range dockerHubHosts {
			if alt == server {
				continue
			}
			if c, altErr := s.store.Get(ctx, alt); altErr == nil && !emptyCredential(c) {
				return c, nil
			}
		}
	}
	return cred, err
}

func (s *hubAwareStore) Put(ctx context.Context, server string, cred auth.Credential) error {
	return s.store.Put(ctx, server, cred)
}

func (s *hubAwareStore) Delete(ctx context.Context, server string) error {
	return s.store.Delete(ctx, server)
}

func isHubHost(hostport string) bool {
	host := hostport
	if !strings.HasPrefix(host, "[") {
		if i := strings.LastIndex(host, ":"); i != -1 {
			host = host[:i]
		}
	}
	switch host {
	case "docker.io", "registry-1.docker.io", "index.docker.io":
		return true
	}
	return false
}

// registryHost strips scheme and path, keeping the port.
func registryHost(addr string) string {
	addr = strings.TrimPrefix(addr, "http://")
	addr = strings.TrimPrefix(addr, "https://")
	addr, _, _ = strings.Cut(addr, "/")
	return addr
}

func emptyCredential(c auth.Credential) bool {
	return c.Username == "" && c.Password == "" && c.AccessToken == "" && c.RefreshToken == ""
}
