// Package registry resolves container image references to content digests,
// the mechanism behind the redeploy-on-image-update deployment strategy.
// Uses github.com/google/go-containerregistry; the call shape
// (context-bound, wrapped into the apierr/BackendTransient taxonomy)
// follows the same backend-call idiom used throughout internal/infra.
package registry

import (
	"context"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"

	"prevant/internal/apierr"
)

// MirrorConfig maps a primary registry host to a mirror host that should be
// tried first, per the `[registries.mirrors]` configuration table.
type MirrorConfig map[string]string

// Resolver resolves image references to digests, honoring configured
// mirrors with primary-registry fallback.
type Resolver struct {
	mirrors MirrorConfig
	keychain authn.Keychain
}

// New builds a Resolver. keychain may be nil, in which case the default
// (anonymous + Docker-config-file) keychain is used.
func New(mirrors MirrorConfig, keychain authn.Keychain) *Resolver {
	if keychain == nil {
		keychain = authn.DefaultKeychain
	}
	return &Resolver{mirrors: mirrors, keychain: keychain}
}

// Digest resolves image (e.g. "registry.example.com/team/app:1.2.3") to its
// content digest. If a mirror is configured for the reference's registry
// host, the mirror is tried first; a mirror miss (tag not found, or
// unreachable) falls back to the primary registry. If both fail, the error
// is BackendTransient.
func (r *Resolver) Digest(ctx context.Context, image string) (string, error) {
	ref, err := name.ParseReference(image)
	if err != nil {
		return "", apierr.Wrap(apierr.KindInvalidPayload, "invalid image reference "+image, err)
	}

	if mirror, ok := r.mirrorRef(ref); ok {
		if digest, err := r.get(ctx, mirror); err == nil {
			return digest, nil
		}
	}

	digest, err := r.get(ctx, ref)
	if err != nil {
		return "", apierr.Wrap(apierr.KindBackendTransient, "resolving digest for "+image, err)
	}
	return digest, nil
}

func (r *Resolver) get(ctx context.Context, ref name.Reference) (string, error) {
	desc, err := remote.Get(ref, remote.WithContext(ctx), remote.WithAuthFromKeychain(r.keychain))
	if err != nil {
		return "", err
	}
	return desc.Digest.String(), nil
}

// mirrorRef rewrites ref's registry to its configured mirror, if any.
func (r *Resolver) mirrorRef(ref name.Reference) (name.Reference, bool) {
	registry := ref.Context().RegistryStr()
	mirrorHost, ok := r.mirrors[registry]
	if !ok {
		return nil, false
	}

	repo := ref.Context().RepositoryStr()
	sep := ":"
	if _, isDigest := ref.(name.Digest); isDigest {
		sep = "@"
	}
	mirrored, err := name.ParseReference(mirrorHost + "/" + repo + sep + tagOrDigest(ref))
	if err != nil {
		return nil, false
	}
	return mirrored, true
}

func tagOrDigest(ref name.Reference) string {
	if t, ok := ref.(name.Tag); ok {
		return t.TagStr()
	}
	if d, ok := ref.(name.Digest); ok {
		return d.DigestStr()
	}
	return "latest"
}
