package port

import (
	"context"

	"github.com/rl1809/qr-fulfillment/internal/core/domain"
)

type ArtifactStore interface {
	// PutArtifact stores data under ref with an optional declared content type
	PutArtifact(ctx context.Context, ref string, data []byte, contentType string) error

	// GetArtifact returns ErrArtifactNotFound when nothing is stored under ref
	GetArtifact(ctx context.Context, ref string) (domain.Artifact, error)
}
