package publisher

import (
	"context"

	"github.com/inmopost/inmopost/internal/models"
)

// Result carries the provider-assigned identifiers of a published post.
type Result struct {
	PostID  string `json:"post_id"`
	MediaID string `json:"media_id,omitempty"`
}

// CodedError exposes the provider's own error code alongside its
// message, so both can be persisted on the job row.
type CodedError interface {
	error
	ErrorCode() string
}

// Publisher performs the platform-specific publish protocol for one
// destination+format pair. The set of implementations is closed and
// selected by the job's platform value; every error returned here is
// consumed by the worker's retry machinery.
type Publisher interface {
	Platform() models.PublicationPlatform
	Publish(ctx context.Context, job *models.PublicationJob, conn *models.MetaConnection) (*Result, error)
}
