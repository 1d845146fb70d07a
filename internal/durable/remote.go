package durable

import "context"

// RemoteSync is the cloud tier of recovery. Pulling returns every project and
// chapter the remote holds for the signed-in user.
type RemoteSync interface {
	IsAuthenticated(ctx context.Context) bool
	PullFromCloud(ctx context.Context) (Bundle, error)
}
