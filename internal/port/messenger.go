package port

import "context"

// Messenger pushes messages to a recipient on the external chat channel.
// Implementations may fail at any time.
type Messenger interface {
	PushText(ctx context.Context, to, text string) error
	PushImage(ctx context.Context, to, imageURL string) error
}
