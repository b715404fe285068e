package domain

// Notification is a push to one recipient. Text, ImageURL or both may be set.
type Notification struct {
	Text     string
	ImageURL string
	// FallbackText replaces an image that could not be delivered.
	FallbackText string
}

func (n Notification) Empty() bool {
	return n.Text == "" && n.ImageURL == ""
}
