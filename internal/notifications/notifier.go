package notifications

import "context"

type SendWelcomeInput struct {
	UserID   string
	Username string
	Email    string
}

type Notifier interface {
	SendWelcome(ctx context.Context, input SendWelcomeInput) error
}
