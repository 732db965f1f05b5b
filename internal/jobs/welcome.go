package jobs

import (
	"encoding/json"
	"time"
)

// TypeUserWelcome is enqueued in the same transaction as the user insert,
// both on direct signup and on first federated contact.
const TypeUserWelcome = "user.welcome"

type UserWelcomePayload struct {
	UserID      string    `json:"userId"`
	Username    string    `json:"username"`
	Email       string    `json:"email"`
	RequestedAt time.Time `json:"requestedAt"`
}

func (p UserWelcomePayload) JSON() (json.RawMessage, error) {
	b, err := json.Marshal(p)

	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

// WelcomeIdempotencyKey dedupes the enqueue per account.
func WelcomeIdempotencyKey(userID string) string {
	return "welcome:user:" + userID
}
