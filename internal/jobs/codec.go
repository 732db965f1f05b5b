package jobs

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/geocoder89/bloghub/internal/domain/job"
)

func IsValidType(t string) bool {
	switch t {
	case TypeUserWelcome:
		return true
	default:
		return false
	}
}

// DecodePayload unmarshals j.Payload into the typed payload for its type.
func DecodePayload(j job.Job) (any, error) {
	if !IsValidType(j.Type) {
		return nil, ErrInvalidJobType
	}
	if len(j.Payload) == 0 {
		return nil, ErrInvalidJobPayload
	}

	switch j.Type {
	case TypeUserWelcome:
		var p UserWelcomePayload
		if err := json.Unmarshal(j.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidJobPayload, err)
		}
		return p, nil

	default:
		return nil, ErrInvalidJobType
	}
}

// ValidatePayload performs minimal validation on decoded payloads.
func ValidatePayload(t string, payload any) error {
	if !IsValidType(t) {
		return ErrInvalidJobType
	}

	trim := func(s string) string { return strings.TrimSpace(s) }

	switch t {
	case TypeUserWelcome:
		var p UserWelcomePayload
		switch v := payload.(type) {
		case UserWelcomePayload:
			p = v
		case *UserWelcomePayload:
			p = *v
		default:
			return ErrPayloadTypeMismatch
		}
		if trim(p.UserID) == "" || trim(p.Email) == "" {
			return ErrInvalidJobPayload
		}
		return nil

	default:
		return ErrInvalidJobType
	}
}
