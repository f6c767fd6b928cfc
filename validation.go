package messaging

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/rbaliyan/messaging/store"
)

// MessageLimits holds all message validation limits.
type MessageLimits struct {
	MaxSubjectLength   int
	MaxBodySize        int
	MaxAttachmentCount int
	MaxParticipants    int
}

// DefaultLimits returns the default message limits.
func DefaultLimits() MessageLimits {
	return MessageLimits{
		MaxSubjectLength:   DefaultMaxSubjectLength,
		MaxBodySize:        DefaultMaxBodySize,
		MaxAttachmentCount: DefaultMaxAttachmentCount,
		MaxParticipants:    DefaultMaxParticipants,
	}
}

// isValidUserID checks if a user ID is valid.
// Valid user IDs are non-empty and contain only safe characters.
// ':' is reserved as the pair key separator.
func isValidUserID(userID string) bool {
	if userID == "" || len(userID) > DefaultMaxUserIDLength || !utf8.ValidString(userID) {
		return false
	}
	// Disallow: *, :, /, \, spaces, and control characters
	for _, c := range userID {
		if c == '*' || c == ':' || c == '/' || c == '\\' ||
			c == ' ' || c == '\t' || c == '\n' || c == '\r' ||
			c < 32 || c == 127 {
			return false
		}
	}
	return true
}

// ValidateUserID returns a *ValidationError for field when id is unusable.
func ValidateUserID(field, id string) error {
	if !isValidUserID(id) {
		return invalidField(field, "must be a non-empty id without whitespace or * : / \\")
	}
	return nil
}

var userIDRule = validation.By(func(value any) error {
	id, _ := value.(string)
	if id == "" {
		return nil
	}
	if !isValidUserID(id) {
		return errors.New("must not contain whitespace or * : / \\")
	}
	return nil
})

var notBlankRule = validation.By(func(value any) error {
	s, _ := value.(string)
	if strings.TrimSpace(s) == "" {
		return errors.New("cannot be blank")
	}
	return nil
})

var attachmentRule = validation.By(func(value any) error {
	a, ok := value.(store.AttachmentRef)
	if !ok {
		return nil
	}
	return validation.ValidateStruct(&a,
		validation.Field(&a.ID, validation.Required),
		validation.Field(&a.Size, validation.Min(int64(0))),
	)
})

// ValidateSendRequest checks a send request from senderID against limits.
// Failures are returned as *ValidationError, which matches ErrInvalidInput.
func ValidateSendRequest(senderID string, req *SendRequest, limits MessageLimits) error {
	if req == nil {
		return invalidField("request", "is required")
	}

	err := validation.ValidateStruct(req,
		validation.Field(&req.ReceiverID,
			validation.When(req.ThreadID == "", validation.Required.Error("is required without thread_id")),
			userIDRule,
			validation.NotIn(senderID).Error("cannot send a message to yourself"),
		),
		validation.Field(&req.Participants,
			validation.When(req.ThreadID != "", validation.Empty.Error("cannot be changed on an existing thread")),
			validation.Each(validation.Required, userIDRule),
		),
		validation.Field(&req.Body, notBlankRule, validation.Length(0, limits.MaxBodySize)),
		validation.Field(&req.Subject, validation.RuneLength(0, limits.MaxSubjectLength)),
		validation.Field(&req.Type, validation.In(store.MessageTypeGeneral, store.MessageTypeInquiry, store.MessageTypeSystem)),
		validation.Field(&req.SenderName, validation.RuneLength(0, DefaultMaxUserIDLength)),
		validation.Field(&req.ReceiverName, validation.RuneLength(0, DefaultMaxUserIDLength)),
		validation.Field(&req.Attachments,
			validation.Length(0, limits.MaxAttachmentCount),
			validation.Each(attachmentRule),
		),
		validation.Field(&req.IdempotencyKey, validation.Length(0, DefaultMaxIdempotencyKey)),
	)
	if err != nil {
		return toValidationError(err)
	}

	seen := map[string]bool{senderID: true}
	if req.ReceiverID != "" {
		seen[req.ReceiverID] = true
	}
	for _, p := range req.Participants {
		if seen[p] && p != senderID && p != req.ReceiverID {
			return invalidField("participants", fmt.Sprintf("duplicate participant %q", p))
		}
		seen[p] = true
	}
	if limits.MaxParticipants > 0 && len(seen) > limits.MaxParticipants {
		return invalidField("participants", fmt.Sprintf("at most %d participants", limits.MaxParticipants))
	}
	return nil
}

// toValidationError converts ozzo validation errors into a *ValidationError
// for the first failing field in name order.
func toValidationError(err error) error {
	var errs validation.Errors
	if errors.As(err, &errs) && len(errs) > 0 {
		fields := make([]string, 0, len(errs))
		for field := range errs {
			fields = append(fields, field)
		}
		slices.Sort(fields)
		return invalidField(fields[0], errs[fields[0]].Error())
	}
	return fmt.Errorf("%w: %v", ErrInvalidInput, err)
}
