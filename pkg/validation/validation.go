package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"groupchat/internal/core/domain"
	"groupchat/pkg/utils"
)

const (
	maxIDLength        = 128
	minGroupNameLength = 3
	maxGroupNameLength = 100
)

var (
	// EmailRegex validates email format
	EmailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

	// IDRegex covers UUIDs, nanoids and human-chosen user handles.
	IDRegex = regexp.MustCompile(`^[a-zA-Z0-9_.:@-]+$`)
)

func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return fmt.Errorf("email is required")
	}
	if len(email) > 254 {
		return fmt.Errorf("email is too long (max 254 characters)")
	}
	if !EmailRegex.MatchString(email) {
		return fmt.Errorf("invalid email format")
	}
	return nil
}

func validateID(kind, id string) error {
	if id == "" {
		return fmt.Errorf("%w: %s is required", domain.ErrInvalidID, kind)
	}
	if len(id) > maxIDLength {
		return fmt.Errorf("%w: %s is too long (max %d characters)", domain.ErrInvalidID, kind, maxIDLength)
	}
	if !IDRegex.MatchString(id) {
		return fmt.Errorf("%w: invalid %s format", domain.ErrInvalidID, kind)
	}
	return nil
}

func ValidateUserID(id domain.UserID) error {
	return validateID("user id", string(id))
}

func ValidateGroupID(id domain.GroupID) error {
	return validateID("group id", string(id))
}

// ValidateGroupName returns the cleaned name or an ErrInvalidGroupName wrap.
func ValidateGroupName(name string) (string, error) {
	name = utils.SanitizeString(name)
	if name == "" {
		return "", fmt.Errorf("%w: name is required", domain.ErrInvalidGroupName)
	}
	if !utf8.ValidString(name) {
		return "", fmt.Errorf("%w: name contains invalid characters", domain.ErrInvalidGroupName)
	}
	if utils.RuneLen(name) < minGroupNameLength {
		return "", fmt.Errorf("%w: name must be at least %d characters", domain.ErrInvalidGroupName, minGroupNameLength)
	}
	if utils.RuneLen(name) > maxGroupNameLength {
		return "", fmt.Errorf("%w: name is too long (max %d characters)", domain.ErrInvalidGroupName, maxGroupNameLength)
	}
	return name, nil
}

// ValidateMessageContent sanitizes content and enforces 1..maxLen characters.
func ValidateMessageContent(content string, maxLen int) (string, error) {
	if !utf8.ValidString(content) {
		return "", fmt.Errorf("%w: content is not valid UTF-8", domain.ErrEmptyContent)
	}
	content = utils.SanitizeString(content)
	if content == "" {
		return "", domain.ErrEmptyContent
	}
	if maxLen > 0 && utils.RuneLen(content) > maxLen {
		return "", fmt.Errorf("%w: max %d characters", domain.ErrContentTooLong, maxLen)
	}
	return content, nil
}

// ValidateHistoryLimit clamps limit into [1, max], substituting def for non-positive values.
func ValidateHistoryLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}
