package validator

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	ErrInvalidSourceType  = errors.New("invalid source type")
	ErrInvalidDescription = errors.New("invalid description")
	ErrInvalidUserID      = errors.New("invalid user id")
	ErrInvalidSourceID    = errors.New("invalid source id")
)

const MaxDescriptionLength = 500

var (
	sourceTypeRegex = regexp.MustCompile(`^[A-Z][A-Z0-9_]{0,49}$`)
	userIDRegex     = regexp.MustCompile(`^[A-Za-z0-9_.@:-]{1,64}$`)
)

// ValidateSourceType accepts an empty value (no source) or an upper-case tag
// such as PROGRAM or COUNSELING.
func ValidateSourceType(sourceType string) error {
	if sourceType == "" {
		return nil
	}
	if !sourceTypeRegex.MatchString(sourceType) {
		return ErrInvalidSourceType
	}
	return nil
}

// ValidateSource requires a source id to come with a source type.
func ValidateSource(sourceType string, sourceID *int64) error {
	if err := ValidateSourceType(sourceType); err != nil {
		return err
	}
	if sourceID == nil {
		return nil
	}
	if sourceType == "" || *sourceID <= 0 {
		return ErrInvalidSourceID
	}
	return nil
}

func ValidateDescription(description string) error {
	if utf8.RuneCountInString(description) > MaxDescriptionLength {
		return ErrInvalidDescription
	}
	if strings.ContainsRune(description, 0) {
		return ErrInvalidDescription
	}
	return nil
}

func ValidateUserID(userID string) error {
	if !userIDRegex.MatchString(userID) {
		return ErrInvalidUserID
	}
	return nil
}
