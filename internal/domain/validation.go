package domain

import (
	"strings"
	"unicode/utf8"
)

const (
	MaxTitleLength       = 500
	MaxDescriptionLength = 5000
	MaxPriority          = 99
	MaxTags              = 100
	MaxTagLength         = 64
)

// ValidateTitle validates a task title
func ValidateTitle(title string) error {
	if title == "" {
		return NewFieldError("title", "must not be empty")
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return NewFieldError("title", "must not exceed 500 characters")
	}
	return nil
}

// ValidateDescription validates a task description
func ValidateDescription(description string) error {
	if utf8.RuneCountInString(description) > MaxDescriptionLength {
		return NewFieldError("description", "must not exceed 5000 characters")
	}
	return nil
}

// ValidatePriority validates a task priority
func ValidatePriority(priority int) error {
	if priority < 0 || priority > MaxPriority {
		return NewFieldError("priority", "must be between 0 and 99")
	}
	return nil
}

// NormalizeTags validates tags and returns them whitespace-trimmed. Length
// limits apply to the tag as supplied, before trimming.
func NormalizeTags(tags []string) ([]string, error) {
	if len(tags) > MaxTags {
		return nil, NewFieldError("tags", "must not exceed 100 tags")
	}
	normalized := make([]string, 0, len(tags))
	for _, tag := range tags {
		trimmed := strings.TrimSpace(tag)
		if trimmed == "" {
			return nil, NewFieldError("tags", "tags cannot be empty")
		}
		if utf8.RuneCountInString(tag) > MaxTagLength {
			return nil, NewFieldError("tags", "tags cannot exceed 64 characters")
		}
		normalized = append(normalized, trimmed)
	}
	return normalized, nil
}

// ValidateSortBy validates a list sort column
func ValidateSortBy(sortBy string) error {
	switch sortBy {
	case "created_at", "updated_at", "title", "priority", "due_date", "completed":
		return nil
	default:
		return NewFieldError("sort_by", "must be one of: created_at, updated_at, title, priority, due_date, completed")
	}
}

// ValidateOrder validates a list sort direction
func ValidateOrder(order string) error {
	switch order {
	case "asc", "desc":
		return nil
	default:
		return NewFieldError("order", "must be one of: asc, desc")
	}
}
