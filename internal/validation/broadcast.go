// Package validation checks free-text fields submitted by sellers, viewers
// and operators.
package validation

import (
	"fmt"
	"net/url"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	MaxTitleLength    = 100
	MaxNoticeLength   = 2000
	MaxQcards         = 10
	MaxQcardLength    = 300
	MaxChatLength     = 500
	MaxReasonLength   = 500
	maxAssetURLLength = 500
)

// Title validates a broadcast title and returns it trimmed.
func Title(title string) (string, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return "", fmt.Errorf("title is required")
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return "", fmt.Errorf("title must be at most %d characters", MaxTitleLength)
	}
	if hasControl(title) {
		return "", fmt.Errorf("title cannot contain control characters")
	}
	return title, nil
}

// Notice validates the optional notice shown to viewers.
func Notice(notice string) error {
	if utf8.RuneCountInString(notice) > MaxNoticeLength {
		return fmt.Errorf("notice must be at most %d characters", MaxNoticeLength)
	}
	return nil
}

// AssetURL validates an optional image URL. Empty is allowed.
func AssetURL(field, raw string) error {
	if raw == "" {
		return nil
	}
	if len(raw) > maxAssetURLLength {
		return fmt.Errorf("%s is too long", field)
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s must be an http(s) URL", field)
	}
	return nil
}

// Qcards validates the cue cards of a broadcast. Blank cards are dropped
// later and do not count.
func Qcards(questions []string) error {
	n := 0
	for _, q := range questions {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		n++
		if utf8.RuneCountInString(q) > MaxQcardLength {
			return fmt.Errorf("qcard %d must be at most %d characters", n, MaxQcardLength)
		}
	}
	if n > MaxQcards {
		return fmt.Errorf("at most %d qcards are allowed", MaxQcards)
	}
	return nil
}

// ChatMessage validates a chat line and returns it trimmed.
func ChatMessage(msg string) (string, error) {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return "", fmt.Errorf("message is empty")
	}
	if utf8.RuneCountInString(msg) > MaxChatLength {
		return "", fmt.Errorf("message must be at most %d characters", MaxChatLength)
	}
	return msg, nil
}

// Reason validates an operator's stop or cancel reason and returns it trimmed.
func Reason(kind, reason string) (string, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return "", fmt.Errorf("a %s reason is required", kind)
	}
	if utf8.RuneCountInString(reason) > MaxReasonLength {
		return "", fmt.Errorf("a %s reason must be at most %d characters", kind, MaxReasonLength)
	}
	return reason, nil
}

func hasControl(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) {
			return true
		}
	}
	return false
}
