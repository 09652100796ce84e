package models

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const recordCodeLayout = "20060102-1504"

var (
	recordCodeRe = regexp.MustCompile(`(?i)\bREC-(\d{8})-(\d{4})\b`)
	ownerRe      = regexp.MustCompile(`user_id=(\d+)`)
)

// RecordCode derives the human-typable reservation code from its start instant.
func RecordCode(start time.Time) string {
	return "REC-" + start.Format(recordCodeLayout)
}

// FindRecordCode extracts a normalized record code from free text.
func FindRecordCode(text string) (string, bool) {
	m := recordCodeRe.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	code := fmt.Sprintf("REC-%s-%s", m[1], m[2])
	if _, err := time.Parse(recordCodeLayout, m[1]+"-"+m[2]); err != nil {
		return "", false
	}
	return strings.ToUpper(code), true
}

// OwnerMarker is embedded into remote event descriptions.
func OwnerMarker(userID int64) string {
	return fmt.Sprintf("user_id=%d", userID)
}

// ParseOwner reads the owner id back from an event description.
func ParseOwner(description string) int64 {
	m := ownerRe.FindStringSubmatch(description)
	if m == nil {
		return 0
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0
	}
	return id
}
