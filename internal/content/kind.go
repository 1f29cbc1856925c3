// Package content defines the closed set of content kinds that can take part
// in prerequisite formulas, and the reference/clause value types shared by
// the prereq model, the evaluator and the cache. Adding a kind is an explicit
// code change here plus a registry dispatch arm; there is no open-world
// registration.
package content

import (
	"errors"
	"fmt"
)

// ErrUnknownKind marks a kind outside the closed enumeration.
var ErrUnknownKind = errors.New("unknown content kind")

// Kind classifies a content object. The string values are wire-stable: they
// appear in Postgres rows, Redis keys and job payloads.
type Kind string

const (
	KindQuest            Kind = "quest"
	KindBadge            Kind = "badge"
	KindRank             Kind = "rank"
	KindCourseEnrollment Kind = "course_enrollment"
)

// Kinds lists every valid kind. The set is closed, which is what allows the
// cache to drop a user's entries with one bounded DEL instead of a scan.
var Kinds = []Kind{KindQuest, KindBadge, KindRank, KindCourseEnrollment}

// ParseKind converts a wire string into a Kind, or ErrUnknownKind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}

// Valid reports whether the kind is in the closed enumeration.
func (k Kind) Valid() bool {
	switch k {
	case KindQuest, KindBadge, KindRank, KindCourseEnrollment:
		return true
	}
	return false
}

func (k Kind) String() string {
	return string(k)
}
