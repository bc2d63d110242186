package broker

import (
	"strings"

	"github.com/arkanwolfshade/mythosmud/internal/domain"
)

// ValidateSubject enforces the subject grammar from spec §4.3: dot-
// separated tokens, with `*` matching exactly one token and `>` matching
// one-or-more trailing tokens. It rejects:
//   - the empty subject,
//   - more than two wildcards,
//   - all-wildcard subjects (`*`, `*.*`, `*.*.*`),
//   - subjects starting with a wildcard,
//   - tokens that are not alphanumeric plus `-`/`_`.
func ValidateSubject(subject string) error {
	if subject == "" {
		return domain.NewValidationError("subject", "empty subject")
	}

	tokens := strings.Split(subject, ".")

	wildcardCount := 0
	nonWildcardCount := 0
	for i, tok := range tokens {
		switch tok {
		case "*":
			wildcardCount++
			if i == 0 {
				return domain.NewValidationError("subject", "subject starts with a wildcard")
			}
		case ">":
			wildcardCount++
			if i == 0 {
				return domain.NewValidationError("subject", "subject starts with a wildcard")
			}
			if i != len(tokens)-1 {
				return domain.NewValidationError("subject", "'>' wildcard must be the terminal token")
			}
		default:
			if tok == "" {
				return domain.NewValidationError("subject", "empty token")
			}
			if !isValidToken(tok) {
				return domain.NewValidationError("subject", "token is not alphanumeric plus -/_: "+tok)
			}
			nonWildcardCount++
		}
	}

	if wildcardCount > 2 {
		return domain.NewValidationError("subject", "more than two wildcards")
	}
	if nonWildcardCount == 0 {
		return domain.NewValidationError("subject", "all-wildcard subject")
	}

	return nil
}

func isValidToken(tok string) bool {
	for _, r := range tok {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-' || r == '_':
		default:
			return false
		}
	}
	return true
}

// batchGroupKey returns the subject prefix used to key an in-memory batch
// group (spec §4.3: "appends to an in-memory group keyed by subject
// prefix"). The prefix is everything before the last dot-separated token,
// e.g. "chat.say.room" for "chat.say.room.42".
func batchGroupKey(subject string) string {
	idx := strings.LastIndex(subject, ".")
	if idx < 0 {
		return subject
	}
	return subject[:idx]
}
