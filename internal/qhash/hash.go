// Package qhash derives stable content ids for corpus questions. The id
// is a SHA-256 over the normalized text, so reformatting a file or
// moving a question between files keeps its review history. Topic is
// deliberately excluded: re-filing a question must not reset its card.
package qhash

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/examloop/examloop/internal/domain"
)

// Normalize joins the question's content fields after cleaning each
// part: trimmed, lowercased, line endings unified. Fields are joined
// with a newline so adjacent words from different fields cannot collide.
func Normalize(q domain.Question) string {
	part := func(s string) string {
		s = strings.ToLower(s)
		s = strings.TrimSpace(s)
		return strings.ReplaceAll(s, "\r\n", "\n")
	}
	return strings.Join([]string{part(q.Question), part(q.Answer), part(q.Context)}, "\n")
}

// Hash returns the question's content id as a hex SHA-256.
func Hash(q domain.Question) string {
	sum := sha256.Sum256([]byte(Normalize(q)))
	return fmt.Sprintf("%x", sum)
}
