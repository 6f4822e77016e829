package enrollment

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"unicode"

	"github.com/warp/campus-engine/generic"
	"github.com/warp/campus-engine/identity"
)

// maxUsernameAttempts bounds how many generated candidates are tried
// before an admission gives up with a conflict.
const maxUsernameAttempts = 5

// UsernameFunc proposes a login name for a new student.
type UsernameFunc func(firstName string) string

// RandomUsername returns "<first name slug>.<4 digits>", e.g. "amina.4821".
func RandomUsername(firstName string) string {
	return fmt.Sprintf("%s.%04d", slug(firstName), rand.IntN(10000))
}

func slug(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "student"
	}
	return b.String()
}

// uniqueUsername draws candidates until one is free. The check runs
// inside the admission's atomic section; the credential username index
// still backs it against concurrent admissions.
func (e *Engine) uniqueUsername(ctx context.Context, tx generic.Store, firstName string, taken map[string]bool) (string, error) {
	for range maxUsernameAttempts {
		candidate := identity.NormalizeUsername(e.usernames(firstName))
		if candidate == "" || taken[candidate] {
			continue
		}
		n, err := tx.Count(ctx, identity.CredentialsCollection, generic.Filter{"username": candidate})
		if err != nil {
			return "", err
		}
		if n == 0 {
			taken[candidate] = true
			return candidate, nil
		}
	}
	return "", &generic.ConflictError{Resource: "credential", Reason: "could not generate a unique username for " + firstName}
}
