package convo

import "strings"

var keyReplacer = strings.NewReplacer(".", "-", "@", "-")

// NormalizeKey derives the store addressing key for an email address by
// replacing "." and "@" with "-". Idempotent: normalizing a normalized key
// returns it unchanged. Raw emails must never be used as store paths.
func NormalizeKey(email string) string {
	return keyReplacer.Replace(email)
}
