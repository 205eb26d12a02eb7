package box

import "strings"

// LinkPrefix marks a string field value as a reference to another record.
const LinkPrefix = "id:"

// EncodeLink returns the reference token for a record identifier.
func EncodeLink(id string) string {
	return LinkPrefix + id
}

// DecodeLink returns the identifier carried by a reference token.
func DecodeLink(s string) (string, bool) {
	return strings.CutPrefix(s, LinkPrefix)
}

// IsLink reports whether v is a reference token.
func IsLink(v any) bool {
	s, ok := v.(string)
	return ok && strings.HasPrefix(s, LinkPrefix)
}
