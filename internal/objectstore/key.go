package objectstore

import "strings"

// ObjectKey returns the bucket key of a storage-unit under prefix.
// Leading slashes of the oid are dropped so keys never start with "//".
func ObjectKey(prefix, oid string) string {
	oid = strings.TrimLeft(oid, "/")
	if prefix == "" {
		return oid
	}
	return strings.TrimSuffix(prefix, "/") + "/" + oid
}
