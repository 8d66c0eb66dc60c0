package redis

import (
	"fmt"
	"strings"
)

const (
	// KeyPrefixBookmark prefixes one JSON-encoded bookmark row.
	KeyPrefixBookmark = "smartmark:bookmark:"
	// KeyPrefixOwner prefixes per-owner indexes.
	KeyPrefixOwner = "smartmark:owner:"
	// KeyPrefixChanges prefixes the per-owner pub/sub channel.
	KeyPrefixChanges = "smartmark:changes:"
	// KeyPrefixRevoked prefixes signed-out token hashes.
	KeyPrefixRevoked = "smartmark:revoked:"
)

// BookmarkKey returns the key holding a bookmark row.
func BookmarkKey(id string) string {
	return KeyPrefixBookmark + id
}

// OwnerBookmarksKey returns the sorted set of owner's bookmark ids, scored by creation time.
func OwnerBookmarksKey(owner string) string {
	return KeyPrefixOwner + owner + ":bookmarks"
}

// ChangesChannel returns the pub/sub channel carrying owner's row changes.
func ChangesChannel(owner string) string {
	return KeyPrefixChanges + owner
}

// RevokedKey returns the key marking a token hash as signed out.
func RevokedKey(tokenHash string) string {
	return KeyPrefixRevoked + tokenHash
}

// ExtractBookmarkID extracts the bookmark id from a row key.
func ExtractBookmarkID(key string) (string, error) {
	if !strings.HasPrefix(key, KeyPrefixBookmark) || len(key) == len(KeyPrefixBookmark) {
		return "", fmt.Errorf("invalid bookmark key: %s", key)
	}
	return key[len(KeyPrefixBookmark):], nil
}
