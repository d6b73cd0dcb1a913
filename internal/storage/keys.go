package storage

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// CommitKey builds the bit-exact storage key for a commit-scoped asset:
// {owner}/{name}/commits/{commitSha}/{publicPath-or-basename}.
func CommitKey(owner, name, commitSha, publicPathOrBasename string) string {
	return fmt.Sprintf("%s/%s/commits/%s/%s", owner, name, commitSha, CleanPathComponent(publicPathOrBasename))
}

// CommitPrefix builds the prefix used to delete an entire commit via
// DeletePrefix.
func CommitPrefix(owner, name, commitSha string) string {
	return fmt.Sprintf("%s/%s/commits/%s/", owner, name, commitSha)
}

// UploadKey builds the storage key for an upload-scoped asset:
// {owner}/{name}/uploads/{YYYY-MM-DD}/{uuidOrName}, dated at uploadTime.
func UploadKey(owner, name string, uploadTime time.Time, uuidOrName string) string {
	return fmt.Sprintf("%s/%s/uploads/%s/%s", owner, name, uploadTime.UTC().Format("2006-01-02"), CleanPathComponent(uuidOrName))
}

// CleanPathComponent percent-decodes a path component and strips ".."
// segments and control characters, per §6.
func CleanPathComponent(s string) string {
	if decoded, err := url.PathUnescape(s); err == nil {
		s = decoded
	}
	segments := strings.Split(s, "/")
	out := make([]string, 0, len(segments))
	for _, seg := range segments {
		seg = stripControlChars(seg)
		if seg == "" || seg == "." || seg == ".." {
			continue
		}
		out = append(out, seg)
	}
	return strings.Join(out, "/")
}

func stripControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 || r == 0x7f {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
