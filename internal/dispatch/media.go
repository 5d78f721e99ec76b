package dispatch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ValidateMediaPath rejects local media outside the allowed roots or above
// the size limit, before any transport call is made. An empty roots list
// allows any readable path.
func ValidateMediaPath(path string, allowedRoots []string, maxMB int) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("invalid media path %q: %w", path, err)
	}

	if len(allowedRoots) > 0 {
		ok := false
		for _, root := range allowedRoots {
			rootAbs, err := filepath.Abs(root)
			if err != nil {
				continue
			}
			if abs == rootAbs || strings.HasPrefix(abs, rootAbs+string(filepath.Separator)) {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("media path %q is outside the allowed roots (media_allowed_roots)", path)
		}
	}

	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("media path %q is not readable: %w", path, err)
	}
	if maxMB > 0 && info.Size() > int64(maxMB)*1024*1024 {
		return fmt.Errorf("media file %q is %d bytes, exceeding the %d MB limit (media_max_mb)",
			path, info.Size(), maxMB)
	}
	return nil
}

// MediaKind picks the CLI send subcommand from a source's extension.
func MediaKind(src string) string {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(src), ".")) {
	case "jpg", "jpeg", "png", "gif", "webp":
		return "image"
	case "mp4", "mov", "avi", "webm":
		return "video"
	case "mp3", "m4a", "aac", "ogg", "wav":
		return "voice"
	default:
		return "upload"
	}
}
