package store

import (
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/samber/lo"
)

var suffixCharset = append(append([]rune{}, lo.LowerCaseLettersCharset...), lo.NumbersCharset...)

// FileName builds <prefix>-<unix ms>-<7 base36 chars>.<ext>.
func FileName(prefix, ext string) string {
	return fmt.Sprintf("%s-%d-%s.%s", prefix, time.Now().UnixMilli(), lo.RandomString(7, suffixCharset), strings.TrimPrefix(ext, "."))
}

// Extension picks a file extension for a content type, png when unknown.
func Extension(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "png"
	}
	switch mt {
	case "image/png":
		return "png"
	case "image/jpeg":
		return "jpg"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	case "application/json":
		return "json"
	default:
		return "png"
	}
}
