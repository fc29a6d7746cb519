package extract

import "strings"

// File categories derived from a MIME type.
const (
	CategoryImage        = "Image"
	CategoryVideo        = "Video"
	CategoryAudio        = "Audio"
	CategoryDocument     = "Document"
	CategorySpreadsheet  = "Spreadsheet"
	CategoryPresentation = "Presentation"
	CategoryOther        = "Other"
)

func driveFields(f DriveFile) map[string]any {
	return map[string]any{
		"file_name":     f.FileName,
		"file_type":     f.FileType,
		"file_size":     f.FileSize,
		"last_modified": f.LastModified,
		"category":      CategorizeFile(f.FileType),
	}
}

// CategorizeFile maps a MIME type to a coarse category. Rules are checked in
// order and the first match wins.
func CategorizeFile(mimeType string) string {
	t := strings.ToLower(mimeType)
	switch {
	case strings.HasPrefix(t, "image/"):
		return CategoryImage
	case strings.HasPrefix(t, "video/"):
		return CategoryVideo
	case strings.HasPrefix(t, "audio/"):
		return CategoryAudio
	case strings.Contains(t, "pdf"), strings.Contains(t, "word"):
		return CategoryDocument
	case strings.Contains(t, "excel"):
		return CategorySpreadsheet
	case strings.Contains(t, "powerpoint"):
		return CategoryPresentation
	}
	return CategoryOther
}
