package googledrive

import (
	"regexp"
	"strings"
)

var folderPathPattern = regexp.MustCompile(`/folders/([a-zA-Z0-9_-]+)`)

// FolderIDFromURL resolves a stored root folder reference to a Drive folder
// id. The literal "root" addresses the whole drive; folder URLs of the form
// https://drive.google.com/drive/folders/{id} yield the id; a bare id is
// accepted as-is. Returns "" for anything else.
func FolderIDFromURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if raw == RootFolderID {
		return RootFolderID
	}
	if m := folderPathPattern.FindStringSubmatch(raw); m != nil {
		return m[1]
	}
	if !strings.ContainsAny(raw, "/:?") {
		return raw
	}
	return ""
}

// FolderURL builds the canonical folder URL for an id.
func FolderURL(folderID string) string {
	return "https://drive.google.com/drive/folders/" + folderID
}
