package github

import "strings"

// contentTypes maps file extensions to the MIME type attached to uploaded
// repository files.
var contentTypes = map[string]string{
	// Text files
	"txt":  "text/plain",
	"md":   "text/markdown",
	"json": "application/json",
	"yml":  "text/yaml",
	"yaml": "text/yaml",
	"xml":  "application/xml",
	"csv":  "text/csv",

	// Code files
	"js":    "application/javascript",
	"ts":    "application/typescript",
	"jsx":   "application/javascript",
	"tsx":   "application/typescript",
	"py":    "text/x-python",
	"java":  "text/x-java-source",
	"c":     "text/x-c",
	"cpp":   "text/x-c++",
	"h":     "text/x-c",
	"hpp":   "text/x-c++",
	"go":    "text/x-go",
	"rs":    "text/rust",
	"rb":    "text/x-ruby",
	"php":   "text/x-php",
	"swift": "text/x-swift",
	"kt":    "text/x-kotlin",

	// Web files
	"html": "text/html",
	"css":  "text/css",
	"scss": "text/x-scss",
	"less": "text/x-less",

	// Config files
	"env":        "text/plain",
	"gitignore":  "text/plain",
	"dockerfile": "text/plain",
	"makefile":   "text/plain",
}

// ContentTypeForPath derives a MIME type from a file path's extension.
// Extensionless names like Makefile are looked up as-is, so the table's
// makefile and dockerfile entries apply to them. Unknown extensions fall
// back to application/octet-stream.
func ContentTypeForPath(path string) string {
	segments := strings.Split(path, ".")
	ext := strings.ToLower(segments[len(segments)-1])
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	return "application/octet-stream"
}
