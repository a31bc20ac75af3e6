package main

import (
	"strings"
)

// FileCategory is the semantic type of a file, derived from its extension.
type FileCategory string

const (
	CategoryMarkdown FileCategory = "markdown"
	CategoryImage    FileCategory = "image"
	CategoryPDF      FileCategory = "pdf"
	CategoryVideo    FileCategory = "video"
	CategoryAudio    FileCategory = "audio"
	CategoryOffice   FileCategory = "office"
	CategoryDiagram  FileCategory = "diagram"
	CategoryCode     FileCategory = "code"
	CategoryText     FileCategory = "text"
	CategoryUnknown  FileCategory = "unknown"
)

const (
	mimeOctetStream = "application/octet-stream"
	mimeTextPlain   = "text/plain; charset=utf-8"
)

// fileClass is the result of classifying a file name.
type fileClass struct {
	Category FileCategory
	MIMEType string
	// Language is the highlighting tag for code and text files.
	Language string
}

// streamable reports whether the category is served inline as a byte stream
// (media players and the PDF viewer need range support).
func (c FileCategory) streamable() bool {
	switch c {
	case CategoryImage, CategoryPDF, CategoryVideo, CategoryAudio:
		return true
	default:
		return false
	}
}

var (
	extCategories = map[string]FileCategory{
		"md":       CategoryMarkdown,
		"markdown": CategoryMarkdown,

		"jpg":  CategoryImage,
		"jpeg": CategoryImage,
		"png":  CategoryImage,
		"gif":  CategoryImage,
		"bmp":  CategoryImage,
		"svg":  CategoryImage,
		"webp": CategoryImage,

		"pdf": CategoryPDF,

		"mp4": CategoryVideo,
		"avi": CategoryVideo,
		"mov": CategoryVideo,
		"wmv": CategoryVideo,

		"mp3":  CategoryAudio,
		"wav":  CategoryAudio,
		"flac": CategoryAudio,
		"ogg":  CategoryAudio,
		"wma":  CategoryAudio,
		"m4a":  CategoryAudio,

		"docx": CategoryOffice,
		"xlsx": CategoryOffice,
		"pptx": CategoryOffice,

		// .xml is treated as a draw.io document, matching the editor's
		// uncompressed export format.
		"drawio":  CategoryDiagram,
		"diagram": CategoryDiagram,
		"dio":     CategoryDiagram,
		"xml":     CategoryDiagram,

		"py":   CategoryCode,
		"js":   CategoryCode,
		"html": CategoryCode,
		"css":  CategoryCode,
		"scss": CategoryCode,
		"php":  CategoryCode,
		"java": CategoryCode,
		"c":    CategoryCode,
		"cpp":  CategoryCode,
		"cs":   CategoryCode,
		"go":   CategoryCode,
		"rb":   CategoryCode,
		"sh":   CategoryCode,
		"bat":  CategoryCode,
		"sql":  CategoryCode,
		"ts":   CategoryCode,
		"tsx":  CategoryCode,
		"jsx":  CategoryCode,
		"json": CategoryCode,
		"yaml": CategoryCode,
		"yml":  CategoryCode,

		"txt": CategoryText,
		"csv": CategoryText,
		"log": CategoryText,
	}

	extMIMETypes = map[string]string{
		"jpg":  "image/jpeg",
		"jpeg": "image/jpeg",
		"png":  "image/png",
		"gif":  "image/gif",
		"bmp":  "image/bmp",
		"svg":  "image/svg+xml",
		"webp": "image/webp",

		"pdf": "application/pdf",

		"mp4": "video/mp4",
		"avi": "video/x-msvideo",
		"mov": "video/quicktime",
		"wmv": "video/x-ms-wmv",

		"mp3":  "audio/mpeg",
		"wav":  "audio/wav",
		"flac": "audio/flac",
		"ogg":  "audio/ogg",
		"wma":  "audio/x-ms-wma",
		"m4a":  "audio/mp4",

		"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",

		"md":       "text/markdown; charset=utf-8",
		"markdown": "text/markdown; charset=utf-8",

		"drawio":  "application/xml",
		"diagram": "application/xml",
		"dio":     "application/xml",
		"xml":     "application/xml",
	}

	// extLanguages maps code and text extensions to highlighting tags.
	extLanguages = map[string]string{
		"py":       "python",
		"js":       "javascript",
		"html":     "html",
		"css":      "css",
		"scss":     "scss",
		"php":      "php",
		"java":     "java",
		"c":        "c",
		"cpp":      "cpp",
		"cs":       "csharp",
		"go":       "go",
		"rb":       "ruby",
		"sh":       "bash",
		"bat":      "batch",
		"sql":      "sql",
		"ts":       "typescript",
		"tsx":      "typescript",
		"jsx":      "javascript",
		"json":     "json",
		"xml":      "xml",
		"yaml":     "yaml",
		"yml":      "yaml",
		"md":       "markdown",
		"markdown": "markdown",
		"txt":      "text",
		"csv":      "csv",
		"log":      "text",
	}
)

// extensionOf returns the lowercase text after the last '.' of the final
// path element, or "" when there is none.
func extensionOf(filename string) string {
	name := filename
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	dot := strings.LastIndexByte(name, '.')
	if dot < 0 || dot == len(name)-1 {
		return ""
	}
	return strings.ToLower(name[dot+1:])
}

// classify maps a file name to its category, MIME type and highlighting
// language. It is a pure table lookup.
func classify(filename string) fileClass {
	ext := extensionOf(filename)
	category, ok := extCategories[ext]
	if !ok {
		return fileClass{Category: CategoryUnknown, MIMEType: mimeOctetStream}
	}

	fc := fileClass{Category: category, MIMEType: mimeOctetStream}
	switch category {
	case CategoryCode, CategoryText:
		fc.MIMEType = mimeTextPlain
		fc.Language = languageFor(ext)
	case CategoryMarkdown, CategoryDiagram:
		fc.MIMEType = extMIMETypes[ext]
		fc.Language = extLanguages[ext]
	case CategoryImage, CategoryPDF, CategoryVideo, CategoryAudio, CategoryOffice:
		if mime, ok := extMIMETypes[ext]; ok {
			fc.MIMEType = mime
		}
	case CategoryUnknown:
	}
	return fc
}

func languageFor(ext string) string {
	if lang, ok := extLanguages[ext]; ok {
		return lang
	}
	return "text"
}
