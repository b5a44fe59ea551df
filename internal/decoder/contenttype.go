package decoder

import "strings"

// extensionByContentType maps stream content types to the file extension a
// host would use to persist the stream.
var extensionByContentType = map[string]string{
	"audio/mpeg":      "mp3",
	"audio/mp3":       "mp3",
	"audio/x-mpeg":    "mp3",
	"audio/aac":       "aac",
	"audio/aacp":      "aac",
	"audio/mp4":       "m4a",
	"audio/x-m4a":     "m4a",
	"audio/ogg":       "ogg",
	"application/ogg": "ogg",
	"audio/flac":      "flac",
	"audio/x-flac":    "flac",
	"audio/wav":       "wav",
	"audio/x-wav":     "wav",
	"audio/wave":      "wav",
	"audio/vnd.wave":  "wav",
	"audio/l16":       "pcm",
}

// SuggestedFileExtension returns the file extension for a content type.
// Unknown types default to mp3, the most common network radio payload.
func SuggestedFileExtension(contentType string) string {
	if ext, ok := extensionByContentType[contentType]; ok {
		return ext
	}
	return "mp3"
}

// IsAudioContentType reports whether the content type describes an audio
// payload. Used for strict content type checking: playlists and HTML error
// pages fail this check.
func IsAudioContentType(contentType string) bool {
	if strings.HasPrefix(contentType, "audio/") {
		return true
	}
	switch contentType {
	case "application/ogg", "application/octet-stream":
		return true
	}
	return false
}
