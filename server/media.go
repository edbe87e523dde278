package server

import (
	"path"
	"strings"
)

type mediaKind int

const (
	mediaVideo mediaKind = iota
	mediaImage
	mediaAudio
)

var mediaExtensions = map[mediaKind][]string{
	mediaVideo: {".asf", ".avi", ".dv", ".m4v", ".mov", ".mp4", ".mpg", ".mpeg", ".ogv", ".vp8", ".webm", ".wmv"},
	mediaImage: {".png", ".jpg", ".jpeg", ".tiff", ".bmp", ".exr", ".gif", ".hdr", ".iff", ".pict", ".psd", ".tga"},
	mediaAudio: {".mp3", ".wav", ".ogg", ".aiff", ".aif", ".mod", ".it", ".s3m", ".xm"},
}

// Reply texts per kind: first removed, all removed, none found.
var mediaReplies = map[mediaKind][3]string{
	mediaVideo: {"First video file removed.", "All videos removed.", "No video files found."},
	mediaImage: {"First image file removed.", "All images removed.", "No image files found."},
	mediaAudio: {"First audio file removed.", "All audios removed.", "No audio files found."},
}

// isMedia reports whether name has one of the extensions of kind.
// The comparison is case-insensitive.
func isMedia(name string, kind mediaKind) bool {
	ext := strings.ToLower(path.Ext(name))
	if ext == "" {
		return false
	}
	for _, e := range mediaExtensions[kind] {
		if e == ext {
			return true
		}
	}
	return false
}
