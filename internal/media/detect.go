package media

import (
	"path/filepath"
	"sort"
	"strings"
)

// audioExts maps playable extensions to the container name reported when
// the file header does not say otherwise.
var audioExts = map[string]string{
	".mp3":  "mp3",
	".wav":  "wav",
	".wave": "wav",
	".flac": "flac",
	".ogg":  "ogg",
	".oga":  "ogg",
	".opus": "ogg",
	".aif":  "aiff",
	".aiff": "aiff",
	".aifc": "aiff",
	".aac":  "aac",
	".m4a":  "mov,mp4,m4a,3gp,3g2,mj2",
	".m4b":  "mov,mp4,m4a,3gp,3g2,mj2",
	".mp4":  "mov,mp4,m4a,3gp,3g2,mj2",
	".wma":  "asf",
	".ape":  "ape",
	".wv":   "wv",
	".mka":  "matroska,webm",
	".dsf":  "dsf",
}

// IsSupportedExt returns true if the extension is a supported playable media format.
func IsSupportedExt(ext string) bool {
	_, ok := audioExts[strings.ToLower(ext)]
	return ok
}

// IsSupportedPath is IsSupportedExt applied to a file path.
func IsSupportedPath(path string) bool {
	return IsSupportedExt(filepath.Ext(path))
}

// ContainerForExt returns the default container name for an extension.
func ContainerForExt(ext string) string {
	return audioExts[strings.ToLower(ext)]
}

// SupportedExtsList returns a human-readable list of supported playable media formats.
func SupportedExtsList() string {
	exts := make([]string, 0, len(audioExts))
	for ext := range audioExts {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return strings.Join(exts, ", ")
}
