package cloud

import "strings"

// ItemType classifies an Item for display purposes. Adapters derive it from
// a mime type or file extension at parse time.
type ItemType int

const (
	TypeUnknown ItemType = iota
	TypeAudio
	TypeImage
	TypeVideo
	TypeDirectory
)

func (t ItemType) String() string {
	switch t {
	case TypeAudio:
		return "audio"
	case TypeImage:
		return "image"
	case TypeVideo:
		return "video"
	case TypeDirectory:
		return "directory"
	default:
		return "unknown"
	}
}

// Item is the uniform file/directory representation returned by every
// adapter. Adapters build it once and never mutate it afterward, except
// that URL may be memoized the first time GetItemURL resolves it.
type Item struct {
	ID            string
	Name          string
	Type          ItemType
	Size          *int64 // nil when unknown
	URL           string // memoized direct/proxy URL, "" until resolved
	ThumbnailURL  string
	ParentIDs     []string
	Hidden        bool
}

// IsDirectory reports whether the item represents a directory.
func (i *Item) IsDirectory() bool { return i.Type == TypeDirectory }

// MimeToType maps a MIME type's top-level category to an ItemType.
func MimeToType(mime string) ItemType {
	mime = strings.ToLower(mime)
	switch {
	case mime == "":
		return TypeUnknown
	case strings.HasPrefix(mime, "audio/"):
		return TypeAudio
	case strings.HasPrefix(mime, "image/"):
		return TypeImage
	case strings.HasPrefix(mime, "video/"):
		return TypeVideo
	case mime == "application/vnd.google-apps.folder" ||
		mime == "inode/directory":
		return TypeDirectory
	default:
		return TypeUnknown
	}
}

var extTypes = map[string]ItemType{
	".mp3": TypeAudio, ".flac": TypeAudio, ".wav": TypeAudio, ".ogg": TypeAudio, ".m4a": TypeAudio,
	".jpg": TypeImage, ".jpeg": TypeImage, ".png": TypeImage, ".gif": TypeImage, ".webp": TypeImage, ".bmp": TypeImage,
	".mp4": TypeVideo, ".mkv": TypeVideo, ".mov": TypeVideo, ".avi": TypeVideo, ".webm": TypeVideo,
}

// ExtToType maps the extension of a file name (the part from its last dot)
// to an ItemType. Names without a dot and unknown extensions map to
// TypeUnknown.
func ExtToType(name string) ItemType {
	idx := strings.LastIndex(name, ".")
	if idx < 0 {
		return TypeUnknown
	}
	ext := strings.ToLower(name[idx:])
	if t, ok := extTypes[ext]; ok {
		return t
	}
	return TypeUnknown
}

// PageData is the result of a single ListDirectory page: a batch of items
// plus an opaque continuation token. An empty NextPageToken means "no more
// pages".
type PageData struct {
	Items         []*Item
	NextPageToken string
}
