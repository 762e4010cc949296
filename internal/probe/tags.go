package probe

import (
	"os"
	"strconv"
	"strings"

	"github.com/bogem/id3v2/v2"
	"github.com/dhowden/tag"
	"github.com/go-flac/flacvorbis"
	goflac "github.com/go-flac/go-flac"
)

// Canonical tag keys stored in Result.Tags.
const (
	TagTitle       = "title"
	TagArtist      = "artist"
	TagAlbum       = "album"
	TagAlbumArtist = "album_artist"
	TagGenre       = "genre"
	TagComment     = "comment"
	TagDate        = "date"
	TagTrack       = "track"
	TagDisc        = "disc"

	TagTrackGain     = "replaygain_track_gain"
	TagAlbumGain     = "replaygain_album_gain"
	TagTrackPeak     = "replaygain_track_peak"
	TagAlbumPeak     = "replaygain_album_peak"
	TagR128TrackGain = "r128_track_gain"
	TagR128AlbumGain = "r128_album_gain"
)

// tagAliases folds the spellings used by Vorbis comments, ffprobe and
// iTunes atoms onto the canonical keys.
var tagAliases = map[string]string{
	"albumartist":  TagAlbumArtist,
	"album artist": TagAlbumArtist,
	"tracknumber":  TagTrack,
	"discnumber":   TagDisc,
	"description":  TagComment,
	"year":         TagDate,
}

func canonicalKey(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	if c, ok := tagAliases[k]; ok {
		return c
	}
	return k
}

// setTag stores v under the canonical key unless a value is already there.
func setTag(tags map[string]string, k, v string) {
	v = strings.TrimSpace(v)
	if v == "" {
		return
	}
	k = canonicalKey(k)
	if _, ok := tags[k]; !ok {
		tags[k] = v
	}
}

// readTags fills res.Tags from the best tag reader for the container.
// Values already found while probing win.
func readTags(res *Result, kind containerKind) {
	existing := res.Tags
	res.Tags = make(map[string]string, len(existing))
	for k, v := range existing {
		setTag(res.Tags, k, v)
	}

	switch kind {
	case kindMP3:
		readID3Tags(res.Path, res.Tags)
	case kindFLAC:
		readFLACTags(res.Path, res.Tags)
	}
	readGenericTags(res.Path, res.Tags)
}

func readID3Tags(path string, tags map[string]string) {
	id3tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return
	}
	defer id3tag.Close()

	setTag(tags, TagTitle, id3tag.Title())
	setTag(tags, TagArtist, id3tag.Artist())
	setTag(tags, TagAlbum, id3tag.Album())
	setTag(tags, TagGenre, id3tag.Genre())
	setTag(tags, TagAlbumArtist, id3TextFrame(id3tag, "TPE2"))
	setTag(tags, TagTrack, id3TextFrame(id3tag, "TRCK"))
	setTag(tags, TagDisc, id3TextFrame(id3tag, "TPOS"))
	// ID3v2.4 recording date, then the v2.3 year
	setTag(tags, TagDate, id3TextFrame(id3tag, "TDRC"))
	setTag(tags, TagDate, id3tag.Year())

	for _, frame := range id3tag.GetFrames(id3tag.CommonID("Comments")) {
		if cf, ok := frame.(id3v2.CommentFrame); ok {
			setTag(tags, TagComment, cf.Text)
			break
		}
	}
	for _, frame := range id3tag.GetFrames("TXXX") {
		if txxx, ok := frame.(id3v2.UserDefinedTextFrame); ok {
			setTag(tags, txxx.Description, txxx.Value)
		}
	}
}

func id3TextFrame(id3tag *id3v2.Tag, frameID string) string {
	frames := id3tag.GetFrames(frameID)
	if len(frames) == 0 {
		return ""
	}
	if tf, ok := frames[0].(id3v2.TextFrame); ok {
		return tf.Text
	}
	return ""
}

func readFLACTags(path string, tags map[string]string) {
	f, err := goflac.ParseFile(path)
	if err != nil {
		return
	}
	for _, meta := range f.Meta {
		if meta.Type != goflac.VorbisComment {
			continue
		}
		cmts, err := flacvorbis.ParseFromMetaDataBlock(*meta)
		if err != nil {
			return
		}
		for _, c := range cmts.Comments {
			if k, v, ok := strings.Cut(c, "="); ok {
				setTag(tags, k, v)
			}
		}
		return
	}
}

// readGenericTags fills whatever is still missing through dhowden/tag,
// which understands ID3, MP4 atoms, FLAC and Ogg comments.
func readGenericTags(path string, tags map[string]string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return
	}
	setTag(tags, TagTitle, m.Title())
	setTag(tags, TagArtist, m.Artist())
	setTag(tags, TagAlbum, m.Album())
	setTag(tags, TagAlbumArtist, m.AlbumArtist())
	setTag(tags, TagGenre, m.Genre())
	setTag(tags, TagComment, m.Comment())
	if y := m.Year(); y > 0 {
		setTag(tags, TagDate, strconv.Itoa(y))
	}
	if n, total := m.Track(); n > 0 {
		setTag(tags, TagTrack, numberOf(n, total))
	}
	if n, total := m.Disc(); n > 0 {
		setTag(tags, TagDisc, numberOf(n, total))
	}
	// MP4 freeform atoms carry replay gain under ----:com.apple.iTunes:
	for k, v := range m.Raw() {
		s, ok := v.(string)
		if !ok {
			continue
		}
		key := strings.ToLower(k)
		if strings.HasPrefix(key, "replaygain_") || strings.HasPrefix(key, "r128_") {
			setTag(tags, key, s)
		}
	}
}

func numberOf(n, total int) string {
	if total > 0 {
		return strconv.Itoa(n) + "/" + strconv.Itoa(total)
	}
	return strconv.Itoa(n)
}
