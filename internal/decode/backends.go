package decode

func init() {
	Register("mp3", newMP3Decoder, "mp3")
	Register("flac", newFLACDecoder, "flac")
	Register("vorbis", newVorbisDecoder, "ogg")
	Register("opus", newOpusDecoder, "ogg")
	for _, codec := range []string{"pcm_s8", "pcm_s16be", "pcm_s24be", "pcm_s32be"} {
		Register(codec, newAIFFDecoder, "aiff")
	}
}
