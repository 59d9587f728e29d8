// Package audio turns stored MP3 clips into the mono 48 kHz PCM the voice
// stream is encoded from.
//
// The pipeline is decode (go-mp3, always 16-bit stereo), downmix to mono,
// linear resample to SampleRate, then truncate to the duration cap. Opus
// encoding lives in the opusenc subpackage because it needs libopus.
package audio
