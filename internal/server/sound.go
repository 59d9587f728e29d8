package server

import (
	"context"
	"fmt"
	"time"

	"github.com/rampart-project/rampart/internal/audio"
	"github.com/rampart-project/rampart/internal/events"
	"github.com/rampart-project/rampart/internal/protocol"
	"github.com/rampart-project/rampart/internal/sound"
)

// frameDuration is the playback time covered by one voice frame (20 ms).
const frameDuration = time.Duration(audio.FrameSize) * time.Second / audio.SampleRate

// maxCatchUp bounds how many late frames one tick may send after a stall.
const maxCatchUp = 5

// voiceClock paces the active stream against wall time.
type voiceClock struct {
	active bool
	next   time.Time
	slot   uint8
	guid   string
	name   string
	seq    uint32
}

// handleSound runs one sound request and answers the requester.
func (s *Service) handleSound(ctx context.Context, req protocol.SoundRequest) {
	now := s.now()

	var (
		msg string
		err error
	)

	switch req.Op {
	case protocol.PktSoundList:
		var lines []string
		if lines, err = s.sounds.List(req.GUID); err == nil {
			for _, line := range lines {
				s.send(protocol.EncodeSoundResponse(protocol.PktSoundListing, req.Slot, line))
			}
			return
		}

	case protocol.PktSoundAdd:
		var d *sound.Download
		if d, err = s.sounds.Add(req.Slot, req.GUID, req.Name, req.URL, now); err == nil {
			msg = fmt.Sprintf("Downloading '%s'...", d.Name)
			s.emit(ctx, events.EventDownloadStarted, downloadPayload(*d, now))
		}

	case protocol.PktSoundPlay:
		if err = s.sounds.Play(req.Slot, req.GUID, req.Name, now); err == nil {
			snap := s.sounds.Snapshot()
			s.startVoice(ctx, snap, now)
			msg = fmt.Sprintf("Playing '%s'", snap.Name)
		}

	case protocol.PktSoundStop:
		stopped, slot, seq := s.sounds.Stop()
		if !stopped {
			s.send(protocol.EncodeSoundResponse(protocol.PktSoundError, req.Slot, "Nothing is playing"))
			return
		}
		s.endVoice(ctx, slot, seq)
		msg = "Stopped"

	case protocol.PktSoundDelete:
		msg, err = s.sounds.Delete(req.GUID, req.Name)

	case protocol.PktSoundRename:
		msg, err = s.sounds.Rename(req.GUID, req.Name, req.NewName)

	case protocol.PktSoundShare:
		msg, err = s.sounds.Share(req.Slot, req.GUID, req.TargetSlot, req.Name, now)

	case protocol.PktSoundAccept:
		msg, err = s.sounds.Accept(req.Slot, req.GUID, req.Alias, now)

	case protocol.PktSoundReject:
		msg, err = s.sounds.Reject(req.Slot, req.GUID, now)

	case protocol.PktSoundBind:
		msg, err = s.sounds.Bind(req.GUID, req.Alias, req.Name, req.Text)

	case protocol.PktSoundUnbind:
		msg, err = s.sounds.Unbind(req.GUID, req.Alias)

	default:
		s.logger.Debug().Uint8("op", req.Op).Msg("unhandled sound request")
		return
	}

	if err != nil {
		s.logger.Debug().Err(err).Uint8("op", req.Op).Str("guid", req.GUID).Msg("sound request rejected")
		s.send(protocol.EncodeSoundResponse(protocol.PktSoundError, req.Slot, sound.Reason(err)))
		return
	}
	s.send(protocol.EncodeSoundResponse(protocol.PktSoundSuccess, req.Slot, msg))
}

// deliver turns a manager notice into its packet.
func (s *Service) deliver(ctx context.Context, n sound.Notice) {
	switch n.Kind {
	case sound.NoticeSuccess:
		s.send(protocol.EncodeSoundResponse(protocol.PktSoundSuccess, n.Slot, n.Message))
	case sound.NoticeError:
		s.send(protocol.EncodeSoundResponse(protocol.PktSoundError, n.Slot, n.Message))
	case sound.NoticeQuickFound:
		s.send(protocol.EncodeQuickFound(n.Slot, n.GUID, n.Clip, n.Text))
	case sound.NoticeQuickNotFound:
		s.send(protocol.EncodeQuickNotFound(n.Slot, n.GUID))
	}

	if n.Download != nil {
		s.emit(ctx, events.EventDownloadFinished, downloadPayload(*n.Download, s.now()))
	}
}

func (s *Service) startVoice(ctx context.Context, snap sound.Snapshot, now time.Time) {
	s.voice = voiceClock{
		active: true,
		next:   now,
		slot:   snap.Slot,
		guid:   snap.Owner,
		name:   snap.Name,
		seq:    snap.Seq,
	}
	s.emit(ctx, events.EventPlaybackStarted, events.PlaybackPayload{
		Slot: snap.Slot,
		GUID: snap.Owner,
		Name: snap.Name,
		Seq:  snap.Seq,
	})
}

// endVoice sends the end-of-stream packet and resets the clock.
func (s *Service) endVoice(ctx context.Context, slot uint8, seq uint32) {
	s.send(protocol.EncodeVoiceEnd(slot, seq))
	s.emit(ctx, events.EventPlaybackStopped, events.PlaybackPayload{
		Slot: slot,
		GUID: s.voice.guid,
		Name: s.voice.name,
		Seq:  seq,
	})
	s.voice = voiceClock{}
}

// pumpVoice sends every frame due at now, one per elapsed frameDuration.
func (s *Service) pumpVoice(ctx context.Context, now time.Time) {
	if !s.voice.active {
		return
	}
	if now.Sub(s.voice.next) > maxCatchUp*frameDuration {
		s.voice.next = now
	}

	for !now.Before(s.voice.next) {
		frame, err := s.sounds.NextFrame()
		if frame == nil {
			// Released without a final frame.
			s.endVoice(ctx, s.voice.slot, s.voice.seq)
			return
		}
		if err != nil {
			s.send(protocol.EncodeSoundResponse(protocol.PktSoundError, frame.Slot, sound.Reason(err)))
			s.endVoice(ctx, frame.Slot, frame.Seq)
			return
		}

		s.send(protocol.EncodeVoiceFrame(frame.Slot, frame.Seq, uint16(frame.Samples), frame.Payload))
		s.voice.seq = frame.Seq
		s.voice.next = s.voice.next.Add(frameDuration)

		if frame.Last {
			s.endVoice(ctx, frame.Slot, frame.Seq)
			return
		}
	}
}

func downloadPayload(d sound.Download, now time.Time) events.DownloadPayload {
	return events.DownloadPayload{
		ID:      d.ID,
		Slot:    d.Slot,
		GUID:    d.GUID,
		Name:    d.Name,
		State:   d.State.String(),
		Reason:  d.Reason,
		Elapsed: now.Sub(d.Started).Milliseconds(),
	}
}
