package usecase

import (
	"github.com/rs/zerolog"

	"voxsync/internal/domain"
	"voxsync/internal/ports"
	"voxsync/internal/protocol"
	"voxsync/internal/timeline"
)

// timelineHandler feeds routed server events into the synchronizer.
// Response deltas are keyed by response id, transcription events by item id.
type timelineHandler struct {
	sync   *timeline.Synchronizer
	events ports.EventSink
	log    zerolog.Logger
}

func (h *timelineHandler) BotDelta(ev protocol.BotDelta) {
	h.sync.BotDelta(ev.ResponseID, ev.Delta)
}

func (h *timelineHandler) UserDelta(ev protocol.UserDelta) {
	h.sync.UserDelta(ev.ItemID, ev.Delta)
}

func (h *timelineHandler) UserCompleted(ev protocol.UserCompleted) {
	h.sync.UserCompleted(ev.ItemID, ev.Transcript)
}

func (h *timelineHandler) UserFailed(ev protocol.UserFailed) {
	h.log.Warn().Str("item_id", ev.ItemID).Str("error", ev.Error.String()).Msg("transcription failed")
	h.sync.UserFailed(ev.ItemID)
	h.events.SessionError(domain.ErrorCodeRemote, "transcription failed: "+ev.Error.String())
}

func (h *timelineHandler) TurnDone(ev protocol.TurnDone) {
	item, transcript, ok := ev.Response.FinalMessage()
	h.sync.ResponseDone(ev.Response.ID, timeline.Final{
		OutputID:      item.ID,
		Transcript:    transcript,
		HasTranscript: ok,
	})
}

func (h *timelineHandler) ServerError(ev protocol.ServerError) {
	h.log.Error().Str("error", ev.Error.String()).Msg("remote error")
	h.events.SessionError(domain.ErrorCodeRemote, ev.Error.String())
}
