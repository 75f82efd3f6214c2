package chat

import (
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"lanmeet/server/internal/protocol"
	"lanmeet/server/internal/session"
)

// Router fans chat and system lines out to control connections. Sends happen
// over a roster snapshot with the registry lock released; each send is
// bounded by the participant's write timeout, so one stalled peer delays no
// other recipient beyond that bound. A failed send reports the peer through
// onPeerGone and is never retried.
type Router struct {
	reg     *session.Registry
	history *History

	// onPeerGone is called, outside any router lock, with the id of a
	// participant whose control write failed. The supervisor removes it
	// asynchronously.
	onPeerGone func(id uint32)

	groupMsgs   atomic.Uint64
	privateMsgs atomic.Uint64
	systemMsgs  atomic.Uint64
	sendErrs    atomic.Uint64
}

// NewRouter wires the router to the registry. onPeerGone may be nil.
func NewRouter(reg *session.Registry, onPeerGone func(id uint32)) *Router {
	return &Router{
		reg:        reg,
		history:    &History{},
		onPeerGone: onPeerGone,
	}
}

// History exposes the retained group conversation.
func (r *Router) History() *History { return r.history }

func (r *Router) send(p *session.Participant, line []byte) {
	if err := p.Send(line); err != nil {
		r.sendErrs.Add(1)
		slog.Warn("control send failed", "id", p.ID, "err", err)
		if r.onPeerGone != nil {
			r.onPeerGone(p.ID)
		}
	}
}

func (r *Router) broadcast(line []byte) {
	for _, p := range r.reg.Snapshot() {
		r.send(p, line)
	}
}

// BroadcastGroup appends a group message to the history and delivers it to
// every participant, the sender included; the echo doubles as the sender's
// delivery confirmation.
func (r *Router) BroadcastGroup(senderID uint32, username, body string) {
	m := r.history.Append(Message{
		SenderID: senderID,
		Username: username,
		Stamp:    protocol.Timestamp(time.Now()),
		Body:     body,
	})
	r.groupMsgs.Add(1)
	r.broadcast(protocol.EncodeChat(m.SenderID, m.Username, m.Stamp, m.Body))
}

// SendPrivate delivers a private message to each named recipient and echoes
// it to the sender. Unknown recipient ids are ignored; the rendered line
// carries the usernames that actually resolved. Private traffic is not
// retained in the history.
func (r *Router) SendPrivate(senderID uint32, username string, recipientIDs []uint32, body string) {
	targets := make([]*session.Participant, 0, len(recipientIDs)+1)
	names := make([]string, 0, len(recipientIDs))
	for _, id := range recipientIDs {
		if id == senderID {
			continue
		}
		p, ok := r.reg.Get(id)
		if !ok {
			continue
		}
		targets = append(targets, p)
		names = append(names, p.Username)
	}
	if sender, ok := r.reg.Get(senderID); ok {
		targets = append(targets, sender)
	}

	r.privateMsgs.Add(1)
	line := protocol.EncodePrivate(senderID, username,
		protocol.Timestamp(time.Now()), strings.Join(names, ","), body)
	for _, p := range targets {
		r.send(p, line)
	}
}

// System broadcasts a SYSTEM notice to every participant.
func (r *Router) System(body string) {
	r.systemMsgs.Add(1)
	r.broadcast(protocol.EncodeSystem(body))
}

// BroadcastRoster sends the current roster snapshot to every participant.
func (r *Router) BroadcastRoster() {
	snap := r.reg.Snapshot()
	entries := make([]protocol.RosterEntry, len(snap))
	for i, p := range snap {
		entries[i] = protocol.RosterEntry{ID: p.ID, Username: p.Username}
	}
	r.broadcast(protocol.EncodeRoster(entries))
}

// BroadcastPresenter announces the current presenter, or NONE.
func (r *Router) BroadcastPresenter(id uint32, present bool) {
	r.broadcast(protocol.EncodePresenter(id, present))
}

// BroadcastFileOffer announces a newly published catalog entry.
func (r *Router) BroadcastFileOffer(fileID uint32, filename string, size int64, uploaderName string, uploaderID uint32) {
	r.broadcast(protocol.EncodeFileOffer(fileID, filename, size, uploaderName, uploaderID))
}

// BroadcastFileDeleted announces a catalog removal.
func (r *Router) BroadcastFileDeleted(fileID uint32) {
	r.broadcast(protocol.EncodeFileDeleted(fileID))
}

// SendHistory replays the group history to one participant, bracketed by the
// HISTORY_BEGIN and HISTORY_END markers. The first write error aborts the
// replay and is returned; admission treats that as the peer being gone.
func (r *Router) SendHistory(p *session.Participant) error {
	if err := p.Send(protocol.EncodeHistoryBegin()); err != nil {
		return err
	}
	for _, m := range r.history.Snapshot() {
		if err := p.Send(protocol.EncodeChat(m.SenderID, m.Username, m.Stamp, m.Body)); err != nil {
			return err
		}
	}
	return p.Send(protocol.EncodeHistoryEnd())
}

// Stats returns message counts accumulated since the last call and resets
// them.
func (r *Router) Stats() (group, private, system, sendErrs uint64) {
	return r.groupMsgs.Swap(0), r.privateMsgs.Swap(0), r.systemMsgs.Swap(0), r.sendErrs.Swap(0)
}
