package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"nhooyr.io/websocket"

	"drivechain/core/feed"
	"drivechain/core/notify"
	"drivechain/services/ledgerd/api"
)

const maxEventPage = 1000

// ListEvents returns change feed entries filtered by ?kind=, ?from=, ?to= and
// ?limit=. kind may repeat or be comma separated.
func (s *Server) ListEvents(w http.ResponseWriter, r *http.Request) {
	q, err := parseFeedQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	entries, err := s.authorityFor(r).Events(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := api.EventList{Head: s.engine.Journal().Head(), Entries: make([]api.EventEntry, 0, len(entries))}
	for _, e := range entries {
		out.Entries = append(out.Entries, api.FromEntry(e))
	}
	writeData(w, http.StatusOK, out)
}

func parseFeedQuery(r *http.Request) (feed.Query, error) {
	values := r.URL.Query()
	q := feed.Query{Limit: maxEventPage}
	for _, raw := range values["kind"] {
		for _, kind := range strings.Split(raw, ",") {
			if kind = strings.TrimSpace(kind); kind != "" {
				q.Kinds = append(q.Kinds, kind)
			}
		}
	}
	var err error
	if q.From, err = parseUintParam(values.Get("from")); err != nil {
		return feed.Query{}, invalid("from: %v", err)
	}
	if q.To, err = parseUintParam(values.Get("to")); err != nil {
		return feed.Query{}, invalid("to: %v", err)
	}
	if raw := values.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return feed.Query{}, invalid("limit %q", raw)
		}
		if limit < maxEventPage {
			q.Limit = limit
		}
	}
	if q.To != 0 && q.To < q.From {
		return feed.Query{}, invalid("to %d precedes from %d", q.To, q.From)
	}
	return q, nil
}

func parseUintParam(raw string) (uint64, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, nil
	}
	return strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
}

// StreamEvents upgrades to a websocket and pushes committed events. With
// ?from= the journal backlog from that sequence is sent first. A client that
// falls behind the buffer is disconnected and should reconnect from its last
// sequence.
func (s *Server) StreamEvents(w http.ResponseWriter, r *http.Request) {
	if s.notifier == nil {
		http.Error(w, "event stream unavailable", http.StatusServiceUnavailable)
		return
	}
	from, err := parseUintParam(r.URL.Query().Get("from"))
	if err != nil {
		s.writeError(w, r, invalid("from: %v", err))
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")
	ctx := conn.CloseRead(r.Context())
	if err := s.streamEvents(ctx, conn, from); err != nil {
		if errors.Is(err, errSlowConsumer) {
			_ = conn.Close(websocket.StatusPolicyViolation, "consumer too slow")
			return
		}
		if status := websocket.CloseStatus(err); status == -1 && ctx.Err() == nil {
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

var errSlowConsumer = errors.New("stream consumer too slow")

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, from uint64) error {
	updates := make(chan api.EventEntry, s.streamBuffer)
	overflow := make(chan struct{})
	var overflowed bool
	sub := s.notifier.Subscribe("ws-stream", notify.ObserverFunc(func(_ context.Context, n notify.Notification) error {
		if overflowed || n.Event == nil {
			return nil
		}
		evt := n.Event.Event()
		select {
		case updates <- api.EventEntry{Sequence: n.Sequence, Time: n.Time.UTC(), Type: evt.Type, Attributes: evt.Attributes}:
		default:
			overflowed = true
			close(overflow)
		}
		return nil
	}))
	defer sub.Unsubscribe()

	var last uint64
	if from > 0 {
		err := s.engine.Journal().Scan(from, func(e feed.Entry) (bool, error) {
			if err := s.writeEntry(ctx, conn, api.FromEntry(e)); err != nil {
				return false, err
			}
			last = e.Sequence
			return true, nil
		})
		if err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-overflow:
			return errSlowConsumer
		case entry := <-updates:
			if entry.Sequence != 0 && entry.Sequence <= last {
				continue
			}
			if err := s.writeEntry(ctx, conn, entry); err != nil {
				return err
			}
		}
	}
}

func (s *Server) writeEntry(ctx context.Context, conn *websocket.Conn, entry api.EventEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, s.streamTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
