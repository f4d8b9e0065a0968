package session

import (
	"fmt"
	"sort"

	"github.com/zhouzirui/pmdesk/realtime/internal/clock"
	"github.com/zhouzirui/pmdesk/realtime/internal/model/chat"
	"github.com/zhouzirui/pmdesk/realtime/internal/service/messages"
	"github.com/zhouzirui/pmdesk/realtime/internal/service/presence"
	"github.com/zhouzirui/pmdesk/realtime/internal/service/typing"
	"github.com/zhouzirui/pmdesk/realtime/internal/transport"
)

// Room is the state of one joined chat room. Its stores are touched only
// from the session event loop.
type Room struct {
	name     string
	messages *messages.Store
	presence *presence.Tracker
	typing   *typing.Tracker
	signaler *typing.Signaler
	channel  *transport.Reconnector
	sweep    *clock.Ticker
	stop     chan struct{}
}

// JoinRoom opens the channel of a room. Joining a room twice is a no-op.
func (s *Session) JoinRoom(name string) error {
	if !chat.ValidRoomName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidRoom, name)
	}
	return s.Do(func() { s.joinLocked(name) })
}

// LeaveRoom closes a room's channel and drops its state.
func (s *Session) LeaveRoom(name string) error {
	var err error
	if doErr := s.Do(func() {
		room, ok := s.rooms[name]
		if !ok {
			err = fmt.Errorf("%w: %s", ErrUnknownRoom, name)
			return
		}
		room.close()
		delete(s.rooms, name)
	}); doErr != nil {
		return doErr
	}
	return err
}

// Rooms returns the joined room names.
func (s *Session) Rooms() []string {
	var names []string
	_ = s.Do(func() {
		for name := range s.rooms {
			names = append(names, name)
		}
	})
	sort.Strings(names)
	return names
}

func (s *Session) joinLocked(name string) {
	if _, ok := s.rooms[name]; ok {
		return
	}
	room := &Room{
		name:     name,
		messages: messages.NewStore(name, s.opts.MessageCapacity),
		presence: presence.NewTracker(),
		typing:   typing.NewTracker(s.opts.TypingTTL),
		stop:     make(chan struct{}),
	}
	s.rooms[name] = room

	room.channel = s.openChannel(chat.Topic(name), room)
	room.signaler = typing.NewSignaler(s.clock, s.opts.TypingTTL, room.channel.Send)

	room.sweep = s.clock.NewTicker(s.opts.SweepInterval)
	go s.sweepLoop(room)

	s.log.Info("room joined", "room", name)
}

func (s *Session) sweepLoop(room *Room) {
	for {
		select {
		case <-room.stop:
			return
		case <-s.quit:
			return
		case <-room.sweep.C:
			s.post(func() {
				if n := room.typing.Sweep(s.clock.Now()); n > 0 {
					s.log.Debug("typing entries expired", "room", room.name, "count", n)
				}
			})
		}
	}
}

// close cancels the room's reconnect timer, typing timers and sweep.
func (r *Room) close() {
	select {
	case <-r.stop:
		return
	default:
	}
	close(r.stop)
	r.sweep.Stop()
	r.signaler.Close()
	r.channel.Close()
}

func (s *Session) room(name string) (*Room, error) {
	room, ok := s.rooms[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRoom, name)
	}
	return room, nil
}
