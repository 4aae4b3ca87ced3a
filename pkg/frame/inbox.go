package frame

import (
	"github.com/rs/zerolog/log"
	"github.com/sasha-s/go-deadlock"
)

const DefaultInboxSize = 256

// Inbox hands packets from the network goroutine to the simulation thread.
type Inbox struct {
	mutex   deadlock.Mutex
	packets [][]byte
	limit   int
	dropped int
}

func NewInbox(limit int) *Inbox {
	if limit <= 0 {
		limit = DefaultInboxSize
	}
	return &Inbox{limit: limit}
}

// Push queues a packet. A full inbox drops the packet; frames are
// superseded by the next one anyway.
func (i *Inbox) Push(packet []byte) bool {
	i.mutex.Lock()
	defer i.mutex.Unlock()

	if len(i.packets) >= i.limit {
		i.dropped++
		return false
	}

	i.packets = append(i.packets, packet)
	return true
}

// Drain takes every queued packet in arrival order.
func (i *Inbox) Drain() [][]byte {
	i.mutex.Lock()
	defer i.mutex.Unlock()

	packets := i.packets
	i.packets = nil
	return packets
}

func (i *Inbox) Len() int {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	return len(i.packets)
}

func (i *Inbox) Dropped() int {
	i.mutex.Lock()
	defer i.mutex.Unlock()
	return i.dropped
}

// Update runs once per tick on the simulation thread and applies everything
// that arrived since the last tick. It returns how many packets it handled.
func Update(inbox *Inbox, receiver *Receiver) int {
	packets := inbox.Drain()
	for _, packet := range packets {
		err := receiver.HandlePacket(packet)
		if err != nil {
			log.Trace().Err(err).Msg("packet not applied")
		}
	}
	return len(packets)
}
