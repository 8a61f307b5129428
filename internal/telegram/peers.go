package telegram

import (
	"fmt"
	"sync"

	"github.com/gotd/td/tg"
)

// channelMarkOffset shifts channel identifiers into their own negative range
// so one int64 carries both the peer type and the id. -100 is a basic group
// chat with id 100, -1000000000042 is channel 42, positive ids are users.
const channelMarkOffset = int64(1000000000000)

// PeerCache remembers the access hashes carried by update entities. Sends
// address peers by their marked id; without the hash seen on an inbound
// update, a user or channel cannot be addressed at all.
type PeerCache struct {
	mu       sync.Mutex
	users    map[int64]int64
	channels map[int64]int64
}

func NewPeerCache() *PeerCache {
	return &PeerCache{
		users:    map[int64]int64{},
		channels: map[int64]int64{},
	}
}

// Apply records every user and channel hash present in one update's entities.
func (c *PeerCache) Apply(entities tg.Entities) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, user := range entities.Users {
		c.users[id] = user.AccessHash
	}
	for id, channel := range entities.Channels {
		c.channels[id] = channel.AccessHash
	}
}

// SeedSelf registers the authorized account so replies to the owner work
// before any update from them has been observed.
func (c *PeerCache) SeedSelf(user *tg.User) {
	if user == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users[user.ID] = user.AccessHash
}

// InputPeer resolves a marked chat id into an addressable peer.
func (c *PeerCache) InputPeer(chatID int64) (tg.InputPeerClass, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case chatID < -channelMarkOffset:
		channelID := -chatID - channelMarkOffset
		hash, ok := c.channels[channelID]
		if !ok {
			return nil, fmt.Errorf("no access hash for channel %d", channelID)
		}
		return &tg.InputPeerChannel{ChannelID: channelID, AccessHash: hash}, nil
	case chatID < 0:
		return &tg.InputPeerChat{ChatID: -chatID}, nil
	case chatID > 0:
		hash, ok := c.users[chatID]
		if !ok {
			return nil, fmt.Errorf("no access hash for user %d", chatID)
		}
		return &tg.InputPeerUser{UserID: chatID, AccessHash: hash}, nil
	default:
		return nil, fmt.Errorf("invalid chat id 0")
	}
}

// markedPeerID folds a typed peer into the single-int64 convention InputPeer
// understands.
func markedPeerID(peer tg.PeerClass) int64 {
	switch p := peer.(type) {
	case *tg.PeerUser:
		return p.UserID
	case *tg.PeerChat:
		return -p.ChatID
	case *tg.PeerChannel:
		return -(p.ChannelID + channelMarkOffset)
	default:
		return 0
	}
}
