package abuse

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// cooldownSweepInterval — как часто вычищаем истёкшие отметки.
const cooldownSweepInterval = time.Minute

type cooldownKey struct {
	groupID int64
	userID  int64
}

// CooldownCache не даёт одному участнику менять карму чаще раза в ttl
// в одном чате. Хранится в памяти процесса: при нескольких инстансах
// бота у каждого свой кэш.
type CooldownCache struct {
	mu    sync.Mutex
	until map[cooldownKey]time.Time
	ttl   time.Duration
	clock clockwork.Clock

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewCooldownCache создаёт кэш и запускает фоновую очистку.
// Close надо вызывать на shutdown.
func NewCooldownCache(clock clockwork.Clock, ttl time.Duration) *CooldownCache {
	c := &CooldownCache{
		until:  make(map[cooldownKey]time.Time),
		ttl:    ttl,
		clock:  clock,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Mark ставит отметку «только что менял карму».
func (c *CooldownCache) Mark(groupID, userID int64) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.until[cooldownKey{groupID, userID}] = c.clock.Now().Add(c.ttl)
}

// Active сообщает, что кулдаун ещё не прошёл.
func (c *CooldownCache) Active(groupID, userID int64) bool {
	return c.Remaining(groupID, userID) > 0
}

// Remaining — сколько осталось ждать (0, если можно).
func (c *CooldownCache) Remaining(groupID, userID int64) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	until, ok := c.until[cooldownKey{groupID, userID}]
	if !ok {
		return 0
	}
	left := until.Sub(c.clock.Now())
	if left <= 0 {
		return 0
	}
	return left
}

// Len — число живых и ещё не вычищенных отметок.
func (c *CooldownCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.until)
}

// Close останавливает фоновую очистку и ждёт её завершения.
func (c *CooldownCache) Close() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	<-c.done
}

func (c *CooldownCache) cleanup() {
	defer close(c.done)

	ticker := c.clock.NewTicker(cooldownSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.Chan():
			c.sweep()
		}
	}
}

func (c *CooldownCache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	for key, until := range c.until {
		if !now.Before(until) {
			delete(c.until, key)
		}
	}
}
