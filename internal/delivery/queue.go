package delivery

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"serotonyl.ru/karma-bot/internal/metrics"
)

// Queue буферизует исходящие сообщения и разгребает их фоновой горутиной.
//
// Idle → Active (разбор пачек) → Idle, когда очередь опустела.
// Пачка — до BatchSize сообщений; каждая отправка берёт разрешение
// из семафора на BatchSize, поэтому одновременно в полёте не больше
// BatchSize отправок. Следующая пачка стартует не раньше, чем через
// Delay после старта предыдущей. Ошибка отправки логируется, сообщение
// выбрасывается, повторов нет.
type Queue struct {
	sender Sender
	clock  clockwork.Clock
	cfg    Config
	sem    *semaphore.Weighted

	mu      sync.Mutex
	backlog []Item
	active  bool
	started bool
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup // цикл разбора + отправки в полёте
}

// NewQueue создаёт очередь. До Start сообщения только копятся.
func NewQueue(sender Sender, clock clockwork.Clock, cfg Config) *Queue {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1
	}
	return &Queue{
		sender: sender,
		clock:  clock,
		cfg:    cfg,
		sem:    semaphore.NewWeighted(int64(cfg.BatchSize)),
	}
}

// Start запускает разбор очереди. ctx ограничивает жизнь цикла разбора.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started || q.closed {
		return
	}
	q.ctx, q.cancel = context.WithCancel(ctx)
	q.started = true

	log.WithFields(log.Fields{
		"batch_size": q.cfg.BatchSize,
		"delay":      q.cfg.Delay,
	}).Info("Очередь отправки запущена")

	q.kickLocked()
}

// AddMessage ставит сообщение в очередь и никогда не блокирует вызывающего.
func (q *Queue) AddMessage(chatID int64, text string, opts ...Option) {
	item := Item{
		ID:         uuid.New(),
		ChatID:     chatID,
		Text:       text,
		EnqueuedAt: q.clock.Now(),
	}
	for _, opt := range opts {
		opt(&item)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		log.WithField("chat_id", chatID).Warn("Очередь закрыта, сообщение не отправлено")
		metrics.DeliveryMessagesTotal.WithLabelValues("dropped").Inc()
		return
	}
	q.backlog = append(q.backlog, item)
	metrics.DeliveryBacklog.Set(float64(len(q.backlog)))

	q.kickLocked()
}

// Close останавливает разбор и ждёт отправки, которые уже в полёте.
// Неразобранные сообщения выбрасываются.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	dropped := len(q.backlog)
	q.backlog = nil
	cancel := q.cancel
	q.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	q.wg.Wait()

	metrics.DeliveryBacklog.Set(0)
	if dropped > 0 {
		metrics.DeliveryMessagesTotal.WithLabelValues("dropped").Add(float64(dropped))
	}
	log.WithField("dropped", dropped).Info("Очередь отправки остановлена")
}

// Len — сколько сообщений ждут отправки.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.backlog)
}

// Idle сообщает, что цикл разбора не работает.
func (q *Queue) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.active
}

// kickLocked запускает цикл разбора, если он стоит. Вызывать под q.mu.
func (q *Queue) kickLocked() {
	if !q.started || q.closed || q.active || len(q.backlog) == 0 {
		return
	}
	q.active = true
	q.wg.Add(1)
	go q.drain()
}

// nextBatch забирает до BatchSize сообщений. Пустая очередь переводит в Idle
// под той же блокировкой, чтобы AddMessage не потерял сообщение.
func (q *Queue) nextBatch() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.backlog) == 0 || q.closed {
		q.active = false
		return nil
	}
	n := min(q.cfg.BatchSize, len(q.backlog))
	batch := make([]Item, n)
	copy(batch, q.backlog[:n])
	q.backlog = q.backlog[n:]
	metrics.DeliveryBacklog.Set(float64(len(q.backlog)))
	return batch
}

func (q *Queue) stopDrain() {
	q.mu.Lock()
	q.active = false
	q.mu.Unlock()
}

func (q *Queue) drain() {
	defer q.wg.Done()

	for {
		batch := q.nextBatch()
		if batch == nil {
			return
		}

		start := q.clock.Now()
		metrics.DeliveryBatchesTotal.Inc()
		log.WithField("size", len(batch)).Debug("Отправляем пачку")

		for _, item := range batch {
			if err := q.sem.Acquire(q.ctx, 1); err != nil {
				q.stopDrain()
				return
			}
			q.wg.Add(1)
			go func(item Item) {
				defer q.wg.Done()
				defer q.sem.Release(1)
				q.dispatch(item)
			}(item)
		}

		// Следующая пачка — не раньше start + Delay
		if wait := q.cfg.Delay - q.clock.Since(start); wait > 0 {
			select {
			case <-q.clock.After(wait):
			case <-q.ctx.Done():
				q.stopDrain()
				return
			}
		}
	}
}

// dispatch отправляет одно сообщение. Ошибка или паника не влияют на соседей по пачке.
func (q *Queue) dispatch(item Item) {
	fields := log.Fields{
		"chat_id": item.ChatID,
		"item_id": item.ID,
	}
	defer func() {
		if r := recover(); r != nil {
			metrics.DeliveryMessagesTotal.WithLabelValues("failed").Inc()
			log.WithFields(fields).WithFields(log.Fields{
				"panic": fmt.Sprintf("%v", r),
				"stack": string(debug.Stack()),
			}).Error("ПАНИКА при отправке сообщения — восстановлено")
		}
	}()

	// Close не обрывает отправки, которые уже начались
	ctx := context.WithoutCancel(q.ctx)
	if q.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.cfg.SendTimeout)
		defer cancel()
	}

	started := time.Now()
	err := q.sender.Send(ctx, item)
	metrics.DeliverySendDuration.Observe(time.Since(started).Seconds())

	if err != nil {
		metrics.DeliveryMessagesTotal.WithLabelValues("failed").Inc()
		log.WithError(err).WithFields(fields).Warn("Не удалось отправить сообщение, выбрасываем")
		return
	}
	metrics.DeliveryMessagesTotal.WithLabelValues("sent").Inc()
}
