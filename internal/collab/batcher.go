package collab

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/WillKirkmanM/draw/internal/protocol"
	"github.com/WillKirkmanM/draw/internal/shape"
)

const (
	// 本地变更的冲刷周期。
	defaultFlushInterval = 50 * time.Millisecond

	// 光标更新的最小间隔：窗口内的移动被跳过，不延迟补发。
	defaultCursorInterval = 100 * time.Millisecond

	// 断线时挂起队列的上限，超出后丢弃最旧的记录。
	// 原始实现不设上限，断线期间会无限增长。
	defaultMaxPendingChanges = 4096
)

// sender 是 Batcher 和 Reconciler 对外发送所需的最小接口，
// 由 Manager 实现；测试可以注入伪实现。
type sender interface {
	Connected() bool
	ClientID() string
	RoomID() string
	Send(v interface{}) error
}

// BatcherOptions 配置 Batcher，零值字段使用默认值。
type BatcherOptions struct {
	FlushInterval     time.Duration
	CursorInterval    time.Duration
	MaxPendingChanges int
}

// Batcher 把本地文档变更的速率与网络消息速率解耦：
// 变更先进入内存队列，按固定周期整体打包成一条 batch_changes。
// 光标更新走独立的即时路径，只做客户端侧限速。
type Batcher struct {
	sess sender

	interval   time.Duration
	cursorGap  time.Duration
	maxPending int

	mu      sync.Mutex
	pending []protocol.ChangeRecord

	cursorMu   sync.Mutex
	lastCursor time.Time

	// 时钟注入点，测试用；默认 time.Now。
	now func() time.Time

	stop     chan struct{}
	stopOnce sync.Once

	log *logrus.Entry
}

// NewBatcher 创建 Batcher 实例。
func NewBatcher(sess sender, opts BatcherOptions) *Batcher {
	if sess == nil {
		panic("sender cannot be nil for Batcher")
	}
	interval := opts.FlushInterval
	if interval <= 0 {
		interval = defaultFlushInterval
	}
	cursorGap := opts.CursorInterval
	if cursorGap <= 0 {
		cursorGap = defaultCursorInterval
	}
	maxPending := opts.MaxPendingChanges
	if maxPending <= 0 {
		maxPending = defaultMaxPendingChanges
	}
	return &Batcher{
		sess:       sess,
		interval:   interval,
		cursorGap:  cursorGap,
		maxPending: maxPending,
		now:        time.Now,
		stop:       make(chan struct{}),
		log:        logrus.WithField("component", "batcher"),
	}
}

// Run 启动冲刷循环，应在单独的 goroutine 中运行，直到 Stop。
func (b *Batcher) Run() {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.flush()
		case <-b.stop:
			return
		}
	}
}

// Stop 终止冲刷循环。队列中未发送的记录随之丢弃。
func (b *Batcher) Stop() {
	b.stopOnce.Do(func() { close(b.stop) })
}

// QueueAdd 为新增形状入队一条变更记录。
func (b *Batcher) QueueAdd(s shape.Shape) error {
	return b.queueShapeChange(protocol.ChangeAdd, s)
}

// QueueUpdate 为修改过的形状入队一条变更记录。
func (b *Batcher) QueueUpdate(s shape.Shape) error {
	return b.queueShapeChange(protocol.ChangeUpdate, s)
}

// QueueDelete 为删除的形状入队一条变更记录。
func (b *Batcher) QueueDelete(shapeID string) error {
	rec, err := protocol.NewDeleteChange(shapeID, b.now())
	if err != nil {
		return err
	}
	b.enqueue(rec)
	return nil
}

func (b *Batcher) queueShapeChange(changeType string, s shape.Shape) error {
	raw, err := shape.Marshal(s)
	if err != nil {
		return err
	}
	rec, err := protocol.NewShapeChange(changeType, raw, b.now())
	if err != nil {
		return err
	}
	b.enqueue(rec)
	return nil
}

func (b *Batcher) enqueue(rec protocol.ChangeRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, rec)
	if len(b.pending) > b.maxPending {
		dropped := len(b.pending) - b.maxPending
		b.pending = b.pending[dropped:]
		b.log.Warnf("Pending change queue over %d entries, dropped %d oldest", b.maxPending, dropped)
	}
}

// flush 把整个队列作为一条 batch_changes 发送。
// 未连接或尚未进入房间时队列原样保留，等下一个周期重试；
// 一旦冲刷，队列被原子清空，发送失败也不回写（无确认、无重试）。
func (b *Batcher) flush() {
	if !b.sess.Connected() {
		return
	}
	roomID := b.sess.RoomID()
	if roomID == "" {
		return
	}

	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	changes := b.pending
	b.pending = nil
	b.mu.Unlock()

	msg := protocol.BatchChanges{
		Type:     protocol.TypeBatchChanges,
		ClientID: b.sess.ClientID(),
		RoomID:   roomID,
		Changes:  changes,
	}
	if err := b.sess.Send(msg); err != nil {
		b.log.WithError(err).WithField("changes", len(changes)).Warn("Failed to send batch, records discarded")
	}
}

// SendCursor 立即发送一次光标位置，受 100ms 窗口限速。
// 落在窗口内的移动被整个跳过：传输的是到达窗口边界那一刻的位置，
// 不是窗口内最后一次被丢弃的位置。
func (b *Batcher) SendCursor(x, y float64) {
	if !b.sess.Connected() {
		return
	}
	roomID := b.sess.RoomID()
	if roomID == "" {
		return
	}

	b.cursorMu.Lock()
	now := b.now()
	if !b.lastCursor.IsZero() && now.Sub(b.lastCursor) < b.cursorGap {
		b.cursorMu.Unlock()
		return
	}
	b.lastCursor = now
	b.cursorMu.Unlock()

	msg := protocol.CursorUpdate{
		Type:     protocol.TypeCursorUpdate,
		ClientID: b.sess.ClientID(),
		RoomID:   roomID,
		X:        x,
		Y:        y,
	}
	if err := b.sess.Send(msg); err != nil {
		b.log.WithError(err).Debug("Failed to send cursor update")
	}
}
