// Package stream 实现聊天响应的增量分发管道。
//
// Emitter 是一个显式状态机（IDLE → STREAMING → DONE）。分发模式在流
// 启动时二选一：透传模式把上游的增量分块原样转发；模拟模式把一段完整
// 文本按词切分、定时下发累积前缀，使前端在上游不支持真流式时获得同样
// 的渲染契约。Done 事件之后不允许再产生任何事件。
package stream

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// State 是 Emitter 的生命周期状态。
type State int

const (
	StateIdle State = iota
	StateStreaming
	StateDone
)

// Mode 是流启动时选定的分发模式。
type Mode int

const (
	// RealStream 透传上游的真实增量分块。
	RealStream Mode = iota
	// SimulatedStream 对完整文本做定时的逐词回放。
	SimulatedStream
)

// DefaultInterval 是模拟模式下相邻分块之间的默认间隔。
const DefaultInterval = 100 * time.Millisecond

// ErrDone 表示在流结束之后继续产生事件。
var ErrDone = errors.New("stream: emitter already done")

// Event 是分发管道中的单个事件。
type Event struct {
	Content string `json:"content"`
	Done    bool   `json:"done"`
}

// Emitter 按严格顺序向单个消费者分发 Event。
// 所有退出路径（正常完成、取消、错误）都会关闭事件通道并停止计时器。
type Emitter struct {
	mu    sync.Mutex
	state State
	err   error
	out   chan Event
	once  sync.Once
}

// NewEmitter 创建一个带缓冲事件通道的 Emitter。
func NewEmitter(buffer int) *Emitter {
	if buffer < 0 {
		buffer = 0
	}
	return &Emitter{out: make(chan Event, buffer)}
}

// Events 返回事件通道。终止事件（Done=true）之后通道被关闭。
func (e *Emitter) Events() <-chan Event {
	return e.out
}

// State 返回当前状态。
func (e *Emitter) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Err 返回导致流提前终止的错误，正常完成时为 nil。
func (e *Emitter) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Send 发送一个非终止事件，首个事件把状态推进到 STREAMING。
// ctx 取消时立即停止并进入 DONE(error)，不再产生任何事件。
func (e *Emitter) Send(ctx context.Context, content string) error {
	return e.emit(ctx, Event{Content: content})
}

// Finish 发送携带完整文本的终止事件并关闭通道。
func (e *Emitter) Finish(ctx context.Context, full string) error {
	if err := e.emit(ctx, Event{Content: full, Done: true}); err != nil {
		return err
	}
	e.mu.Lock()
	e.state = StateDone
	e.mu.Unlock()
	e.close()
	return nil
}

// Fail 以错误终止流：不发送终止事件，直接关闭通道。
func (e *Emitter) Fail(err error) {
	e.mu.Lock()
	if e.state == StateDone {
		e.mu.Unlock()
		return
	}
	e.state = StateDone
	e.err = err
	e.mu.Unlock()
	e.close()
}

// Simulate 以模拟模式回放一段完整文本：按空白切词，每个 interval 下发
// 一个累积前缀（单空格连接），最后下发携带完整文本的终止事件。
// n 个词产生恰好 n 个非终止事件加 1 个终止事件。
func (e *Emitter) Simulate(ctx context.Context, text string, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	words := strings.Fields(text)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for i := range words {
		select {
		case <-ctx.Done():
			e.Fail(ctx.Err())
			return ctx.Err()
		case <-ticker.C:
		}
		if err := e.Send(ctx, strings.Join(words[:i+1], " ")); err != nil {
			return err
		}
	}
	return e.Finish(ctx, text)
}

// emit 是所有事件的唯一出口，保证顺序与 Done 之后无事件的约束。
func (e *Emitter) emit(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		e.Fail(err)
		return err
	}
	e.mu.Lock()
	if e.state == StateDone {
		e.mu.Unlock()
		return ErrDone
	}
	e.state = StateStreaming
	e.mu.Unlock()

	select {
	case <-ctx.Done():
		e.Fail(ctx.Err())
		return ctx.Err()
	case e.out <- ev:
		return nil
	}
}

func (e *Emitter) close() {
	e.once.Do(func() { close(e.out) })
}
