// Package sigchan 合并式信号 channel：多次 Emit 在消费前只保留有限个。
package sigchan

// Chan 非阻塞信号 channel，只通知不传数据
type Chan struct {
	c chan struct{}
}

// New 创建信号 channel；bufferSize 为 1 时连续信号合并为一次。
func New(bufferSize int) *Chan {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Chan{c: make(chan struct{}, bufferSize)}
}

// Emit 发送信号，缓冲已满时丢弃。返回是否入队。
func (c *Chan) Emit() bool {
	select {
	case c.c <- struct{}{}:
		return true
	default:
		return false
	}
}

// C 用于 select
func (c *Chan) C() <-chan struct{} {
	return c.c
}

// Pending 尚未消费的信号数
func (c *Chan) Pending() int {
	return len(c.c)
}
