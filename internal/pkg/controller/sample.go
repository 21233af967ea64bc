package controller

import (
	"sync"
	"time"
)

// PowerSample 最近一次收到的功率值(瓦)，不做过期处理
type PowerSample struct {
	mu      sync.Mutex
	value   int
	updated time.Time
}

func (p *PowerSample) Set(watts int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.value = watts
	p.updated = time.Now()
}

// Get 返回功率值和更新时间，从未更新时时间为零值
func (p *PowerSample) Get() (int, time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value, p.updated
}
