package transcript

import "time"

type storeOptions struct {
	now func() time.Time
}

// Option 定制进程内存储。
type Option func(*storeOptions)

// WithClock 替换存储端分配时间戳所用的时钟。
func WithClock(now func() time.Time) Option {
	return func(o *storeOptions) {
		if now != nil {
			o.now = now
		}
	}
}

func applyOptions(opts []Option) storeOptions {
	o := storeOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
