package history

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	xerrors "OpenBoBS/internal/errors"
	"OpenBoBS/internal/storage"
	"OpenBoBS/pkg/logger"
)

// Key 是历史记录在持久化存储中的键。
const Key = "openbobs-workflow-history"

// DefaultCapacity 是历史记录的默认容量。
const DefaultCapacity = 20

// CodeIndexOutOfRange 表示回放的历史位置不存在。
const CodeIndexOutOfRange xerrors.Code = "HISTORY_INDEX_OUT_OF_RANGE"

// ErrIndexOutOfRange 可用于 errors.Is 判断。
var ErrIndexOutOfRange = xerrors.New(CodeIndexOutOfRange, "history index out of range")

func init() {
	xerrors.Register(CodeIndexOutOfRange, xerrors.Attributes{
		Message:  "history index out of range",
		Severity: xerrors.SeverityInfo,
	})
}

// Mode 标识一次提交的来源。
type Mode string

const (
	ModeManual   Mode = "manual"
	ModePlaybook Mode = "playbook"
	ModeReplay   Mode = "replay"
)

// ParseMode 解析模式字符串，空字符串视为 manual。
func ParseMode(raw string) (Mode, error) {
	switch Mode(raw) {
	case "", ModeManual:
		return ModeManual, nil
	case ModePlaybook, ModeReplay:
		return Mode(raw), nil
	default:
		return "", xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("未知的模式 %q", raw))
	}
}

// Entry 是一条历史记录。
type Entry struct {
	Task string    `json:"task"`
	At   time.Time `json:"at"`
	Mode Mode      `json:"mode"`
}

// Log 是定长、最新在前的历史记录，每次变更后写入存储。
type Log struct {
	mu       sync.RWMutex
	store    storage.Store
	entries  []Entry
	capacity int
	now      func() time.Time
	logger   *slog.Logger
}

// Option 定义 Log 的可选配置。
type Option func(*Log)

// WithCapacity 设置容量。
func WithCapacity(n int) Option {
	return func(l *Log) {
		if n > 0 {
			l.capacity = n
		}
	}
}

// WithClock 替换时间来源。
func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLogger 替换默认日志器。
func WithLogger(lg *slog.Logger) Option {
	return func(l *Log) {
		if lg != nil {
			l.logger = lg
		}
	}
}

// New 创建空的历史记录。
func New(store storage.Store, opts ...Option) *Log {
	l := &Log{
		store:    store,
		capacity: DefaultCapacity,
		now:      time.Now,
		logger:   logger.Named("history"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

// Load 从存储读取历史。键不存在或内容损坏时为空，模式未知的记录被丢弃，缺省模式视为 manual。
func (l *Log) Load(ctx context.Context) error {
	data, err := l.store.Get(ctx, Key)
	if err != nil {
		if stdErrors.Is(err, storage.ErrNotFound) {
			l.replace(nil)
			return nil
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取历史记录失败")
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		l.logger.Warn("历史记录损坏，已忽略", slog.Any("error", err))
		l.replace(nil)
		return nil
	}
	valid := entries[:0]
	for _, e := range entries {
		mode, err := ParseMode(string(e.Mode))
		if err != nil {
			l.logger.Warn("丢弃未知模式的历史记录", slog.String("mode", string(e.Mode)))
			continue
		}
		e.Mode = mode
		valid = append(valid, e)
	}
	if len(valid) > l.capacity {
		valid = valid[:l.capacity]
	}
	l.replace(valid)
	return nil
}

func (l *Log) replace(entries []Entry) {
	l.mu.Lock()
	l.entries = entries
	l.mu.Unlock()
}

// Add 在头部插入记录并截断到容量，然后写入存储。写入失败时不改变内存状态。
func (l *Log) Add(ctx context.Context, task string, mode Mode) (Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := Entry{Task: task, At: l.now().UTC(), Mode: mode}
	next := make([]Entry, 0, min(len(l.entries)+1, l.capacity))
	next = append(next, entry)
	next = append(next, l.entries...)
	if len(next) > l.capacity {
		next = next[:l.capacity]
	}

	payload, err := json.Marshal(next)
	if err != nil {
		return Entry{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化历史记录失败")
	}
	if err := l.store.Set(ctx, Key, payload); err != nil {
		return Entry{}, xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存历史记录失败")
	}
	l.entries = next
	return entry, nil
}

// Replay 返回指定位置的记录，不修改历史。
func (l *Log) Replay(index int) (Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index < 0 || index >= len(l.entries) {
		return Entry{}, xerrors.New(CodeIndexOutOfRange,
			fmt.Sprintf("history index %d out of range (%d entries)", index, len(l.entries)),
			xerrors.WithMetadata("index", fmt.Sprint(index)))
	}
	return l.entries[index], nil
}

// Entries 返回最新在前的副本。
func (l *Log) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Entry(nil), l.entries...)
}

// Len 返回记录数。
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
