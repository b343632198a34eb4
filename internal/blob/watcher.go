package blob

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher 监听 blob 根目录的写入事件，为每个新落盘的 .eml 产生一个
// 投递触发。触发语义是 at-least-once：同一个键可能被重复发出，
// 消费方（投递状态机）必须自行幂等。
type Watcher struct {
	root   string
	events chan string
	log    *zap.Logger
}

// NewWatcher 创建监听器。root 必须是文件系统 blob 存储的根目录。
func NewWatcher(root string, log *zap.Logger) *Watcher {
	return &Watcher{
		root:   root,
		events: make(chan string, 256),
		log:    log,
	}
}

// Events 返回存储键通道。Run 退出时关闭。
func (w *Watcher) Events() <-chan string {
	return w.events
}

// Run 阻塞运行监听，直到 ctx 取消。
// fsnotify 不递归，键按 alias/YYYY/MM/DD 分区逐级建目录，
// 所以每个新建目录都要补挂监听。
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	defer close(w.events)

	if err := w.watchTree(watcher, w.root); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			w.handle(watcher, event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("blob watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handle(watcher *fsnotify.Watcher, event fsnotify.Event) {
	if !event.Has(fsnotify.Create) {
		return
	}

	info, err := os.Stat(event.Name)
	if err != nil {
		return
	}

	if info.IsDir() {
		if err := w.watchTree(watcher, event.Name); err != nil {
			w.log.Warn("failed to watch new blob directory",
				zap.String("path", event.Name), zap.Error(err))
		}
		return
	}

	if !strings.HasSuffix(event.Name, ".eml") {
		return
	}

	rel, err := filepath.Rel(w.root, event.Name)
	if err != nil {
		return
	}
	key := filepath.ToSlash(rel)

	select {
	case w.events <- key:
	default:
		// 队列满时丢弃触发；摄取侧的下一次重投会再次产生这个键
		w.log.Warn("blob event queue full, dropping trigger", zap.String("key", key))
	}
}

// watchTree 为 dir 及其全部子目录挂监听，并补发挂监听前已存在的 .eml。
func (w *Watcher) watchTree(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // 目录可能在遍历期间被并发创建或删除
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}
