package livequery

import (
	"context"
	"crypto/sha256"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"golang.org/x/exp/maps"

	"gopkg.in/yaml.v3"
)

func DefaultDirStoreSettings() *DirStoreSettings {
	return &DirStoreSettings{
		// editors typically emit several events per save
		Debounce: 50 * time.Millisecond,
	}
}

type DirStoreSettings struct {
	// quiet period after a file event before the directory is rescanned
	Debounce time.Duration
}

// a directory-backed store: one yaml document per `.yaml`/`.yml` file in
// a single directory. file changes observed with fsnotify re-evaluate
// the active queries through the same match/order/group pipeline as
// MemoryStore. A document may carry an `id` field (ulid string) for a
// stable identity; otherwise the identity is derived from the file path.
type DirStore struct {
	dir      string
	settings *DirStoreSettings

	ctx    context.Context
	cancel context.CancelFunc

	watcher *fsnotify.Watcher
	inner   *MemoryStore

	stateLock sync.Mutex
	// file path -> item id currently indexed for that path
	pathItemIds map[string]ItemId

	logInfo LogFunction
}

func NewDirStore(ctx context.Context, dir string) (*DirStore, error) {
	return NewDirStoreWithSettings(ctx, dir, DefaultDirStoreSettings())
}

func NewDirStoreWithSettings(ctx context.Context, dir string, settings *DirStoreSettings) (*DirStore, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	cancelCtx, cancel := context.WithCancel(ctx)
	store := &DirStore{
		dir:         dir,
		settings:    settings,
		ctx:         cancelCtx,
		cancel:      cancel,
		watcher:     watcher,
		inner:       NewMemoryStore(),
		pathItemIds: map[string]ItemId{},
		logInfo:     LogFn("dirstore"),
	}
	store.rescan()

	go store.watch()

	return store, nil
}

// Store
func (self *DirStore) Execute(query *Query) (WatchHandle, error) {
	return self.inner.Execute(query)
}

func (self *DirStore) Get(itemId ItemId) (map[string]any, bool) {
	return self.inner.Get(itemId)
}

func (self *DirStore) Close() {
	self.cancel()
	self.watcher.Close()
	self.inner.Close()
}

func (self *DirStore) watch() {
	// nil until an event arrives, so the select ignores it
	var debounce <-chan time.Time
	for {
		select {
		case <-self.ctx.Done():
			return
		case event, ok := <-self.watcher.Events:
			if !ok {
				return
			}
			if isDocPath(event.Name) {
				debounce = time.After(self.settings.Debounce)
			}
		case err, ok := <-self.watcher.Errors:
			if !ok {
				return
			}
			self.logInfo("watch error: %s", err)
		case <-debounce:
			debounce = nil
			self.rescan()
		}
	}
}

// re-reads the directory and reconciles the indexed documents. the
// handle layer drops unchanged results, so rescanning more than needed
// produces no spurious notifications.
func (self *DirStore) rescan() {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()

	entries, err := os.ReadDir(self.dir)
	if err != nil {
		// the directory is typically gone because the store is being
		// torn down
		self.logInfo("rescan abandoned: %s", err)
		return
	}

	seenPaths := map[string]bool{}
	for _, entry := range entries {
		if entry.IsDir() || !isDocPath(entry.Name()) {
			continue
		}
		path := filepath.Join(self.dir, entry.Name())
		seenPaths[path] = true

		object, ok := self.loadDoc(path)
		if !ok {
			continue
		}
		itemId := docItemId(path, object)
		if prevItemId, ok := self.pathItemIds[path]; ok && prevItemId != itemId {
			// the document changed its declared id
			self.inner.Delete(prevItemId)
		}
		self.pathItemIds[path] = itemId
		self.inner.Put(itemId, object)
	}

	for _, path := range maps.Keys(self.pathItemIds) {
		if !seenPaths[path] {
			self.inner.Delete(self.pathItemIds[path])
			delete(self.pathItemIds, path)
		}
	}
}

// a corrupt or unreadable document keeps its previous indexed state
func (self *DirStore) loadDoc(path string) (map[string]any, bool) {
	docBytes, err := os.ReadFile(path)
	if err != nil {
		self.logInfo("read %s: %s", path, err)
		return nil, false
	}
	object := map[string]any{}
	if err := yaml.Unmarshal(docBytes, &object); err != nil {
		self.logInfo("parse %s: %s", path, err)
		return nil, false
	}
	return object, true
}

func isDocPath(path string) bool {
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

// a document with a parseable `id` field keeps that identity across
// renames; otherwise the identity follows the file path
func docItemId(path string, object map[string]any) ItemId {
	if idStr, ok := object["id"].(string); ok {
		if itemId, err := ItemIdFromString(idStr); err == nil {
			return itemId
		}
	}
	sum := sha256.Sum256([]byte(path))
	itemId, _ := ItemIdFromBytes(sum[:16])
	return itemId
}
