// Package broker implements the multi-topic lifecycle that composes many
// per-topic engines behind a single endpoint: topic creation/removal,
// request dispatch by topic name, startup discovery, and the background
// directory sweeper that reclaims removed topics' storage.
package broker

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bettermq/bettermq/internal/bmqerr"
	"github.com/bettermq/bettermq/internal/engine"
	"github.com/bettermq/bettermq/internal/kvstore"
	"github.com/bettermq/bettermq/internal/logging"
)

const (
	indexSuffix = "_index"
	gcSuffix    = "_gc"
)

// DefaultSweepInterval is how often the directory sweeper looks for
// removed topics to reclaim.
const DefaultSweepInterval = 5 * time.Second

// Broker owns every topic's Engine and the KV stores backing it.
type Broker struct {
	rootDir string
	nodeID  string

	mu     sync.RWMutex
	topics map[string]*topicHandle

	sweepInterval time.Duration
	stopSweep     chan struct{}
	doneSweep     chan struct{}
	sweepOnce     sync.Once
	started       bool
}

type topicHandle struct {
	eng      *engine.Engine
	messages kvstore.Store
	index    kvstore.Store
}

// New constructs a Broker rooted at rootDir. It does not open any topics;
// call Start to perform startup discovery and begin the sweeper.
func New(rootDir, nodeID string, sweepInterval time.Duration) (*Broker, error) {
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("broker: create root dir: %w", err)
	}
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	return &Broker{
		rootDir:       rootDir,
		nodeID:        nodeID,
		topics:        make(map[string]*topicHandle),
		sweepInterval: sweepInterval,
		stopSweep:     make(chan struct{}),
		doneSweep:     make(chan struct{}),
	}, nil
}

// Start discovers topics already present on disk, unions them with
// configuredTopics, opens an Engine for each, and starts the sweeper.
func (b *Broker) Start(configuredTopics []string) error {
	discovered, err := discoverTopicNames(b.rootDir)
	if err != nil {
		return fmt.Errorf("broker: discover topics: %w", err)
	}

	want := make(map[string]struct{}, len(discovered)+len(configuredTopics))
	for _, name := range discovered {
		want[name] = struct{}{}
	}
	for _, name := range configuredTopics {
		want[name] = struct{}{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for name := range want {
		if _, ok := b.topics[name]; ok {
			continue
		}
		h, err := b.openTopicLocked(name)
		if err != nil {
			return fmt.Errorf("broker: open topic %q: %w", name, err)
		}
		b.topics[name] = h
	}

	b.started = true
	go b.sweepLoop()
	return nil
}

func discoverTopicNames(rootDir string) ([]string, error) {
	entries, err := os.ReadDir(rootDir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}
		name := ent.Name()
		if strings.HasSuffix(name, indexSuffix) || strings.HasSuffix(name, gcSuffix) {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

func validateTopicName(name string) error {
	if name == "" {
		return bmqerr.New(bmqerr.InvalidArgument, "topic name must not be empty")
	}
	if strings.Contains(name, indexSuffix) || strings.Contains(name, gcSuffix) {
		return bmqerr.Newf(bmqerr.InvalidArgument, "topic name %q must not contain reserved suffix %q or %q", name, indexSuffix, gcSuffix)
	}
	return nil
}

// openTopicLocked creates (or reopens) the two KV stores for name and
// constructs its Engine. Caller must hold b.mu for writing.
func (b *Broker) openTopicLocked(name string) (*topicHandle, error) {
	messages, err := kvstore.OpenBolt(filepath.Join(b.rootDir, name))
	if err != nil {
		return nil, err
	}
	index, err := kvstore.OpenBolt(filepath.Join(b.rootDir, name+indexSuffix))
	if err != nil {
		messages.Close()
		return nil, err
	}
	eng, err := engine.New(name, b.nodeID, messages, index)
	if err != nil {
		messages.Close()
		index.Close()
		return nil, err
	}
	return &topicHandle{eng: eng, messages: messages, index: index}, nil
}

// CreateTopic creates a new empty topic.
func (b *Broker) CreateTopic(name string) error {
	if err := validateTopicName(name); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.topics[name]; ok {
		return bmqerr.Newf(bmqerr.AlreadyExists, "topic %q already exists", name)
	}
	h, err := b.openTopicLocked(name)
	if err != nil {
		return bmqerr.Wrap(err)
	}
	b.topics[name] = h
	return nil
}

// RemoveTopic quiesces and removes a topic. Both its message directory and
// its index directory are renamed to <name>_gc and <name>_gc_index under
// the same lock that guards CreateTopic, so a topic with the same name can
// be created immediately afterward without ever reusing either directory:
// by the time the lock is released, <name> and <name>_index are both free
// paths, and the only copies of the old topic's data live under the _gc
// names the sweeper later reclaims.
func (b *Broker) RemoveTopic(name string) error {
	if name == "" {
		return bmqerr.New(bmqerr.InvalidArgument, "topic name must not be empty")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	h, ok := b.topics[name]
	if !ok {
		return bmqerr.Newf(bmqerr.NotFound, "topic %q not found", name)
	}
	delete(b.topics, name)

	h.eng.Stop()
	h.messages.Close()
	h.index.Close()

	oldPath := filepath.Join(b.rootDir, name)
	gcPath := filepath.Join(b.rootDir, name+gcSuffix)
	if err := os.Rename(oldPath, gcPath); err != nil {
		logging.Op().Warn("remove_topic: failed to rename message dir for sweep", "topic", name, "error", err)
	}

	idxPath := filepath.Join(b.rootDir, name+indexSuffix)
	gcIdxPath := filepath.Join(b.rootDir, name+gcSuffix+indexSuffix)
	if err := os.Rename(idxPath, gcIdxPath); err != nil {
		logging.Op().Warn("remove_topic: failed to rename index dir for sweep", "topic", name, "error", err)
	}

	return nil
}

// Enqueue dispatches to the named topic's Engine.
func (b *Broker) Enqueue(topic string, req engine.EnqueueRequest) (engine.EnqueueReply, error) {
	eng, err := b.lookup(topic)
	if err != nil {
		return engine.EnqueueReply{}, err
	}
	return eng.Enqueue(req)
}

// Dequeue dispatches to the named topic's Engine.
func (b *Broker) Dequeue(topic string, req engine.DequeueRequest) (engine.DequeueReply, error) {
	eng, err := b.lookup(topic)
	if err != nil {
		return engine.DequeueReply{}, err
	}
	return eng.Dequeue(req)
}

// Ack dispatches to the named topic's Engine.
func (b *Broker) Ack(topic, messageID string) error {
	eng, err := b.lookup(topic)
	if err != nil {
		return err
	}
	return eng.Ack(messageID)
}

// Nack dispatches to the named topic's Engine.
func (b *Broker) Nack(topic string, req engine.NackRequest) error {
	eng, err := b.lookup(topic)
	if err != nil {
		return err
	}
	return eng.Nack(req)
}

func (b *Broker) lookup(topic string) (*engine.Engine, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	h, ok := b.topics[topic]
	if !ok {
		return nil, bmqerr.Newf(bmqerr.NotFound, "topic %q not found", topic)
	}
	return h.eng, nil
}

// GetActiveTopics returns per-topic scheduling stats for every open topic.
func (b *Broker) GetActiveTopics() []engine.Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]engine.Stats, 0, len(b.topics))
	for _, h := range b.topics {
		out = append(out, h.eng.Stats())
	}
	return out
}

func (b *Broker) sweepLoop() {
	defer close(b.doneSweep)
	ticker := time.NewTicker(b.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stopSweep:
			return
		case <-ticker.C:
			b.sweepOnceNow()
		}
	}
}

// sweepOnceNow reclaims every <name>_gc / <name>_gc_index pair left behind
// by RemoveTopic. It matches purely on the _gc directory name, never on the
// live topic map, because RemoveTopic already renamed both directories
// before releasing b.mu — by the time a _gc directory exists, nothing else
// can be using it or its index sibling, recreated topic or not.
func (b *Broker) sweepOnceNow() {
	entries, err := os.ReadDir(b.rootDir)
	if err != nil {
		logging.Op().Warn("sweep: failed to list root dir", "error", err)
		return
	}
	for _, ent := range entries {
		name := ent.Name()
		if !ent.IsDir() || !strings.HasSuffix(name, gcSuffix) {
			continue
		}
		gcPath := filepath.Join(b.rootDir, name)
		if err := os.RemoveAll(gcPath); err != nil {
			logging.Op().Warn("sweep: failed to remove gc dir", "path", gcPath, "error", err)
			continue
		}
		gcIdxPath := filepath.Join(b.rootDir, name+indexSuffix)
		if err := os.RemoveAll(gcIdxPath); err != nil {
			logging.Op().Warn("sweep: failed to remove gc index dir", "path", gcIdxPath, "error", err)
		}
	}
}

// Stop stops the sweeper (if started) and every open topic's scheduler.
func (b *Broker) Stop() {
	if b.started {
		b.sweepOnce.Do(func() {
			close(b.stopSweep)
		})
		<-b.doneSweep
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, h := range b.topics {
		h.eng.Stop()
		h.messages.Close()
		h.index.Close()
	}
}
