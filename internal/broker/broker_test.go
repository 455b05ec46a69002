package broker

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bettermq/bettermq/internal/bmqerr"
	"github.com/bettermq/bettermq/internal/engine"
)

func newTestBroker(t *testing.T) *Broker {
	t.Helper()
	b, err := New(t.TempDir(), "node-1", 30*time.Millisecond)
	if err != nil {
		t.Fatalf("new broker: %v", err)
	}
	if err := b.Start(nil); err != nil {
		t.Fatalf("start broker: %v", err)
	}
	t.Cleanup(b.Stop)
	return b
}

func TestCreateTopicValidation(t *testing.T) {
	b := newTestBroker(t)

	if err := b.CreateTopic(""); bmqerr.CodeOf(err) != bmqerr.InvalidArgument {
		t.Fatalf("expected InvalidArgument for empty name, got %v", err)
	}
	if err := b.CreateTopic("a_index"); bmqerr.CodeOf(err) != bmqerr.InvalidArgument {
		t.Fatalf("expected InvalidArgument for reserved suffix, got %v", err)
	}
	if err := b.CreateTopic("foo"); err != nil {
		t.Fatalf("create foo: %v", err)
	}
	if err := b.CreateTopic("foo"); bmqerr.CodeOf(err) != bmqerr.AlreadyExists {
		t.Fatalf("expected AlreadyExists on second create, got %v", err)
	}
}

func TestDispatchUnknownTopicIsNotFound(t *testing.T) {
	b := newTestBroker(t)
	_, err := b.Enqueue("nope", engine.EnqueueRequest{Payload: []byte("x")})
	if bmqerr.CodeOf(err) != bmqerr.NotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestTopicIsolation(t *testing.T) {
	b := newTestBroker(t)
	if err := b.CreateTopic("a"); err != nil {
		t.Fatalf("create a: %v", err)
	}
	if err := b.CreateTopic("b"); err != nil {
		t.Fatalf("create b: %v", err)
	}

	if _, err := b.Enqueue("a", engine.EnqueueRequest{Payload: []byte("a-msg"), Meta: "a-msg"}); err != nil {
		t.Fatalf("enqueue a: %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	replyB, err := b.Dequeue("b", engine.DequeueRequest{Count: 10, LeaseDurationMs: 0})
	if err != nil {
		t.Fatalf("dequeue b: %v", err)
	}
	if len(replyB.Items) != 0 {
		t.Fatalf("topic b should be unaffected by topic a's enqueue, got %+v", replyB.Items)
	}

	replyA, err := b.Dequeue("a", engine.DequeueRequest{Count: 10, LeaseDurationMs: 0})
	if err != nil {
		t.Fatalf("dequeue a: %v", err)
	}
	if len(replyA.Items) != 1 || replyA.Items[0].Meta != "a-msg" {
		t.Fatalf("expected a's message, got %+v", replyA.Items)
	}
}

func TestRemoveTopicRenamesAndSweeps(t *testing.T) {
	dir := t.TempDir()
	b, err := New(dir, "node-1", 20*time.Millisecond)
	if err != nil {
		t.Fatalf("new broker: %v", err)
	}
	if err := b.Start(nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer b.Stop()

	if err := b.CreateTopic("gone"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := b.Enqueue("gone", engine.EnqueueRequest{Payload: []byte("stale"), Meta: "stale", Priority: 5}); err != nil {
		t.Fatalf("enqueue before remove: %v", err)
	}
	if err := b.RemoveTopic("gone"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := b.RemoveTopic("gone"); bmqerr.CodeOf(err) != bmqerr.NotFound {
		t.Fatalf("expected NotFound removing twice, got %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "gone_gc")); err != nil {
		t.Fatalf("expected gc directory to exist right after remove: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "gone_gc_index")); err != nil {
		t.Fatalf("expected gc index directory to exist right after remove: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "gone_index")); !os.IsNotExist(err) {
		t.Fatalf("expected live index directory to be gone right after remove, stat err=%v", err)
	}

	// A topic with the same name can be created immediately; it does not
	// collide with the renamed gc directories, and its own fresh data is
	// unaffected once the sweeper later reclaims them.
	if err := b.CreateTopic("gone"); err != nil {
		t.Fatalf("recreate after remove: %v", err)
	}
	if _, err := b.Enqueue("gone", engine.EnqueueRequest{Payload: []byte("fresh"), Meta: "fresh", Priority: 0}); err != nil {
		t.Fatalf("enqueue on recreated topic: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if _, err := os.Stat(filepath.Join(dir, "gone_gc")); !os.IsNotExist(err) {
		t.Fatalf("expected sweeper to have removed gc directory, stat err=%v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "gone_gc_index")); !os.IsNotExist(err) {
		t.Fatalf("expected sweeper to have removed gc index directory, stat err=%v", err)
	}

	reply, err := b.Dequeue("gone", engine.DequeueRequest{Count: 10, LeaseDurationMs: 0})
	if err != nil {
		t.Fatalf("dequeue recreated topic after sweep: %v", err)
	}
	if len(reply.Items) != 1 || reply.Items[0].Meta != "fresh" || reply.Items[0].Priority != 0 {
		t.Fatalf("expected only the recreated topic's own fresh message, got %+v", reply.Items)
	}
}

func TestStartupDiscoveryReopensExistingTopics(t *testing.T) {
	dir := t.TempDir()
	b1, err := New(dir, "node-1", time.Hour)
	if err != nil {
		t.Fatalf("new broker: %v", err)
	}
	if err := b1.Start(nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := b1.CreateTopic("persisted"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := b1.Enqueue("persisted", engine.EnqueueRequest{Payload: []byte("x"), Meta: "x"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	b1.Stop()

	b2, err := New(dir, "node-1", time.Hour)
	if err != nil {
		t.Fatalf("new broker 2: %v", err)
	}
	if err := b2.Start(nil); err != nil {
		t.Fatalf("start 2: %v", err)
	}
	defer b2.Stop()

	reply, err := b2.Dequeue("persisted", engine.DequeueRequest{Count: 10, LeaseDurationMs: 0})
	if err != nil {
		t.Fatalf("dequeue after rediscovery: %v", err)
	}
	if len(reply.Items) != 1 {
		t.Fatalf("expected rediscovered topic to have its message, got %+v", reply.Items)
	}
}
