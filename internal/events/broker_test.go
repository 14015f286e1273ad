package events

import "testing"

func TestPublishReachesSubscribersOfTopic(t *testing.T) {
	b := NewBroker()
	phases := b.Subscribe(TopicPhase)
	both := b.Subscribe(TopicPhase, TopicCommitted)

	b.Publish(TopicCommitted, 1)
	b.Publish(TopicPhase, 2)

	if ev := <-phases; ev.Topic != TopicPhase || ev.Data != 2 {
		t.Errorf("unexpected event %+v", ev)
	}
	if ev := <-both; ev.Topic != TopicCommitted {
		t.Errorf("expected committed first, got %+v", ev)
	}
	if ev := <-both; ev.Topic != TopicPhase {
		t.Errorf("expected phase second, got %+v", ev)
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe(TopicCommitted)

	for i := 0; i < 100; i++ {
		b.Publish(TopicCommitted, i)
	}
	if len(sub) != cap(sub) {
		t.Errorf("expected a full buffer, got %d/%d", len(sub), cap(sub))
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe(TopicPhase, TopicCommitted)
	b.Unsubscribe(sub)

	if _, ok := <-sub; ok {
		t.Error("expected closed channel")
	}
	b.Publish(TopicPhase, "after")
}

func TestNilBrokerPublish(t *testing.T) {
	var b *Broker
	b.Publish(TopicPhase, nil)
}
