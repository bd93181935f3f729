package events

import (
	"log/slog"
	"testing"
)

func TestBus_PublishesInRegistrationOrder(t *testing.T) {
	b := NewBus(slog.Default())

	var order []int
	b.Subscribe(ElementCreated, func(Event) { order = append(order, 1) })
	b.Subscribe(ElementCreated, func(Event) { order = append(order, 2) })
	b.Subscribe(ElementCreated, func(Event) { order = append(order, 3) })

	b.Publish(Event{Type: ElementCreated, ElementID: "el-abc123"})

	if len(order) != 3 {
		t.Fatalf("expected 3 handlers to run, got %d", len(order))
	}
	for i, v := range order {
		if v != i+1 {
			t.Fatalf("expected registration order [1 2 3], got %v", order)
		}
	}
}

func TestBus_OnlyMatchingTypeFires(t *testing.T) {
	b := NewBus(slog.Default())

	var created, deleted int
	b.Subscribe(ElementCreated, func(Event) { created++ })
	b.Subscribe(ElementDeleted, func(Event) { deleted++ })

	b.Publish(Event{Type: ElementCreated, ElementID: "el-abc123"})

	if created != 1 {
		t.Errorf("expected created handler to fire once, got %d", created)
	}
	if deleted != 0 {
		t.Errorf("expected deleted handler not to fire, got %d", deleted)
	}
}

func TestBus_RecoversPanickingSubscriber(t *testing.T) {
	b := NewBus(slog.Default())

	var ranAfter bool
	b.Subscribe(ElementCreated, func(Event) { panic("boom") })
	b.Subscribe(ElementCreated, func(Event) { ranAfter = true })

	b.Publish(Event{Type: ElementCreated, ElementID: "el-abc123"})

	if !ranAfter {
		t.Fatal("expected handler after a panicking one to still run")
	}
}

func TestBus_NoSubscribersIsNoop(t *testing.T) {
	b := NewBus(nil)
	b.Publish(Event{Type: WorkflowBurned, ElementID: "wf-abc123"})
}
