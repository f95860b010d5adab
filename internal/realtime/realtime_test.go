package realtime

import (
	"testing"
	"time"

	"github.com/schemadrift/engine/internal/model"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToSubscriptionGroupAndAll(t *testing.T) {
	pub := NewPublisher()
	subID := model.NewID()

	subGroup := pub.Join(subID.String())
	defer subGroup.Close()
	allGroup := pub.Join(GroupAll)
	defer allGroup.Close()

	pub.Publish(subID, EventChangesDetected, map[string]any{"subscription-id": subID.String()})

	select {
	case msg := <-subGroup.Channel():
		require.Equal(t, EventChangesDetected, msg.Event)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscription-group delivery")
	}

	select {
	case msg := <-allGroup.Channel():
		require.Equal(t, EventChangesDetected, msg.Event)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for all-group delivery")
	}
}

func TestPublishDoesNotDeliverToOtherSubscriptionsGroup(t *testing.T) {
	pub := NewPublisher()
	subA := model.NewID()
	subB := model.NewID()

	groupB := pub.Join(subB.String())
	defer groupB.Close()

	pub.Publish(subA, EventFileChanged, nil)

	select {
	case <-groupB.Channel():
		t.Fatal("should not have received a message scoped to a different subscription")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLeaveRemovesSubscriberFromGroup(t *testing.T) {
	pub := NewPublisher()
	subID := model.NewID()
	sub := pub.Join(subID.String())
	pub.Leave(subID.String(), sub)

	pub.Publish(subID, EventDatabaseChanged, nil)

	select {
	case <-sub.Channel():
		t.Fatal("should not receive after Leave")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishToFullChannelDropsRatherThanBlocks(t *testing.T) {
	pub := NewPublisher()
	subID := model.NewID()
	sub := pub.Join(subID.String())
	defer sub.Close()

	for i := 0; i < 64; i++ {
		pub.Publish(subID, EventComparisonProgress, nil)
	}
}

func TestPublishGlobalOnlyReachesAllGroup(t *testing.T) {
	pub := NewPublisher()
	subID := model.NewID()
	subGroup := pub.Join(subID.String())
	defer subGroup.Close()
	allGroup := pub.Join(GroupAll)
	defer allGroup.Close()

	pub.PublishGlobal(EventServiceShuttingDown, nil)

	select {
	case <-subGroup.Channel():
		t.Fatal("subscription group should not receive a global event")
	case <-time.After(50 * time.Millisecond):
	}

	select {
	case msg := <-allGroup.Channel():
		require.Equal(t, EventServiceShuttingDown, msg.Event)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for global delivery")
	}
}
