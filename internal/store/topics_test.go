package store

import (
	"strings"
	"testing"
	"time"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

var t0 = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTopic(conv, key string) *Topic {
	return &Topic{
		ConversationID:  conv,
		Type:            TypeWind,
		Family:          "wind",
		Title:           "Follow up on " + key,
		NoveltyKey:      key,
		BasePriority:    50,
		DynamicPriority: 50,
		DecayRate:       0.5,
		Status:          StatusPending,
		CreatedAt:       t0,
	}
}

func TestInsertTopic(t *testing.T) {
	db := testDB(t)

	topic := newTopic("c1", "garden")
	if err := db.InsertTopic(topic); err != nil {
		t.Fatalf("InsertTopic: %v", err)
	}
	if topic.ID == "" {
		t.Fatal("expected generated ID")
	}
	if !topic.LastEvaluatedAt.Equal(t0) || !topic.LastEvidenceAt.Equal(t0) {
		t.Errorf("evaluation/evidence times should default to created_at")
	}

	got, err := db.GetTopic(topic.ID)
	if err != nil {
		t.Fatalf("GetTopic: %v", err)
	}
	if got == nil {
		t.Fatal("expected topic")
	}
	if got.Title != topic.Title || got.Status != StatusPending || got.Pursuit != nil {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if !got.CreatedAt.Equal(t0) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, t0)
	}
}

func TestGetTopicMissing(t *testing.T) {
	db := testDB(t)
	got, err := db.GetTopic("nope")
	if err != nil {
		t.Fatalf("GetTopic: %v", err)
	}
	if got != nil {
		t.Error("expected nil for missing topic")
	}
}

func TestSaveTopicPursuit(t *testing.T) {
	db := testDB(t)

	topic := newTopic("c1", "garden")
	if err := db.InsertTopic(topic); err != nil {
		t.Fatalf("InsertTopic: %v", err)
	}
	topic.Status = StatusActivePursuit
	topic.Pursuit = &PursuitState{
		Status:        StatusActivePursuit,
		AttemptCount:  1,
		AttemptBudget: 3,
		NextAttemptAt: t0.Add(10 * time.Minute),
		LastAttemptAt: t0,
		ExpiresAt:     t0.Add(72 * time.Hour),
		FailureCount:  1,
	}
	if err := db.SaveTopic(topic); err != nil {
		t.Fatalf("SaveTopic: %v", err)
	}

	got, _ := db.GetTopic(topic.ID)
	if got.Pursuit == nil {
		t.Fatal("expected pursuit state")
	}
	if got.Pursuit.AttemptCount != 1 || got.Pursuit.AttemptBudget != 3 || got.Pursuit.FailureCount != 1 {
		t.Errorf("pursuit counters = %+v", got.Pursuit)
	}
	if !got.Pursuit.NextAttemptAt.Equal(t0.Add(10 * time.Minute)) {
		t.Errorf("NextAttemptAt = %v", got.Pursuit.NextAttemptAt)
	}
}

func TestSaveTopicMissing(t *testing.T) {
	db := testDB(t)
	topic := newTopic("c1", "garden")
	topic.ID = "ghost"
	if err := db.SaveTopic(topic); err == nil {
		t.Error("expected error saving unknown topic")
	}
}

func TestSaveTopicRejectsCrossConversationMerge(t *testing.T) {
	db := testDB(t)

	a := newTopic("c1", "garden")
	b := newTopic("c2", "garden")
	for _, topic := range []*Topic{a, b} {
		if err := db.InsertTopic(topic); err != nil {
			t.Fatalf("InsertTopic: %v", err)
		}
	}

	a.Status = StatusMerged
	a.MergedInto = b.ID
	err := db.SaveTopic(a)
	if err == nil {
		t.Fatal("expected cross-conversation merge to fail")
	}
	if !strings.Contains(err.Error(), "belongs to conversation c2") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestListLiveTopicsAndFind(t *testing.T) {
	db := testDB(t)

	live := newTopic("c1", "garden")
	done := newTopic("c1", "taxes")
	done.Status = StatusMentioned
	other := newTopic("c2", "garden")
	for _, topic := range []*Topic{live, done, other} {
		if err := db.InsertTopic(topic); err != nil {
			t.Fatalf("InsertTopic: %v", err)
		}
	}

	topics, err := db.ListLiveTopics("c1")
	if err != nil {
		t.Fatalf("ListLiveTopics: %v", err)
	}
	if len(topics) != 1 || topics[0].ID != live.ID {
		t.Errorf("ListLiveTopics = %v", topics)
	}

	all, _ := db.ListTopics("c1")
	if len(all) != 2 {
		t.Errorf("ListTopics len = %d, want 2", len(all))
	}

	found, err := db.FindLiveTopic("c1", "garden")
	if err != nil || found == nil || found.ID != live.ID {
		t.Errorf("FindLiveTopic = %v, %v", found, err)
	}
	if found, _ := db.FindLiveTopic("c1", "taxes"); found != nil {
		t.Error("mentioned topic should not be live")
	}
	mentioned, err := db.FindMentionedTopic("c1", "taxes")
	if err != nil || mentioned == nil || mentioned.ID != done.ID {
		t.Errorf("FindMentionedTopic = %v, %v", mentioned, err)
	}
}

func TestTopicClone(t *testing.T) {
	topic := newTopic("c1", "garden")
	topic.Pursuit = &PursuitState{AttemptCount: 1}
	c := topic.Clone()
	c.Pursuit.AttemptCount = 2
	c.Title = "changed"
	if topic.Pursuit.AttemptCount != 1 || topic.Title == "changed" {
		t.Error("clone shares state with original")
	}
}

func TestTopicStatusClasses(t *testing.T) {
	for _, s := range []TopicStatus{StatusPending, StatusArmed, StatusActivePursuit, StatusSnoozed} {
		if !s.Live() {
			t.Errorf("%s should be live", s)
		}
	}
	for _, s := range []TopicStatus{StatusMentioned, StatusDismissed, StatusExpired, StatusMerged,
		StatusSuppressed, StatusStaleAfterPause} {
		if s.Live() {
			t.Errorf("%s should not be live", s)
		}
	}
	if !TypeDiscovery.Valid() || TopicType("gossip").Valid() {
		t.Error("TopicType.Valid misclassifies")
	}
}
