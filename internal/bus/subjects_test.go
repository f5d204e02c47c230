package bus

import "testing"

func TestEventSubjectRoundTrip(t *testing.T) {
	hash := "a3f2b1c4d5e6f7081920a3b4c5d6e7f8091a2b3c4d5e6f708192a3b4c5d6e7f8"
	subj := EventSubject("events", "emote.updated", hash)
	if subj != "events.emote.updated."+hash {
		t.Fatalf("unexpected subject: %s", subj)
	}

	gotType, gotHash, ok := ParseEventSubject("events", subj)
	if !ok {
		t.Fatal("expected parse ok")
	}
	if gotType != "emote.updated" || gotHash != hash {
		t.Fatalf("got type=%q hash=%q", gotType, gotHash)
	}
}

func TestEventSubjectNoScope(t *testing.T) {
	subj := EventSubject("events", "user.presence", "")
	if subj != "events.user.presence" {
		t.Fatalf("unexpected subject: %s", subj)
	}
	gotType, gotHash, ok := ParseEventSubject("events", subj)
	if !ok || gotType != "user.presence" || gotHash != "" {
		t.Fatalf("got type=%q hash=%q ok=%v", gotType, gotHash, ok)
	}
}

func TestPurgeSubjects(t *testing.T) {
	if PurgeRequestSubject("cdn_purge") != "cdn_purge.request" {
		t.Fatal("unexpected request subject")
	}
	if PurgeResponseSubject("cdn_purge") != "cdn_purge.response" {
		t.Fatal("unexpected response subject")
	}
}
