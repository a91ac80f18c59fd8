package email

import (
	"context"
	"strings"
	"testing"

	"github.com/asrbekshokirovich-bot/learn-korean-ai-coach-sub000/pkg/i18n"
)

func TestRenderRecordingSaved(t *testing.T) {
	if err := i18n.LoadEmbedded(); err != nil {
		t.Fatalf("LoadEmbedded: %v", err)
	}

	rec := RecordingSaved{Title: "Week <3>", LessonDate: "2026-03-01", FileSize: 2048, GroupID: "g1"}
	subject, body := RenderRecordingSaved("en", "https://coach.example", rec)

	if subject != "Your lesson recording is ready" {
		t.Fatalf("subject = %q", subject)
	}
	if !strings.Contains(body, "Week &lt;3&gt;") {
		t.Fatal("title must be HTML escaped")
	}
	if !strings.Contains(body, "https://coach.example/groups/g1/recordings") {
		t.Fatal("body should link to the group recordings page")
	}

	koSubject, _ := RenderRecordingSaved("ko", "https://coach.example", rec)
	if koSubject == subject {
		t.Fatal("korean subject should be translated")
	}
}

func TestNopSender(t *testing.T) {
	var s Sender = NopSender{}
	if err := s.SendRecordingSaved(context.Background(), "a@b.c", "en", RecordingSaved{}); err != nil {
		t.Fatalf("NopSender returned %v", err)
	}
}
