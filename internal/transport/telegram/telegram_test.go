package telegram

import (
	"strings"
	"testing"

	tele "gopkg.in/telebot.v4"
)

func TestTenantIDRoundTrip(t *testing.T) {
	t.Parallel()

	for _, id := range []int64{-1001234567890, -42, 777000} {
		got, err := chatIDOf(tenantID(id))
		if err != nil {
			t.Fatalf("chatIDOf(tenantID(%d)): %v", id, err)
		}
		if got != id {
			t.Fatalf("round trip %d -> %d", id, got)
		}
	}

	if _, err := chatIDOf("not-a-chat"); err == nil {
		t.Fatal("non-numeric tenant must fail")
	}
}

func TestIsGroupChat(t *testing.T) {
	t.Parallel()

	if !isGroupChat(tele.ChatGroup) || !isGroupChat(tele.ChatSuperGroup) {
		t.Fatal("group chat types must qualify")
	}
	if isGroupChat(tele.ChatPrivate) || isGroupChat(tele.ChatChannel) {
		t.Fatal("non-group chat types must not qualify")
	}
}

func TestSplitTextShort(t *testing.T) {
	t.Parallel()

	got := splitText("hello", 100)
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("splitText = %v", got)
	}
}

func TestSplitTextPrefersNewlines(t *testing.T) {
	t.Parallel()

	var b strings.Builder
	for i := 0; i < 40; i++ {
		b.WriteString("week line with some member names\n")
	}
	chunks := splitText(b.String(), 200)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len([]rune(c)) > 200 {
			t.Fatalf("chunk %d over limit: %d runes", i, len([]rune(c)))
		}
		if strings.HasPrefix(c, "\n") || strings.HasSuffix(c, "\n") {
			t.Fatalf("chunk %d keeps boundary newlines: %q", i, c)
		}
		// Every chunk except possibly the last should end on a full line.
		if i < len(chunks)-1 && !strings.HasSuffix(c, "names") {
			t.Fatalf("chunk %d split mid-line: %q", i, c)
		}
	}
}

func TestSplitTextNoNewlines(t *testing.T) {
	t.Parallel()

	s := strings.Repeat("x", 450)
	chunks := splitText(s, 200)
	total := 0
	for _, c := range chunks {
		if len([]rune(c)) > 200 {
			t.Fatalf("chunk over limit: %d", len([]rune(c)))
		}
		total += len([]rune(c))
	}
	if total != 450 {
		t.Fatalf("lost content: %d of 450 runes", total)
	}
}
