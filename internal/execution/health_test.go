package execution

import (
	"testing"
	"time"

	"github.com/betbot/copyflow/internal/domain"
)

func TestCheckBookHealth(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name   string
		book   *domain.BookSnapshot
		ok     bool
		reason string
	}{
		{"nil book", nil, false, ReasonMissingBook},
		{"one side missing", &domain.BookSnapshot{BestBid: domain.Price{Pips: 4000}}, false, ReasonMissingBook},
		{"crossed", book(5000, 4800), false, ReasonCrossedBook},
		// 场景 D：bid=0.01 ask=0.99 → 死盘
		{"empty book", book(100, 9900), false, ReasonEmptyBook},
		{"healthy", book(4000, 4200), true, ""},
		// 单边极端不算死盘
		{"low bid only", book(100, 4200), true, ""},
		{"high ask only", book(4000, 9900), true, ""},
	}
	for _, tc := range cases {
		ok, reason := CheckBookHealth(tc.book, HealthOptions{}, now)
		if ok != tc.ok || reason != tc.reason {
			t.Fatalf("%s: got (%v,%q) want (%v,%q)", tc.name, ok, reason, tc.ok, tc.reason)
		}
	}
}

// 死盘属于 PERMANENT 市场条件：不触发冷却，下一候选可立即评估。
func TestEmptyBookClassifiedPermanent(t *testing.T) {
	_, reason := CheckBookHealth(book(100, 9900), HealthOptions{}, time.Now())
	if reason != ReasonEmptyBook {
		t.Fatalf("reason got=%q want=%q", reason, ReasonEmptyBook)
	}
	if c := ClassifyReason(reason); c != FailurePermanent {
		t.Fatalf("class got=%s want=%s", c, FailurePermanent)
	}
}

func TestCheckBookHealth_Stale(t *testing.T) {
	now := time.Now()
	b := book(4000, 4200)
	b.ObservedAt = now.Add(-10 * time.Second)
	ok, reason := CheckBookHealth(b, HealthOptions{MaxBookAge: 3 * time.Second}, now)
	if ok || reason != ReasonStaleBook {
		t.Fatalf("got (%v,%q) want stale rejection", ok, reason)
	}
}

func TestClassifyReason(t *testing.T) {
	if c := ClassifyReason("SPREAD_TOO_WIDE"); c != FailurePermanent {
		t.Fatalf("got %s want PERMANENT", c)
	}
	if c := ClassifyReason("MARKET_RESOLVED"); c != FailureCatastrophic {
		t.Fatalf("got %s want CATASTROPHIC", c)
	}
	if c := ClassifyReason("timeout-ish junk"); c != FailureTransient {
		t.Fatalf("got %s want TRANSIENT", c)
	}
}
