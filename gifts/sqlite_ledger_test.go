package gifts

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/liamcoop/ruleng/rules"
)

func newSQLiteLedger(t *testing.T) *SQLiteLedger {
	t.Helper()
	ledger, err := NewSQLiteLedger(filepath.Join(t.TempDir(), "grants.db"))
	if err != nil {
		t.Fatalf("NewSQLiteLedger() failed: %v", err)
	}
	t.Cleanup(func() { ledger.Close() })
	return ledger
}

func TestSQLiteLedger_RecordAndQuery(t *testing.T) {
	ctx := context.Background()
	ledger := newSQLiteLedger(t)
	base := time.Date(2024, 6, 13, 10, 0, 0, 0, time.UTC)

	for i, g := range []*Grant{
		{Student: "ann", Gift: "girlGift", RuleSet: "gift"},
		{Student: "bob", Gift: "toy", RuleSet: "distribution"},
		{Student: "ann", Gift: "sticker", RuleSet: "distribution"},
	} {
		g.GrantedAt = base.Add(time.Duration(i) * time.Minute)
		if err := ledger.Record(ctx, g); err != nil {
			t.Fatalf("Record() failed: %v", err)
		}
	}

	anns, err := ledger.ListByStudent(ctx, "ann")
	if err != nil {
		t.Fatalf("ListByStudent() failed: %v", err)
	}
	if len(anns) != 2 || anns[0].Gift != "girlGift" || anns[1].Gift != "sticker" {
		t.Fatalf("ListByStudent(ann) = %+v", anns)
	}

	got, err := ledger.Get(ctx, anns[1].ID)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.RuleSet != "distribution" || !got.GrantedAt.Equal(base.Add(2*time.Minute)) {
		t.Errorf("Get() = %+v", got)
	}

	if has, err := ledger.Has(ctx, "bob", "toy"); err != nil || !has {
		t.Errorf("Has(bob, toy) = %v, %v", has, err)
	}
	if has, _ := ledger.Has(ctx, "bob", "sticker"); has {
		t.Error("Has(bob, sticker) should be false")
	}

	recent, err := ledger.List(ctx, 2)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(recent) != 2 || recent[0].Gift != "sticker" || recent[1].Gift != "toy" {
		t.Errorf("List(2) = %+v", recent)
	}
}

func TestSQLiteLedger_Errors(t *testing.T) {
	ctx := context.Background()
	ledger := newSQLiteLedger(t)

	grant := &Grant{Student: "ann", Gift: "toy"}
	if err := ledger.Record(ctx, grant); err != nil {
		t.Fatalf("Record() failed: %v", err)
	}
	err := ledger.Record(ctx, &Grant{ID: grant.ID, Student: "ann", Gift: "toy"})
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Errorf("duplicate Record() error = %v", err)
	}
	if err := ledger.Record(ctx, &Grant{Student: "ann", Gift: "toy"}); !errors.Is(err, ErrAlreadyGranted) {
		t.Errorf("second toy for ann: Record() error = %v, want ErrAlreadyGranted", err)
	}
	if has, err := ledger.Has(ctx, "ann", "toy"); err != nil || !has {
		t.Errorf("Has(ann, toy) = %v, %v", has, err)
	}

	if _, err := ledger.Get(ctx, "missing"); !errors.Is(err, ErrGrantNotFound) {
		t.Errorf("Get() error = %v, want ErrGrantNotFound", err)
	}

	if _, err := NewSQLiteLedger(""); err == nil {
		t.Error("NewSQLiteLedger(\"\") should fail")
	}
}

// TestSQLiteLedger_Reopen verifies grants survive closing the database
func TestSQLiteLedger_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "grants.db")

	first, err := NewSQLiteLedger(path)
	if err != nil {
		t.Fatalf("NewSQLiteLedger() failed: %v", err)
	}
	if err := first.Record(ctx, &Grant{Student: "ann", Gift: "bigGift"}); err != nil {
		t.Fatalf("Record() failed: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Errorf("second Close() = %v, want nil", err)
	}

	second, err := NewSQLiteLedger(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer second.Close()

	if has, err := second.Has(ctx, "ann", "bigGift"); err != nil || !has {
		t.Errorf("Has(ann, bigGift) after reopen = %v, %v", has, err)
	}
}

// TestDistribution_WithSQLite runs the distribution rule set against the SQLite ledger
func TestDistribution_WithSQLite(t *testing.T) {
	ledger := newSQLiteLedger(t)
	node, err := DistributionRules(NewService(ledger, nil), DefaultOptions())
	if err != nil {
		t.Fatalf("DistributionRules() error = %v", err)
	}
	tree := rules.MustCompile(node, rules.WithName(DistributionRuleSet))

	ann := Student{Name: "ann", Age: 12, Gender: "girl", Grade: 5, ClassNum: 3}
	for i := 0; i < 3; i++ {
		if err := tree.Run(ann); err != nil {
			t.Fatalf("run %d failed: %v", i, err)
		}
	}

	if got := strings.Join(giftsOf(t, ledger, "ann"), ","); got != "bigGift,girlGift,sticker" {
		t.Errorf("gifts = %s, want bigGift,girlGift,sticker", got)
	}
}
