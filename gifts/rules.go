package gifts

import (
	"fmt"

	"github.com/liamcoop/ruleng/registry"
	"github.com/liamcoop/ruleng/rules"
	"github.com/liamcoop/ruleng/rules/celcond"
)

// Rule set names.
const (
	GiftRuleSet         = "gift"
	DistributionRuleSet = "distribution"
)

// Options tunes the distribution rule set.
type Options struct {
	// Policy of the distribution root. Nil means rules.RepeatPolicy.
	Policy rules.Policy

	// BigGiftAge is the age a girl must exceed to receive the big gift
	BigGiftAge int

	// BigGiftGrades restricts the big gift to these grades. Empty means any grade.
	BigGiftGrades []int

	// BigGiftExpr is a CEL expression over Student that replaces the age and grade test.
	BigGiftExpr string
}

// DefaultOptions returns the options used when no configuration is given.
func DefaultOptions() Options {
	return Options{
		Policy:        rules.RepeatPolicy,
		BigGiftAge:    11,
		BigGiftGrades: []int{5, 6},
	}
}

// IsGirl holds for students whose gender is "girl".
var IsGirl = Gender.Eq("girl")

// GiftRules is the two-branch gift rule. The first branch matches every girl, so
// under the default policy the big gift is never reached.
func GiftRules(svc *Service) *rules.Node[Student] {
	return rules.NewNode(
		rules.If(IsGirl, svc.Give("girlGift")),
		rules.If(rules.And(IsGirl, Age.Gt(11)), svc.Give("bigGift")),
	)
}

// DistributionRules hands out at most one gift of each kind per student:
//
//	girls:     bigGift when eligible (and assigned to a class), else girlGift
//	under 6:   toy
//	otherwise: sticker, with failures reported instead of returned
//
// Gifts a student already holds decline their branch so that the next one is tried.
// The sticker is given at most once like every other gift; once it is held the
// fallback succeeds without a new grant.
func DistributionRules(svc *Service, opts Options) (*rules.Node[Student], error) {
	if opts.Policy == nil {
		opts.Policy = rules.RepeatPolicy
	}

	bigGift, err := bigGiftCondition(opts)
	if err != nil {
		return nil, err
	}

	return rules.NewNodeWithPolicy(opts.Policy,
		rules.Branch(IsGirl,
			rules.If(bigGift, rules.Then(
				rules.Assert(ClassNum.Gt(0)),
				svc.GiveOnce("bigGift"),
			)),
			rules.If(rules.Else[Student](), svc.GiveOnce("girlGift")),
		),
		rules.If(Age.Lt(6), svc.GiveOnce("toy")),
		rules.If(rules.Else[Student](), rules.NewCapture(
			svc.Give("sticker"),
			rules.HandleWith(svc.ReportFailure),
		)),
	), nil
}

func bigGiftCondition(opts Options) (rules.Condition[Student], error) {
	if opts.BigGiftExpr != "" {
		env, err := celcond.NewEnvFromSchema(Schema)
		if err != nil {
			return nil, err
		}
		cond, err := celcond.Compile(env, opts.BigGiftExpr, Student.Facts)
		if err != nil {
			return nil, fmt.Errorf("big gift expression: %w", err)
		}
		return cond, nil
	}

	ageGt := Age.Gt(opts.BigGiftAge)
	if len(opts.BigGiftGrades) == 0 {
		return ageGt, nil
	}
	return rules.And(ageGt, Grade.In(opts.BigGiftGrades...)), nil
}

// Register compiles both rule sets into reg. Grants are stamped with the rule set
// that produced them.
func Register(reg *registry.Registry[Student], svc *Service, opts Options, compileOpts ...rules.CompileOption) error {
	if _, err := reg.Register(GiftRuleSet, GiftRules(svc.WithRuleSet(GiftRuleSet)), compileOpts...); err != nil {
		return err
	}

	node, err := DistributionRules(svc.WithRuleSet(DistributionRuleSet), opts)
	if err != nil {
		return fmt.Errorf("failed to build %s rules: %w", DistributionRuleSet, err)
	}
	_, err = reg.Register(DistributionRuleSet, node, compileOpts...)
	return err
}
