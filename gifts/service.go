package gifts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/liamcoop/ruleng/rules"
)

var ErrAnonymousStudent = errors.New("student has no name")

const defaultTimeout = 5 * time.Second

// Service provides the gift actions used by the rule sets. Every action writes to
// the ledger and is bounded by the service timeout.
type Service struct {
	ledger  Ledger
	logger  *slog.Logger
	timeout time.Duration
	ruleSet string
}

// NewService creates a service over ledger. A nil logger means slog.Default().
func NewService(ledger Ledger, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		ledger:  ledger,
		logger:  logger,
		timeout: defaultTimeout,
	}
}

// WithRuleSet returns a copy of the service that stamps grants with name.
func (s *Service) WithRuleSet(name string) *Service {
	c := *s
	c.ruleSet = name
	return &c
}

// WithTimeout returns a copy of the service using d for ledger calls.
func (s *Service) WithTimeout(d time.Duration) *Service {
	c := *s
	c.timeout = d
	return &c
}

// Ledger returns the underlying ledger.
func (s *Service) Ledger() Ledger {
	return s.ledger
}

// Give returns an action granting gift to the student. A student who already holds
// gift keeps the existing grant and the action succeeds.
func (s *Service) Give(gift string) *rules.Action[Student] {
	return rules.NewAction("give("+gift+")", func(st Student) error {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		err := s.grant(ctx, st, gift)
		if errors.Is(err, ErrAlreadyGranted) {
			s.logger.Debug("gift already granted", "student", st.Name, "gift", gift)
			return nil
		}
		return err
	})
}

// GiveOnce is Give, except that it declines with rules.ErrNoMatch when the student
// already holds gift. Under RepeatPolicy the next matching branch is tried.
func (s *Service) GiveOnce(gift string) *rules.Action[Student] {
	return rules.NewAction("giveOnce("+gift+")", func(st Student) error {
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		err := s.grant(ctx, st, gift)
		if errors.Is(err, ErrAlreadyGranted) {
			s.logger.Debug("gift already granted", "student", st.Name, "gift", gift)
			return fmt.Errorf("%s already holds %s: %w", st.Name, gift, rules.ErrNoMatch)
		}
		return err
	})
}

func (s *Service) grant(ctx context.Context, st Student, gift string) error {
	if st.Name == "" {
		return ErrAnonymousStudent
	}

	g := &Grant{Student: st.Name, Gift: gift, RuleSet: s.ruleSet}
	if err := s.ledger.Record(ctx, g); err != nil {
		return fmt.Errorf("failed to record %s for %s: %w", gift, st.Name, err)
	}
	if st.Receipt != nil {
		st.Receipt.add(g)
	}

	s.logger.Info("gift granted",
		"grant_id", g.ID,
		"student", st.Name,
		"gift", gift,
		"rule_set", s.ruleSet,
	)
	return nil
}

// ReportFailure logs a failed distribution. It is used as a capture handler.
func (s *Service) ReportFailure(st Student, err error) {
	s.logger.Warn("gift distribution failed",
		"student", st.Name,
		"rule_set", s.ruleSet,
		"error", err,
	)
}
