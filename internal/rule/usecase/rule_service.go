package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	emaildomain "github.com/elie222/inbox-zero-sub019/internal/email/domain"
	ruledomain "github.com/elie222/inbox-zero-sub019/internal/rule/domain"
	ruledto "github.com/elie222/inbox-zero-sub019/internal/rule/dto"
	"github.com/elie222/inbox-zero-sub019/internal/rule/repository"
	"github.com/elie222/inbox-zero-sub019/pkg/logger"
)

var (
	ErrRuleNotFound = errors.New("rule not found")
	ErrInvalidRule  = errors.New("invalid rule")
)

// RuleService manages rules and their learned patterns.
type RuleService struct {
	rules  repository.RuleRepository
	groups repository.GroupRepository
}

func NewRuleService(rules repository.RuleRepository, groups repository.GroupRepository) *RuleService {
	return &RuleService{rules: rules, groups: groups}
}

func (s *RuleService) ListRules(ctx context.Context, accountID string) ([]ruledomain.Rule, error) {
	return s.rules.ListByAccount(ctx, accountID)
}

func (s *RuleService) GetRule(ctx context.Context, accountID, ruleID string) (*ruledomain.Rule, error) {
	rule, err := s.rules.FindByID(ctx, accountID, ruleID)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, ErrRuleNotFound
	}
	return rule, nil
}

func (s *RuleService) CreateRule(ctx context.Context, accountID string, req *ruledto.RuleRequest) (*ruledomain.Rule, error) {
	rule, err := ruleFromRequest(accountID, req)
	if err != nil {
		return nil, err
	}
	existing, err := s.rules.FindByName(ctx, accountID, rule.Name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: a rule named %q already exists", ErrInvalidRule, rule.Name)
	}
	if err := s.rules.Create(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to create rule: %w", err)
	}
	return rule, nil
}

func (s *RuleService) UpdateRule(ctx context.Context, accountID, ruleID string, req *ruledto.RuleRequest) (*ruledomain.Rule, error) {
	current, err := s.GetRule(ctx, accountID, ruleID)
	if err != nil {
		return nil, err
	}
	rule, err := ruleFromRequest(accountID, req)
	if err != nil {
		return nil, err
	}
	rule.ID = current.ID
	rule.SystemType = current.SystemType
	rule.CreatedAt = current.CreatedAt
	if err := s.rules.Update(ctx, rule); err != nil {
		return nil, fmt.Errorf("failed to update rule: %w", err)
	}
	return s.GetRule(ctx, accountID, ruleID)
}

// SetAutomate flips a rule between suggest-only and automatic.
func (s *RuleService) SetAutomate(ctx context.Context, accountID, ruleID string, automate bool) (*ruledomain.Rule, error) {
	rule, err := s.GetRule(ctx, accountID, ruleID)
	if err != nil {
		return nil, err
	}
	rule.Automate = automate
	if err := s.rules.Update(ctx, rule); err != nil {
		return nil, err
	}
	return rule, nil
}

func (s *RuleService) DeleteRule(ctx context.Context, accountID, ruleID string) error {
	if _, err := s.GetRule(ctx, accountID, ruleID); err != nil {
		return err
	}
	return s.rules.Delete(ctx, accountID, ruleID)
}

// LearnPattern records the sender of email against the rule so later mail
// from the same address skips classification. It reports whether a new
// item was added.
func (s *RuleService) LearnPattern(ctx context.Context, rule *ruledomain.Rule, email *emaildomain.Email) (bool, error) {
	sender := strings.ToLower(strings.TrimSpace(email.From))
	if sender == "" {
		return false, nil
	}
	group, err := s.groups.EnsureGroup(ctx, rule.AccountID, rule.ID, rule.Name)
	if err != nil {
		return false, fmt.Errorf("failed to ensure pattern group: %w", err)
	}
	added, err := s.groups.AddItem(ctx, group.ID, ruledomain.GroupItemFrom, sender)
	if err != nil {
		return false, fmt.Errorf("failed to add pattern item: %w", err)
	}
	if added {
		logger.Logger.Info().Str("rule", rule.Name).Str("sender", sender).Msg("[RuleService] Learned sender pattern")
	}
	return added, nil
}

func (s *RuleService) GetPattern(ctx context.Context, accountID, ruleID string) (*ruledomain.Group, error) {
	if _, err := s.GetRule(ctx, accountID, ruleID); err != nil {
		return nil, err
	}
	group, err := s.groups.FindByRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return &ruledomain.Group{RuleID: ruleID, AccountID: accountID}, nil
	}
	return group, nil
}

func (s *RuleService) AddPatternItem(ctx context.Context, accountID, ruleID string, req *ruledto.PatternItemRequest) (*ruledomain.Group, error) {
	rule, err := s.GetRule(ctx, accountID, ruleID)
	if err != nil {
		return nil, err
	}
	group, err := s.groups.EnsureGroup(ctx, accountID, rule.ID, rule.Name)
	if err != nil {
		return nil, err
	}
	if _, err := s.groups.AddItem(ctx, group.ID, req.Type, req.Value); err != nil {
		return nil, err
	}
	return s.groups.FindByRule(ctx, rule.ID)
}

func (s *RuleService) RemovePatternItem(ctx context.Context, accountID, ruleID, itemID string) error {
	group, err := s.GetPattern(ctx, accountID, ruleID)
	if err != nil {
		return err
	}
	if group.ID == "" {
		return nil
	}
	return s.groups.DeleteItem(ctx, group.ID, itemID)
}

// Bootstrap creates the preset rules for the given categories, or all of
// them when none are named. Presets whose name is already taken are
// skipped, so it is safe to run more than once.
func (s *RuleService) Bootstrap(ctx context.Context, accountID string, categories []ruledomain.SystemType) ([]ruledomain.Rule, error) {
	presets, err := loadPresets()
	if err != nil {
		return nil, err
	}
	want := make(map[ruledomain.SystemType]bool, len(categories))
	for _, c := range categories {
		want[c] = true
	}

	var created []ruledomain.Rule
	for _, p := range presets {
		if len(want) > 0 && !want[p.SystemType] {
			continue
		}
		existing, err := s.rules.FindByName(ctx, accountID, p.Name)
		if err != nil {
			return created, err
		}
		if existing != nil {
			continue
		}
		rule := p.rule(accountID)
		if err := s.rules.Create(ctx, rule); err != nil {
			return created, fmt.Errorf("failed to create preset %s: %w", p.Name, err)
		}
		created = append(created, *rule)
	}
	logger.Logger.Info().Str("account_id", accountID).Int("created", len(created)).Msg("[RuleService] Bootstrapped preset rules")
	return created, nil
}

func ruleFromRequest(accountID string, req *ruledto.RuleRequest) (*ruledomain.Rule, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidRule)
	}
	rule := &ruledomain.Rule{
		AccountID:    accountID,
		Name:         name,
		Instructions: strings.TrimSpace(req.Instructions),
		From:         strings.TrimSpace(req.From),
		To:           strings.TrimSpace(req.To),
		Subject:      strings.TrimSpace(req.Subject),
		Body:         strings.TrimSpace(req.Body),
		Enabled:      req.Enabled == nil || *req.Enabled,
		Automate:     req.Automate,
		IncludeSent:  req.IncludeSent,
		Priority:     req.Priority,
	}
	if rule.Instructions == "" && !rule.HasStaticFilters() {
		return nil, fmt.Errorf("%w: a rule needs instructions or at least one filter", ErrInvalidRule)
	}
	for _, a := range req.Actions {
		action := ruledomain.Action{
			Type:    a.Type,
			Label:   a.Label,
			Subject: a.Subject,
			Content: a.Content,
			To:      a.To,
			Cc:      a.Cc,
			Bcc:     a.Bcc,
			URL:     a.URL,
			Folder:  a.Folder,
		}
		if err := action.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
		}
		rule.Actions = append(rule.Actions, action)
	}
	return rule, nil
}
