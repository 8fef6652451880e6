package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/storetax/internal/audit/domain"
	"github.com/smallbiznis/storetax/internal/clock"
	obscontext "github.com/smallbiznis/storetax/internal/observability/context"
	"github.com/smallbiznis/storetax/internal/observability/logger"
	"github.com/smallbiznis/storetax/internal/observability/metrics"
	"github.com/smallbiznis/storetax/internal/tax/catalog"
	taxdomain "github.com/smallbiznis/storetax/internal/tax/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type ServiceParams struct {
	fx.In

	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     taxdomain.Repository
	Loader   *catalog.Loader
	Notifier catalog.Notifier
	AuditSvc auditdomain.Service `optional:"true"`
	Metrics  *metrics.Metrics    `optional:"true"`
}

type Service struct {
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     taxdomain.Repository
	loader   *catalog.Loader
	notifier catalog.Notifier
	auditSvc auditdomain.Service
	metrics  *metrics.Metrics
}

func NewService(p ServiceParams) taxdomain.Service {
	return &Service{
		log:      p.Log.Named("tax.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		loader:   p.Loader,
		notifier: p.Notifier,
		auditSvc: p.AuditSvc,
		metrics:  p.Metrics,
	}
}

func (s *Service) Create(ctx context.Context, req taxdomain.CreateRequest) (*taxdomain.Response, error) {
	code := strings.TrimSpace(req.Code)
	if code == "" {
		code = req.Name
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	now := s.clock.Now()
	rule := &taxdomain.TaxRule{
		ID:                   s.genID.Generate(),
		Code:                 slug.Make(code),
		Name:                 req.Name,
		Kind:                 req.Kind,
		Rate:                 req.Rate,
		Inclusive:            req.Inclusive,
		Compound:             req.Compound,
		Active:               active,
		ApplicableRegions:    datatypes.JSONSlice[string](req.ApplicableRegions),
		ApplicableCategories: datatypes.JSONSlice[string](req.ApplicableCategories),
		MinimumAmount:        nullDecimal(req.MinimumAmount),
		MaximumAmount:        nullDecimal(req.MaximumAmount),
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	rule.Normalize()
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	existing, err := s.repo.FindByCode(ctx, rule.Code)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, taxdomain.ErrDuplicateCode
	}

	if err := s.repo.Create(ctx, rule); err != nil {
		return nil, err
	}

	s.afterMutation(ctx, auditdomain.ActionTaxRuleCreate, rule, nil)
	resp := toResponse(rule)
	return &resp, nil
}

func (s *Service) Get(ctx context.Context, id string) (*taxdomain.Response, error) {
	rule, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := toResponse(rule)
	return &resp, nil
}

func (s *Service) List(ctx context.Context, req taxdomain.ListRequest) ([]taxdomain.Response, error) {
	filter := taxdomain.ListRequest{
		Name:    strings.TrimSpace(req.Name),
		Code:    strings.TrimSpace(req.Code),
		Region:  strings.TrimSpace(req.Region),
		Active:  req.Active,
		SortBy:  strings.TrimSpace(req.SortBy),
		OrderBy: strings.TrimSpace(req.OrderBy),
	}

	items, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	resp := make([]taxdomain.Response, 0, len(items))
	for i := range items {
		resp = append(resp, toResponse(&items[i]))
	}
	return resp, nil
}

func (s *Service) Update(ctx context.Context, req taxdomain.UpdateRequest) (*taxdomain.Response, error) {
	rule, err := s.find(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	before := rule.Clone()

	if req.Name != nil {
		rule.Name = *req.Name
	}
	if req.Kind != nil {
		rule.Kind = *req.Kind
	}
	if req.Rate != nil {
		rule.Rate = *req.Rate
	}
	if req.Inclusive != nil {
		rule.Inclusive = *req.Inclusive
	}
	if req.Compound != nil {
		rule.Compound = *req.Compound
	}
	if req.ApplicableRegions != nil {
		rule.ApplicableRegions = datatypes.JSONSlice[string](req.ApplicableRegions)
	}
	if req.ApplicableCategories != nil {
		rule.ApplicableCategories = datatypes.JSONSlice[string](req.ApplicableCategories)
	}
	switch {
	case req.ClearMinimumAmount:
		rule.MinimumAmount = decimal.NullDecimal{}
	case req.MinimumAmount != nil:
		rule.MinimumAmount = nullDecimal(req.MinimumAmount)
	}
	switch {
	case req.ClearMaximumAmount:
		rule.MaximumAmount = decimal.NullDecimal{}
	case req.MaximumAmount != nil:
		rule.MaximumAmount = nullDecimal(req.MaximumAmount)
	}

	rule.Normalize()
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	rule.UpdatedAt = s.clock.Now()
	if err := s.repo.Update(ctx, rule); err != nil {
		return nil, err
	}

	s.afterMutation(ctx, auditdomain.ActionTaxRuleUpdate, rule, map[string]any{
		"changes": diff(&before, rule),
	})
	resp := toResponse(rule)
	return &resp, nil
}

func (s *Service) Disable(ctx context.Context, id string) (*taxdomain.Response, error) {
	return s.setActive(ctx, id, false)
}

func (s *Service) Enable(ctx context.Context, id string) (*taxdomain.Response, error) {
	return s.setActive(ctx, id, true)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	rule, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, rule.ID); err != nil {
		return err
	}
	s.afterMutation(ctx, auditdomain.ActionTaxRuleDelete, rule, nil)
	return nil
}

func (s *Service) setActive(ctx context.Context, id string, active bool) (*taxdomain.Response, error) {
	rule, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}

	action := auditdomain.ActionTaxRuleDisable
	if active {
		action = auditdomain.ActionTaxRuleEnable
	}

	if rule.Active != active {
		rule.Active = active
		rule.UpdatedAt = s.clock.Now()
		if err := s.repo.Update(ctx, rule); err != nil {
			return nil, err
		}
		s.afterMutation(ctx, action, rule, nil)
	}

	resp := toResponse(rule)
	return &resp, nil
}

func (s *Service) find(ctx context.Context, id string) (*taxdomain.TaxRule, error) {
	ruleID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || ruleID <= 0 {
		return nil, taxdomain.ErrInvalidID
	}

	rule, err := s.repo.FindByID(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, taxdomain.ErrNotFound
	}
	return rule, nil
}

// afterMutation runs once a change is persisted. Failures here are logged
// and never undo the write; the scheduled refresh converges the catalog.
func (s *Service) afterMutation(ctx context.Context, action string, rule *taxdomain.TaxRule, extra map[string]any) {
	log := logger.WithContext(ctx, s.log)
	role, _ := obscontext.ActorFromContext(ctx)
	s.metrics.RecordRuleMutation(ctx, action, role)

	s.emitAudit(ctx, action, rule, extra)

	snapshot, err := s.loader.Reload(ctx, metrics.CatalogReloadTriggerMutation)
	if err != nil {
		log.Error("catalog reload after mutation failed",
			zap.String("action", action),
			zap.String("rule_id", rule.ID.String()),
			zap.Error(err),
		)
		return
	}

	if err := s.notifier.Notify(ctx, snapshot.Version()); err != nil {
		log.Warn("catalog change notification failed",
			zap.Uint64("version", snapshot.Version()),
			zap.Error(err),
		)
	}

	log.Info("tax rule changed",
		zap.String("action", action),
		zap.String("rule_id", rule.ID.String()),
		zap.String("code", rule.Code),
		zap.Uint64("catalog_version", snapshot.Version()),
	)
}

func (s *Service) emitAudit(ctx context.Context, action string, rule *taxdomain.TaxRule, extra map[string]any) {
	if s.auditSvc == nil || rule == nil {
		return
	}
	metadata := map[string]any{
		"code":   rule.Code,
		"name":   rule.Name,
		"kind":   string(rule.Kind),
		"rate":   rule.Rate.String(),
		"active": rule.Active,
	}
	for key, value := range extra {
		if key == "" {
			continue
		}
		metadata[key] = value
	}

	targetID := rule.ID.String()
	if err := s.auditSvc.AuditLog(ctx, action, auditdomain.TargetTypeTaxRule, &targetID, metadata); err != nil {
		logger.WithContext(ctx, s.log).Warn("audit log failed", zap.String("action", action), zap.Error(err))
	}
}

// diff lists the names of the fields an update changed.
func diff(before, after *taxdomain.TaxRule) []string {
	changes := make([]string, 0, 8)
	if before.Name != after.Name {
		changes = append(changes, "name")
	}
	if before.Kind != after.Kind {
		changes = append(changes, "kind")
	}
	if !before.Rate.Equal(after.Rate) {
		changes = append(changes, "rate")
	}
	if before.Inclusive != after.Inclusive {
		changes = append(changes, "inclusive")
	}
	if before.Compound != after.Compound {
		changes = append(changes, "compound")
	}
	if !equalStrings(before.ApplicableRegions, after.ApplicableRegions) {
		changes = append(changes, "applicable_regions")
	}
	if !equalStrings(before.ApplicableCategories, after.ApplicableCategories) {
		changes = append(changes, "applicable_categories")
	}
	if !equalNullDecimal(before.MinimumAmount, after.MinimumAmount) {
		changes = append(changes, "minimum_amount")
	}
	if !equalNullDecimal(before.MaximumAmount, after.MaximumAmount) {
		changes = append(changes, "maximum_amount")
	}
	return changes
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalNullDecimal(a, b decimal.NullDecimal) bool {
	if a.Valid != b.Valid {
		return false
	}
	return !a.Valid || a.Decimal.Equal(b.Decimal)
}

func nullDecimal(value *decimal.Decimal) decimal.NullDecimal {
	if value == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(*value)
}

func toResponse(rule *taxdomain.TaxRule) taxdomain.Response {
	resp := taxdomain.Response{
		ID:                   rule.ID.String(),
		Code:                 rule.Code,
		Name:                 rule.Name,
		Kind:                 rule.Kind,
		Rate:                 rule.Rate,
		Inclusive:            rule.Inclusive,
		Compound:             rule.Compound,
		Active:               rule.Active,
		ApplicableRegions:    append([]string{}, rule.ApplicableRegions...),
		ApplicableCategories: append([]string{}, rule.ApplicableCategories...),
		CreatedAt:            rule.CreatedAt,
		UpdatedAt:            rule.UpdatedAt,
	}
	if rule.MinimumAmount.Valid {
		minimum := rule.MinimumAmount.Decimal
		resp.MinimumAmount = &minimum
	}
	if rule.MaximumAmount.Valid {
		maximum := rule.MaximumAmount.Decimal
		resp.MaximumAmount = &maximum
	}
	return resp
}
