package authorization

import (
	"context"
	"errors"
)

const (
	ObjectTaxRule  = "tax_rule"
	ObjectTax      = "tax"
	ObjectAuditLog = "audit_log"
)

const (
	ActionTaxRuleView   = "tax_rule.view"
	ActionTaxRuleCreate = "tax_rule.create"
	ActionTaxRuleUpdate = "tax_rule.update"
	ActionTaxRuleDelete = "tax_rule.delete"

	ActionTaxCalculate = "tax.calculate"

	ActionAuditLogView = "audit_log.view"
)

const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleStaff   = "staff"
	RoleSystem  = "system"
)

var (
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
	ErrForbidden     = errors.New("forbidden")
)

// Service decides whether a staff role may perform action on object.
type Service interface {
	Authorize(ctx context.Context, role string, object string, action string) error
}
