package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type Repository interface {
	Create(ctx context.Context, rule *TaxRule) error
	FindByID(ctx context.Context, id snowflake.ID) (*TaxRule, error)
	FindByCode(ctx context.Context, code string) (*TaxRule, error)
	List(ctx context.Context, filter ListRequest) ([]TaxRule, error)
	// ListAll returns every rule in catalog definition order.
	ListAll(ctx context.Context) ([]TaxRule, error)
	Update(ctx context.Context, rule *TaxRule) error
	Delete(ctx context.Context, id snowflake.ID) error
}
