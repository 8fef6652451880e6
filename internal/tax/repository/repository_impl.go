package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	taxdomain "github.com/smallbiznis/storetax/internal/tax/domain"
	"github.com/smallbiznis/storetax/pkg/db"
	"github.com/smallbiznis/storetax/pkg/db/option"
	"gorm.io/gorm"
)

var sortableColumns = map[string]bool{
	"id":         true,
	"code":       true,
	"name":       true,
	"rate":       true,
	"created_at": true,
	"updated_at": true,
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) taxdomain.Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, rule *taxdomain.TaxRule) error {
	if err := r.db.WithContext(ctx).Create(rule).Error; err != nil {
		return translate(err)
	}
	return nil
}

func (r *repository) FindByID(ctx context.Context, id snowflake.ID) (*taxdomain.TaxRule, error) {
	var rule taxdomain.TaxRule
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&rule).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func (r *repository) FindByCode(ctx context.Context, code string) (*taxdomain.TaxRule, error) {
	var rule taxdomain.TaxRule
	err := r.db.WithContext(ctx).Where("code = ?", strings.TrimSpace(code)).Take(&rule).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rule, nil
}

func (r *repository) List(ctx context.Context, filter taxdomain.ListRequest) ([]taxdomain.TaxRule, error) {
	var items []taxdomain.TaxRule
	stmt := r.db.WithContext(ctx).Model(&taxdomain.TaxRule{})

	if name := strings.TrimSpace(filter.Name); name != "" {
		stmt = stmt.Where("LOWER(name) LIKE ? ESCAPE '!'", "%"+escapeLike(strings.ToLower(name))+"%")
	}
	if code := strings.TrimSpace(filter.Code); code != "" {
		stmt = stmt.Where("code = ?", code)
	}
	if region := strings.ToUpper(strings.TrimSpace(filter.Region)); region != "" {
		var err error
		if stmt, err = r.whereRegion(stmt, region); err != nil {
			return nil, err
		}
	}
	if filter.Active != nil {
		stmt = stmt.Where("active = ?", *filter.Active)
	}

	stmt = option.WithSortBy(option.WithQuerySortBy(filter.SortBy, filter.OrderBy, sortableColumns)).Apply(stmt)
	// id breaks ties and is the default order.
	stmt = stmt.Order("id ASC")

	if err := stmt.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repository) ListAll(ctx context.Context) ([]taxdomain.TaxRule, error) {
	var items []taxdomain.TaxRule
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repository) Update(ctx context.Context, rule *taxdomain.TaxRule) error {
	res := r.db.WithContext(ctx).
		Model(&taxdomain.TaxRule{}).
		Where("id = ?", rule.ID).
		Select(
			"name", "kind", "rate", "inclusive", "compound", "active",
			"applicable_regions", "applicable_categories",
			"minimum_amount", "maximum_amount", "updated_at",
		).
		Updates(rule)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return taxdomain.ErrNotFound
	}
	return nil
}

func (r *repository) Delete(ctx context.Context, id snowflake.ID) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&taxdomain.TaxRule{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return taxdomain.ErrNotFound
	}
	return nil
}

// whereRegion matches a region inside the JSON array column. Regions are
// stored upper-cased, so the encoded element is matched verbatim.
func (r *repository) whereRegion(stmt *gorm.DB, region string) (*gorm.DB, error) {
	if r.db.Dialector.Name() == db.DialectPostgres {
		value, err := json.Marshal([]string{region})
		if err != nil {
			return nil, err
		}
		return stmt.Where("applicable_regions @> ?::jsonb", string(value)), nil
	}
	element, err := json.Marshal(region)
	if err != nil {
		return nil, err
	}
	return stmt.Where("applicable_regions LIKE ? ESCAPE '!'", "%"+escapeLike(string(element))+"%"), nil
}

var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

func escapeLike(value string) string {
	return likeEscaper.Replace(value)
}

func translate(err error) error {
	if db.IsDuplicateKeyErr(err) {
		return taxdomain.ErrDuplicateCode
	}
	return err
}
