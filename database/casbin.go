package database

import (
	"fmt"

	"messaging-service/config"

	"github.com/casbin/casbin/v2"
	casbinmodel "github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"gorm.io/gorm"
)

const RoleAdmin = "admin"

// Casbin builds the role enforcer. Policies live in Postgres next to the
// messaging tables; admin role grants are (user, "admin", community) rows.
func Casbin(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, fmt.Errorf("initialize casbin adapter: %w", err)
	}

	m, err := casbinmodel.NewModelFromString(config.RBACModel)
	if err != nil {
		return nil, fmt.Errorf("load casbin model: %w", err)
	}

	e, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, fmt.Errorf("create casbin enforcer: %w", err)
	}

	if err := e.LoadPolicy(); err != nil {
		return nil, fmt.Errorf("load casbin policy: %w", err)
	}
	if err := SeedPolicy(e); err != nil {
		return nil, err
	}
	return e, nil
}

type policyStore interface {
	HasPolicy(params ...interface{}) (bool, error)
	AddPolicy(params ...interface{}) (bool, error)
}

// SeedPolicy grants the admin role the privileged conversation capabilities
// and the /v1/admin routes.
func SeedPolicy(e policyStore) error {
	rules := [][]string{
		{RoleAdmin, "conversation", "manage"},
		{RoleAdmin, "/v1/admin/*", "(GET)|(POST)|(PUT)|(DELETE)"},
	}
	for _, rule := range rules {
		if has, _ := e.HasPolicy(rule[0], rule[1], rule[2]); has {
			continue
		}
		if _, err := e.AddPolicy(rule[0], rule[1], rule[2]); err != nil {
			return fmt.Errorf("add casbin policy %v: %w", rule, err)
		}
	}
	return nil
}
