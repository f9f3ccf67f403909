package config

import _ "embed"

// RBACModel is the casbin model: role grants are scoped per community.
//
//go:embed rbac_model.conf
var RBACModel string
