// Package biz contains business logic layer implementations.
// This layer holds the routing, flag and validation rules and stays
// unaware of how the backends persist anything.
package biz

import (
	"MsgBridge/internal/data"

	"github.com/google/wire"
)

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewFeatureFlagManager,
	NewRouterUseCase,
	// Bind data layer implementations to biz layer interfaces
	wire.Bind(new(CifStore), new(*data.CifBackend)),
	wire.Bind(new(DbStore), new(*data.DbBackend)),
)
