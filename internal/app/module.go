package app

import (
	"time"

	"go.uber.org/fx"

	"github.com/courseloom/entitlements/internal/app/api/server"
	"github.com/courseloom/entitlements/internal/app/service/entitlement"
	"github.com/courseloom/entitlements/internal/app/service/eventlog"
	"github.com/courseloom/entitlements/internal/app/service/identity"
	"github.com/courseloom/entitlements/internal/app/service/lifecycle"
	"github.com/courseloom/entitlements/internal/app/service/notify"
	"github.com/courseloom/entitlements/internal/app/service/webhook"
	"github.com/courseloom/entitlements/internal/platform/db"
	platformstore "github.com/courseloom/entitlements/internal/platform/store"
	"github.com/courseloom/entitlements/internal/platform/stripeapi"
	"github.com/courseloom/entitlements/pkg/config"
	"github.com/courseloom/entitlements/pkg/logger"
)

const (
	DefaultStartTimeout = 15 * time.Second
	DefaultStopTimeout  = 10 * time.Second
)

var Module = fx.Options(
	logger.Module,
	config.Module,
	db.Module,
	platformstore.Module,
	stripeapi.Module,
	notify.Module,
	eventlog.Module,
	identity.Module,
	entitlement.Module,
	lifecycle.Module,
	webhook.Module,
	server.Module,
)
