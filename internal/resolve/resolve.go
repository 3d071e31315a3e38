// Package resolve implements the parameter-extraction stage: it turns a
// raw trigger (tag ref or dispatch scope) into the full release identity
// recorded on the queue item.
package resolve

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"capstan/internal/config"
	"capstan/internal/logging"
	"capstan/internal/manifest"
	"capstan/internal/notifications"
	"capstan/internal/queue"
	"capstan/internal/services"
	"capstan/internal/stage"
	"capstan/internal/trigger"
	"capstan/internal/version"
)

// Resolver derives release parameters from the trigger fields.
type Resolver struct {
	store    *queue.Store
	cfg      *config.Config
	logger   *slog.Logger
	notifier notifications.Service
}

// NewResolver constructs the resolve stage handler using default dependencies.
func NewResolver(cfg *config.Config, store *queue.Store, logger *slog.Logger) *Resolver {
	return NewResolverWithDependencies(cfg, store, logger, notifications.NewService(cfg))
}

// NewResolverWithDependencies allows injecting collaborators (used in tests).
func NewResolverWithDependencies(cfg *config.Config, store *queue.Store, logger *slog.Logger, notifier notifications.Service) *Resolver {
	resolver := &Resolver{store: store, cfg: cfg, notifier: notifier}
	resolver.SetLogger(logger)
	return resolver
}

// SetLogger updates the resolver's logging destination while preserving component labeling.
func (r *Resolver) SetLogger(logger *slog.Logger) {
	r.logger = logging.NewComponentLogger(logger, "resolve")
}

func (r *Resolver) Prepare(ctx context.Context, item *queue.Item) error {
	logger := logging.WithContext(ctx, r.logger)
	if item.ProgressStage == "" {
		item.ProgressStage = "Resolving"
	}
	item.ProgressMessage = "Deriving release parameters"
	item.ProgressPercent = 0
	item.ErrorMessage = ""
	logger.Info(
		"starting parameter resolution",
		logging.String("trigger_kind", item.TriggerKind),
		logging.String("trigger_ref", strings.TrimSpace(item.TriggerRef)),
		logging.String("trigger_scope", strings.TrimSpace(item.TriggerScope)),
	)
	return nil
}

func (r *Resolver) Execute(ctx context.Context, item *queue.Item) error {
	logger := logging.WithContext(ctx, r.logger)

	scopePkg, rawVersion, err := splitTrigger(item)
	if err != nil {
		return services.Wrap(
			services.ErrValidation,
			"resolving",
			"parse trigger",
			"Trigger does not name a valid <package>/v<version> release; fix the tag or dispatch scope",
			err,
		)
	}

	r.updateProgress(ctx, item, "Loading release manifest", 10)
	m, err := manifest.Load(r.cfg.Manifest.Path)
	if err != nil {
		return services.Wrap(
			services.ErrConfiguration,
			"resolving",
			"load manifest",
			"Release manifest failed to load; check manifest.path and run 'capstan manifest validate'",
			err,
		)
	}

	var pkg *manifest.Package
	if scopePkg == "" {
		root, ok := m.RootPackage()
		if !ok {
			return services.Wrap(
				services.ErrValidation,
				"resolving",
				"select package",
				"Bare v-tags release the repository root, but no package declares module '.'; tag <package>/v<version> instead",
				nil,
			)
		}
		pkg = root
	} else {
		found, ok := m.Lookup(scopePkg)
		if !ok {
			return services.Wrap(
				services.ErrValidation,
				"resolving",
				"select package",
				fmt.Sprintf("Package %q is not declared in the release manifest", scopePkg),
				nil,
			)
		}
		pkg = found
	}

	ver, err := version.Parse(rawVersion)
	if err != nil {
		return services.Wrap(
			services.ErrValidation,
			"resolving",
			"parse version",
			fmt.Sprintf("Version %q is not a release version; use forms like 1.2.3, 1.2.3rc1, or 1.2.3.dev4", rawVersion),
			err,
		)
	}

	requested := strings.TrimSpace(item.Environment)
	env := requested
	if env == "" {
		env = pkg.DefaultEnvironment()
	} else if !pkg.AllowsEnvironment(env) {
		return services.Wrap(
			services.ErrValidation,
			"resolving",
			"select environment",
			fmt.Sprintf("Environment %q is not an allowed publish target for %s (allowed: %s)", requested, pkg.Name, strings.Join(pkg.Environments, ", ")),
			nil,
		)
	}
	if ver.Channel() == version.ChannelDev && env == manifest.EnvironmentProduction {
		if alt, ok := pkg.NonProductionEnvironment(); ok {
			logger.Info(
				"dev build rerouted away from production",
				logging.String("package", pkg.Name),
				logging.String("environment", alt),
			)
			env = alt
		}
	}

	r.updateProgress(ctx, item, fmt.Sprintf("Resolving %s %s", pkg.Name, ver), 40)
	existing, err := r.store.FindActiveRelease(ctx, pkg.Name, ver.String())
	if err != nil {
		return services.Wrap(services.ErrTransient, "resolving", "dedupe release", "Queue lookup for duplicate releases failed", err)
	}
	if existing != nil && existing.ID != item.ID {
		return services.Wrap(
			services.ErrValidation,
			"resolving",
			"dedupe release",
			fmt.Sprintf("%s %s is already being released as item #%d (%s)", pkg.Name, ver, existing.ID, existing.Status),
			nil,
		)
	}

	item.Package = pkg.Name
	item.Module = pkg.Module
	item.Version = ver.String()
	item.Channel = string(ver.Channel())
	item.WheelStem = version.WheelStem(pkg.Name, ver)
	item.Environment = env
	item.PipelineRef = pipelineRef(r.cfg, pkg, item, ver)

	r.updateProgress(ctx, item, "Resolution completed", 100)
	item.ProgressMessage = fmt.Sprintf("Resolved %s %s for %s", pkg.Name, ver, env)
	logger.Info(
		"release parameters resolved",
		logging.String("package", item.Package),
		logging.String("version", item.Version),
		logging.String("channel", item.Channel),
		logging.String("environment", item.Environment),
		logging.String("pipeline_ref", item.PipelineRef),
	)

	if r.notifier != nil {
		if err := r.notifier.NotifyReleaseResolved(ctx, item.Package, item.Version, item.Environment); err != nil {
			logger.Warn("resolve notification failed", logging.Error(err))
		}
	}
	return nil
}

// HealthCheck verifies the release manifest is present and loads cleanly.
func (r *Resolver) HealthCheck(ctx context.Context) stage.Health {
	const name = "resolve"
	if r.cfg == nil {
		return stage.Unhealthy(name, "configuration unavailable")
	}
	path := strings.TrimSpace(r.cfg.Manifest.Path)
	if path == "" {
		return stage.Unhealthy(name, "release manifest path not configured")
	}
	if _, err := manifest.Load(path); err != nil {
		return stage.Unhealthy(name, err.Error())
	}
	return stage.Healthy(name)
}

// splitTrigger extracts the scope package and raw version from whichever
// trigger field matches the item's kind.
func splitTrigger(item *queue.Item) (string, string, error) {
	switch item.TriggerKind {
	case queue.TriggerKindTag:
		return trigger.ParseTagRef(item.TriggerRef)
	case queue.TriggerKindDispatch:
		return trigger.SplitScope(item.TriggerScope)
	default:
		return "", "", fmt.Errorf("unsupported trigger kind %q", item.TriggerKind)
	}
}

// pipelineRef picks the ref the runner dispatch builds from. Explicit
// overrides win: a manifest runner.ref pin first, then the operator's
// configured default, then the pushed tag, and finally the canonical tag
// ref derived from the resolved identity.
func pipelineRef(cfg *config.Config, pkg *manifest.Package, item *queue.Item, ver version.Version) string {
	if ref := strings.TrimSpace(pkg.Runner.Ref); ref != "" {
		return ref
	}
	if ref := strings.TrimSpace(cfg.Runner.PipelineRef); ref != "" {
		return ref
	}
	if item.TriggerKind == queue.TriggerKindTag {
		if ref := strings.TrimSpace(item.TriggerRef); ref != "" {
			return ref
		}
	}
	if pkg.IsRoot() {
		return "refs/tags/v" + ver.String()
	}
	return "refs/tags/" + pkg.Name + "/v" + ver.String()
}

func (r *Resolver) updateProgress(ctx context.Context, item *queue.Item, message string, percent float64) {
	logger := logging.WithContext(ctx, r.logger)
	copy := *item
	copy.ProgressMessage = message
	copy.ProgressPercent = percent
	if err := r.store.Update(ctx, &copy); err != nil {
		logger.Warn("failed to persist resolve progress", logging.Error(err))
		return
	}
	*item = copy
}
