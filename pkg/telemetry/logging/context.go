package logging

import "context"

// Context keys for request-scoped log fields.
type contextKey string

const (
	// CorrelationIDKey is the context key for request correlation ids.
	CorrelationIDKey contextKey = "correlation_id"

	// TenantKey is the context key for tenant identifiers.
	TenantKey contextKey = "tenant"

	// ActorKey is the context key for actor identifiers (user or service account).
	ActorKey contextKey = "actor"

	// TeamKey is the context key for team identifiers.
	TeamKey contextKey = "team"

	// ProviderKey is the context key for connector names.
	ProviderKey contextKey = "provider"

	// ModelKey is the context key for model names.
	ModelKey contextKey = "model"

	// FeatureKey is the context key for client feature tags.
	FeatureKey contextKey = "feature"
)

// WithCorrelationID adds a correlation id to the context.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, id)
}

// GetCorrelationID retrieves the correlation id from the context.
func GetCorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(CorrelationIDKey).(string); ok {
		return id
	}
	return ""
}

// WithTenant adds a tenant identifier to the context.
func WithTenant(ctx context.Context, tenant string) context.Context {
	return context.WithValue(ctx, TenantKey, tenant)
}

// GetTenant retrieves the tenant identifier from the context.
func GetTenant(ctx context.Context) string {
	if tenant, ok := ctx.Value(TenantKey).(string); ok {
		return tenant
	}
	return ""
}

// WithActor adds an actor identifier to the context.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, ActorKey, actor)
}

// GetActor retrieves the actor identifier from the context.
func GetActor(ctx context.Context) string {
	if actor, ok := ctx.Value(ActorKey).(string); ok {
		return actor
	}
	return ""
}

// WithTeam adds a team identifier to the context.
func WithTeam(ctx context.Context, team string) context.Context {
	return context.WithValue(ctx, TeamKey, team)
}

// GetTeam retrieves the team identifier from the context.
func GetTeam(ctx context.Context) string {
	if team, ok := ctx.Value(TeamKey).(string); ok {
		return team
	}
	return ""
}

// WithProvider adds a connector name to the context.
func WithProvider(ctx context.Context, provider string) context.Context {
	return context.WithValue(ctx, ProviderKey, provider)
}

// GetProvider retrieves the connector name from the context.
func GetProvider(ctx context.Context) string {
	if provider, ok := ctx.Value(ProviderKey).(string); ok {
		return provider
	}
	return ""
}

// WithModel adds a model name to the context.
func WithModel(ctx context.Context, model string) context.Context {
	return context.WithValue(ctx, ModelKey, model)
}

// GetModel retrieves the model name from the context.
func GetModel(ctx context.Context) string {
	if model, ok := ctx.Value(ModelKey).(string); ok {
		return model
	}
	return ""
}

// WithFeature adds a feature tag to the context.
func WithFeature(ctx context.Context, feature string) context.Context {
	return context.WithValue(ctx, FeatureKey, feature)
}

// GetFeature retrieves the feature tag from the context.
func GetFeature(ctx context.Context) string {
	if feature, ok := ctx.Value(FeatureKey).(string); ok {
		return feature
	}
	return ""
}

// extractContextFields extracts common fields from context for logging.
// Returns a slice of key-value pairs suitable for logger.With().
func extractContextFields(ctx context.Context) []any {
	var fields []any

	if id := GetCorrelationID(ctx); id != "" {
		fields = append(fields, "correlation_id", id)
	}
	if tenant := GetTenant(ctx); tenant != "" {
		fields = append(fields, "tenant", tenant)
	}
	if actor := GetActor(ctx); actor != "" {
		fields = append(fields, "actor", actor)
	}
	if team := GetTeam(ctx); team != "" {
		fields = append(fields, "team", team)
	}
	if provider := GetProvider(ctx); provider != "" {
		fields = append(fields, "provider", provider)
	}
	if model := GetModel(ctx); model != "" {
		fields = append(fields, "model", model)
	}
	if feature := GetFeature(ctx); feature != "" {
		fields = append(fields, "feature", feature)
	}

	return fields
}
