package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/agent-mesh/agent-mesh/pkg/common/cache"
	"github.com/agent-mesh/agent-mesh/pkg/events"
	"github.com/agent-mesh/agent-mesh/pkg/models"
	"github.com/agent-mesh/agent-mesh/pkg/repository"
	"github.com/agent-mesh/agent-mesh/pkg/sinks"
)

// AccessGrant describes one entry of an initial access control list.
type AccessGrant struct {
	AgentID   string             `json:"agent_id"`
	Level     models.AccessLevel `json:"level"`
	ExpiresIn time.Duration      `json:"expires_in,omitempty"`
}

// CreateContextParams carries the inputs for CreateContext.
type CreateContextParams struct {
	Name           string
	ContextType    string
	OwnerID        string
	InitialContent models.JSONMap
	InitialACL     []AccessGrant
	Metadata       models.JSONMap
}

// VersionMeta identifies one version in a comparison result.
type VersionMeta struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	AgentID   string    `json:"agent_id"`
}

// VersionComparison is the difference between two versions of a context.
type VersionComparison struct {
	TreeDiff
	V1Meta VersionMeta `json:"v1_meta"`
	V2Meta VersionMeta `json:"v2_meta"`
}

// ContextEngine manages versioned, access-controlled content trees shared
// by collaborating agents. Every operation takes the calling agent's ID and
// enforces the context's access rules against it.
type ContextEngine interface {
	CreateContext(ctx context.Context, params CreateContextParams) (*models.SharedContext, error)
	GetContext(ctx context.Context, contextID, agentID string) (*models.SharedContext, error)
	UpdateContext(ctx context.Context, contextID, agentID string, updates map[string]interface{}, metadata models.JSONMap) (*models.SharedContext, error)
	MergeContexts(ctx context.Context, targetID, sourceID, agentID, resolution string) (*models.SharedContext, error)
	ForkContext(ctx context.Context, contextID, agentID, newName string) (*models.SharedContext, error)
	GrantAccess(ctx context.Context, contextID, granterID, granteeID string, level models.AccessLevel, expiresIn time.Duration) error
	RevokeAccess(ctx context.Context, contextID, revokerID, targetID string) error
	Subscribe(ctx context.Context, contextID, agentID string) error
	Unsubscribe(ctx context.Context, contextID, agentID string) error
	GetContextVersion(ctx context.Context, contextID, versionID, agentID string) (models.JSONMap, error)
	CompareVersions(ctx context.Context, contextID, v1ID, v2ID, agentID string) (*VersionComparison, error)
	RevertToVersion(ctx context.Context, contextID, versionID, agentID string) (*models.SharedContext, error)
	SearchContexts(ctx context.Context, query, contextType, agentID string) ([]*models.SharedContext, error)
}

// ContextEngineConfig tunes the context engine. Compression and archival
// are enabled by providing the corresponding collaborator to the
// constructor; a nil compressor or archiver disables that hook.
type ContextEngineConfig struct {
	CompressionThreshold  int
	ArchiveEveryNVersions int
	MaxSizeBytes          int64
	CacheTTL              time.Duration
}

func (c ContextEngineConfig) withDefaults() ContextEngineConfig {
	if c.CompressionThreshold <= 0 {
		c.CompressionThreshold = 5000
	}
	if c.ArchiveEveryNVersions <= 0 {
		c.ArchiveEveryNVersions = 5
	}
	if c.MaxSizeBytes <= 0 {
		c.MaxSizeBytes = 200 << 20
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 30 * time.Second
	}
	return c
}

type contextEngine struct {
	BaseService
	engineCfg ContextEngineConfig
	store     repository.ContextRepository
	cache     cache.Cache

	// compressor gates write-side compression; decompressor is always set
	// so rows compressed by an earlier run stay readable.
	compressor   sinks.CompressionSink
	decompressor sinks.CompressionSink

	dispatcher *NotificationDispatcher
	archiver   *ArchivalWorker
}

// NewContextEngine creates the shared context engine. The cache,
// compressor, dispatcher, and archiver may each be nil to disable the
// corresponding hook.
func NewContextEngine(config ServiceConfig, engineCfg ContextEngineConfig, store repository.ContextRepository, contextCache cache.Cache, compressor sinks.CompressionSink, dispatcher *NotificationDispatcher, archiver *ArchivalWorker) ContextEngine {
	if contextCache == nil {
		contextCache = cache.NewNoOpCache()
	}
	decompressor := compressor
	if decompressor == nil {
		decompressor = sinks.NewGzipCompressor()
	}
	return &contextEngine{
		BaseService:  NewBaseService(config),
		engineCfg:    engineCfg.withDefaults(),
		store:        store,
		cache:        contextCache,
		compressor:   compressor,
		decompressor: decompressor,
		dispatcher:   dispatcher,
		archiver:     archiver,
	}
}

func (e *contextEngine) CreateContext(ctx context.Context, params CreateContextParams) (*models.SharedContext, error) {
	ctx, span := e.config.Tracer(ctx, "ContextEngine.CreateContext")
	defer span.End()

	now := e.config.Clock.Now().UTC()
	sc := &models.SharedContext{
		ID:          uuid.New().String(),
		Name:        params.Name,
		ContextType: params.ContextType,
		OwnerID:     params.OwnerID,
		Content:     params.InitialContent.Clone(),
		Metadata:    params.Metadata.Clone(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	sc.SetDefaultValues()
	if err := sc.Validate(); err != nil {
		return nil, invalidArgf("invalid context: %v", err)
	}
	sc.AddSubscriber(sc.OwnerID)

	plain := sc.Content
	version := &models.ContextVersion{
		ID:        uuid.New().String(),
		ContextID: sc.ID,
		Timestamp: now,
		AgentID:   sc.OwnerID,
		Changes: models.ChangeList{{
			Operation: models.ChangeOperationCreate,
			Path:      RootPath,
			NewValue:  models.DeepCopyValue(map[string]interface{}(plain)),
			AgentID:   sc.OwnerID,
			Timestamp: now,
		}},
	}
	version.ContentHash = models.ComputeContentHash(version.Changes)
	sc.CurrentVersionID = version.ID

	stored, compressed, err := e.compressContent(plain)
	if err != nil {
		return nil, err
	}
	sc.Content = stored
	sc.IsCompressed = compressed

	if err := e.store.Create(ctx, sc); err != nil {
		return nil, translateError(err, "failed to create context")
	}
	if err := e.store.CreateVersion(ctx, version); err != nil {
		return nil, translateError(err, "failed to create initial version")
	}

	for _, grant := range params.InitialACL {
		if err := e.upsertGrant(ctx, sc.ID, sc.OwnerID, grant.AgentID, grant.Level, grant.ExpiresIn, now); err != nil {
			return nil, err
		}
	}

	e.config.Logger.Info("Context created", map[string]interface{}{
		"context_id": sc.ID,
		"name":       sc.Name,
		"owner_id":   sc.OwnerID,
		"type":       sc.ContextType,
	})
	e.config.Metrics.IncrementCounter("contexts.created", 1)
	e.publishEvent(ctx, events.EventContextCreated, "context", sc.ID, map[string]interface{}{
		"owner_id":   sc.OwnerID,
		"version_id": version.ID,
	})

	sc.Content = plain
	sc.IsCompressed = false
	if len(params.InitialACL) > 0 {
		loaded, err := e.loadContext(ctx, sc.ID)
		if err != nil {
			return nil, err
		}
		return e.presentContext(loaded)
	}
	return sc, nil
}

func (e *contextEngine) GetContext(ctx context.Context, contextID, agentID string) (*models.SharedContext, error) {
	ctx, span := e.config.Tracer(ctx, "ContextEngine.GetContext")
	defer span.End()

	sc, err := e.cachedContext(ctx, contextID)
	if err != nil {
		return nil, err
	}
	if err := e.requireAccess(sc, agentID, models.AccessReadOnly); err != nil {
		return nil, err
	}
	return e.presentContext(sc)
}

func (e *contextEngine) UpdateContext(ctx context.Context, contextID, agentID string, updates map[string]interface{}, metadata models.JSONMap) (*models.SharedContext, error) {
	ctx, span := e.config.Tracer(ctx, "ContextEngine.UpdateContext")
	defer span.End()

	if len(updates) == 0 {
		return nil, invalidArgf("no updates given")
	}

	sc, err := e.loadContext(ctx, contextID)
	if err != nil {
		return nil, err
	}
	if err := e.requireAccess(sc, agentID, models.AccessReadWrite); err != nil {
		return nil, err
	}

	tree, err := e.plainTree(sc)
	if err != nil {
		return nil, err
	}

	// Paths are applied in sorted order so a batch's change list, and with
	// it the version's content hash, is deterministic.
	paths := make([]string, 0, len(updates))
	for path := range updates {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	now := e.config.Clock.Now().UTC()
	changes := make(models.ChangeList, 0, len(paths))
	for _, path := range paths {
		segments, err := splitPath(path)
		if err != nil {
			return nil, err
		}
		oldValue := models.DeepCopyValue(valueAtPath(tree, segments))
		newValue := models.DeepCopyValue(updates[path])
		tree = setValueAtPath(tree, segments, newValue)
		changes = append(changes, models.ContextChange{
			Operation: models.ChangeOperationUpdate,
			Path:      path,
			OldValue:  oldValue,
			NewValue:  newValue,
			AgentID:   agentID,
			Timestamp: now,
		})
	}

	return e.commitMutation(ctx, sc, agentID, mutation{
		operation: "update",
		changes:   changes,
		newTree:   tree,
		paths:     paths,
		metadata:  metadata,
		eventType: events.EventContextUpdated,
	})
}

func (e *contextEngine) MergeContexts(ctx context.Context, targetID, sourceID, agentID, resolution string) (*models.SharedContext, error) {
	ctx, span := e.config.Tracer(ctx, "ContextEngine.MergeContexts")
	defer span.End()

	switch resolution {
	case MergeResolutionSource, MergeResolutionTarget, MergeResolutionLatest:
	default:
		return nil, invalidArgf("unknown merge resolution: %q", resolution)
	}
	if targetID == sourceID {
		return nil, invalidArgf("cannot merge a context into itself")
	}

	target, err := e.loadContext(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if err := e.requireAccess(target, agentID, models.AccessReadWrite); err != nil {
		return nil, err
	}

	source, err := e.loadContext(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	if err := e.requireAccess(source, agentID, models.AccessReadOnly); err != nil {
		return nil, err
	}

	targetTree, err := e.plainTree(target)
	if err != nil {
		return nil, err
	}
	sourceTree, err := e.plainTree(source)
	if err != nil {
		return nil, err
	}

	merged := mergeTrees(targetTree, sourceTree, resolution)
	now := e.config.Clock.Now().UTC()
	changes := models.ChangeList{{
		Operation: models.ChangeOperationMerge,
		Path:      RootPath,
		OldValue:  models.DeepCopyValue(targetTree),
		NewValue:  models.DeepCopyValue(merged),
		AgentID:   agentID,
		Timestamp: now,
		Metadata: models.JSONMap{
			"source_context_id": sourceID,
			"resolution":        resolution,
		},
	}}

	return e.commitMutation(ctx, target, agentID, mutation{
		operation: "merge",
		changes:   changes,
		newTree:   merged,
		paths:     []string{RootPath},
		metadata: models.JSONMap{
			"source_context_id": sourceID,
			"resolution":        resolution,
		},
		eventType: events.EventContextMerged,
	})
}

func (e *contextEngine) ForkContext(ctx context.Context, contextID, agentID, newName string) (*models.SharedContext, error) {
	ctx, span := e.config.Tracer(ctx, "ContextEngine.ForkContext")
	defer span.End()

	source, err := e.loadContext(ctx, contextID)
	if err != nil {
		return nil, err
	}
	if err := e.requireAccess(source, agentID, models.AccessReadOnly); err != nil {
		return nil, err
	}

	tree, err := e.plainTree(source)
	if err != nil {
		return nil, err
	}

	now := e.config.Clock.Now().UTC()
	name := newName
	if name == "" {
		name = fmt.Sprintf("%s (fork)", source.Name)
	}

	fork, err := e.CreateContext(ctx, CreateContextParams{
		Name:           name,
		ContextType:    source.ContextType,
		OwnerID:        agentID,
		InitialContent: models.JSONMap(models.AsTree(models.DeepCopyValue(tree))),
		Metadata: models.JSONMap{
			"forkedFrom": contextID,
			"forkTime":   now.Format(time.RFC3339Nano),
		},
	})
	if err != nil {
		return nil, err
	}

	e.publishEvent(ctx, events.EventContextForked, "context", fork.ID, map[string]interface{}{
		"forked_from": contextID,
	})
	return fork, nil
}

func (e *contextEngine) GrantAccess(ctx context.Context, contextID, granterID, granteeID string, level models.AccessLevel, expiresIn time.Duration) error {
	ctx, span := e.config.Tracer(ctx, "ContextEngine.GrantAccess")
	defer span.End()

	if !level.IsValid() {
		return invalidArgf("unknown access level: %q", level)
	}
	if granteeID == "" {
		return invalidArgf("grantee ID is required")
	}

	sc, err := e.loadContext(ctx, contextID)
	if err != nil {
		return err
	}
	if err := e.requireAccess(sc, granterID, models.AccessAdmin); err != nil {
		return err
	}

	now := e.config.Clock.Now().UTC()
	if err := e.upsertGrant(ctx, contextID, granterID, granteeID, level, expiresIn, now); err != nil {
		return err
	}

	e.invalidateCache(ctx, contextID)
	e.config.Logger.Info("Context access granted", map[string]interface{}{
		"context_id": contextID,
		"grantee_id": granteeID,
		"level":      string(level),
		"granted_by": granterID,
	})
	return nil
}

func (e *contextEngine) RevokeAccess(ctx context.Context, contextID, revokerID, targetID string) error {
	ctx, span := e.config.Tracer(ctx, "ContextEngine.RevokeAccess")
	defer span.End()

	sc, err := e.loadContext(ctx, contextID)
	if err != nil {
		return err
	}
	if err := e.requireAccess(sc, revokerID, models.AccessAdmin); err != nil {
		return err
	}
	if targetID == sc.OwnerID {
		return invalidStatef("cannot revoke access from the context owner")
	}

	if err := e.store.DeleteAccess(ctx, contextID, targetID); err != nil {
		return translateError(err, "failed to revoke access")
	}

	e.invalidateCache(ctx, contextID)
	e.config.Logger.Info("Context access revoked", map[string]interface{}{
		"context_id": contextID,
		"target_id":  targetID,
		"revoked_by": revokerID,
	})
	return nil
}

func (e *contextEngine) Subscribe(ctx context.Context, contextID, agentID string) error {
	ctx, span := e.config.Tracer(ctx, "ContextEngine.Subscribe")
	defer span.End()

	sc, err := e.loadContext(ctx, contextID)
	if err != nil {
		return err
	}
	if err := e.requireAccess(sc, agentID, models.AccessReadOnly); err != nil {
		return err
	}
	if sc.IsSubscribed(agentID) {
		return nil
	}

	sc.AddSubscriber(agentID)
	sc.UpdatedAt = e.config.Clock.Now().UTC()
	if err := e.store.Update(ctx, sc); err != nil {
		return translateError(err, "failed to subscribe")
	}

	e.invalidateCache(ctx, contextID)
	return nil
}

func (e *contextEngine) Unsubscribe(ctx context.Context, contextID, agentID string) error {
	ctx, span := e.config.Tracer(ctx, "ContextEngine.Unsubscribe")
	defer span.End()

	if agentID == "" {
		return invalidArgf("agent ID is required")
	}

	sc, err := e.loadContext(ctx, contextID)
	if err != nil {
		return err
	}
	if !sc.IsSubscribed(agentID) {
		return nil
	}

	sc.RemoveSubscriber(agentID)
	sc.UpdatedAt = e.config.Clock.Now().UTC()
	if err := e.store.Update(ctx, sc); err != nil {
		return translateError(err, "failed to unsubscribe")
	}

	e.invalidateCache(ctx, contextID)
	return nil
}

func (e *contextEngine) GetContextVersion(ctx context.Context, contextID, versionID, agentID string) (models.JSONMap, error) {
	ctx, span := e.config.Tracer(ctx, "ContextEngine.GetContextVersion")
	defer span.End()

	sc, err := e.loadContext(ctx, contextID)
	if err != nil {
		return nil, err
	}
	if err := e.requireAccess(sc, agentID, models.AccessReadOnly); err != nil {
		return nil, err
	}

	versions, err := e.store.ListVersions(ctx, contextID)
	if err != nil {
		return nil, translateError(err, "failed to list versions")
	}
	return replayToVersion(versions, versionID)
}

func (e *contextEngine) CompareVersions(ctx context.Context, contextID, v1ID, v2ID, agentID string) (*VersionComparison, error) {
	ctx, span := e.config.Tracer(ctx, "ContextEngine.CompareVersions")
	defer span.End()

	sc, err := e.loadContext(ctx, contextID)
	if err != nil {
		return nil, err
	}
	if err := e.requireAccess(sc, agentID, models.AccessReadOnly); err != nil {
		return nil, err
	}

	versions, err := e.store.ListVersions(ctx, contextID)
	if err != nil {
		return nil, translateError(err, "failed to list versions")
	}

	v1Content, err := replayToVersion(versions, v1ID)
	if err != nil {
		return nil, err
	}
	v2Content, err := replayToVersion(versions, v2ID)
	if err != nil {
		return nil, err
	}

	comparison := &VersionComparison{
		TreeDiff: *diffTrees(v1Content, v2Content),
	}
	for _, v := range versions {
		meta := VersionMeta{ID: v.ID, Timestamp: v.Timestamp, AgentID: v.AgentID}
		if v.ID == v1ID {
			comparison.V1Meta = meta
		}
		if v.ID == v2ID {
			comparison.V2Meta = meta
		}
	}
	return comparison, nil
}

func (e *contextEngine) RevertToVersion(ctx context.Context, contextID, versionID, agentID string) (*models.SharedContext, error) {
	ctx, span := e.config.Tracer(ctx, "ContextEngine.RevertToVersion")
	defer span.End()

	sc, err := e.loadContext(ctx, contextID)
	if err != nil {
		return nil, err
	}
	if err := e.requireAccess(sc, agentID, models.AccessReadWrite); err != nil {
		return nil, err
	}

	versions, err := e.store.ListVersions(ctx, contextID)
	if err != nil {
		return nil, translateError(err, "failed to list versions")
	}
	restored, err := replayToVersion(versions, versionID)
	if err != nil {
		return nil, err
	}

	current, err := e.plainTree(sc)
	if err != nil {
		return nil, err
	}

	now := e.config.Clock.Now().UTC()
	newTree := models.AsTree(models.DeepCopyValue(map[string]interface{}(restored)))
	changes := models.ChangeList{{
		Operation: models.ChangeOperationUpdate,
		Path:      RootPath,
		OldValue:  models.DeepCopyValue(current),
		NewValue:  models.DeepCopyValue(newTree),
		AgentID:   agentID,
		Timestamp: now,
		Metadata:  models.JSONMap{"reverted_to": versionID},
	}}

	return e.commitMutation(ctx, sc, agentID, mutation{
		operation: "revert",
		changes:   changes,
		newTree:   newTree,
		paths:     []string{RootPath},
		metadata:  models.JSONMap{"reverted_to": versionID},
		eventType: events.EventContextReverted,
	})
}

func (e *contextEngine) SearchContexts(ctx context.Context, query, contextType, agentID string) ([]*models.SharedContext, error) {
	ctx, span := e.config.Tracer(ctx, "ContextEngine.SearchContexts")
	defer span.End()

	candidates, err := e.store.List(ctx, repository.ContextFilter{
		ContextType: contextType,
		NameQuery:   query,
	})
	if err != nil {
		return nil, translateError(err, "failed to search contexts")
	}

	results := make([]*models.SharedContext, 0, len(candidates))
	for _, sc := range candidates {
		if agentID != "" && !e.canRead(sc, agentID) {
			continue
		}
		plain, err := e.presentContext(sc)
		if err != nil {
			return nil, err
		}
		results = append(results, plain)
	}
	return results, nil
}

// mutation describes a content change to commit as one new version.
type mutation struct {
	operation string
	changes   models.ChangeList
	newTree   map[string]interface{}
	paths     []string
	metadata  models.JSONMap
	eventType events.EventType
}

// commitMutation writes one new version and the updated row, then runs the
// post-commit hooks. The version row goes in first: a version that loses
// the optimistic race is unreachable garbage, while a committed row must
// never reference a missing version.
func (e *contextEngine) commitMutation(ctx context.Context, sc *models.SharedContext, agentID string, m mutation) (*models.SharedContext, error) {
	now := e.config.Clock.Now().UTC()

	version := &models.ContextVersion{
		ID:        uuid.New().String(),
		ContextID: sc.ID,
		Timestamp: now,
		AgentID:   agentID,
		Changes:   m.changes,
		Metadata:  m.metadata,
	}
	if sc.CurrentVersionID != "" {
		parent := sc.CurrentVersionID
		version.ParentVersionID = &parent
	}
	version.ContentHash = models.ComputeContentHash(version.Changes)

	plain := models.JSONMap(m.newTree)
	stored, compressed, err := e.compressContent(plain)
	if err != nil {
		return nil, err
	}

	sc.Content = stored
	sc.IsCompressed = compressed
	sc.CurrentVersionID = version.ID
	sc.UpdatedAt = now

	if err := e.store.CreateVersion(ctx, version); err != nil {
		return nil, translateError(err, "failed to create version")
	}
	if err := e.store.Update(ctx, sc); err != nil {
		return nil, translateError(err, "failed to update context")
	}

	e.invalidateCache(ctx, sc.ID)
	e.notifySubscribers(sc, agentID, version.ID, m.operation, m.paths, now)
	e.maybeArchive(ctx, sc, version.ID, plain, now)

	e.config.Metrics.IncrementCounterWithLabels("contexts.mutations", 1, map[string]string{
		"operation": m.operation,
	})
	e.publishEvent(ctx, m.eventType, "context", sc.ID, map[string]interface{}{
		"version_id": version.ID,
		"agent_id":   agentID,
	})

	sc.Content = plain
	sc.IsCompressed = false
	return sc, nil
}

// requireAccess checks the agent's effective access on a loaded context.
// The owner implicitly holds admin.
func (e *contextEngine) requireAccess(sc *models.SharedContext, agentID string, level models.AccessLevel) error {
	if agentID == "" {
		return invalidArgf("agent ID is required")
	}
	if sc.OwnerID == agentID {
		return nil
	}
	access := sc.AccessFor(agentID, e.config.Clock.Now().UTC())
	if access == nil || !access.Level.Covers(level) {
		return deniedf("agent %s lacks %s access to context %s", agentID, level, sc.ID)
	}
	return nil
}

func (e *contextEngine) canRead(sc *models.SharedContext, agentID string) bool {
	return e.requireAccess(sc, agentID, models.AccessReadOnly) == nil
}

func (e *contextEngine) loadContext(ctx context.Context, contextID string) (*models.SharedContext, error) {
	if contextID == "" {
		return nil, invalidArgf("context ID is required")
	}
	sc, err := e.store.Get(ctx, contextID)
	if err != nil {
		return nil, translateError(err, "failed to load context")
	}
	return sc, nil
}

// cachedContext serves reads through the cache. Mutating paths always load
// from the store directly.
func (e *contextEngine) cachedContext(ctx context.Context, contextID string) (*models.SharedContext, error) {
	if contextID == "" {
		return nil, invalidArgf("context ID is required")
	}

	key := contextCacheKey(contextID)
	var cached models.SharedContext
	if err := e.cache.Get(ctx, key, &cached); err == nil {
		return &cached, nil
	}

	sc, err := e.loadContext(ctx, contextID)
	if err != nil {
		return nil, err
	}
	if err := e.cache.Set(ctx, key, sc, e.engineCfg.CacheTTL); err != nil {
		e.config.Logger.Debug("Failed to cache context", map[string]interface{}{
			"context_id": contextID,
			"error":      err.Error(),
		})
	}
	return sc, nil
}

func (e *contextEngine) invalidateCache(ctx context.Context, contextID string) {
	if err := e.cache.Delete(ctx, contextCacheKey(contextID)); err != nil {
		e.config.Logger.Debug("Failed to invalidate context cache", map[string]interface{}{
			"context_id": contextID,
			"error":      err.Error(),
		})
	}
}

func contextCacheKey(contextID string) string {
	return "context:" + contextID
}

// plainTree returns the context's content with compression undone, as a
// mutable tree detached from the stored row.
func (e *contextEngine) plainTree(sc *models.SharedContext) (map[string]interface{}, error) {
	plain, err := e.plainContent(sc)
	if err != nil {
		return nil, err
	}
	tree := models.AsTree(models.DeepCopyValue(map[string]interface{}(plain)))
	if tree == nil {
		tree = map[string]interface{}{}
	}
	return tree, nil
}

func (e *contextEngine) plainContent(sc *models.SharedContext) (models.JSONMap, error) {
	if !sc.IsCompressed && !sinks.IsWrapped(sc.Content) {
		return sc.Content, nil
	}
	plain, err := sinks.UnwrapContent(e.decompressor, sc.Content)
	if err != nil {
		return nil, errors.Wrapf(ErrInternal, "failed to decompress context %s: %v", sc.ID, err)
	}
	return plain, nil
}

// presentContext returns the caller-visible view of a context: content is
// always the plain tree, regardless of how the row is stored.
func (e *contextEngine) presentContext(sc *models.SharedContext) (*models.SharedContext, error) {
	plain, err := e.plainContent(sc)
	if err != nil {
		return nil, err
	}
	sc.Content = plain
	sc.IsCompressed = false
	return sc, nil
}

// compressContent wraps content above the size threshold. Oversized content
// is rejected; a failing compressor is logged and the content stored as is.
func (e *contextEngine) compressContent(plain models.JSONMap) (models.JSONMap, bool, error) {
	data, err := json.Marshal(plain)
	if err != nil {
		return nil, false, errors.Wrapf(ErrInvalidArgument, "content is not serializable: %v", err)
	}
	if int64(len(data)) > e.engineCfg.MaxSizeBytes {
		return nil, false, invalidArgf("content size %d exceeds limit %d", len(data), e.engineCfg.MaxSizeBytes)
	}
	if e.compressor == nil || len(data) <= e.engineCfg.CompressionThreshold {
		return plain, false, nil
	}

	wrapped, err := sinks.WrapContent(e.compressor, plain)
	if err != nil {
		e.config.Logger.Warn("Content compression failed, storing uncompressed", map[string]interface{}{
			"size":  len(data),
			"error": err.Error(),
		})
		return plain, false, nil
	}
	return wrapped, true, nil
}

func (e *contextEngine) upsertGrant(ctx context.Context, contextID, granterID, granteeID string, level models.AccessLevel, expiresIn time.Duration, now time.Time) error {
	if !level.IsValid() {
		return invalidArgf("unknown access level: %q", level)
	}
	access := &models.ContextAccess{
		ContextID: contextID,
		AgentID:   granteeID,
		Level:     level,
		GrantedAt: now,
		GrantedBy: granterID,
	}
	if expiresIn > 0 {
		expiresAt := now.Add(expiresIn)
		access.ExpiresAt = &expiresAt
	}
	if err := e.store.UpsertAccess(ctx, access); err != nil {
		return translateError(err, "failed to grant access")
	}
	return nil
}

// notifySubscribers queues a change notification for every subscriber
// except the mutating agent. Queuing never blocks the write path.
func (e *contextEngine) notifySubscribers(sc *models.SharedContext, mutatorID, versionID, operation string, paths []string, now time.Time) {
	if e.dispatcher == nil || len(sc.Subscribers) == 0 {
		return
	}

	recipients := make([]string, 0, len(sc.Subscribers))
	for _, subscriberID := range sc.Subscribers {
		if subscriberID != mutatorID {
			recipients = append(recipients, subscriberID)
		}
	}
	if len(recipients) == 0 {
		return
	}

	e.dispatcher.Notify(recipients, &sinks.Notification{
		ContextID: sc.ID,
		VersionID: versionID,
		AgentID:   mutatorID,
		Operation: operation,
		Paths:     append([]string(nil), paths...),
		Timestamp: now,
	})
}

// maybeArchive queues a snapshot when the version count crosses the
// archival cadence. Counting failures are logged and skipped.
func (e *contextEngine) maybeArchive(ctx context.Context, sc *models.SharedContext, versionID string, plain models.JSONMap, now time.Time) {
	if e.archiver == nil {
		return
	}

	count, err := e.store.CountVersions(ctx, sc.ID)
	if err != nil {
		e.config.Logger.Warn("Failed to count versions for archival", map[string]interface{}{
			"context_id": sc.ID,
			"error":      err.Error(),
		})
		return
	}
	if count == 0 || count%e.engineCfg.ArchiveEveryNVersions != 0 {
		return
	}

	snapshot := models.AsTree(models.DeepCopyValue(map[string]interface{}(plain)))
	e.archiver.Enqueue(&sinks.ArchiveEntry{
		ContextID: sc.ID,
		VersionID: versionID,
		Version:   count,
		Content:   models.JSONMap(snapshot),
		Timestamp: now,
	})
}
