package couchkit

import (
	"errors"
	"time"

	"github.com/couchbase/gocb/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"stealthcompany.com/couchkit/internal/metrics"
)

// Helper exposes key-value and view operations on a session's selected
// collection, translating the expected document conditions (exists, not
// found) into boolean and nil returns instead of errors.
type Helper struct {
	session SessionLike
	logger  zerolog.Logger
}

// NewHelper creates a helper bound to the given session, connecting it when
// necessary.
func NewHelper(session SessionLike) (*Helper, error) {
	if !session.Connected() {
		if err := session.Connect(); err != nil {
			return nil, err
		}
	}
	if session.Collection() == nil {
		return nil, ErrBucketNotSet
	}

	return &Helper{session: session, logger: log.Logger}, nil
}

func (h *Helper) buildOpts(kind Kind, opts *Options, expiry time.Duration) (Options, error) {
	var options Options
	if opts != nil {
		options = *opts
	}
	return BuildOptions(kind, options, expiry, h.session.Timeout())
}

// waitForService blocks until the given service reports ready, bounded by
// the session's key-value timeout.
func (h *Helper) waitForService(service gocb.ServiceType) error {
	return h.session.Cluster().WaitUntilReady(h.session.Timeout().KVDuration(), &gocb.WaitUntilReadyOptions{
		ServiceTypes: []gocb.ServiceType{service},
	})
}

// Insert stores a new document under the given key. It returns false when
// the key already exists or the operation fails.
func (h *Helper) Insert(key string, value interface{}, expiry time.Duration, opts *Options) bool {
	built, err := h.buildOpts(KindInsert, opts, expiry)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to build insert options")
		return false
	}

	if err := h.waitForService(gocb.ServiceTypeKeyValue); err != nil {
		h.logger.Error().Err(err).Msg("Key-value service not ready")
		return false
	}

	start := time.Now()
	err = h.session.Collection().Insert(key, value, built.insertOptions())
	metrics.RecordKVOperation("insert", err == nil, time.Since(start))
	if err != nil {
		if errors.Is(err, gocb.ErrDocumentExists) {
			return false
		}
		h.logger.Error().Err(err).Str("key", key).Msg("Insert failed")
		return false
	}
	return true
}

// InsertMulti stores the given documents as one batch request. It returns
// true only when every document was stored; failed keys are logged.
func (h *Helper) InsertMulti(documents map[string]interface{}, expiry time.Duration, opts *Options, perKeyOpts map[string]Options) bool {
	return h.mutateMulti(KindInsert, KindInsertMulti, documents, expiry, opts, perKeyOpts)
}

// Upsert stores a document under the given key, replacing any existing one.
// It returns false when the operation fails.
func (h *Helper) Upsert(key string, value interface{}, expiry time.Duration, opts *Options) bool {
	built, err := h.buildOpts(KindUpsert, opts, expiry)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to build upsert options")
		return false
	}

	if err := h.waitForService(gocb.ServiceTypeKeyValue); err != nil {
		h.logger.Error().Err(err).Msg("Key-value service not ready")
		return false
	}

	start := time.Now()
	err = h.session.Collection().Upsert(key, value, built.upsertOptions())
	metrics.RecordKVOperation("upsert", err == nil, time.Since(start))
	if err != nil {
		h.logger.Error().Err(err).Str("key", key).Msg("Upsert failed")
		return false
	}
	return true
}

// UpsertMulti stores the given documents as one batch request, replacing
// existing ones. It returns true only when every document was stored.
func (h *Helper) UpsertMulti(documents map[string]interface{}, expiry time.Duration, opts *Options, perKeyOpts map[string]Options) bool {
	return h.mutateMulti(KindUpsert, KindUpsertMulti, documents, expiry, opts, perKeyOpts)
}

// Replace replaces the document under the given key. It returns false when
// the key does not exist or the operation fails.
func (h *Helper) Replace(key string, value interface{}, expiry time.Duration, opts *Options) bool {
	built, err := h.buildOpts(KindReplace, opts, expiry)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to build replace options")
		return false
	}

	if err := h.waitForService(gocb.ServiceTypeKeyValue); err != nil {
		h.logger.Error().Err(err).Msg("Key-value service not ready")
		return false
	}

	start := time.Now()
	err = h.session.Collection().Replace(key, value, built.replaceOptions())
	metrics.RecordKVOperation("replace", err == nil, time.Since(start))
	if err != nil {
		if errors.Is(err, gocb.ErrDocumentNotFound) {
			return false
		}
		h.logger.Error().Err(err).Str("key", key).Msg("Replace failed")
		return false
	}
	return true
}

// ReplaceMulti replaces the given documents as one batch request. It
// returns true only when every document was replaced.
func (h *Helper) ReplaceMulti(documents map[string]interface{}, expiry time.Duration, opts *Options, perKeyOpts map[string]Options) bool {
	return h.mutateMulti(KindReplace, KindReplaceMulti, documents, expiry, opts, perKeyOpts)
}

// mutateMulti issues one batch mutation request and logs every failed key.
func (h *Helper) mutateMulti(opKind, batchKind Kind, documents map[string]interface{}, expiry time.Duration, opts *Options, perKeyOpts map[string]Options) bool {
	built, err := h.buildOpts(batchKind, opts, expiry)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to build batch options")
		return false
	}

	ops := make([]*BulkOp, 0, len(documents))
	for key, doc := range documents {
		docExpiry := built.Expiry
		if perKey, ok := perKeyOpts[key]; ok {
			perKeyBuilt, err := BuildOptions(opKind, perKey, 0, h.session.Timeout())
			if err == nil && perKeyBuilt.Expiry > 0 {
				docExpiry = perKeyBuilt.Expiry
			}
		}
		ops = append(ops, &BulkOp{Kind: opKind, ID: key, Value: doc, Expiry: docExpiry})
	}

	if err := h.waitForService(gocb.ServiceTypeKeyValue); err != nil {
		h.logger.Error().Err(err).Msg("Key-value service not ready")
		return false
	}

	start := time.Now()
	err = h.session.Collection().Do(ops, built.bulkOptions())
	metrics.RecordKVOperation(batchKind.String(), err == nil, time.Since(start))
	if err != nil {
		h.logger.Error().Err(err).Str("operation", batchKind.String()).Msg("Batch request failed")
		return false
	}

	ok := true
	for _, op := range ops {
		if op.Err != nil {
			ok = false
			h.logger.Error().Err(op.Err).Str("key", op.ID).Msg("Unable to store document")
		}
	}
	return ok
}

// Get fetches the document under the given key. It returns nil when the
// key does not exist or the operation fails.
func (h *Helper) Get(key string, opts *Options) map[string]interface{} {
	built, err := h.buildOpts(KindGet, opts, 0)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to build get options")
		return nil
	}

	if err := h.waitForService(gocb.ServiceTypeKeyValue); err != nil {
		h.logger.Error().Err(err).Msg("Key-value service not ready")
		return nil
	}

	start := time.Now()
	result, err := h.session.Collection().Get(key, built.getOptions())
	metrics.RecordKVOperation("get", err == nil, time.Since(start))
	if err != nil {
		if errors.Is(err, gocb.ErrDocumentNotFound) {
			return nil
		}
		h.logger.Error().Err(err).Str("key", key).Msg("Get failed")
		return nil
	}

	var document map[string]interface{}
	if err := result.Content(&document); err != nil {
		h.logger.Error().Err(err).Str("key", key).Msg("Failed to decode document content")
		return nil
	}
	return document
}

// GetMulti fetches the given keys as one batch request and returns the
// documents that were found. Failed keys are logged.
func (h *Helper) GetMulti(keys []string, opts *Options) []map[string]interface{} {
	built, err := h.buildOpts(KindGetMulti, opts, 0)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to build get_multi options")
		return nil
	}

	ops := make([]*BulkOp, 0, len(keys))
	for _, key := range keys {
		ops = append(ops, &BulkOp{Kind: KindGet, ID: key})
	}

	if err := h.waitForService(gocb.ServiceTypeKeyValue); err != nil {
		h.logger.Error().Err(err).Msg("Key-value service not ready")
		return nil
	}

	start := time.Now()
	err = h.session.Collection().Do(ops, built.bulkOptions())
	metrics.RecordKVOperation("get_multi", err == nil, time.Since(start))
	if err != nil {
		h.logger.Error().Err(err).Msg("Batch get failed")
		return nil
	}

	var documents []map[string]interface{}
	for _, op := range ops {
		if op.Err != nil {
			if !errors.Is(op.Err, gocb.ErrDocumentNotFound) {
				h.logger.Error().Err(op.Err).Str("key", op.ID).Msg("Unable to fetch document")
			}
			continue
		}
		documents = append(documents, op.Content)
	}
	return documents
}

// Remove deletes the document under the given key. It returns false when
// the key does not exist or the operation fails.
func (h *Helper) Remove(key string, opts *Options) bool {
	built, err := h.buildOpts(KindRemove, opts, 0)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to build remove options")
		return false
	}

	if err := h.waitForService(gocb.ServiceTypeKeyValue); err != nil {
		h.logger.Error().Err(err).Msg("Key-value service not ready")
		return false
	}

	start := time.Now()
	err = h.session.Collection().Remove(key, built.removeOptions())
	metrics.RecordKVOperation("remove", err == nil, time.Since(start))
	if err != nil {
		if errors.Is(err, gocb.ErrDocumentNotFound) {
			return false
		}
		h.logger.Error().Err(err).Str("key", key).Msg("Remove failed")
		return false
	}
	return true
}

// RemoveMulti deletes the given keys as one batch request. It returns true
// only when every key was removed.
func (h *Helper) RemoveMulti(keys []string, opts *Options) bool {
	built, err := h.buildOpts(KindRemoveMulti, opts, 0)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to build remove_multi options")
		return false
	}

	ops := make([]*BulkOp, 0, len(keys))
	for _, key := range keys {
		ops = append(ops, &BulkOp{Kind: KindRemove, ID: key})
	}

	if err := h.waitForService(gocb.ServiceTypeKeyValue); err != nil {
		h.logger.Error().Err(err).Msg("Key-value service not ready")
		return false
	}

	start := time.Now()
	err = h.session.Collection().Do(ops, built.bulkOptions())
	metrics.RecordKVOperation("remove_multi", err == nil, time.Since(start))
	if err != nil {
		h.logger.Error().Err(err).Msg("Batch remove failed")
		return false
	}

	ok := true
	for _, op := range ops {
		if op.Err != nil {
			ok = false
			h.logger.Error().Err(op.Err).Str("key", op.ID).Msg("Unable to remove document")
		}
	}
	return ok
}

// Delete is an alias for Remove.
func (h *Helper) Delete(key string, opts *Options) bool {
	return h.Remove(key, opts)
}

// DeleteMulti is an alias for RemoveMulti.
func (h *Helper) DeleteMulti(keys []string, opts *Options) bool {
	return h.RemoveMulti(keys, opts)
}

// ViewQuery executes a view query against the selected bucket. Limit and
// skip values of zero are left unset. It returns nil when the query fails.
func (h *Helper) ViewQuery(designDoc, viewName string, limit, skip int, opts *Options) []ViewRow {
	built, err := h.buildOpts(KindView, opts, 0)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to build view options")
		return nil
	}

	viewOpts := built.viewOptions()
	if limit > 0 {
		viewOpts.Limit = uint32(limit)
	}
	if skip > 0 {
		viewOpts.Skip = uint32(skip)
	}

	if err := h.waitForService(gocb.ServiceTypeViews); err != nil {
		h.logger.Error().Err(err).Msg("View service not ready")
		return nil
	}

	start := time.Now()
	rows, err := h.session.Bucket().ViewQuery(designDoc, viewName, viewOpts)
	metrics.RecordKVOperation("view", err == nil, time.Since(start))
	if err != nil {
		h.logger.Error().Err(err).
			Str("design_doc", designDoc).
			Str("view", viewName).
			Msg("View query failed")
		return nil
	}
	return rows
}
