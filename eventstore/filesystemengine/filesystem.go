package filesystemengine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/eventfold/eventfold/eventstore"
)

const (
	streamsDirName = "streams"
	streamDirPerm  = 0o755
	eventFilePerm  = 0o644

	// versionPadWidth fixes the width of the version component in event file
	// names so lexicographic order equals numeric order. maxStreamVersion is
	// the highest version expressible in that width; appends beyond it fail
	// with ErrStreamVersionLimitReached instead of silently wrapping into a
	// permanent slot conflict.
	versionPadWidth  = 6
	maxStreamVersion = eventstore.StreamVersionUint(999999)

	logMsgEventsAppended      = "events appended"
	logMsgFetchCompleted      = "fetch completed"
	logMsgConcurrencyConflict = "concurrency conflict detected"
	logMsgCloseFileFailed     = "failed to close event file"
	logAttrStreamID           = "stream_id"
	logAttrEventCount         = "event_count"
	logAttrDurationMS         = "duration_ms"
	logAttrExpectedVersion    = "expected_version"
	logAttrActualVersion      = "actual_version"

	metricAppendDuration = "eventstore_append_duration"
	metricFetchDuration  = "eventstore_fetch_duration"
	metricConflictsTotal = "eventstore_concurrency_conflicts_total"
	labelEngine          = "engine"
	engineName           = "filesystem"

	spanNameAppend          = "eventstore.append"
	spanNameFetch           = "eventstore.fetch"
	spanAttrStreamID        = "stream_id"
	spanAttrEventCount      = "event_count"
	spanAttrExpectedVersion = "expected_version"
	spanAttrErrorType       = "error_type"
	statusSuccess           = "success"
	statusError             = "error"

	errorTypeConcurrencyConflict = "concurrency_conflict"
	errorTypeStorageFailure      = "storage_failure"
)

var ErrEmptyRootDirSupplied = errors.New("empty root directory supplied")
var ErrStreamVersionLimitReached = errors.New("stream version limit reached")

// EventStore is a filesystem-backed stream store, one file per event.
// It implements eventstore.StreamStore.
type EventStore struct {
	rootDir          string
	codec            eventstore.Codec
	clock            eventstore.Clock
	logger           eventstore.Logger
	contextualLogger eventstore.ContextualLogger
	metricsCollector eventstore.MetricsCollector
	tracingCollector eventstore.TracingCollector
}

// New creates a filesystem EventStore rooted at rootDir with optional
// configuration. The streams directory is created lazily on first append.
func New(rootDir string, options ...Option) (*EventStore, error) {
	if rootDir == "" {
		return nil, ErrEmptyRootDirSupplied
	}

	es := &EventStore{
		rootDir: rootDir,
		codec:   eventstore.JSONCodec{},
		clock:   eventstore.SystemClock{},
	}

	for _, option := range options {
		if err := option(es); err != nil {
			return nil, err
		}
	}

	return es, nil
}

// StartStream creates the stream and appends the given events starting at
// version 1. It fails with a ConcurrencyError if the stream already holds
// at least one event.
func (es *EventStore) StartStream(
	ctx context.Context,
	id eventstore.StreamID,
	streamType string,
	events eventstore.StoredEvents,
) (eventstore.StreamVersionUint, error) {

	return es.AppendToStream(ctx, id, streamType, events, eventstore.ExpectNone())
}

// AppendToStream evaluates the expected version predicate and, on success,
// assigns each event the next strictly increasing version and the clock's
// current timestamp and writes it as an independent, newly created file.
//
// A mid-batch write failure leaves only the already-written prefix durable.
// Losing a race for a version slot (the slot file already exists) is
// normalized into a ConcurrencyError.
func (es *EventStore) AppendToStream(
	ctx context.Context,
	id eventstore.StreamID,
	streamType string,
	events eventstore.StoredEvents,
	expected eventstore.ExpectedVersion,
) (_ eventstore.StreamVersionUint, err error) {

	if len(events) == 0 {
		return 0, eventstore.ErrNoEventsToAppend
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return 0, ctxErr
	}

	start := time.Now()

	ctx, span := es.startSpan(ctx, spanNameAppend, map[string]string{
		spanAttrStreamID:        id.String(),
		spanAttrEventCount:      strconv.Itoa(len(events)),
		spanAttrExpectedVersion: expected.String(),
	})
	defer func() { es.finishSpan(span, err) }()

	currentVersion, versionErr := es.currentVersion(id)
	if versionErr != nil {
		err = errors.Join(eventstore.ErrAppendingEventsFailed, versionErr)
		return 0, err
	}

	if !expected.Matches(currentVersion) {
		err = es.concurrencyConflict(ctx, id, expected, currentVersion)
		return 0, err
	}

	if currentVersion+eventstore.StreamVersionUint(len(events)) > maxStreamVersion {
		err = fmt.Errorf("%w: stream %q is at version %d", ErrStreamVersionLimitReached, id.String(), currentVersion)
		return 0, err
	}

	streamDir := es.streamDir(id)
	if mkdirErr := os.MkdirAll(streamDir, streamDirPerm); mkdirErr != nil {
		err = errors.Join(eventstore.ErrAppendingEventsFailed, mkdirErr)
		return 0, err
	}

	version := currentVersion

	for _, event := range events {
		version++

		stamped := event
		stamped.StreamVersion = version
		stamped.StreamID = id.String()
		stamped.StreamType = streamType
		stamped.OccurredAt = es.clock.Now()

		if writeErr := es.writeEventFile(streamDir, stamped); writeErr != nil {
			if errors.Is(writeErr, fs.ErrExist) {
				// lost the race for this version slot
				actual, actualErr := es.currentVersion(id)
				if actualErr != nil {
					actual = version
				}

				err = es.concurrencyConflict(ctx, id, expected, actual)
				return 0, err
			}

			err = errors.Join(eventstore.ErrAppendingEventsFailed, writeErr)
			return 0, err
		}
	}

	duration := time.Since(start)
	es.logOperation(
		ctx,
		logMsgEventsAppended,
		logAttrStreamID, id.String(),
		logAttrEventCount, len(events),
		logAttrDurationMS, durationToMilliseconds(duration))
	es.recordDuration(metricAppendDuration, duration)

	return version, nil
}

// FetchStream returns all stored events in ascending version order, or an
// empty slice if the stream was never written. A decode failure on any one
// record aborts the whole fetch.
func (es *EventStore) FetchStream(
	ctx context.Context,
	id eventstore.StreamID,
) (_ eventstore.StoredEvents, err error) {

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	start := time.Now()

	ctx, span := es.startSpan(ctx, spanNameFetch, map[string]string{spanAttrStreamID: id.String()})
	defer func() { es.finishSpan(span, err) }()

	versions, files, listErr := es.listEventFiles(id)
	if listErr != nil {
		err = errors.Join(eventstore.ErrFetchingEventsFailed, listErr)
		return nil, err
	}

	eventStream := make(eventstore.StoredEvents, 0, len(files))

	for i, file := range files {
		data, readErr := os.ReadFile(file)
		if readErr != nil {
			err = errors.Join(eventstore.ErrFetchingEventsFailed, readErr)
			return nil, err
		}

		event, decodeErr := es.codec.Decode(data)
		if decodeErr != nil {
			err = errors.Join(eventstore.ErrFetchingEventsFailed, decodeErr)
			return nil, err
		}

		if event.StreamVersion != versions[i] {
			err = errors.Join(
				eventstore.ErrFetchingEventsFailed,
				fmt.Errorf("event file %q carries stream version %d", filepath.Base(file), event.StreamVersion),
			)
			return nil, err
		}

		eventStream = append(eventStream, event)
	}

	duration := time.Since(start)
	es.logOperation(
		ctx,
		logMsgFetchCompleted,
		logAttrStreamID, id.String(),
		logAttrEventCount, len(eventStream),
		logAttrDurationMS, durationToMilliseconds(duration))
	es.recordDuration(metricFetchDuration, duration)

	return eventStream, nil
}

// GetStreamVersion returns the current stream version, 0 if absent.
func (es *EventStore) GetStreamVersion(
	ctx context.Context,
	id eventstore.StreamID,
) (eventstore.StreamVersionUint, error) {

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	return es.currentVersion(id)
}

// StreamExists reports whether at least one event record exists.
func (es *EventStore) StreamExists(ctx context.Context, id eventstore.StreamID) (bool, error) {
	version, err := es.GetStreamVersion(ctx, id)
	if err != nil {
		return false, err
	}

	return version > 0, nil
}

func (es *EventStore) streamDir(id eventstore.StreamID) string {
	return filepath.Join(es.rootDir, streamsDirName, id.String())
}

// currentVersion derives the stream version as the maximum version number
// among the stream's event files. Files whose names do not parse as a
// version are ignored.
func (es *EventStore) currentVersion(id eventstore.StreamID) (eventstore.StreamVersionUint, error) {
	versions, _, err := es.listEventFiles(id)
	if err != nil {
		return 0, err
	}

	if len(versions) == 0 {
		return 0, nil
	}

	return versions[len(versions)-1], nil
}

// listEventFiles returns the parsed versions and full paths of all event
// files of the stream, sorted ascending by version. A missing stream
// directory yields empty results, not an error.
func (es *EventStore) listEventFiles(id eventstore.StreamID) ([]eventstore.StreamVersionUint, []string, error) {
	streamDir := es.streamDir(id)

	entries, err := os.ReadDir(streamDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, nil
		}

		return nil, nil, err
	}

	type versionedFile struct {
		version eventstore.StreamVersionUint
		path    string
	}

	files := make([]versionedFile, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		version, ok := parseVersionFileName(entry.Name(), es.codec.FileExtension())
		if !ok {
			continue
		}

		files = append(files, versionedFile{version: version, path: filepath.Join(streamDir, entry.Name())})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].version < files[j].version })

	versions := make([]eventstore.StreamVersionUint, len(files))
	paths := make([]string, len(files))

	for i, file := range files {
		versions[i] = file.version
		paths[i] = file.path
	}

	return versions, paths, nil
}

// writeEventFile creates the version-slot file with O_EXCL so that the
// filesystem arbitrates concurrent claims for the same slot.
func (es *EventStore) writeEventFile(streamDir string, event eventstore.StoredEvent) error {
	data, err := es.codec.Encode(event)
	if err != nil {
		return err
	}

	path := filepath.Join(streamDir, versionFileName(event.StreamVersion, es.codec.FileExtension()))

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, eventFilePerm)
	if err != nil {
		return err
	}

	if _, writeErr := file.Write(data); writeErr != nil {
		if closeErr := file.Close(); closeErr != nil && es.logger != nil {
			es.logger.Warn(logMsgCloseFileFailed, logAttrStreamID, event.StreamID)
		}

		return writeErr
	}

	return file.Close()
}

func (es *EventStore) concurrencyConflict(
	ctx context.Context,
	id eventstore.StreamID,
	expected eventstore.ExpectedVersion,
	actual eventstore.StreamVersionUint,
) error {

	es.logOperation(
		ctx,
		logMsgConcurrencyConflict,
		logAttrStreamID, id.String(),
		logAttrExpectedVersion, expected.String(),
		logAttrActualVersion, actual)
	es.incrementCounter(metricConflictsTotal)

	return &eventstore.ConcurrencyError{StreamID: id.String(), Expected: expected, Actual: actual}
}

func versionFileName(version eventstore.StreamVersionUint, extension string) string {
	return fmt.Sprintf("%0*d.%s", versionPadWidth, version, extension)
}

// parseVersionFileName extracts the version from an event filename.
// Foreign files in a stream directory are reported as not ok and skipped.
func parseVersionFileName(name string, extension string) (eventstore.StreamVersionUint, bool) {
	suffix := "." + extension
	if !strings.HasSuffix(name, suffix) {
		return 0, false
	}

	numeric := strings.TrimSuffix(name, suffix)
	if len(numeric) != versionPadWidth {
		return 0, false
	}

	version, err := strconv.ParseUint(numeric, 10, 64)
	if err != nil || version == 0 {
		return 0, false
	}

	return eventstore.StreamVersionUint(version), true
}

// logOperation logs operational information at info level. The contextual
// logger is preferred when configured so backends can correlate traces.
func (es *EventStore) logOperation(ctx context.Context, msg string, args ...any) {
	if es.contextualLogger != nil {
		es.contextualLogger.InfoContext(ctx, msg, args...)
		return
	}

	if es.logger != nil {
		es.logger.Info(msg, args...)
	}
}

// startSpan starts a tracing span if the tracing collector is configured.
func (es *EventStore) startSpan(
	ctx context.Context,
	name string,
	attrs map[string]string,
) (context.Context, eventstore.SpanContext) {

	if es.tracingCollector == nil {
		return ctx, nil
	}

	return es.tracingCollector.StartSpan(ctx, name, attrs)
}

// finishSpan finishes a tracing span, deriving status and error type from
// the operation's outcome.
func (es *EventStore) finishSpan(span eventstore.SpanContext, err error) {
	if es.tracingCollector == nil || span == nil {
		return
	}

	if err == nil {
		es.tracingCollector.FinishSpan(span, statusSuccess, nil)
		return
	}

	errorType := errorTypeStorageFailure
	if errors.Is(err, eventstore.ErrConcurrencyConflict) {
		errorType = errorTypeConcurrencyConflict
	}

	span.SetStatus(statusError)
	span.AddAttribute(spanAttrErrorType, errorType)
	es.tracingCollector.FinishSpan(span, statusError, map[string]string{spanAttrErrorType: errorType})
}

func (es *EventStore) recordDuration(metric string, duration time.Duration) {
	if es.metricsCollector != nil {
		es.metricsCollector.RecordDuration(metric, duration, map[string]string{labelEngine: engineName})
	}
}

func (es *EventStore) incrementCounter(metric string) {
	if es.metricsCollector != nil {
		es.metricsCollector.IncrementCounter(metric, map[string]string{labelEngine: engineName})
	}
}

// durationToMilliseconds converts a time.Duration to float64 milliseconds with 3 decimal places.
func durationToMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}
