package postgresengine

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // driver import
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"

	"github.com/eventfold/eventfold/eventstore"
	"github.com/eventfold/eventfold/eventstore/postgresengine/internal/adapters"
)

const (
	defaultEventTableName = "events"

	logMsgBuildSelectQueryFailed = "failed to build select query"
	logMsgBuildInsertQueryFailed = "failed to build insert query"
	logMsgDBQueryFailed          = "database query execution failed"
	logMsgDBExecFailed           = "database execution failed during event append"
	logMsgCloseRowsFailed        = "failed to close database rows"
	logMsgScanRowFailed          = "failed to scan database row"
	logMsgRowsAffectedFailed     = "failed to get rows affected count"
	logMsgFetchCompleted         = "fetch completed"
	logMsgEventsAppended         = "events appended"
	logMsgConcurrencyConflict    = "concurrency conflict detected"
	logAttrError                 = "error"
	logAttrQuery                 = "query"
	logAttrStreamID              = "stream_id"
	logAttrEventCount            = "event_count"
	logAttrDurationMS            = "duration_ms"
	logAttrExpectedVersion       = "expected_version"
	logAttrActualVersion         = "actual_version"

	metricAppendDuration = "eventstore_append_duration"
	metricFetchDuration  = "eventstore_fetch_duration"
	metricConflictsTotal = "eventstore_concurrency_conflicts_total"
	labelEngine          = "engine"
	engineName           = "postgres"

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

	colStreamID      = "stream_id"
	colStreamType    = "stream_type"
	colStreamVersion = "stream_version"
	colEventType     = "event_type"
	colDiscriminator = "discriminator"
	colOccurredAt    = "occurred_at"
	colPayload       = "payload"

	cteCurrent      = "current_version"
	aliasMaxVersion = "max_version"

	dialectPostgres = "postgres"
	castText        = "?::text"
	castTimestamp   = "?::timestamp with time zone"
	castJsonb       = "?::jsonb"
)

var ErrNilDatabaseConnection = errors.New("nil database connection supplied")
var ErrEmptyEventsTableName = errors.New("empty events table name supplied")
var ErrNilClockSupplied = errors.New("nil clock supplied")
var ErrBuildingQueryFailed = errors.New("building query failed")

type sqlQueryString = string

// EventStore is a PostgreSQL-backed stream store built on a database
// adapter. It implements eventstore.StreamStore.
type EventStore struct {
	db               adapters.DBAdapter
	eventTableName   string
	clock            eventstore.Clock
	logger           eventstore.Logger
	contextualLogger eventstore.ContextualLogger
	metricsCollector eventstore.MetricsCollector
	tracingCollector eventstore.TracingCollector
}

// NewEventStoreFromPGXPool creates a new EventStore using a pgx pool with
// optional configuration.
func NewEventStoreFromPGXPool(db *pgxpool.Pool, options ...Option) (*EventStore, error) {
	if db == nil {
		return nil, ErrNilDatabaseConnection
	}

	return newEventStore(adapters.NewPGXAdapter(db), options...)
}

// NewEventStoreFromSQLDB creates a new EventStore using a sql.DB with
// optional configuration. The lib/pq driver is assumed for error
// classification.
func NewEventStoreFromSQLDB(db *sql.DB, options ...Option) (*EventStore, error) {
	if db == nil {
		return nil, ErrNilDatabaseConnection
	}

	return newEventStore(adapters.NewSQLAdapter(db), options...)
}

// NewEventStoreFromSQLX creates a new EventStore using a sqlx.DB with
// optional configuration.
func NewEventStoreFromSQLX(db *sqlx.DB, options ...Option) (*EventStore, error) {
	if db == nil {
		return nil, ErrNilDatabaseConnection
	}

	return newEventStore(adapters.NewSQLXAdapter(db), options...)
}

func newEventStore(db adapters.DBAdapter, options ...Option) (*EventStore, error) {
	es := &EventStore{
		db:             db,
		eventTableName: defaultEventTableName,
		clock:          eventstore.SystemClock{},
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

// AppendToStream appends the events with a single conditional insert gated
// on the expected version. Zero rows affected or a unique violation on the
// version slot both surface as a ConcurrencyError.
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

	start := time.Now()

	ctx, span := es.startSpan(ctx, spanNameAppend, map[string]string{
		spanAttrStreamID:        id.String(),
		spanAttrEventCount:      strconv.Itoa(len(events)),
		spanAttrExpectedVersion: expected.String(),
	})
	defer func() { es.finishSpan(span, err) }()

	sqlQuery, buildQueryErr := es.buildAppendQuery(id, streamType, events, expected)
	if buildQueryErr != nil {
		es.logError(ctx, logMsgBuildInsertQueryFailed, buildQueryErr, "")
		err = buildQueryErr
		return 0, err
	}

	result, execErr := es.db.Exec(ctx, sqlQuery)
	if execErr != nil {
		if es.db.IsUniqueViolation(execErr) {
			// lost the race for a version slot
			err = es.concurrencyConflict(ctx, id, expected)
			return 0, err
		}

		es.logError(ctx, logMsgDBExecFailed, execErr, sqlQuery)

		err = errors.Join(eventstore.ErrAppendingEventsFailed, execErr)
		return 0, err
	}

	rowsAffected, rowsAffectedErr := result.RowsAffected()
	if rowsAffectedErr != nil {
		es.logError(ctx, logMsgRowsAffectedFailed, rowsAffectedErr, "")
		err = errors.Join(eventstore.ErrAppendingEventsFailed, rowsAffectedErr)
		return 0, err
	}

	if rowsAffected < int64(len(events)) {
		err = es.concurrencyConflict(ctx, id, expected)
		return 0, err
	}

	finalVersion, versionErr := es.finalVersion(ctx, id, expected, len(events))
	if versionErr != nil {
		err = versionErr
		return 0, err
	}

	duration := time.Since(start)
	es.logOperation(
		ctx,
		logMsgEventsAppended,
		logAttrStreamID, id.String(),
		logAttrEventCount, len(events),
		logAttrDurationMS, durationToMilliseconds(duration))
	es.recordDuration(metricAppendDuration, duration)

	return finalVersion, nil
}

// FetchStream returns all stored events in ascending version order, or an
// empty slice if the stream was never written.
func (es *EventStore) FetchStream(
	ctx context.Context,
	id eventstore.StreamID,
) (_ eventstore.StoredEvents, err error) {

	start := time.Now()

	ctx, span := es.startSpan(ctx, spanNameFetch, map[string]string{spanAttrStreamID: id.String()})
	defer func() { es.finishSpan(span, err) }()

	sqlQuery, buildQueryErr := es.buildSelectQuery(id)
	if buildQueryErr != nil {
		es.logError(ctx, logMsgBuildSelectQueryFailed, buildQueryErr, "")
		err = buildQueryErr
		return nil, err
	}

	rows, queryErr := es.db.Query(ctx, sqlQuery)
	if queryErr != nil {
		es.logError(ctx, logMsgDBQueryFailed, queryErr, sqlQuery)
		err = errors.Join(eventstore.ErrFetchingEventsFailed, queryErr)
		return nil, err
	}
	defer es.closeRows(rows)

	eventStream, scanErr := es.processFetchResults(ctx, rows)
	if scanErr != nil {
		err = scanErr
		return nil, err
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

	sqlQuery, buildQueryErr := es.buildVersionQuery(id)
	if buildQueryErr != nil {
		es.logError(ctx, logMsgBuildSelectQueryFailed, buildQueryErr, "")
		return 0, buildQueryErr
	}

	rows, queryErr := es.db.Query(ctx, sqlQuery)
	if queryErr != nil {
		es.logError(ctx, logMsgDBQueryFailed, queryErr, sqlQuery)
		return 0, errors.Join(eventstore.ErrFetchingEventsFailed, queryErr)
	}
	defer es.closeRows(rows)

	var version int64

	if rows.Next() {
		if scanErr := rows.Scan(&version); scanErr != nil {
			es.logError(ctx, logMsgScanRowFailed, scanErr, "")
			return 0, errors.Join(eventstore.ErrFetchingEventsFailed, scanErr)
		}
	}

	return eventstore.StreamVersionUint(version), nil
}

// StreamExists reports whether at least one event record exists.
func (es *EventStore) StreamExists(ctx context.Context, id eventstore.StreamID) (bool, error) {
	version, err := es.GetStreamVersion(ctx, id)
	if err != nil {
		return false, err
	}

	return version > 0, nil
}

// finalVersion computes the stream version after a successful append.
// For NONE and EXACTLY the result follows from version arithmetic; for ANY
// the authoritative version is re-derived from storage.
func (es *EventStore) finalVersion(
	ctx context.Context,
	id eventstore.StreamID,
	expected eventstore.ExpectedVersion,
	appendedCount int,
) (eventstore.StreamVersionUint, error) {

	if !expected.IsAny() {
		base := eventstore.StreamVersionUint(0)
		if exactly, ok := expected.Exactly(); ok {
			base = exactly
		}

		return base + eventstore.StreamVersionUint(appendedCount), nil
	}

	return es.GetStreamVersion(ctx, id)
}

func (es *EventStore) processFetchResults(ctx context.Context, rows adapters.DBRows) (eventstore.StoredEvents, error) {
	eventStream := make(eventstore.StoredEvents, 0)

	for rows.Next() {
		var (
			streamVersion int64
			streamID      string
			streamType    string
			eventType     string
			discriminator string
			occurredAt    time.Time
			payload       []byte
		)

		rowScanErr := rows.Scan(&streamVersion, &streamID, &streamType, &eventType, &discriminator, &occurredAt, &payload)
		if rowScanErr != nil {
			es.logError(ctx, logMsgScanRowFailed, rowScanErr, "")
			return nil, errors.Join(eventstore.ErrFetchingEventsFailed, eventstore.ErrDecodingEventFailed, rowScanErr)
		}

		if eventType == "" {
			return nil, errors.Join(eventstore.ErrFetchingEventsFailed, eventstore.ErrDecodingEventFailed, eventstore.ErrEmptyEventType)
		}

		eventStream = append(eventStream, eventstore.StoredEvent{
			StreamVersion: eventstore.StreamVersionUint(streamVersion),
			StreamID:      streamID,
			StreamType:    streamType,
			EventType:     eventType,
			Discriminator: discriminator,
			OccurredAt:    occurredAt,
			PayloadJSON:   payload,
		})
	}

	return eventStream, nil
}

func (es *EventStore) buildSelectQuery(id eventstore.StreamID) (sqlQueryString, error) {
	selectStmt := goqu.Dialect(dialectPostgres).
		From(es.eventTableName).
		Select(colStreamVersion, colStreamID, colStreamType, colEventType, colDiscriminator, colOccurredAt, colPayload).
		Where(goqu.Ex{colStreamID: id.String()}).
		Order(goqu.I(colStreamVersion).Asc())

	sqlQuery, _, toSQLErr := selectStmt.ToSQL()
	if toSQLErr != nil {
		return "", errors.Join(ErrBuildingQueryFailed, toSQLErr)
	}

	return sqlQuery, nil
}

func (es *EventStore) buildVersionQuery(id eventstore.StreamID) (sqlQueryString, error) {
	selectStmt := goqu.Dialect(dialectPostgres).
		From(es.eventTableName).
		Select(goqu.COALESCE(goqu.MAX(colStreamVersion), 0)).
		Where(goqu.Ex{colStreamID: id.String()})

	sqlQuery, _, toSQLErr := selectStmt.ToSQL()
	if toSQLErr != nil {
		return "", errors.Join(ErrBuildingQueryFailed, toSQLErr)
	}

	return sqlQuery, nil
}

// buildAppendQuery builds one conditional INSERT ... SELECT over a CTE that
// derives the current stream version as MAX(stream_version). Versions are
// assigned relative to that maximum so the statement itself performs the
// version arithmetic.
func (es *EventStore) buildAppendQuery(
	id eventstore.StreamID,
	streamType string,
	events eventstore.StoredEvents,
	expected eventstore.ExpectedVersion,
) (sqlQueryString, error) {

	builder := goqu.Dialect(dialectPostgres)

	cteStmt := builder.
		From(es.eventTableName).
		Select(goqu.COALESCE(goqu.MAX(colStreamVersion), 0).As(aliasMaxVersion)).
		Where(goqu.Ex{colStreamID: id.String()})

	gate := es.versionGate(expected)
	occurredAt := es.clock.Now()

	selectStatements := make([]*goqu.SelectDataset, len(events))
	for i, event := range events {
		selectStmt := builder.
			From(cteCurrent).
			Select(
				goqu.L(castText, id.String()).As(colStreamID),
				goqu.L(castText, streamType).As(colStreamType),
				goqu.L(aliasMaxVersion+" + ?", i+1).As(colStreamVersion),
				goqu.L(castText, event.EventType).As(colEventType),
				goqu.L(castText, event.Discriminator).As(colDiscriminator),
				goqu.L(castTimestamp, occurredAt).As(colOccurredAt),
				goqu.L(castJsonb, string(event.PayloadJSON)).As(colPayload),
			)

		if gate != nil {
			selectStmt = selectStmt.Where(gate)
		}

		selectStatements[i] = selectStmt
	}

	valuesStmt := selectStatements[0]
	for i := 1; i < len(selectStatements); i++ {
		valuesStmt = valuesStmt.UnionAll(selectStatements[i])
	}

	insertStmt := builder.
		Insert(es.eventTableName).
		Cols(colStreamID, colStreamType, colStreamVersion, colEventType, colDiscriminator, colOccurredAt, colPayload).
		FromQuery(valuesStmt).
		With(cteCurrent, cteStmt)

	sqlQuery, _, toSQLErr := insertStmt.ToSQL()
	if toSQLErr != nil {
		return "", errors.Join(ErrBuildingQueryFailed, toSQLErr)
	}

	return sqlQuery, nil
}

// versionGate translates the expected version predicate into the WHERE
// clause gating the insert; ANY needs no gate.
func (es *EventStore) versionGate(expected eventstore.ExpectedVersion) goqu.Expression {
	if expected.IsAny() {
		return nil
	}

	base := eventstore.StreamVersionUint(0)
	if exactly, ok := expected.Exactly(); ok {
		base = exactly
	}

	return goqu.C(aliasMaxVersion).Eq(goqu.V(base))
}

func (es *EventStore) concurrencyConflict(
	ctx context.Context,
	id eventstore.StreamID,
	expected eventstore.ExpectedVersion,
) error {

	actual, versionErr := es.GetStreamVersion(ctx, id)
	if versionErr != nil {
		actual = 0
	}

	es.logOperation(
		ctx,
		logMsgConcurrencyConflict,
		logAttrStreamID, id.String(),
		logAttrExpectedVersion, expected.String(),
		logAttrActualVersion, actual)
	es.incrementCounter(metricConflictsTotal)

	return &eventstore.ConcurrencyError{StreamID: id.String(), Expected: expected, Actual: actual}
}

// closeRows safely closes database rows and logs any errors.
func (es *EventStore) closeRows(rows adapters.DBRows) {
	if closeErr := rows.Close(); closeErr != nil {
		if es.logger != nil {
			es.logger.Warn(logMsgCloseRowsFailed, logAttrError, closeErr.Error())
		}
	}
}

// logError logs error information, preferring the contextual logger when
// configured so backends can correlate traces.
func (es *EventStore) logError(ctx context.Context, msg string, err error, sqlQuery string) {
	args := []any{logAttrError, err.Error()}
	if sqlQuery != "" {
		args = append(args, logAttrQuery, sqlQuery)
	}

	if es.contextualLogger != nil {
		es.contextualLogger.ErrorContext(ctx, msg, args...)
		return
	}

	if es.logger != nil {
		es.logger.Error(msg, args...)
	}
}

// logOperation logs operational information at info level. The contextual
// logger is preferred when configured.
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
