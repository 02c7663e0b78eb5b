package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/nexus-labs/nexus/core/pkg/contracts"
)

// Storage errors must abort the in-flight transaction with no partial writes.
func TestAppendEventRollsBackOnInsertFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	es := NewEventStore(NewWithDB(db, "sqlite"))

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT\(1\) FROM decisions`).
		WithArgs("dec_1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(seq\), -1\) \+ 1`).
		WithArgs("dec_1").
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(0))
	mock.ExpectExec(`INSERT INTO decision_events`).
		WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	_, err = es.AppendEvent(context.Background(), "dec_1",
		contracts.EventDecisionCreated,
		contracts.Actor{Type: contracts.ActorSystem, ID: "sys"},
		map[string]any{"goal": "g"})
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestImportAtomicRollsBackOnEventInsertFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	es := NewEventStore(NewWithDB(db, "sqlite"))

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT\(1\) FROM decisions`).
		WithArgs("dec_2").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`INSERT INTO decisions`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO decision_events`).
		WillReturnError(errors.New("constraint violation"))
	mock.ExpectRollback()

	events := []contracts.StoredEvent{{
		Seq:     0,
		Type:    contracts.EventDecisionCreated,
		Actor:   contracts.Actor{Type: contracts.ActorHuman, ID: "a"},
		Payload: map[string]any{},
		Digest:  "d",
	}}
	err = es.ImportAtomic(context.Background(), "dec_2", time.Now().UTC(), events, false)
	require.Error(t, err)
	require.Equal(t, contracts.CodeImportAtomicity, contracts.ErrCode(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

// A header insert failure mid-import carries the same atomicity code as an
// event insert failure: callers see one code for any torn import.
func TestImportAtomicHeaderInsertFailureCoded(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	es := NewEventStore(NewWithDB(db, "sqlite"))

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT COUNT\(1\) FROM decisions`).
		WithArgs("dec_3").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(`INSERT INTO decisions`).
		WillReturnError(errors.New("database is locked"))
	mock.ExpectRollback()

	err = es.ImportAtomic(context.Background(), "dec_3", time.Now().UTC(), nil, false)
	require.Error(t, err)
	require.Equal(t, contracts.CodeImportAtomicity, contracts.ErrCode(err))
	require.NoError(t, mock.ExpectationsWereMet())
}
