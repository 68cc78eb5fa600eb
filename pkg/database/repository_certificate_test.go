// Copyright 2025 Swixixle
//
// Certificate repository tests over a mocked SQL driver

package database

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func newMockRepos(t *testing.T) (*Repositories, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	client := NewClientFromDB(db, nil)
	return NewRepositories(client), mock
}

func testCert() *CertificateRow {
	return &CertificateRow{
		CertificateID:   "cert-1",
		TenantID:        "H1",
		Timestamp:       "2025-06-01T10:00:00.000000Z",
		NoteHash:        "ab",
		ChainHash:       "sha256:cd",
		CertificateJSON: `{"certificate_id":"cert-1"}`,
		CreatedAtUTC:    "2025-06-01T10:00:00.000000Z",
	}
}

func testEvent() *AuditEventInsert {
	return &AuditEventInsert{
		EventID:          "ev-1",
		TenantID:         "H1",
		OccurredAtUTC:    "2025-06-01T10:00:00.000000Z",
		ObjectType:       "certificate",
		ObjectID:         "cert-1",
		Action:           "issued",
		EventPayloadJSON: `{"certificate_id":"cert-1"}`,
	}
}

func TestIssue_FirstCertificate(t *testing.T) {
	repos, mock := newMockRepos(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(advisoryLockQuery)).
		WithArgs("H1").WillReturnResult(sqlmock.NewResult(0, 0))
	// Empty chain head matches prevChainHash == nil.
	mock.ExpectQuery("SELECT chain_hash FROM certificates").
		WithArgs("H1").WillReturnRows(sqlmock.NewRows([]string{"chain_hash"}))
	mock.ExpectExec("INSERT INTO used_nonces").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO certificates").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT event_hash FROM audit_events").
		WithArgs("H1").WillReturnRows(sqlmock.NewRows([]string{"event_hash"}))
	mock.ExpectExec("INSERT INTO audit_events").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repos.IssueCertificate(context.Background(), testCert(), nil, "nonce-1", testEvent())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestIssue_NonceReplayAborts(t *testing.T) {
	repos, mock := newMockRepos(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(advisoryLockQuery)).
		WithArgs("H1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT chain_hash FROM certificates").
		WithArgs("H1").WillReturnRows(sqlmock.NewRows([]string{"chain_hash"}))
	// Conflict: zero rows affected.
	mock.ExpectExec("INSERT INTO used_nonces").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repos.IssueCertificate(context.Background(), testCert(), nil, "nonce-1", testEvent())
	if !errors.Is(err, ErrNonceAlreadyUsed) {
		t.Fatalf("expected ErrNonceAlreadyUsed, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestIssue_ChainHeadMoved(t *testing.T) {
	repos, mock := newMockRepos(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(advisoryLockQuery)).
		WithArgs("H1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT chain_hash FROM certificates").
		WithArgs("H1").
		WillReturnRows(sqlmock.NewRows([]string{"chain_hash"}).AddRow("sha256:other"))
	mock.ExpectRollback()

	err := repos.IssueCertificate(context.Background(), testCert(), nil, "nonce-1", testEvent())
	if !errors.Is(err, ErrChainHeadMoved) {
		t.Fatalf("expected ErrChainHeadMoved, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestIssue_AuditAppendFailureRollsBack(t *testing.T) {
	repos, mock := newMockRepos(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(advisoryLockQuery)).
		WithArgs("H1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT chain_hash FROM certificates").
		WithArgs("H1").WillReturnRows(sqlmock.NewRows([]string{"chain_hash"}))
	mock.ExpectExec("INSERT INTO used_nonces").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO certificates").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT event_hash FROM audit_events").
		WithArgs("H1").WillReturnRows(sqlmock.NewRows([]string{"event_hash"}))
	mock.ExpectExec("INSERT INTO audit_events").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := repos.IssueCertificate(context.Background(), testCert(), nil, "nonce-1", testEvent())
	if err == nil {
		t.Fatal("expected error when audit append fails")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCertificateByID_NotFound(t *testing.T) {
	repos, mock := newMockRepos(t)

	mock.ExpectQuery("SELECT certificate_id, tenant_id").
		WithArgs("H2", "cert-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"certificate_id", "tenant_id", "timestamp", "note_hash",
			"chain_hash", "certificate_json", "created_at_utc",
		}))

	_, err := repos.CertificateByID(context.Background(), "H2", "cert-1")
	if !errors.Is(err, ErrCertificateNotFound) {
		t.Fatalf("expected ErrCertificateNotFound, got %v", err)
	}
}
