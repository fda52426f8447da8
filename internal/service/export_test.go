package service

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/avoronov/diary-vault/internal/errs"
	"github.com/avoronov/diary-vault/internal/model"
)

func TestExportForSharing_RoundTrip(t *testing.T) {
	d := newTestDiary(t)

	entries := []model.Entry{
		{Owner: 42, Date: "2024-01-05", Fields: fields(7, "shared")},
		{Owner: 42, Date: "2024-01-04", Fields: fields(4, "")},
	}

	payload, err := d.ExportForSharing(entries, "correct horse")
	require.NoError(t, err)
	require.NotEmpty(t, payload)

	got, err := d.ImportShared(payload, "correct horse")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "2024-01-05", got[0].Date)
	require.Equal(t, 7, got[0].Fields.Mood)
	require.NotNil(t, got[0].Fields.Comment)
	require.Equal(t, "shared", *got[0].Fields.Comment)
}

func TestExportForSharing_EmptyPassphrase(t *testing.T) {
	d := newTestDiary(t)

	_, err := d.ExportForSharing(nil, "")
	require.ErrorIs(t, err, errs.ErrValidation)
}

func TestExportForSharing_DistinctPayloadsPerCall(t *testing.T) {
	d := newTestDiary(t)

	entries := []model.Entry{{Owner: 1, Date: "2024-01-05", Fields: fields(5, "")}}

	a, err := d.ExportForSharing(entries, "pass")
	require.NoError(t, err)
	b, err := d.ExportForSharing(entries, "pass")
	require.NoError(t, err)

	// Fresh salt and nonce per export: identical input never repeats.
	require.NotEqual(t, a, b)
}

func TestImportShared_WrongPassphrase(t *testing.T) {
	d := newTestDiary(t)

	payload, err := d.ExportForSharing([]model.Entry{{Owner: 1, Date: "2024-01-05", Fields: fields(5, "")}}, "right")
	require.NoError(t, err)

	_, err = d.ImportShared(payload, "wrong")
	require.ErrorIs(t, err, errs.ErrDecrypt)
}

func TestImportShared_MalformedPayload(t *testing.T) {
	d := newTestDiary(t)

	_, err := d.ImportShared("not base64!!", "pass")
	require.ErrorIs(t, err, errs.ErrDecrypt)

	_, err = d.ImportShared("c2hvcnQ=", "pass")
	require.ErrorIs(t, err, errs.ErrDecrypt)
}
