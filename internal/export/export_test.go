package export

import (
	"bytes"
	"testing"
	"time"

	"clinica/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestAppointmentsXLSX(t *testing.T) {
	created := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	list := []*models.Appointment{
		{ID: "a2", OwnerEmail: "b@example.com", ServiceName: "Limpieza", Date: "2024-06-03", Time: "11:00", Status: models.StatusConfirmed, CreatedAt: created.Add(time.Minute)},
		{ID: "a1", OwnerEmail: "a@example.com", ServiceName: "Consulta", Date: "2024-06-02", Time: "09:30", Status: models.StatusPending, CreatedAt: created},
	}

	var buf bytes.Buffer
	require.NoError(t, AppointmentsXLSX(&buf, "Citas", list))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Citas"}, f.GetSheetList())

	rows, err := f.GetRows("Citas")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, headers, rows[0])
	assert.Equal(t, "a2", rows[1][0])
	assert.Equal(t, "confirmed", rows[1][5])
	assert.Equal(t, "a1", rows[2][0])
	assert.Equal(t, "09:30", rows[2][4])
	assert.Equal(t, "2024-06-01T12:00:00Z", rows[2][6])
}

func TestAppointmentsXLSXEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, AppointmentsXLSX(&buf, "", nil))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Citas")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
