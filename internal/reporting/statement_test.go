package reporting

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"ledger-service/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteStatement(t *testing.T) {
	created := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	account := &models.Account{ID: "acc-1", Balance: models.NewMoney(1050, "USD")}

	transactions := []models.Transaction{
		{
			ID:        "txn-2",
			AccountID: "acc-1",
			Money:     models.NewMoney(1050, "USD"),
			Direction: models.DirectionCredit,
			State:     models.StateCompleted,
			Memo:      "salary, march",
			CreatedAt: created,
		},
		{
			ID:          "txn-1",
			AccountID:   "acc-1",
			Money:       models.NewMoney(99999, "USD"),
			Direction:   models.DirectionDebit,
			State:       models.StateFailed,
			ErrorReason: "insufficient funds",
			CreatedAt:   created.Add(-time.Hour),
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteStatement(&buf, account, transactions))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, statementHeader, records[0])
	assert.Equal(t, []string{"txn-2", "2024-03-01T12:30:00Z", "CREDIT", "COMPLETED", "10.50", "USD", "salary, march", ""}, records[1])
	assert.Equal(t, "999.99", records[2][4])
	assert.Equal(t, "insufficient funds", records[2][7])
}

func TestWriteStatementUsesCurrencyExponent(t *testing.T) {
	account := &models.Account{ID: "acc-jp", Balance: models.NewMoney(0, "JPY")}
	transactions := []models.Transaction{{
		ID:        "txn",
		AccountID: "acc-jp",
		Money:     models.NewMoney(1500, "JPY"),
		Direction: models.DirectionCredit,
		State:     models.StatePending,
	}}

	var buf bytes.Buffer
	require.NoError(t, WriteStatement(&buf, account, transactions))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "1500", records[1][4])
}

func TestWriteStatementRejectsForeignTransactions(t *testing.T) {
	account := &models.Account{ID: "acc-1"}
	transactions := []models.Transaction{{ID: "txn", AccountID: "acc-2"}}

	err := WriteStatement(&bytes.Buffer{}, account, transactions)
	assert.Error(t, err)
}
