package reporting

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"ledger-service/models"
)

var statementHeader = []string{
	"id",
	"created_at",
	"direction",
	"state",
	"amount",
	"currency",
	"memo",
	"error_reason",
}

// WriteStatement writes one CSV row per transaction. Amounts are rendered in
// major units using the currency's minor-unit exponent.
func WriteStatement(w io.Writer, account *models.Account, transactions []models.Transaction) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(statementHeader); err != nil {
		return fmt.Errorf("failed to write statement header: %w", err)
	}

	for _, txn := range transactions {
		if txn.AccountID != account.ID {
			return fmt.Errorf("transaction %s does not belong to account %s", txn.ID, account.ID)
		}

		row := []string{
			txn.ID,
			txn.CreatedAt.UTC().Format(time.RFC3339),
			string(txn.Direction),
			string(txn.State),
			txn.Money.Decimal().StringFixed(models.CurrencyExponent(txn.Money.Currency)),
			txn.Money.Currency,
			txn.Memo,
			txn.ErrorReason,
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write statement row %s: %w", txn.ID, err)
		}
	}

	writer.Flush()
	return writer.Error()
}
