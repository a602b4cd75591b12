package layertesting

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// Header is the column layout of the transaction source files. The first
// column is an unnamed row index.
var Header = []string{
	"", "trans_date_trans_time", "cc_num", "merchant", "category", "amt",
	"first", "last", "gender", "street", "city", "state", "zip", "lat", "long",
	"city_pop", "job", "dob", "trans_num", "unix_time", "merch_lat", "merch_long",
	"is_fraud",
}

// Transaction holds the source fields tests care about. The remaining
// columns are filled with fixed values.
type Transaction struct {
	Time     string
	CCNum    int64
	Merchant string
	Category string
	Amt      float64
	Gender   string
	Job      string
	DOB      string
	IsFraud  int
}

func (tx Transaction) record(i int) []string {
	return []string{
		fmt.Sprintf("%d", i),
		tx.Time,
		fmt.Sprintf("%d", tx.CCNum),
		tx.Merchant,
		tx.Category,
		fmt.Sprintf("%.2f", tx.Amt),
		"Jennifer",
		"Banks",
		tx.Gender,
		"561 Perry Cove",
		"Moravian Falls",
		"NC",
		"28654",
		"36.0788",
		"-81.1781",
		"3495",
		tx.Job,
		tx.DOB,
		fmt.Sprintf("0b242abb623afc578575680df30655b%d", i),
		fmt.Sprintf("%d", 1325376018+i),
		"36.011293",
		"-82.048315",
		fmt.Sprintf("%d", tx.IsFraud),
	}
}

// WriteTransactions writes txs as a source file named name in dir and
// returns its path.
func WriteTransactions(t *testing.T, dir, name string, txs []Transaction) string {
	t.Helper()
	records := make([][]string, len(txs))
	for i, tx := range txs {
		records[i] = tx.record(i)
	}
	return WriteCSV(t, dir, name, Header, records)
}

func WriteCSV(t *testing.T, dir, name string, header []string, records [][]string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	w := csv.NewWriter(f)
	require.NoError(t, w.Write(header))
	require.NoError(t, w.WriteAll(records))
	w.Flush()
	require.NoError(t, w.Error())
	return path
}

// Tx returns a transaction with every field set to a valid default.
func Tx(time string, ccNum int64, merchant string, amt float64) Transaction {
	return Transaction{
		Time:     time,
		CCNum:    ccNum,
		Merchant: merchant,
		Category: "misc_net",
		Amt:      amt,
		Gender:   "F",
		Job:      "Psychologist, counselling",
		DOB:      "1988-03-09",
	}
}
