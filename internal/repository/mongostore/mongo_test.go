package mongostore

import (
	"context"
	"fmt"
	"math"
	"os"
	"testing"
	"time"

	"github.com/nimasrn/points-ledger/internal/repository"
	"github.com/nimasrn/points-ledger/internal/repository/storetest"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

// Runs only against a live server, e.g. LEDGER_TEST_MONGO_URI=mongodb://localhost:27017.
func TestStore_Contract(t *testing.T) {
	uri := os.Getenv("LEDGER_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("LEDGER_TEST_MONGO_URI not set")
	}

	storetest.Run(t, func(t *testing.T) repository.LedgerStore {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		database := fmt.Sprintf("ledger_test_%d", time.Now().UnixNano())
		store, err := Connect(ctx, Config{URI: uri, Database: database})
		require.NoError(t, err)
		require.NoError(t, store.Open(ctx))

		t.Cleanup(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = store.client.Database(database).Drop(ctx)
			_ = store.Close()
		})
		return store
	})
}

func TestSumValue(t *testing.T) {
	raw, err := bson.Marshal(bson.D{
		{Key: "int32", Value: int32(7)},
		{Key: "int64", Value: int64(math.MaxInt64)},
		{Key: "double", Value: 1.8446744073709552e19},
		{Key: "inf", Value: math.Inf(-1)},
		{Key: "text", Value: "n/a"},
	})
	require.NoError(t, err)
	doc := bson.Raw(raw)

	assert.True(t, decimal.NewFromInt(7).Equal(sumValue(doc.Lookup("int32"))))
	assert.True(t, decimal.NewFromInt(math.MaxInt64).Equal(sumValue(doc.Lookup("int64"))))
	assert.True(t, sumValue(doc.Lookup("double")).GreaterThan(decimal.NewFromInt(math.MaxInt64)))
	assert.True(t, decimal.NewFromInt(math.MinInt64).Equal(sumValue(doc.Lookup("inf"))))
	assert.True(t, sumValue(doc.Lookup("text")).IsZero())
}
